package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 10, 10},
		{"overlap larger than size", 10, 20},
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.size, tc.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	c := mustNew(t, 512, 50)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\t  "))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := mustNew(t, 512, 50)
	chunks := c.Split("  Hello world. This is short.  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world. This is short.", chunks[0])
}

func TestSegments_ThreeThousandCharsWithoutBreaks(t *testing.T) {
	c := mustNew(t, 512, 50)
	text := strings.Repeat("a", 3000)

	segs := c.Segments(text)
	require.Len(t, segs, 2)
	assert.Equal(t, 0, segs[0].Start)
	assert.Equal(t, 2048, segs[0].End)
	assert.Equal(t, 1848, segs[1].Start)
	assert.Equal(t, 3000, segs[1].End)
	assert.Len(t, segs[1].Text, 3000-1848)
}

func TestSegments_BreaksAtSentenceWhenPastHalfWindow(t *testing.T) {
	c := mustNew(t, 512, 50)
	// 第一个句号位于第 1500 个字符，超过窗口宽度 2048 的一半
	text := strings.Repeat("a", 1500) + "." + strings.Repeat("b", 1499)

	segs := c.Segments(text)
	require.Len(t, segs, 2)
	assert.Equal(t, 1501, segs[0].End)
	assert.True(t, strings.HasSuffix(segs[0].Text, "."))
	assert.Equal(t, 1501-200, segs[1].Start)
	assert.Equal(t, len(text), segs[1].End)
}

func TestSegments_IgnoresBreakBeforeHalfWindow(t *testing.T) {
	c := mustNew(t, 512, 50)
	text := strings.Repeat("a", 500) + "\n" + strings.Repeat("b", 2499)

	segs := c.Segments(text)
	require.NotEmpty(t, segs)
	assert.Equal(t, 2048, segs[0].End)
}

func TestSegments_LargeOverlapStillAdvances(t *testing.T) {
	// overlap 占窗口 90%，断点虽过半但不足以越过重叠部分，必须退回原始宽度切分
	c := mustNew(t, 10, 9)
	text := strings.Repeat("x", 21) + "." + strings.Repeat("y", 60)

	segs := c.Segments(text)
	require.NotEmpty(t, segs)
	for i := 1; i < len(segs); i++ {
		assert.Greater(t, segs[i].Start, segs[i-1].Start, "segment %d must advance", i)
	}
	assert.Equal(t, len(text), segs[len(segs)-1].End)
}

func TestSplit_Idempotent(t *testing.T) {
	c := mustNew(t, 64, 8)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 40)

	assert.Equal(t, c.Split(text), c.Split(text))
}

func TestSegments_CoverWholeTextWithoutGaps(t *testing.T) {
	texts := []string{
		strings.Repeat("Sentence number one is here. ", 200),
		strings.Repeat("line\n", 900),
		strings.Repeat("无标点的中文文本", 700),
		"short",
	}
	configs := [][2]int{{512, 50}, {64, 0}, {32, 16}, {10, 9}}

	for _, text := range texts {
		for _, cfg := range configs {
			c := mustNew(t, cfg[0], cfg[1])
			segs := c.Segments(text)
			require.NotEmpty(t, segs)

			runes := []rune(text)
			assert.Equal(t, 0, segs[0].Start)
			assert.Equal(t, len(runes), segs[len(segs)-1].End)

			// 每个窗口的非重叠前缀首尾相接即可还原原文
			var rebuilt strings.Builder
			for i, s := range segs {
				if i > 0 {
					require.LessOrEqual(t, s.Start, segs[i-1].End, "gap before segment %d", i)
				}
				stop := s.End
				if i+1 < len(segs) {
					stop = segs[i+1].Start
				}
				rebuilt.WriteString(string(runes[s.Start:stop]))
			}
			assert.Equal(t, text, rebuilt.String())
		}
	}
}

func TestSplit_PreservesOrder(t *testing.T) {
	c := mustNew(t, 8, 2)
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString(strings.Repeat(string(rune('a'+i)), 10))
		b.WriteString(".")
	}
	chunks := c.Split(b.String())
	require.Greater(t, len(chunks), 2)

	last := -1
	for _, ch := range chunks {
		pos := strings.Index(b.String(), ch)
		require.GreaterOrEqual(t, pos, 0)
		assert.Greater(t, pos, last)
		last = pos
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
}
