// Package chunker 将抽取出的文本切分为带重叠、尽量落在句子边界上的片段。
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// CharsPerToken 是 token 与字符之间的固定换算比例。
const CharsPerToken = 4

// ErrInvalidConfig 表示 size/overlap 组合无法推进窗口。
var ErrInvalidConfig = errors.New("chunker: invalid size/overlap")

// Segment 是一个切块及其在原文中的窗口位置（按 rune 计，左闭右开，未 trim）。
type Segment struct {
	Text  string
	Start int
	End   int
}

// Chunker 按 token 配置切分文本。零值不可用，请使用 New 创建。
type Chunker struct {
	size    int
	overlap int
}

// New 创建一个 Chunker，size 与 overlap 以 token 为单位，且必须满足 size > overlap >= 0。
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d, overlap=%d", ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size 返回以 token 计的窗口大小。
func (c *Chunker) Size() int { return c.size }

// Overlap 返回以 token 计的重叠大小。
func (c *Chunker) Overlap() int { return c.overlap }

// Split 返回按原文顺序排列的非空切块。
func (c *Chunker) Split(text string) []string {
	segments := c.Segments(text)
	if len(segments) == 0 {
		return nil
	}
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

// Segments 执行切分并保留每个窗口在原文中的位置。
//
// 窗口宽度为 size*4 个字符。窗口右边界严格落在文本末尾之前时，向回查找最后一个句号或换行；
// 若断点超过窗口宽度的 50%，并且截断后的窗口仍长于重叠部分，则在断点处截断。
// 下一个窗口从 end - overlap*4 开始；若本窗口已到达文本末尾则结束。
func (c *Chunker) Segments(text string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	width := c.size * CharsPerToken
	overlap := c.overlap * CharsPerToken

	var segments []Segment
	start := 0
	for start < n {
		end := start + width
		if end > n {
			end = n
		}

		if end < n {
			bp := lastBreak(runes[start:end])
			if bp > width/2 && bp+1 > overlap {
				end = start + bp + 1
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			segments = append(segments, Segment{Text: piece, Start: start, End: end})
		}

		if end >= n {
			break
		}
		start = end - overlap
	}
	return segments
}

// lastBreak 返回窗口内最后一个 '.' 或 '\n' 的下标，找不到返回 -1。
func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}

// EstimateTokens 按固定比例粗略估算文本的 token 数，仅用于日志与统计。
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + CharsPerToken - 1) / CharsPerToken
}
