package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/config"
	"rag-sync-go/internal/pipeline"
	"rag-sync-go/internal/repository"
	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/vectorstore"
)

// unitEmbedder 对任何文本返回同一个单位向量。
type unitEmbedder struct{}

func (unitEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (unitEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (unitEmbedder) Dimension() int            { return 3 }
func (unitEmbedder) ModelName() string         { return "unit" }
func (unitEmbedder) Ping(context.Context) error { return nil }

func TestEngine_RenameOverSaveLeavesNoStaleChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, strings.Repeat("x", 160))

	ch, err := chunker.New(10, 1)
	require.NoError(t, err)
	store := vectorstore.NewMemoryGateway()
	proc := pipeline.NewProcessor(extractor.NewRegistry(), ch, unitEmbedder{}, store, repository.NewMemoryDocumentRepository(), nil, time.Second)

	e := NewEngine([]config.WatchTarget{{Path: dir, Collection: "docs"}}, proc, Options{Workers: 2, Debounce: time.Second})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	ctx := context.Background()
	e.handleEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	require.Eventually(t, func() bool {
		info, err := store.CollectionStats(ctx, "docs")
		return err == nil && info.PointsCount > 1
	}, 2*time.Second, 10*time.Millisecond)

	tmp := filepath.Join(dir, "a.txt.swpx")
	writeFile(t, tmp, "short new content")
	require.NoError(t, os.Rename(tmp, path))
	e.handleEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	require.NoError(t, e.Stop())

	info, err := store.CollectionStats(ctx, "docs")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.PointsCount)
}
