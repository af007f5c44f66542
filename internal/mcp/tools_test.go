package mcp

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/pipeline"
	"rag-sync-go/internal/repository"
	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/chunker"
	"rag-sync-go/pkg/extractor"
	"rag-sync-go/pkg/storage"
	"rag-sync-go/pkg/vectorstore"
)

type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 26)
	var norm float64
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] /= float32(math.Sqrt(norm))
	}
	return v
}

func (e letterEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (letterEmbedder) Dimension() int             { return 26 }
func (letterEmbedder) ModelName() string          { return "letters" }
func (letterEmbedder) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ch, err := chunker.New(50, 5)
	require.NoError(t, err)
	store := vectorstore.NewMemoryGateway()
	docs := repository.NewMemoryDocumentRepository()
	archive := storage.NewMemoryArchive()
	ext := extractor.NewRegistry()
	embedder := letterEmbedder{}
	proc := pipeline.NewProcessor(ext, ch, embedder, store, docs, archive, time.Second)

	s, err := NewServer(&Services{
		Search:      service.NewSearchService(embedder, store, "documents", time.Second),
		Documents:   service.NewDocumentService(proc, ext, docs, archive, "documents"),
		Collections: service.NewCollectionService(store, embedder, docs, time.Second),
	})
	require.NoError(t, err)
	return s, t.TempDir()
}

func TestNewServer_RequiresServices(t *testing.T) {
	s, err := NewServer(&Services{})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrMissingService)
}

func TestTools_IndexSearchAndContext(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestServer(t)
	path := filepath.Join(dir, "fruit.md")
	require.NoError(t, os.WriteFile(path, []byte("# Fruit\n\napple banana apple"), 0o644))

	_, indexed, err := s.handleIndexDocument(ctx, nil, IndexInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, indexed.ChunksIndexed)
	assert.Equal(t, "documents", indexed.Collection)

	_, found, err := s.handleSearch(ctx, nil, SearchInput{Query: "apple", Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "fruit.md", found.Results[0].FileName)

	threshold := 0.1
	_, block, err := s.handleGetContext(ctx, nil, ContextInput{Query: "banana", ScoreThreshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, []string{"fruit.md"}, block.Sources)
	assert.Contains(t, block.Text, "Source: fruit.md")

	_, _, err = s.handleSearch(ctx, nil, SearchInput{Query: "apple", Limit: 500})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, deleted, err := s.handleDeleteDocument(ctx, nil, IndexInput{Path: path})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	_, found, err = s.handleSearch(ctx, nil, SearchInput{Query: "apple"})
	require.NoError(t, err)
	assert.Zero(t, found.Count)
}

func TestTools_Collections(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("beta"), 0o644))

	_, created, err := s.handleCreateCollection(ctx, nil, CreateCollectionInput{Name: "notes"})
	require.NoError(t, err)
	assert.Equal(t, 26, created.Dimension)

	_, dirRes, err := s.handleIndexDirectory(ctx, nil, IndexDirectoryInput{Path: dir, Collection: "notes"})
	require.NoError(t, err)
	assert.Equal(t, 2, dirRes.FilesIndexed)

	_, stats, err := s.handleCollectionStats(ctx, nil, CollectionInput{Name: "notes"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.DocumentsCount)
	assert.EqualValues(t, 2, stats.Collection.PointsCount)

	_, list, err := s.handleListCollections(ctx, nil, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	_, _, err = s.handleDeleteCollection(ctx, nil, DeleteCollectionInput{Name: "notes"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, out, err := s.handleDeleteCollection(ctx, nil, DeleteCollectionInput{Name: "notes", Confirm: true})
	require.NoError(t, err)
	assert.True(t, out.Deleted)
}

func TestServer_ExposesToolsOverTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, _ := newTestServer(t)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"create_collection", "delete_collection", "delete_document", "get_collection_stats",
		"get_context", "index_directory", "index_document", "list_collections", "search_documents",
	}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "delete_collection",
		Arguments: map[string]any{"name": "documents", "confirm": false},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
