package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/pipeline"
	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/vectorstore"
)

// SearchInput 是 search_documents 的输入。
type SearchInput struct {
	Query          string   `json:"query" jsonschema:"the natural-language search query"`
	Collection     string   `json:"collection,omitempty" jsonschema:"collection to search (default collection when empty)"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of results, 1-100 (default 5)"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty" jsonschema:"minimum similarity score in [0,1]"`
}

// SearchOutput 是 search_documents 的输出。
type SearchOutput struct {
	Results []model.SearchResult `json:"results"`
	Count   int                  `json:"count"`
}

// ContextInput 是 get_context 的输入。
type ContextInput struct {
	Query          string   `json:"query" jsonschema:"the question the context is for"`
	Collection     string   `json:"collection,omitempty" jsonschema:"collection to search (default collection when empty)"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of chunks (default 3)"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty" jsonschema:"minimum similarity score (default 0.7)"`
	MaxTokens      int      `json:"max_tokens,omitempty" jsonschema:"approximate size budget of the context in tokens (default 2000)"`
}

// IndexInput 是 index_document 与 delete_document 的输入。
type IndexInput struct {
	Path       string `json:"path" jsonschema:"path of the file on the server"`
	Collection string `json:"collection,omitempty" jsonschema:"target collection (default collection when empty)"`
}

// IndexDirectoryInput 是 index_directory 的输入。
type IndexDirectoryInput struct {
	Path       string   `json:"path" jsonschema:"directory to index"`
	Collection string   `json:"collection,omitempty" jsonschema:"target collection (default collection when empty)"`
	Recursive  *bool    `json:"recursive,omitempty" jsonschema:"descend into sub-directories (default true)"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"only index files with these extensions"`
}

// DeleteOutput 是删除类工具的输出。
type DeleteOutput struct {
	Target  string `json:"target"`
	Deleted bool   `json:"deleted"`
}

// CollectionInput 是单集合工具的输入。
type CollectionInput struct {
	Name string `json:"name" jsonschema:"collection name"`
}

// CreateCollectionInput 是 create_collection 的输入。
type CreateCollectionInput struct {
	Name      string `json:"name" jsonschema:"collection name: letters, digits, '_' and '-'"`
	Dimension int    `json:"dimension,omitempty" jsonschema:"vector dimension (defaults to the embedding model's)"`
}

// DeleteCollectionInput 是 delete_collection 的输入。
type DeleteCollectionInput struct {
	Name    string `json:"name" jsonschema:"collection name"`
	Confirm bool   `json:"confirm" jsonschema:"must be true; deletion cannot be undone"`
}

// CollectionStatsOutput 是 get_collection_stats 的输出。
type CollectionStatsOutput struct {
	Collection     vectorstore.CollectionInfo `json:"collection"`
	DocumentsCount int64                      `json:"documentsCount"`
}

// CollectionsOutput 是 list_collections 的输出。
type CollectionsOutput struct {
	Collections []vectorstore.CollectionInfo `json:"collections"`
	Count       int                          `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over indexed document chunks, ordered by similarity",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_context",
		Description: "Retrieve relevant chunks formatted as a prompt-ready context block with sources",
	}, s.handleGetContext)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "index_document",
		Description: "Extract, chunk, embed and store one file, replacing any previous version",
	}, s.handleIndexDocument)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "index_directory",
		Description: "Index every supported file under a directory; failures are reported per file",
	}, s.handleIndexDirectory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove every chunk of a file from a collection",
	}, s.handleDeleteDocument)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_collections",
		Description: "List vector collections with their sizes",
	}, s.handleListCollections)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_collection_stats",
		Description: "Show the dimension, point count and document count of a collection",
	}, s.handleCollectionStats)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_collection",
		Description: "Create a collection if it does not exist",
	}, s.handleCreateCollection)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_collection",
		Description: "Delete a collection and all its chunks; requires confirm=true",
	}, s.handleDeleteCollection)
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.services.Search.Search(ctx, service.SearchRequest{
		Collection:     input.Collection,
		Query:          input.Query,
		Limit:          input.Limit,
		ScoreThreshold: float32Ptr(input.ScoreThreshold),
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: results, Count: len(results)}, nil
}

func (s *Server) handleGetContext(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, model.Context, error) {
	out, err := s.services.Search.GetContext(ctx, service.ContextRequest{
		Collection:     input.Collection,
		Query:          input.Query,
		Limit:          input.Limit,
		ScoreThreshold: float32Ptr(input.ScoreThreshold),
		MaxTokens:      input.MaxTokens,
	})
	if err != nil {
		return nil, model.Context{}, err
	}
	return nil, *out, nil
}

func (s *Server) handleIndexDocument(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (*mcp.CallToolResult, pipeline.IndexResult, error) {
	res, err := s.services.Documents.Index(ctx, input.Path, input.Collection)
	if err != nil {
		return nil, pipeline.IndexResult{}, err
	}
	return nil, *res, nil
}

func (s *Server) handleIndexDirectory(ctx context.Context, _ *mcp.CallToolRequest, input IndexDirectoryInput) (*mcp.CallToolResult, pipeline.DirectoryResult, error) {
	res, err := s.services.Documents.IndexDirectory(ctx, service.IndexDirectoryRequest{
		Path:       input.Path,
		Collection: input.Collection,
		Recursive:  input.Recursive,
		Extensions: input.Extensions,
	})
	if err != nil {
		return nil, pipeline.DirectoryResult{}, err
	}
	return nil, *res, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if err := s.services.Documents.Delete(ctx, input.Path, input.Collection); err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, DeleteOutput{Target: input.Path, Deleted: true}, nil
}

func (s *Server) handleListCollections(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, CollectionsOutput, error) {
	list, err := s.services.Collections.List(ctx)
	if err != nil {
		return nil, CollectionsOutput{}, err
	}
	return nil, CollectionsOutput{Collections: list, Count: len(list)}, nil
}

func (s *Server) handleCollectionStats(ctx context.Context, _ *mcp.CallToolRequest, input CollectionInput) (*mcp.CallToolResult, CollectionStatsOutput, error) {
	stats, err := s.services.Collections.Stats(ctx, input.Name)
	if err != nil {
		return nil, CollectionStatsOutput{}, err
	}
	return nil, CollectionStatsOutput{Collection: stats.CollectionInfo, DocumentsCount: stats.DocumentsCount}, nil
}

func (s *Server) handleCreateCollection(ctx context.Context, _ *mcp.CallToolRequest, input CreateCollectionInput) (*mcp.CallToolResult, vectorstore.CollectionInfo, error) {
	info, err := s.services.Collections.Create(ctx, input.Name, input.Dimension)
	if err != nil {
		return nil, vectorstore.CollectionInfo{}, err
	}
	return nil, *info, nil
}

func (s *Server) handleDeleteCollection(ctx context.Context, _ *mcp.CallToolRequest, input DeleteCollectionInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if !input.Confirm {
		return nil, DeleteOutput{}, fmt.Errorf("%w: deleting collection %q requires confirm=true", model.ErrValidation, input.Name)
	}
	if err := s.services.Collections.Delete(ctx, input.Name); err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, DeleteOutput{Target: input.Name, Deleted: true}, nil
}
