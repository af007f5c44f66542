// Package mcp 把检索、索引与集合管理以 MCP 工具的形式暴露给调用方的智能体。
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"rag-sync-go/internal/service"
)

const (
	serverName = "rag-sync-go"
	Version    = "0.3.0"
)

// ErrMissingService 在必需的服务未注入时返回。
var ErrMissingService = errors.New("mcp: search, document and collection services are required")

// Services 汇总 MCP 工具依赖的业务服务。
type Services struct {
	Search      service.SearchService
	Documents   service.DocumentService
	Collections service.CollectionService
}

// Validate 确认所有依赖都已注入。
func (s *Services) Validate() error {
	if s.Search == nil || s.Documents == nil || s.Collections == nil {
		return ErrMissingService
	}
	return nil
}

// Server 是 MCP 工具服务器。
type Server struct {
	services *Services
	server   *mcp.Server
}

// NewServer 创建 MCP 服务器并注册全部工具。
func NewServer(services *Services) (*Server, error) {
	if err := services.Validate(); err != nil {
		return nil, fmt.Errorf("validating services: %w", err)
	}
	s := &Server{
		services: services,
		server:   mcp.NewServer(&mcp.Implementation{Name: serverName, Version: Version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run 以 stdio 传输运行，阻塞直到 ctx 取消或连接断开。
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler 返回 streamable HTTP 传输的处理器，挂载到 HTTP 服务的 /mcp。
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}
