// Package extractor 按文件扩展名选择解析器，把文档转换为纯文本。
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/tika"
)

var (
	// ErrNotFound 表示文件不存在。
	ErrNotFound = errors.New("file not found")
	// ErrUnsupportedFormat 表示没有可处理该扩展名的解析器。
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrExtractionFailed 表示解析器处理文件失败。
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrTooLarge 表示文件超过了配置的大小上限。
	ErrTooLarge = errors.New("file too large")
)

// Extraction 是一次抽取的结果。
type Extraction struct {
	Text       string
	Format     string
	Size       int64
	ModifiedAt time.Time
}

// Extractor 是文本抽取能力。
type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
	// Supports 判断扩展名（含点，大小写不敏感）是否可处理。
	Supports(ext string) bool
	// Extensions 返回所有可处理的扩展名，已排序。
	Extensions() []string
}

// parseFunc 读取 path 并返回原始文本。
type parseFunc func(ctx context.Context, path string) (string, error)

// tikaExtensions 是交给 Tika 处理的格式，仅在配置了 Tika 服务时启用。
var tikaExtensions = []string{".doc", ".ppt", ".pptx", ".xls", ".xlsx", ".rtf", ".odt", ".ods", ".odp", ".epub"}

// Registry 是默认的 Extractor 实现。
type Registry struct {
	parsers  map[string]parseFunc
	maxBytes int64
}

// Option 配置 Registry。
type Option func(*Registry)

// WithTika 为内置解析器之外的格式启用 Tika 兜底。
func WithTika(client *tika.Client) Option {
	return func(r *Registry) {
		if client == nil {
			return
		}
		fn := tikaParser(client)
		for _, ext := range tikaExtensions {
			if _, ok := r.parsers[ext]; !ok {
				r.parsers[ext] = fn
			}
		}
	}
}

// WithMaxFileSize 设置可处理文件的大小上限，<= 0 表示不限制。
func WithMaxFileSize(bytes int64) Option {
	return func(r *Registry) { r.maxBytes = bytes }
}

// NewRegistry 创建包含全部内置解析器的 Registry。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{parsers: map[string]parseFunc{
		".txt":      parseText,
		".text":     parseText,
		".log":      parseText,
		".csv":      parseText,
		".md":       parseMarkdown,
		".markdown": parseMarkdown,
		".html":     parseHTML,
		".htm":      parseHTML,
		".pdf":      parsePDF,
		".docx":     parseDOCX,
	}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Supports(ext string) bool {
	_, ok := r.parsers[strings.ToLower(ext)]
	return ok
}

func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Extract(ctx context.Context, path string) (*Extraction, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrExtractionFailed, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, path, info.Size(), r.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(path))
	parse, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	text, err := parse(ctx, path)
	if err != nil {
		log.Warnf("[Extractor] 解析文件失败, path: %s, error: %v", path, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, path, err)
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	return &Extraction{
		Text:       text,
		Format:     strings.TrimPrefix(ext, "."),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}, nil
}

func parseText(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func tikaParser(client *tika.Client) parseFunc {
	return func(ctx context.Context, path string) (string, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return client.ExtractText(ctx, f, filepath.Base(path))
	}
}
