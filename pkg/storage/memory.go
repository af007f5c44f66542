package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// MemoryArchive 是进程内的 Archive 实现，供测试与本地运行使用。
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string]string
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string]string)}
}

func (a *MemoryArchive) Put(_ context.Context, key, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = text
	return nil
}

func (a *MemoryArchive) Get(_ context.Context, key string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	text, ok := a.objects[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return text, nil
}

func (a *MemoryArchive) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, key)
	return nil
}

// PresignedURL 对内存归档没有意义，总是返回空字符串。
func (a *MemoryArchive) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
