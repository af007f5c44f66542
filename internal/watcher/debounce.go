package watcher

import (
	"sync"
	"time"

	"rag-sync-go/internal/model"
)

// Debouncer 合并同一路径在窗口期内的重复修改事件。
// 只有 modified 会被合并，created 与 deleted 总是放行。
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewDebouncer 创建 Debouncer。now 为 nil 时使用 time.Now。
func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{window: window, now: now, last: make(map[string]time.Time)}
}

// Allow 判断事件是否需要处理。被放行的 modified 事件会刷新该路径的窗口起点。
func (d *Debouncer) Allow(path string, op model.FileOp) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if op == model.OpDeleted {
		delete(d.last, path)
		return true
	}
	if op != model.OpModified || d.window <= 0 {
		return true
	}

	now := d.now()
	if prev, ok := d.last[path]; ok && now.Sub(prev) < d.window {
		return false
	}
	d.last[path] = now
	if len(d.last) > 4096 {
		d.prune(now)
	}
	return true
}

func (d *Debouncer) prune(now time.Time) {
	for p, t := range d.last {
		if now.Sub(t) >= d.window {
			delete(d.last, p)
		}
	}
}
