// Package watcher 监听配置的目录，把文件变更转换为索引任务并交给有界工作池处理。
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"rag-sync-go/internal/config"
	"rag-sync-go/internal/model"
	"rag-sync-go/internal/pipeline"
	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/tasks"
)

// State 是引擎的生命周期状态。
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Indexer 是引擎驱动的索引能力，由 pipeline.Processor 实现。
type Indexer interface {
	IndexDocument(ctx context.Context, path, collection string) (*pipeline.IndexResult, error)
	ReindexDocument(ctx context.Context, path, collection string) (*pipeline.IndexResult, error)
	DeleteDocument(ctx context.Context, path, collection string) error
	ListFiles(dir string, recursive bool, extensions []string) ([]string, error)
	Supports(ext string) bool
}

// Queue 接收监听循环产生的任务。默认直接投递到工作池，也可以替换为 Kafka 生产者。
type Queue interface {
	Publish(ctx context.Context, task tasks.FileTask) error
}

// Observer 在每个任务处理完成后被调用，不能阻塞。
type Observer func(event model.SyncEvent)

// Options 配置引擎。
type Options struct {
	Workers           int
	QueueSize         int
	Debounce          time.Duration
	InitialScan       bool
	DefaultCollection string
	// Queue 为 nil 时使用内存队列（直接提交到工作池）。
	Queue Queue
	// Now 用于测试时注入时钟。
	Now func() time.Time
}

// Stats 是引擎的运行统计。
type Stats struct {
	State           State                `json:"state"`
	Targets         []config.WatchTarget `json:"targets"`
	Workers         int                  `json:"workers"`
	StartedAt       *time.Time           `json:"startedAt,omitempty"`
	EventsReceived  uint64               `json:"eventsReceived"`
	EventsIgnored   uint64               `json:"eventsIgnored"`
	EventsDebounced uint64               `json:"eventsDebounced"`
	TasksDispatched uint64               `json:"tasksDispatched"`
	TasksSucceeded  uint64               `json:"tasksSucceeded"`
	TasksFailed     uint64               `json:"tasksFailed"`
	WatchErrors     uint64               `json:"watchErrors"`
	LastEvent       *model.SyncEvent     `json:"lastEvent,omitempty"`
}

type target struct {
	config.WatchTarget
	exts map[string]struct{}
}

// Engine 是目录同步引擎。
type Engine struct {
	targets   []target
	indexer   Indexer
	opts      Options
	debouncer *Debouncer
	seq       atomic.Uint64

	mu        sync.Mutex
	state     State
	fsw       *fsnotify.Watcher
	pool      *Pool
	queue     Queue
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	startedAt time.Time

	statsMu sync.Mutex
	stats   Stats

	obsMu     sync.RWMutex
	observers []Observer
}

// NewEngine 创建处于 Stopped 状态的引擎。目标路径会被转换为绝对路径。
func NewEngine(targets []config.WatchTarget, indexer Indexer, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DefaultCollection == "" {
		opts.DefaultCollection = "documents"
	}
	e := &Engine{
		indexer:   indexer,
		opts:      opts,
		debouncer: NewDebouncer(opts.Debounce, opts.Now),
		state:     StateStopped,
	}
	for _, t := range targets {
		if abs, err := filepath.Abs(t.Path); err == nil {
			t.Path = abs
		}
		if t.Collection == "" {
			t.Collection = opts.DefaultCollection
		}
		tt := target{WatchTarget: t}
		if len(t.Extensions) > 0 {
			tt.exts = make(map[string]struct{}, len(t.Extensions))
			for _, ext := range t.Extensions {
				ext = strings.ToLower(strings.TrimSpace(ext))
				if ext != "" && !strings.HasPrefix(ext, ".") {
					ext = "." + ext
				}
				tt.exts[ext] = struct{}{}
			}
		}
		e.targets = append(e.targets, tt)
	}
	return e
}

// AddObserver 注册任务完成回调。
func (e *Engine) AddObserver(obs Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, obs)
}

// State 返回当前状态。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Targets 返回规范化之后的监听目标。
func (e *Engine) Targets() []config.WatchTarget {
	out := make([]config.WatchTarget, len(e.targets))
	for i, t := range e.targets {
		out[i] = t.WatchTarget
	}
	return out
}

// Stats 返回统计快照。
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	state := e.state
	startedAt := e.startedAt
	e.mu.Unlock()

	e.statsMu.Lock()
	s := e.stats
	if s.LastEvent != nil {
		last := *s.LastEvent
		s.LastEvent = &last
	}
	e.statsMu.Unlock()

	s.State = state
	s.Targets = e.Targets()
	s.Workers = e.opts.Workers
	if state == StateActive {
		s.StartedAt = &startedAt
	}
	return s
}

func (e *Engine) count(fn func(s *Stats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

// Start 注册所有目标目录并启动事件循环与工作池。只能在 Stopped 状态下调用。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		return fmt.Errorf("watcher: 当前状态 %s 不能启动", e.state)
	}
	e.state = StateStarting
	log.Infof("[Watcher] 步骤1: 正在启动, 目标数: %d", len(e.targets))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		e.state = StateStopped
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	e.fsw = fsw

	watched := 0
	for _, t := range e.targets {
		if err := e.addTree(t.Path, t.Recursive); err != nil {
			log.Errorf("[Watcher] 监听目录失败, Path: %s, Error: %v", t.Path, err)
			continue
		}
		watched++
		log.Infof("[Watcher] 正在监听目录: %s (recursive=%t, collection=%s)", t.Path, t.Recursive, t.Collection)
	}
	if watched == 0 && len(e.targets) > 0 {
		_ = fsw.Close()
		e.state = StateStopped
		return fmt.Errorf("%w: 没有可监听的目录", model.ErrNotFound)
	}

	e.pool = NewPool(e.opts.Workers, e.opts.QueueSize, e.process)
	e.queue = e.opts.Queue
	if e.queue == nil {
		e.queue = e.pool
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.bg.Add(1)
	go e.loop(runCtx, fsw)
	if e.opts.InitialScan {
		e.bg.Add(1)
		go e.scan(runCtx)
	}

	e.startedAt = e.opts.Now()
	e.state = StateActive
	log.Infof("[Watcher] 步骤2: 已启动, workers: %d, debounce: %s", e.pool.Workers(), e.opts.Debounce)
	return nil
}

// Stop 停止事件循环，等待已入队的任务处理完毕。非 Active 状态下调用是空操作。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	cancel, fsw, pool := e.cancel, e.fsw, e.pool
	e.mu.Unlock()

	log.Info("[Watcher] 正在停止...")
	cancel()
	e.bg.Wait()
	err := fsw.Close()
	pool.Close()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	log.Info("[Watcher] 已停止")
	return err
}

// HandleTask 把外部队列（Kafka）读到的任务交给工作池。
func (e *Engine) HandleTask(ctx context.Context, task tasks.FileTask) error {
	e.mu.Lock()
	pool, state := e.pool, e.state
	e.mu.Unlock()
	if pool == nil || state != StateActive {
		return ErrPoolClosed
	}
	return pool.Submit(ctx, task)
}

func (e *Engine) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer e.bg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			e.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			e.count(func(s *Stats) { s.WatchErrors++ })
			log.Warnf("[Watcher] 文件监听出错: %v", err)
		}
	}
}

// addTree 监听 root；recursive 时同时监听所有非隐藏子目录。
func (e *Engine) addTree(root string, recursive bool) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s 不是目录", root)
	}
	if !recursive {
		return e.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("[Watcher] 遍历目录出错, Path: %s, Error: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return fs.SkipDir
		}
		if err := e.fsw.Add(path); err != nil {
			log.Warnf("[Watcher] 监听子目录失败, Path: %s, Error: %v", path, err)
		}
		return nil
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// classify 把原始事件归类，Chmod 被忽略。
func classify(op fsnotify.Op) (model.FileOp, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return model.OpCreated, true
	case op.Has(fsnotify.Write):
		return model.OpModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return model.OpDeleted, true
	}
	return "", false
}

// targetFor 找到包含 path 的目标，多个目标嵌套时取最深的一个。
func (e *Engine) targetFor(path string) (target, bool) {
	var best target
	found := false
	for _, t := range e.targets {
		rel, err := filepath.Rel(t.Path, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !t.Recursive && filepath.Dir(path) != t.Path {
			continue
		}
		if !found || len(t.Path) > len(best.Path) {
			best, found = t, true
		}
	}
	return best, found
}

func (e *Engine) accepts(t target, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if t.exts == nil {
		return e.indexer.Supports(ext)
	}
	_, ok := t.exts[ext]
	return ok
}

func (e *Engine) handleEvent(ctx context.Context, ev fsnotify.Event) {
	e.count(func(s *Stats) { s.EventsReceived++ })
	ignore := func() { e.count(func(s *Stats) { s.EventsIgnored++ }) }

	path := filepath.Clean(ev.Name)
	if isHidden(filepath.Base(path)) {
		ignore()
		return
	}
	t, ok := e.targetFor(path)
	if !ok {
		ignore()
		return
	}
	op, ok := classify(ev.Op)
	if !ok {
		ignore()
		return
	}

	if op != model.OpDeleted {
		info, err := os.Stat(path)
		if err != nil {
			// 文件已经消失，等待随后的删除事件
			ignore()
			return
		}
		if info.IsDir() {
			if op == model.OpCreated && t.Recursive {
				e.watchNewDir(ctx, t, path)
			}
			ignore()
			return
		}
		if !info.Mode().IsRegular() {
			ignore()
			return
		}
	}

	if !e.accepts(t, path) {
		ignore()
		return
	}
	if !e.debouncer.Allow(path, op) {
		e.count(func(s *Stats) { s.EventsDebounced++ })
		log.Debugf("[Watcher] 合并重复的修改事件: %s", path)
		return
	}
	e.dispatch(ctx, t, path, op)
}

// watchNewDir 监听运行期间新建的目录，并把其中已有的文件作为新建文件投递。
func (e *Engine) watchNewDir(ctx context.Context, t target, dir string) {
	if isHidden(filepath.Base(dir)) {
		return
	}
	if err := e.addTree(dir, true); err != nil {
		log.Warnf("[Watcher] 监听新目录失败, Path: %s, Error: %v", dir, err)
		return
	}
	files, err := e.indexer.ListFiles(dir, true, t.Extensions)
	if err != nil {
		log.Warnf("[Watcher] 列出新目录文件失败, Path: %s, Error: %v", dir, err)
		return
	}
	for _, f := range files {
		e.dispatch(ctx, t, f, model.OpCreated)
	}
}

func (e *Engine) dispatch(ctx context.Context, t target, path string, op model.FileOp) {
	task := tasks.FileTask{
		Path:       path,
		Collection: t.Collection,
		Op:         op,
		Seq:        e.seq.Add(1),
		Time:       e.opts.Now(),
	}
	if err := e.queue.Publish(ctx, task); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Errorf("[Watcher] 投递任务失败, Path: %s, Op: %s, Error: %v", path, op, err)
		}
		return
	}
	e.count(func(s *Stats) { s.TasksDispatched++ })
	log.Debugf("[Watcher] 已投递任务 #%d: %s %s", task.Seq, op, path)
}

// scan 在启动时把所有目标目录中的文件作为修改事件投递，已索引的文件会被覆盖而不是重复。
func (e *Engine) scan(ctx context.Context) {
	defer e.bg.Done()
	for _, t := range e.targets {
		files, err := e.indexer.ListFiles(t.Path, t.Recursive, t.Extensions)
		if err != nil {
			log.Errorf("[Watcher] 初始扫描失败, Path: %s, Error: %v", t.Path, err)
			continue
		}
		log.Infof("[Watcher] 初始扫描: %s, 文件数: %d", t.Path, len(files))
		for _, f := range files {
			if ctx.Err() != nil {
				return
			}
			e.dispatch(ctx, t, f, model.OpModified)
		}
	}
}

// process 在 worker 中执行任务：created → 索引，modified → 重新索引，deleted → 只删除。
func (e *Engine) process(ctx context.Context, task tasks.FileTask) {
	start := e.opts.Now()
	ev := model.SyncEvent{
		Path:       task.Path,
		Collection: task.Collection,
		Op:         task.Op,
		Time:       start,
	}

	var (
		res *pipeline.IndexResult
		err error
	)
	switch task.Op {
	case model.OpCreated:
		res, err = e.indexer.IndexDocument(ctx, task.Path, task.Collection)
	case model.OpModified:
		res, err = e.indexer.ReindexDocument(ctx, task.Path, task.Collection)
	case model.OpDeleted:
		err = e.indexer.DeleteDocument(ctx, task.Path, task.Collection)
	default:
		err = fmt.Errorf("%w: 未知的操作类型 %q", model.ErrValidation, task.Op)
	}
	ev.DurationMS = e.opts.Now().Sub(start).Milliseconds()

	if err != nil {
		ev.ErrorKind = model.ErrorKind(err)
		ev.Error = err.Error()
		log.Errorf("[Watcher] 任务 #%d 处理失败, Op: %s, Path: %s, Error: %v", task.Seq, task.Op, task.Path, err)
	} else {
		ev.Success = true
		if res != nil {
			ev.Chunks = res.ChunksIndexed
		}
		log.Infof("[Watcher] 任务 #%d 处理完成, Op: %s, Path: %s, 耗时: %dms", task.Seq, task.Op, task.Path, ev.DurationMS)
	}

	e.count(func(s *Stats) {
		if ev.Success {
			s.TasksSucceeded++
		} else {
			s.TasksFailed++
		}
		last := ev
		s.LastEvent = &last
	})
	e.notify(ev)
}

func (e *Engine) notify(ev model.SyncEvent) {
	e.obsMu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.obsMu.RUnlock()
	for _, obs := range observers {
		obs(ev)
	}
}

