package watcher

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/tasks"
)

// ErrPoolClosed 表示工作池已关闭，不再接受任务。
var ErrPoolClosed = errors.New("worker pool closed")

// TaskFunc 处理一个文件任务。
type TaskFunc func(ctx context.Context, task tasks.FileTask)

// Pool 是按路径分片的有界工作池：同一路径的任务总是进入同一个 worker，严格按提交顺序处理，
// 不同路径之间并行。
type Pool struct {
	shards []chan tasks.FileTask
	handle TaskFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool 创建并启动工作池。workers 默认为 4，queueSize 是每个分片的队列长度。
func NewPool(workers, queueSize int, handle TaskFunc) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		shards: make([]chan tasks.FileTask, workers),
		handle: handle,
	}
	for i := range p.shards {
		p.shards[i] = make(chan tasks.FileTask, queueSize)
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *Pool) run(i int) {
	defer p.wg.Done()
	for task := range p.shards[i] {
		p.safeHandle(task)
	}
}

// 单个任务 panic 不能拖垮整个 worker
func (p *Pool) safeHandle(task tasks.FileTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[WorkerPool] 处理任务时发生 panic, Path: %s, Panic: %v", task.Path, r)
		}
	}()
	p.handle(context.Background(), task)
}

// Workers 返回 worker 数量。
func (p *Pool) Workers() int { return len(p.shards) }

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Submit 把任务放入对应分片。分片队列满时阻塞，直到有空位或 ctx 结束。
func (p *Pool) Submit(ctx context.Context, task tasks.FileTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.shards[p.shardFor(task.Key())] <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish 让 Pool 可以直接作为内存队列使用。
func (p *Pool) Publish(ctx context.Context, task tasks.FileTask) error {
	return p.Submit(ctx, task)
}

// Close 停止接收新任务，并等待已入队的任务处理完毕。重复调用是安全的。
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
