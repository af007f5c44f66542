package service

import (
	"sync"
	"sync/atomic"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/watcher"
	"rag-sync-go/pkg/log"
)

// SyncStatus 是同步引擎的对外状态。
type SyncStatus struct {
	Enabled bool   `json:"enabled"`
	Queue   string `json:"queue"`
	watcher.Stats
	Subscribers   int    `json:"subscribers"`
	DroppedEvents uint64 `json:"droppedEvents"`
}

// SyncService 暴露同步引擎的状态，并把处理结果广播给订阅者（websocket）。
type SyncService interface {
	Status() SyncStatus
	// Subscribe 返回事件通道与取消函数。订阅者消费过慢时事件会被丢弃。
	Subscribe(buffer int) (<-chan model.SyncEvent, func())
}

type syncService struct {
	engine *watcher.Engine
	queue  string

	mu      sync.Mutex
	nextID  int
	subs    map[int]chan model.SyncEvent
	dropped atomic.Uint64
}

// NewSyncService 创建 SyncService。engine 为 nil 表示未启用目录同步。
func NewSyncService(engine *watcher.Engine, queue string) SyncService {
	s := &syncService{engine: engine, queue: queue, subs: make(map[int]chan model.SyncEvent)}
	if engine != nil {
		engine.AddObserver(s.publish)
	}
	return s
}

func (s *syncService) Status() SyncStatus {
	st := SyncStatus{Enabled: s.engine != nil, Queue: s.queue, DroppedEvents: s.dropped.Load()}
	if s.engine != nil {
		st.Stats = s.engine.Stats()
	} else {
		st.Stats = watcher.Stats{State: watcher.StateStopped}
	}
	s.mu.Lock()
	st.Subscribers = len(s.subs)
	s.mu.Unlock()
	return st
}

func (s *syncService) Subscribe(buffer int) (<-chan model.SyncEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.SyncEvent, buffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *syncService) publish(ev model.SyncEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
			log.Debugf("[SyncService] 订阅者处理过慢, 丢弃事件: %s", ev.Path)
		}
	}
}
