package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/config"
	"rag-sync-go/internal/model"
	"rag-sync-go/pkg/tasks"
)

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(config.KafkaConfig{Brokers: " a:9092, ,b:9092 "}))
	assert.Empty(t, brokers(config.KafkaConfig{}))
}

// scriptedReader 依次返回预设的结果，用完后阻塞到 ctx 结束。
type scriptedReader struct {
	mu        sync.Mutex
	script    []fetchResult
	committed []kafka.Message
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.script) > 0 {
		next := r.script[0]
		r.script = r.script[1:]
		r.mu.Unlock()
		return next.msg, next.err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *scriptedReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingHandler struct {
	mu    sync.Mutex
	tasks []tasks.FileTask
	fail  error
}

func (h *recordingHandler) HandleTask(_ context.Context, task tasks.FileTask) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.tasks = append(h.tasks, task)
	return nil
}

func (h *recordingHandler) handled() []tasks.FileTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tasks.FileTask(nil), h.tasks...)
}

func encoded(t *testing.T, task tasks.FileTask) kafka.Message {
	t.Helper()
	value, err := task.Encode()
	require.NoError(t, err)
	return kafka.Message{Key: []byte(task.Key()), Value: value}
}

func withRetryDelay(t *testing.T, d time.Duration) {
	t.Helper()
	old := fetchRetryDelay
	fetchRetryDelay = d
	t.Cleanup(func() { fetchRetryDelay = old })
}

func TestConsume_KeepsReadingAfterFetchErrors(t *testing.T) {
	withRetryDelay(t, time.Millisecond)
	task := tasks.FileTask{Path: "/data/a.txt", Collection: "docs", Op: model.OpModified, Seq: 7}
	r := &scriptedReader{script: []fetchResult{
		{err: errors.New("dial tcp: connection refused")},
		{err: io.ErrUnexpectedEOF},
		{msg: kafka.Message{Value: []byte("not json")}},
		{msg: encoded(t, task)},
	}}
	h := &recordingHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(ctx, r, h)
	}()

	require.Eventually(t, func() bool { return len(h.handled()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, task, h.handled()[0])
	assert.Equal(t, 2, r.commits(), "the malformed message and the delivered task are both committed")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestConsume_StopsWhenHandlerIsClosed(t *testing.T) {
	task := tasks.FileTask{Path: "/data/a.txt", Collection: "docs", Op: model.OpCreated}
	r := &scriptedReader{script: []fetchResult{{msg: encoded(t, task)}}}
	h := &recordingHandler{fail: errors.New("pool closed")}

	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(context.Background(), r, h)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer kept running after the handler refused a task")
	}
	assert.Zero(t, r.commits(), "undelivered tasks are not committed")
}

func TestConsume_CancelDuringRetryWait(t *testing.T) {
	withRetryDelay(t, time.Hour)
	r := &scriptedReader{script: []fetchResult{{err: errors.New("broker down")}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(ctx, r, &recordingHandler{})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer ignored cancellation while waiting to retry")
	}
}
