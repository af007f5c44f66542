package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/pkg/tasks"
)

func TestPool_PreservesPerPathOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]uint64{}
	pool := NewPool(4, 8, func(_ context.Context, task tasks.FileTask) {
		mu.Lock()
		seen[task.Path] = append(seen[task.Path], task.Seq)
		mu.Unlock()
	})

	paths := []string{"/a.txt", "/b.txt", "/c.txt", "/d.txt"}
	var seq uint64
	for i := 0; i < 50; i++ {
		for _, p := range paths {
			seq++
			require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: p, Seq: seq}))
		}
	}
	pool.Close()

	for _, p := range paths {
		require.Len(t, seen[p], 50, p)
		assert.IsIncreasing(t, seen[p], p)
	}
}

func TestPool_DistinctPathsRunInParallel(t *testing.T) {
	release := make(chan struct{})
	done := make(chan string, 2)
	pool := NewPool(4, 1, func(_ context.Context, task tasks.FileTask) {
		if task.Path == "blocked" {
			<-release
		}
		done <- task.Path
	})
	defer pool.Close()

	other := ""
	for i := 0; i < 100; i++ {
		candidate := fmt.Sprintf("other-%d", i)
		if pool.shardFor(candidate) != pool.shardFor("blocked") {
			other = candidate
			break
		}
	}
	require.NotEmpty(t, other)

	require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: "blocked"}))
	require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: other}))

	select {
	case p := <-done:
		assert.Equal(t, other, p)
	case <-time.After(2 * time.Second):
		t.Fatal("task for a different path was blocked")
	}
	close(release)
	assert.Equal(t, "blocked", <-done)
}

func TestPool_BackPressureAndClose(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	pool := NewPool(1, 1, func(context.Context, tasks.FileTask) {
		started <- struct{}{}
		<-release
	})

	require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: "a", Seq: 1}))
	<-started
	require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: "a", Seq: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, tasks.FileTask{Path: "a", Seq: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "full shard must block the caller")

	close(release)
	pool.Close()
	pool.Close()

	assert.ErrorIs(t, pool.Submit(context.Background(), tasks.FileTask{Path: "a"}), ErrPoolClosed)
}

func TestPool_RecoversFromPanic(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	pool := NewPool(1, 4, func(_ context.Context, task tasks.FileTask) {
		if task.Path == "boom" {
			panic("boom")
		}
		mu.Lock()
		handled = append(handled, task.Path)
		mu.Unlock()
	})
	require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: "boom"}))
	require.NoError(t, pool.Submit(context.Background(), tasks.FileTask{Path: "ok"}))
	pool.Close()
	assert.Equal(t, []string{"ok"}, handled)
}
