package chathub_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_KeepsOrderPerKey(t *testing.T) {
	pool := chathub.NewWorkerPool(4, 512, time.Second)

	var (
		mu  sync.Mutex
		got = map[string][]int{}
	)
	for i := 0; i < 100; i++ {
		for _, key := range []string{"room-a", "room-b", "room-c"} {
			key, i := key, i
			pool.Submit(chathub.Job{Key: key, Name: "append", Run: func(context.Context) error {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
				return nil
			}})
		}
	}
	pool.Close()

	for _, key := range []string{"room-a", "room-b", "room-c"} {
		assert.Len(t, got[key], 100)
		assert.IsIncreasing(t, got[key])
	}
}

func TestWorkerPool_RunsInlineAfterClose(t *testing.T) {
	pool := chathub.NewWorkerPool(1, 1, 0)
	pool.Close()
	pool.Close()

	ran := false
	pool.Submit(chathub.Job{Key: "k", Run: func(context.Context) error {
		ran = true
		return nil
	}})
	assert.True(t, ran)
}

func TestWorkerPool_SurvivesFailingJobs(t *testing.T) {
	pool := chathub.NewWorkerPool(1, 8, time.Second)

	var done atomic.Int32
	pool.Submit(chathub.Job{Key: "k", Name: "panics", Run: func(context.Context) error { panic("boom") }})
	pool.Submit(chathub.Job{Key: "k", Name: "fails", Run: func(context.Context) error { return errors.New("nope") }})
	pool.Submit(chathub.Job{Key: "k", Name: "works", Run: func(context.Context) error {
		done.Add(1)
		return nil
	}})
	pool.Close()

	assert.Equal(t, int32(1), done.Load())
}

func TestWorkerPool_JobsGetDeadline(t *testing.T) {
	pool := chathub.NewWorkerPool(1, 1, 50*time.Millisecond)
	defer pool.Close()

	errCh := make(chan error, 1)
	pool.Submit(chathub.Job{Key: "k", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job context never expired")
	}
}

func TestWorkerPool_FullQueueWaitsInsteadOfOvertaking(t *testing.T) {
	pool := chathub.NewWorkerPool(1, 1, 2*time.Second)

	var (
		mu    sync.Mutex
		order []int
	)
	record := func(n int) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
	}
	started := make(chan struct{})
	release := make(chan struct{})
	pool.Submit(chathub.Job{Key: "room", Run: func(context.Context) error {
		close(started)
		<-release
		record(1)
		return nil
	}})
	<-started
	pool.Submit(chathub.Job{Key: "room", Run: func(context.Context) error {
		record(2)
		return nil
	}})

	submitted := make(chan struct{})
	go func() {
		pool.Submit(chathub.Job{Key: "room", Run: func(context.Context) error {
			record(3)
			return nil
		}})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit into a full queue returned before there was room")
	case <-time.After(100 * time.Millisecond):
	}
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	close(release)
	<-submitted
	pool.Close()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWorkerPool_RunsInlineWhenWaitRunsOut(t *testing.T) {
	pool := chathub.NewWorkerPool(1, 1, 50*time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	pool.Submit(chathub.Job{Key: "room", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started
	pool.Submit(chathub.Job{Key: "room", Run: func(context.Context) error { return nil }})

	ran := false
	pool.Submit(chathub.Job{Key: "room", Run: func(context.Context) error {
		ran = true
		return nil
	}})
	assert.True(t, ran)

	close(release)
	pool.Close()
}
