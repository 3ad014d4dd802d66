package chathub

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const defaultSubmitWait = 5 * time.Second

// Job is a unit of background persistence work. Jobs with the same Key run
// in submission order.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// WorkerPool runs persistence jobs off the request path. Each worker owns
// a queue and a job's Key picks the queue.
type WorkerPool struct {
	queues  []chan Job
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool starts workers goroutines, each with a queue of buffer jobs.
func NewWorkerPool(workers, buffer int, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	p := &WorkerPool{queues: make([]chan Job, workers), timeout: timeout}
	for i := range p.queues {
		p.queues[i] = make(chan Job, buffer)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}
	zap.L().Info("persistence workers started", zap.Int("workers", workers), zap.Int("buffer", buffer))
	return p
}

// Submit queues job. A full queue makes the caller wait up to the job
// timeout for room, which keeps per-key order. Only when that wait runs
// out, or the pool is closed, does the job run on the caller's goroutine,
// possibly ahead of queued jobs with the same key.
func (p *WorkerPool) Submit(job Job) {
	p.mu.RLock()
	if !p.closed {
		q := p.queues[xxhash.Sum64String(job.Key)%uint64(len(p.queues))]
		select {
		case q <- job:
			p.mu.RUnlock()
			persistQueued.Inc()
			return
		default:
		}

		wait := time.NewTimer(p.submitWait())
		select {
		case q <- job:
			wait.Stop()
			p.mu.RUnlock()
			persistQueued.Inc()
			return
		case <-wait.C:
		}
	}
	p.mu.RUnlock()

	zap.L().Warn("persistence queue unavailable, running job inline", zap.String("job", job.Name), zap.String("key", job.Key))
	p.exec(job)
}

func (p *WorkerPool) submitWait() time.Duration {
	if p.timeout > 0 {
		return p.timeout
	}
	return defaultSubmitWait
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) worker(q <-chan Job) {
	defer p.wg.Done()
	for job := range q {
		persistQueued.Dec()
		p.exec(job)
	}
}

func (p *WorkerPool) exec(job Job) {
	defer func() {
		if r := recover(); r != nil {
			persistJobs.WithLabelValues("panic").Inc()
			zap.L().Error("persistence job panicked", zap.String("job", job.Name), zap.Any("recover", r))
		}
	}()

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := job.Run(ctx); err != nil {
		persistJobs.WithLabelValues("error").Inc()
		zap.L().Error("persistence job failed", zap.String("job", job.Name), zap.String("key", job.Key), zap.Error(err))
		return
	}
	persistJobs.WithLabelValues("ok").Inc()
}
