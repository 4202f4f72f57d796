// Package worker provides a bounded worker pool used to fan out alert
// dispatch (one SIEM send and, if enabled, one email send per Alert) off
// the ingress loop, so a slow SMTP relay or SIEM socket never blocks the
// next UDP datagram from being read.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/idswatch/sentinel/pkg/types"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("job queue full")
	ErrJobTimeout = errors.New("job execution timeout")
)

// JobFunc dispatches one alert. It is expected to log and swallow its own
// I/O errors (SIEM/email send failures never propagate to the ingress
// loop); a non-nil return here is only for accounting purposes.
type JobFunc func(ctx context.Context, alert *types.Alert) error

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	NumWorkers int
	QueueSize  int
	JobTimeout time.Duration
}

// WorkerPool is a fixed pool of workers draining a bounded job queue.
type WorkerPool struct {
	config   PoolConfig
	jobFunc  JobFunc
	jobQueue chan *job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobsProcessed uint64
	jobsFailed    uint64
	jobsTimeout   uint64
	workersActive uint64
}

type job struct {
	alert   *types.Alert
	timeout time.Duration
}

// New creates a worker pool bound to jobFunc. Workers are not started until
// Start is called.
func New(config PoolConfig, jobFunc JobFunc) *WorkerPool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		config:   config,
		jobFunc:  jobFunc,
		jobQueue: make(chan *job, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the configured number of worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit enqueues an alert for dispatch without blocking the caller on the
// result; this is what lets the ingress loop's call site stay non-blocking
// per the concurrency model. Returns ErrPoolClosed or ErrQueueFull if the
// alert could not be enqueued — both are caller-logged, never fatal.
func (p *WorkerPool) Submit(alert *types.Alert) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	j := &job{alert: alert, timeout: p.config.JobTimeout}

	select {
	case p.jobQueue <- j:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
		return ErrQueueFull
	}
}

// Stop signals all workers to finish their current job and exit, then
// blocks until they do.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *WorkerPool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.process(j)
		}
	}
}

func (p *WorkerPool) process(j *job) {
	atomic.AddUint64(&p.workersActive, 1)
	defer atomic.AddUint64(&p.workersActive, ^uint64(0))

	ctx, cancel := context.WithTimeout(p.ctx, j.timeout)
	defer cancel()

	err := p.jobFunc(ctx, j.alert)

	atomic.AddUint64(&p.jobsProcessed, 1)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		atomic.AddUint64(&p.jobsTimeout, 1)
	case err != nil:
		atomic.AddUint64(&p.jobsFailed, 1)
	}
}

// Metrics is a snapshot of the worker pool's own activity counters.
type Metrics struct {
	NumWorkers    int
	JobsProcessed uint64
	JobsFailed    uint64
	JobsTimeout   uint64
	WorkersActive uint64
	QueueLen      int
	QueueCap      int
}

// Metrics returns a point-in-time snapshot of pool activity.
func (p *WorkerPool) Metrics() Metrics {
	return Metrics{
		NumWorkers:    p.config.NumWorkers,
		JobsProcessed: atomic.LoadUint64(&p.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&p.jobsFailed),
		JobsTimeout:   atomic.LoadUint64(&p.jobsTimeout),
		WorkersActive: atomic.LoadUint64(&p.workersActive),
		QueueLen:      len(p.jobQueue),
		QueueCap:      cap(p.jobQueue),
	}
}
