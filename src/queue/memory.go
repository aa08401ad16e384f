package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	app "imghost/src/app"
)

// Handler executes one thumbnail job.
type Handler func(ctx context.Context, job app.ThumbnailJob) error

var ErrQueueClosed = errors.New("thumbnail queue is closed")

// WorkerPool is an in-process app.JobPublisher backed by a buffered channel
// and a fixed number of workers.
type WorkerPool struct {
	handler Handler
	workers int

	mu      sync.Mutex
	started bool
	closed  bool
	jobs    chan app.ThumbnailJob
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewWorkerPool(handler Handler, workers, size int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &WorkerPool{
		handler: handler,
		workers: workers,
		jobs:    make(chan app.ThumbnailJob, size),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, i)
	}
	log.Info().Int("workers", p.workers).Int("capacity", cap(p.jobs)).Msg("thumbnail worker pool started")
}

// Stop closes the queue and waits for the workers to drain it.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	}
	log.Info().Msg("thumbnail worker pool stopped")
}

// Publish enqueues job without waiting for it to run. A full queue is an error.
func (p *WorkerPool) Publish(ctx context.Context, job app.ThumbnailJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrQueueClosed
	}

	select {
	case p.jobs <- job:
		log.Ctx(ctx).Debug().Uint("image", job.ImageID).Msg("thumbnail job enqueued")
		return nil
	default:
		return fmt.Errorf("can not enqueue image %d: thumbnail queue is full", job.ImageID)
	}
}

// Pending returns the number of queued jobs not yet picked by a worker.
func (p *WorkerPool) Pending() int {
	return len(p.jobs)
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := log.With().Str("component", "worker").Int("worker", id).Logger()

	for job := range p.jobs {
		run(logger.WithContext(ctx), logger, p.handler, job)
	}
	logger.Debug().Msg("worker stopped")
}

// run executes one job, recovering from panics so a bad image does not
// take the worker down.
func run(ctx context.Context, logger zerolog.Logger, handler Handler, job app.ThumbnailJob) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Uint("image", job.ImageID).Interface("panic", r).Msg("thumbnail job panicked")
		}
	}()

	if err := handler(ctx, job); err != nil {
		logger.Error().Err(err).Uint("image", job.ImageID).Msg("thumbnail job failed")
		return
	}
	logger.Debug().Uint("image", job.ImageID).Dur("took", time.Since(start)).Msg("thumbnail job done")
}
