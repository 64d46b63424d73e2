package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/backoff"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
)

type Options struct {
	// StalledAfter is how long an active job may go without an update
	// before the janitor fails its attempt. Zero disables the janitor.
	// Running attempts refresh their job every StalledAfter/3.
	StalledAfter time.Duration
	// JanitorInterval is how often the janitor looks for stalled jobs.
	JanitorInterval time.Duration
}

type WorkerPool struct {
	workers []*worker.Worker
	deps    worker.Deps
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	cancelRun  context.CancelFunc
	cancelExec context.CancelFunc
}

func NewWorkerPool(count int, deps worker.Deps, opts Options) *WorkerPool {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Backoff == nil {
		deps.Backoff = backoff.New()
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 30 * time.Second
	}
	if opts.StalledAfter > 0 && deps.Heartbeat <= 0 {
		deps.Heartbeat = opts.StalledAfter / 3
	}

	p := &WorkerPool{deps: deps, opts: opts, logger: deps.Logger}
	for i := 1; i <= count; i++ {
		p.workers = append(p.workers, worker.NewWorker(i, deps))
	}
	return p
}

// Start launches one goroutine per slot and returns immediately.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	runCtx, cancelRun := context.WithCancel(ctx)
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelRun, p.cancelExec = cancelRun, cancelExec

	p.logger.Info("worker pool starting", slog.Int("workers", len(p.workers)))

	for _, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(runCtx, execCtx)
		}()
	}

	if p.opts.StalledAfter > 0 {
		p.wg.Add(1)
		go p.janitor(runCtx)
	}
}

// Stop stops claiming new jobs and waits for in-flight attempts. When ctx
// ends first, the handlers' contexts are cancelled and Stop still waits
// for the slots to record their outcome.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	p.cancelRun()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelExec()
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling in-flight jobs")
		p.cancelExec()
		<-done
		return ctx.Err()
	}
}

// Size is the number of slots.
func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// Snapshot returns the state of every slot.
func (p *WorkerPool) Snapshot() []worker.Slot {
	out := make([]worker.Slot, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Snapshot()
	}
	return out
}

func (p *WorkerPool) holds(id string) bool {
	for _, w := range p.workers {
		if w.Holds(id) {
			return true
		}
	}
	return false
}

// janitor fails attempts of active jobs nobody has touched for
// StalledAfter, which happens when a process dies mid-attempt.
func (p *WorkerPool) janitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.RecoverStalled(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("stalled job recovery failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RecoverStalled runs one janitor pass and returns how many jobs it
// recovered.
func (p *WorkerPool) RecoverStalled(ctx context.Context) (int, error) {
	active, err := p.deps.Store.Query(ctx, storage.Filter{
		Statuses: []config.JobStatus{config.JobStatusActive},
	})
	if err != nil {
		return 0, err
	}

	now := p.deps.Now()
	recovered := 0
	for i := range active {
		j := &active[i]
		if now.Sub(j.UpdatedAt) < p.opts.StalledAfter || p.holds(j.ID) {
			continue
		}

		retry, err := worker.FailStalled(ctx, p.deps.Store, p.deps.Backoff, j, now)
		if err != nil {
			if errors.Is(err, storage.ErrStatusConflict) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return recovered, err
		}

		p.logger.Warn("recovered stalled job",
			slog.String("job_id", j.ID),
			slog.Int("attempts_made", j.AttemptsMade),
			slog.Bool("retry", retry),
		)
		recovered++
	}
	return recovered, nil
}
