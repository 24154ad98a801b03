// Package workers runs the periodic background loops that keep the fleet
// tidy: garbage-collecting idle providers and actively health-checking the
// rest. Both are thin tickers over a repository snapshot, mirroring the
// same loop shape regardless of which task they run.
package workers

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/logging"
)

// Task names a background worker's job, used only for logging.
type Task string

const (
	TaskGC          Task = "gc"
	TaskHealthCheck Task = "health_check"
)

// Worker runs task against every provider in repo once per interval, on its
// own goroutine, until Stop is called or ctx is cancelled. Collected events
// from each provider are published to bus after every pass.
type Worker struct {
	repo     *repository.Repository
	bus      *bus.EventBus
	interval time.Duration
	task     Task

	stopCh chan struct{}
}

// New creates a worker. It does not start the loop; call Start.
func New(repo *repository.Repository, eventBus *bus.EventBus, task Task, interval time.Duration) *Worker {
	return &Worker{
		repo:     repo,
		bus:      eventBus,
		interval: interval,
		task:     task,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the loop until ctx is cancelled or Stop is called. Intended to
// be launched with `go w.Start(ctx)`.
func (w *Worker) Start(ctx context.Context) {
	logging.Info("Worker", "background worker started: task=%s interval=%s", w.task, w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.runPass(ctx)
		}
	}
}

// Stop ends the loop. Safe to call once; a second call panics on the closed
// channel, matching the worker's single-owner lifecycle.
func (w *Worker) Stop() {
	close(w.stopCh)
	logging.Info("Worker", "background worker stopped: task=%s", w.task)
}

func (w *Worker) runPass(ctx context.Context) {
	providers := w.repo.GetAll()

	switch w.task {
	case TaskGC:
		w.runGCPass(providers)
	case TaskHealthCheck:
		w.runHealthCheckPass(ctx, providers)
	}
}

func (w *Worker) runGCPass(providers []*provider.Provider) {
	collected := 0
	for _, p := range providers {
		func() {
			defer w.publishEvents(p)
			if p.MaybeShutdownIdle() {
				collected++
				logging.Info("Worker", "gc shutdown: provider=%s", p.ID())
			}
		}()
	}
	if collected > 0 {
		logging.Info("Worker", "gc cycle collected %d idle provider(s)", collected)
	}
}

// runHealthCheckPass probes every provider concurrently: each check is an
// independent round-trip to its own subprocess/container/remote endpoint,
// so serializing them would make the sweep latency scale with fleet size
// instead of with the slowest single provider.
func (w *Worker) runHealthCheckPass(ctx context.Context, providers []*provider.Provider) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			defer w.publishEvents(p)
			wasCold := p.State() == provider.Cold
			healthy := p.HealthCheck(gctx)
			if !healthy && !wasCold {
				logging.Warn("Worker", "health check unhealthy: provider=%s", p.ID())
			}
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) publishEvents(p *provider.Provider) {
	for _, evt := range p.CollectEvents() {
		w.bus.Publish(evt)
	}
}
