package pending

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// passTimeout bounds one background reconcile pass.
const passTimeout = 2 * time.Minute

// Runner drives the reconciler from a ticker and from opportunistic triggers.
// At most one pass runs per process at a time.
type Runner struct {
	reconciler *Reconciler
	tracker    *Tracker
	interval   time.Duration
	log        *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRunner(reconciler *Reconciler, tracker *Tracker, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		reconciler: reconciler,
		tracker:    tracker,
		interval:   interval,
		log:        logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *Runner) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runIfPending()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runner) runIfPending() {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	n, err := r.tracker.Count(ctx)
	if err != nil {
		r.log.Warn("pending count failed", "error", err)
		return
	}
	if n == 0 {
		return
	}
	r.runOnce(ctx)
}

// runOnce performs a pass unless one is already in flight. It reports whether
// it ran.
func (r *Runner) runOnce(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	defer r.running.Store(false)

	if _, err := r.reconciler.Reconcile(ctx); err != nil {
		r.log.Warn("background reconcile failed", "error", err)
	}
	return true
}

// TriggerAsync starts a pass in the background unless one is in flight.
func (r *Runner) TriggerAsync() {
	if r.running.Load() {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
		defer cancel()
		r.runOnce(ctx)
	}()
}

// Stop ends the loop and waits for in-flight passes.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
