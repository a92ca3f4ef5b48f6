package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

const defaultHookTimeout = 30 * time.Second

// Notifier is told about committed request changes. Implementations are
// best-effort: errors are logged and counted, never returned to the caller
// that made the change.
type Notifier interface {
	Name() string
	NotifyCreated(ctx context.Context, req *models.Request) error
	NotifyStatusChanged(ctx context.Context, req *models.Request, previous models.Status) error
}

// HookRunner executes post-commit work on a bounded worker pool. Each task
// is isolated: a panic or error in one never reaches the others or the
// submitter.
type HookRunner struct {
	pool      *workerpool.WorkerPool
	notifiers []Notifier
	timeout   time.Duration
	log       *slog.Logger
	wg        sync.WaitGroup
}

func NewHookRunner(workers int, notifiers ...Notifier) *HookRunner {
	if workers <= 0 {
		workers = 1
	}
	return &HookRunner{
		pool:      workerpool.New(workers),
		notifiers: notifiers,
		timeout:   defaultHookTimeout,
		log:       logger.For("hooks"),
	}
}

// Submit runs fn in the background under the hook timeout.
func (h *HookRunner) Submit(name string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	h.pool.Submit(func() {
		defer h.wg.Done()
		if err := h.run(name, fn); err != nil {
			hookFailures.WithLabelValues(name).Inc()
			h.log.Warn("Hook failed", "hook", name, "error", err)
		}
	})
}

func (h *HookRunner) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return fn(ctx)
}

// RequestCreated fans a new request out to every notifier.
func (h *HookRunner) RequestCreated(req *models.Request) {
	snapshot := *req
	for _, n := range h.notifiers {
		h.Submit(n.Name(), func(ctx context.Context) error {
			return n.NotifyCreated(ctx, &snapshot)
		})
	}
}

// StatusChanged fans a committed status change out to every notifier.
func (h *HookRunner) StatusChanged(req *models.Request, previous models.Status) {
	snapshot := *req
	for _, n := range h.notifiers {
		h.Submit(n.Name(), func(ctx context.Context) error {
			return n.NotifyStatusChanged(ctx, &snapshot, previous)
		})
	}
}

// Wait blocks until every task submitted so far has finished.
func (h *HookRunner) Wait() {
	h.wg.Wait()
}

// Stop waits for queued tasks and shuts the pool down.
func (h *HookRunner) Stop() {
	h.pool.StopWait()
}
