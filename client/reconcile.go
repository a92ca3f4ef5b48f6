package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

// RequestAPI is the part of the API the reconciler drives.
type RequestAPI interface {
	ListRequests(ctx context.Context, status *models.Status, limit, offset int) (*Page, error)
	Counts(ctx context.Context) (*Counts, error)
	Approve(ctx context.Context, id int64) (*models.Request, error)
	Deny(ctx context.Context, id int64, note string) (*models.Request, error)
	Retry(ctx context.Context, id int64) (*models.Request, error)
	Complete(ctx context.Context, id int64) (*models.Request, error)
	DeleteRequest(ctx context.Context, id int64) error
}

// Overlay holds local changes the server has not confirmed yet. Only
// deletions are applied optimistically.
type Overlay struct {
	Deleted map[int64]struct{}
}

func (o Overlay) with(id int64) Overlay {
	next := Overlay{Deleted: make(map[int64]struct{}, len(o.Deleted)+1)}
	for k := range o.Deleted {
		next.Deleted[k] = struct{}{}
	}
	next.Deleted[id] = struct{}{}
	return next
}

func (o Overlay) without(id int64) Overlay {
	next := Overlay{Deleted: make(map[int64]struct{}, len(o.Deleted))}
	for k := range o.Deleted {
		if k != id {
			next.Deleted[k] = struct{}{}
		}
	}
	return next
}

// Merge applies overlay to snapshot. It never modifies its arguments.
func Merge(snapshot []models.Request, overlay Overlay) []models.Request {
	out := make([]models.Request, 0, len(snapshot))
	for _, r := range snapshot {
		if _, gone := overlay.Deleted[r.ID]; gone {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Reconciler keeps the authoritative snapshot of the caller's requests and
// the optimistic overlay. Readers always see Merge(snapshot, overlay).
type Reconciler struct {
	api      RequestAPI
	onChange func([]models.Request)
	log      *slog.Logger

	refreshMu sync.Mutex

	mu       sync.Mutex
	snapshot []models.Request
	counts   *Counts
	overlay  Overlay
}

// NewReconciler builds a reconciler over api. onChange, if set, is called
// with the merged view after every change.
func NewReconciler(api RequestAPI, onChange func([]models.Request)) *Reconciler {
	return &Reconciler{
		api:      api,
		onChange: onChange,
		log:      logger.For("reconciler"),
	}
}

func (r *Reconciler) View() []models.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Merge(r.snapshot, r.overlay)
}

// Counts returns the last fetched counts, or nil before the first refresh.
func (r *Reconciler) Counts() *Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

func (r *Reconciler) notify() {
	if r.onChange != nil {
		r.onChange(r.View())
	}
}

// Refresh refetches the authoritative list and counts and replaces the
// snapshot. The overlay is left alone; in-flight deletes stay hidden.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	page, err := r.api.ListRequests(ctx, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("refetch requests: %w", err)
	}
	counts, err := r.api.Counts(ctx)
	if err != nil {
		return fmt.Errorf("refetch counts: %w", err)
	}

	r.mu.Lock()
	r.snapshot = page.Requests
	r.counts = counts
	r.mu.Unlock()
	r.notify()
	return nil
}

// Run refreshes once, then again on every trigger from sub, until ctx ends.
// Refresh failures are logged; the next trigger tries again.
func (r *Reconciler) Run(ctx context.Context, sub Subscription) error {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("Initial refresh failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Triggers():
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("Refresh failed", "error", err)
			}
		}
	}
}

// mutate issues a server-side transition and then refetches, since the
// resulting status can move on before any local guess would be right.
func (r *Reconciler) mutate(ctx context.Context, call func() (*models.Request, error)) error {
	if _, err := call(); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

func (r *Reconciler) Approve(ctx context.Context, id int64) error {
	return r.mutate(ctx, func() (*models.Request, error) { return r.api.Approve(ctx, id) })
}

func (r *Reconciler) Deny(ctx context.Context, id int64, note string) error {
	return r.mutate(ctx, func() (*models.Request, error) { return r.api.Deny(ctx, id, note) })
}

func (r *Reconciler) Retry(ctx context.Context, id int64) error {
	return r.mutate(ctx, func() (*models.Request, error) { return r.api.Retry(ctx, id) })
}

func (r *Reconciler) Complete(ctx context.Context, id int64) error {
	return r.mutate(ctx, func() (*models.Request, error) { return r.api.Complete(ctx, id) })
}

// Delete hides the request immediately, then asks the server. On failure
// the overlay entry is withdrawn, restoring the view exactly as it was, and
// the error is returned.
func (r *Reconciler) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	_, alreadyPending := r.overlay.Deleted[id]
	r.overlay = r.overlay.with(id)
	r.mu.Unlock()
	r.notify()

	err := r.api.DeleteRequest(ctx, id)

	r.mu.Lock()
	if err != nil {
		if !alreadyPending {
			r.overlay = r.overlay.without(id)
		}
	} else {
		r.snapshot = Merge(r.snapshot, Overlay{Deleted: map[int64]struct{}{id: {}}})
		r.overlay = r.overlay.without(id)
	}
	r.mu.Unlock()
	r.notify()

	if err != nil {
		return fmt.Errorf("delete request %d: %w", id, err)
	}
	return nil
}
