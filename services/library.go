package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

const (
	TitleMatchThreshold  = 0.85
	AuthorMatchThreshold = 0.70
)

// LibraryEntry is one owned item in the library snapshot.
type LibraryEntry struct {
	ID         string
	Title      string
	Author     string
	NormTitle  string
	NormAuthor string
}

func NewLibraryEntry(id, title, author string) LibraryEntry {
	return LibraryEntry{
		ID:         id,
		Title:      title,
		Author:     author,
		NormTitle:  Normalize(title),
		NormAuthor: Normalize(author),
	}
}

func (e LibraryEntry) Summary() models.LibraryMatch {
	return models.LibraryMatch{ID: e.ID, Title: e.Title, Author: e.Author}
}

type LibraryCacheConfig struct {
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	LookupTimeout   time.Duration
}

// LibraryStats describes the current snapshot.
type LibraryStats struct {
	Configured  bool       `json:"configured"`
	Entries     int        `json:"entries"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// LibraryCache keeps an in-memory snapshot of owned audiobooks for duplicate
// detection. The snapshot slice is replaced on refresh and never modified in
// place, so readers may keep using a slice after releasing the lock.
type LibraryCache struct {
	source CatalogSource
	cfg    LibraryCacheConfig
	events EventPublisher
	log    *slog.Logger

	mu          sync.RWMutex
	entries     []LibraryEntry
	refreshedAt time.Time
	lastErr     error

	group singleflight.Group

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLibraryCache builds a cache over source. A nil source leaves the cache
// unconfigured: lookups return nothing and refreshes are no-ops.
func NewLibraryCache(source CatalogSource, cfg LibraryCacheConfig, events EventPublisher) *LibraryCache {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &LibraryCache{
		source: source,
		cfg:    cfg,
		events: events,
		log:    logger.For("library"),
	}
}

func (c *LibraryCache) IsConfigured() bool {
	return c != nil && c.source != nil
}

// Refresh fetches the whole catalog and swaps the snapshot. Concurrent calls
// share one fetch, which runs under the fetch timeout even if ctx is
// cancelled; ctx only bounds how long this caller waits. On failure the
// previous snapshot is kept.
func (c *LibraryCache) Refresh(ctx context.Context) (int, error) {
	if !c.IsConfigured() {
		return 0, ErrCatalogNotConfigured
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *LibraryCache) fetch(ctx context.Context) (int, error) {
	start := time.Now()
	entries, err := c.load(ctx)
	if err != nil {
		libraryRefreshes.WithLabelValues("error").Inc()
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.log.Warn("Failed to refresh library cache", "error", err)
		return 0, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	c.mu.Lock()
	c.entries = entries
	c.refreshedAt = time.Now()
	c.lastErr = nil
	c.mu.Unlock()

	libraryRefreshes.WithLabelValues("ok").Inc()
	libraryEntries.Set(float64(len(entries)))
	c.log.Info("Library cache refreshed", "entries", len(entries), "duration", time.Since(start))

	if c.events != nil {
		c.events.Publish(models.NewEvent(models.EventCatalogUpdate))
	}
	return len(entries), nil
}

func (c *LibraryCache) load(ctx context.Context) ([]LibraryEntry, error) {
	libraries, err := c.source.ListLibraries(ctx)
	if err != nil {
		return nil, err
	}

	entries := []LibraryEntry{}
	for _, lib := range libraries {
		if lib.MediaType != "book" {
			continue
		}
		items, err := c.source.ListItems(ctx, lib.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			entries = append(entries, NewLibraryEntry(item.ID, item.Title, item.Author))
		}
	}
	return entries, nil
}

func (c *LibraryCache) snapshot() []LibraryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries
}

// FindMatch returns the first snapshot entry matching title and author, or
// nil. An empty snapshot triggers one refresh bounded by the lookup timeout.
// Errors are never surfaced: an unreachable catalog just means no match.
func (c *LibraryCache) FindMatch(ctx context.Context, title, author string) *LibraryEntry {
	if !c.IsConfigured() {
		return nil
	}

	entries := c.snapshot()
	if len(entries) == 0 {
		lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
		_, err := c.Refresh(lookupCtx)
		cancel()
		if err != nil {
			c.log.Debug("Lookup refresh failed", "error", err)
		}
		entries = c.snapshot()
	}

	return matchEntries(entries, Normalize(title), Normalize(author))
}

// matchEntries never matches an empty title: a query or entry that is all
// punctuation has nothing to compare.
func matchEntries(entries []LibraryEntry, normTitle, normAuthor string) *LibraryEntry {
	if normTitle == "" {
		return nil
	}
	for i := range entries {
		e := &entries[i]
		if e.NormTitle == "" {
			continue
		}
		if Similarity(normTitle, e.NormTitle) < TitleMatchThreshold {
			continue
		}
		if normAuthor == "" || e.NormAuthor == "" {
			match := *e
			return &match
		}
		if Similarity(normAuthor, e.NormAuthor) >= AuthorMatchThreshold {
			match := *e
			return &match
		}
	}
	return nil
}

func (c *LibraryCache) Stats() LibraryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := LibraryStats{
		Configured: c.IsConfigured(),
		Entries:    len(c.entries),
	}
	if !c.refreshedAt.IsZero() {
		at := c.refreshedAt
		stats.RefreshedAt = &at
	}
	if c.lastErr != nil {
		stats.LastError = c.lastErr.Error()
	}
	return stats
}

// Start launches the background refresh loop: one refresh now, then one per
// interval until ctx is cancelled or Stop is called.
func (c *LibraryCache) Start(ctx context.Context) {
	if !c.IsConfigured() {
		c.log.Info("Audiobookshelf not configured, library duplicate check disabled")
		return
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		c.log.Info("Starting library refresh loop", "interval", c.cfg.RefreshInterval)

		_, _ = c.Refresh(ctx)

		ticker := time.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = c.Refresh(ctx)
			}
		}
	}(c.done)
}

func (c *LibraryCache) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
