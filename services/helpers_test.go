package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justbri/shelfmark/database"
	"github.com/justbri/shelfmark/models"
)

type testEnv struct {
	requests *database.RequestStore
	users    *database.UserStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db, database.DialectSQLite))
	return &testEnv{
		requests: database.NewRequestStore(db),
		users:    database.NewUserStore(db),
	}
}

func (e *testEnv) user(t *testing.T, name string, admin bool) models.Identity {
	t.Helper()
	u, err := e.users.Create(context.Background(), name, name+"@example.com", "x", admin)
	require.NoError(t, err)
	return u.Identity()
}

// seed stores a request directly and forces it into status.
func (e *testEnv) seed(t *testing.T, owner models.Identity, title string, ct models.ContentType, status models.Status) *models.Request {
	t.Helper()
	ctx := context.Background()
	req, err := e.requests.Create(ctx, owner.UserID, models.NewRequest{Title: title, ContentType: ct})
	require.NoError(t, err)
	if status != models.StatusPending {
		req, err = e.requests.UpdateStatus(ctx, req.ID, "", models.StatusUpdate{Status: status})
		require.NoError(t, err)
	}
	return req
}

type fakeSource struct {
	mu        sync.Mutex
	libraries []CatalogLibrary
	items     map[string][]CatalogItem
	err       error
	calls     int
	gate      chan struct{}
}

func newFakeSource(items ...CatalogItem) *fakeSource {
	return &fakeSource{
		libraries: []CatalogLibrary{
			{ID: "lib-books", Name: "Audiobooks", MediaType: "book"},
			{ID: "lib-pods", Name: "Podcasts", MediaType: "podcast"},
		},
		items: map[string][]CatalogItem{
			"lib-books": items,
			"lib-pods":  {{ID: "p1", Title: "Some Podcast"}},
		},
	}
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) setItems(items ...CatalogItem) {
	f.mu.Lock()
	f.items["lib-books"] = items
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) ListLibraries(ctx context.Context) ([]CatalogLibrary, error) {
	f.mu.Lock()
	f.calls++
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.libraries, nil
}

func (f *fakeSource) ListItems(_ context.Context, libraryID string) ([]CatalogItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[libraryID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	taskID string
	err    error
	calls  []int64
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *models.Request) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req.ID)
	return d.taskID, d.err
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}
