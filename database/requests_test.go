package database

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/justbri/shelfmark/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	requests, users := openTestDB(t)
	alice := createUser(t, users, "alice", false)

	pos := 2.5
	req, err := requests.Create(ctx, alice.ID, models.NewRequest{
		Title:          "The Hobbit",
		Author:         "J.R.R. Tolkien",
		ContentType:    models.ContentAudiobook,
		Provider:       "openlibrary",
		ProviderID:     "OL123",
		SeriesPosition: &pos,
	})
	require.NoError(t, err)
	assert.NotZero(t, req.ID)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, models.ContentAudiobook, req.ContentType)
	require.NotNil(t, req.SeriesPosition)
	assert.Equal(t, 2.5, *req.SeriesPosition)
	assert.Nil(t, req.ApprovedBy)
	assert.False(t, req.CreatedAt.IsZero())

	got, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.Title, got.Title)

	_, err = requests.Get(ctx, req.ID+100)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestRequestStore_UpdateStatusConditional(t *testing.T) {
	ctx := context.Background()
	requests, users := openTestDB(t)
	alice := createUser(t, users, "alice", false)
	admin := createUser(t, users, "root", true)

	req, err := requests.Create(ctx, alice.ID, models.NewRequest{Title: "Dune", ContentType: models.ContentEbook})
	require.NoError(t, err)

	updated, err := requests.UpdateStatus(ctx, req.ID, models.StatusPending, models.StatusUpdate{
		Status:     models.StatusApproved,
		ApprovedBy: &admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	require.NotNil(t, updated.ApprovedBy)
	assert.Equal(t, admin.ID, *updated.ApprovedBy)

	// A second writer still expecting pending loses.
	_, err = requests.UpdateStatus(ctx, req.ID, models.StatusPending, models.StatusUpdate{Status: models.StatusApproved})
	var mismatch *StatusMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, models.StatusApproved, mismatch.Current)

	_, err = requests.UpdateStatus(ctx, 9999, models.StatusPending, models.StatusUpdate{Status: models.StatusApproved})
	assert.ErrorIs(t, err, ErrRequestNotFound)

	note := "not in stock"
	denied, err := requests.UpdateStatus(ctx, req.ID, "", models.StatusUpdate{Status: models.StatusDenied, AdminNote: &note})
	require.NoError(t, err)
	assert.Equal(t, "not in stock", denied.AdminNote)
}

func TestRequestStore_ConcurrentConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	requests, users := openTestDB(t)
	alice := createUser(t, users, "alice", false)
	req, err := requests.Create(ctx, alice.ID, models.NewRequest{Title: "Emma", ContentType: models.ContentEbook})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := requests.UpdateStatus(ctx, req.ID, models.StatusPending, models.StatusUpdate{Status: models.StatusApproved})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRequestStore_ListingsAndCounts(t *testing.T) {
	ctx := context.Background()
	requests, users := openTestDB(t)
	alice := createUser(t, users, "alice", false)
	bob := createUser(t, users, "bob", false)

	var ids []int64
	for _, title := range []string{"A", "B", "C"} {
		r, err := requests.Create(ctx, alice.ID, models.NewRequest{Title: title, ContentType: models.ContentEbook})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	_, err := requests.Create(ctx, bob.ID, models.NewRequest{Title: "D", ContentType: models.ContentEbook})
	require.NoError(t, err)

	_, err = requests.UpdateStatus(ctx, ids[0], models.StatusPending, models.StatusUpdate{Status: models.StatusApproved})
	require.NoError(t, err)

	own, err := requests.ListByOwner(ctx, alice.ID, models.ListFilter{})
	require.NoError(t, err)
	require.Len(t, own, 3)
	// Newest first.
	assert.Equal(t, "C", own[0].Title)

	approved := models.StatusApproved
	own, err = requests.ListByOwner(ctx, alice.ID, models.ListFilter{Status: &approved})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, ids[0], own[0].ID)

	page, err := requests.ListByOwner(ctx, alice.ID, models.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].Title)

	hidden, err := requests.SetAdminHidden(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, hidden)

	all, err := requests.ListAll(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := requests.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = requests.Count(ctx, &alice.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counts, err := requests.CountsByStatus(ctx, &alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusApproved])
	assert.Equal(t, 0, counts[models.StatusFulfilled])
	assert.Equal(t, 3, counts.Total())

	adminCounts, err := requests.CountsByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, adminCounts.Total())

	active, err := requests.ListActiveByOwner(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	ok, err := requests.Delete(ctx, ids[2])
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = requests.Delete(ctx, ids[2])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestStore_CountUnviewed(t *testing.T) {
	ctx := context.Background()
	requests, users := openTestDB(t)
	alice := createUser(t, users, "alice", false)

	_, err := requests.Create(ctx, alice.ID, models.NewRequest{Title: "A", ContentType: models.ContentEbook})
	require.NoError(t, err)

	n, err := requests.CountUnviewed(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, users.MarkRequestsViewed(ctx, alice.ID))
	n, err = requests.CountUnviewed(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRequestStore_UpdateStatusMismatchPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3")).
		WithArgs("approved", int64(7), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM requests WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("denied"))
	mock.ExpectRollback()

	store := NewRequestStore(db)
	_, err = store.UpdateStatus(context.Background(), 7, models.StatusPending, models.StatusUpdate{Status: models.StatusApproved})

	var mismatch *StatusMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, models.StatusDenied, mismatch.Current)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestStore_UpdateStatusRejectsUnknownStatus(t *testing.T) {
	requests, _ := openTestDB(t)
	_, err := requests.UpdateStatus(context.Background(), 1, "", models.StatusUpdate{Status: "archived"})
	assert.Error(t, err)
}
