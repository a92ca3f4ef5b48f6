package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/justbri/shelfmark/models"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// ErrRequestNotFound is returned when no row has the given id.
var ErrRequestNotFound = errors.New("request not found")

// StatusMismatchError reports that a conditional status update found the row
// in a different status than expected. Nothing was written.
type StatusMismatchError struct {
	ID      int64
	Current models.Status
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("request %d is %s", e.ID, e.Current)
}

const selectRequestSQL = `
	SELECT r.id, r.user_id, COALESCE(u.username, ''), r.status, r.content_type, r.title, r.author,
		r.year, r.description, r.cover_url, r.isbn_10, r.isbn_13, r.provider, r.provider_id,
		r.series_name, r.series_position, r.admin_note, r.failure_reason, r.approved_by,
		r.download_task_id, r.hidden_from_admin, r.created_at, r.updated_at
	FROM requests r
	LEFT JOIN users u ON u.id = r.user_id`

const insertRequestSQL = `
	INSERT INTO requests (user_id, status, content_type, title, author, year, description, cover_url,
		isbn_10, isbn_13, provider, provider_id, series_name, series_position)
	VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id`

// RequestStore persists requests in Postgres or SQLite. Both dialects accept
// the $n placeholders used here.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var req models.Request
	var seriesPosition sql.NullFloat64
	var approvedBy sql.NullInt64
	err := row.Scan(
		&req.ID, &req.UserID, &req.Username, &req.Status, &req.ContentType, &req.Title, &req.Author,
		&req.Year, &req.Description, &req.CoverURL, &req.ISBN10, &req.ISBN13, &req.Provider, &req.ProviderID,
		&req.SeriesName, &seriesPosition, &req.AdminNote, &req.FailureReason, &approvedBy,
		&req.DownloadTaskID, &req.HiddenFromAdmin, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if seriesPosition.Valid {
		req.SeriesPosition = &seriesPosition.Float64
	}
	if approvedBy.Valid {
		req.ApprovedBy = &approvedBy.Int64
	}
	return &req, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getRequest(ctx context.Context, q queryer, id int64) (*models.Request, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, selectRequestSQL+" WHERE r.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	return req, nil
}

// Create inserts a pending request and returns the stored row.
func (s *RequestStore) Create(ctx context.Context, userID int64, in models.NewRequest) (*models.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seriesPosition sql.NullFloat64
	if in.SeriesPosition != nil {
		seriesPosition = sql.NullFloat64{Float64: *in.SeriesPosition, Valid: true}
	}

	var id int64
	err = tx.QueryRowContext(ctx, insertRequestSQL,
		userID, string(in.ContentType), in.Title, in.Author, in.Year, in.Description, in.CoverURL,
		in.ISBN10, in.ISBN13, in.Provider, in.ProviderID, in.SeriesName, seriesPosition,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}

	req, err := getRequest(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request: %w", err)
	}
	return req, nil
}

func (s *RequestStore) Get(ctx context.Context, id int64) (*models.Request, error) {
	return getRequest(ctx, s.db, id)
}

func pageArgs(f models.ListFilter) (int, int) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *RequestStore) list(ctx context.Context, conds []string, args []any, f models.ListFilter) ([]models.Request, error) {
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("r.status = $%d", len(args)))
	}
	query := selectRequestSQL
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit, offset := pageArgs(f)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY r.created_at DESC, r.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := []models.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListByOwner returns one user's requests, hidden ones included.
func (s *RequestStore) ListByOwner(ctx context.Context, ownerID int64, f models.ListFilter) ([]models.Request, error) {
	return s.list(ctx, []string{"r.user_id = $1"}, []any{ownerID}, f)
}

// ListAll is the admin view: every request not hidden from admins.
func (s *RequestStore) ListAll(ctx context.Context, f models.ListFilter) ([]models.Request, error) {
	return s.list(ctx, []string{"r.hidden_from_admin = FALSE"}, nil, f)
}

// ListActiveByOwner returns the owner's pending, approved and downloading requests.
func (s *RequestStore) ListActiveByOwner(ctx context.Context, ownerID int64) ([]models.Request, error) {
	return s.list(ctx,
		[]string{"r.user_id = $1", "r.status IN ('pending', 'approved', 'downloading')"},
		[]any{ownerID},
		models.ListFilter{Limit: MaxPageSize})
}

// Count counts requests for one owner (ownerID != nil) or for the admin view.
func (s *RequestStore) Count(ctx context.Context, ownerID *int64, status *models.Status) (int, error) {
	var conds []string
	var args []any
	if ownerID != nil {
		args = append(args, *ownerID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	} else {
		conds = append(conds, "hidden_from_admin = FALSE")
	}
	if status != nil {
		args = append(args, string(*status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests WHERE "+strings.Join(conds, " AND "), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}

// CountsByStatus returns a count for every status, zero-filled.
func (s *RequestStore) CountsByStatus(ctx context.Context, ownerID *int64) (models.Counts, error) {
	query := "SELECT status, COUNT(*) FROM requests WHERE hidden_from_admin = FALSE GROUP BY status"
	var args []any
	if ownerID != nil {
		query = "SELECT status, COUNT(*) FROM requests WHERE user_id = $1 GROUP BY status"
		args = append(args, *ownerID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	defer rows.Close()

	counts := models.Counts{}
	for _, st := range models.Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var st models.Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// CountUnviewed counts the owner's requests modified since they last opened
// their request list. A user who never opened it sees all of them.
func (s *RequestStore) CountUnviewed(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requests r
		JOIN users u ON u.id = r.user_id
		WHERE r.user_id = $1
			AND (u.requests_last_viewed_at IS NULL OR r.updated_at > u.requests_last_viewed_at)`,
		ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unviewed requests: %w", err)
	}
	return n, nil
}

// UpdateStatus writes a status change. When expected is non-empty the write is
// conditional on the row still being in that status, checked by the same
// UPDATE statement, so concurrent callers racing from one prior status cannot
// both succeed.
func (s *RequestStore) UpdateStatus(ctx context.Context, id int64, expected models.Status, upd models.StatusUpdate) (*models.Request, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", upd.Status)
	}

	sets := []string{"status = $1", "updated_at = CURRENT_TIMESTAMP"}
	args := []any{string(upd.Status)}
	if upd.AdminNote != nil {
		args = append(args, *upd.AdminNote)
		sets = append(sets, fmt.Sprintf("admin_note = $%d", len(args)))
	}
	if upd.FailureReason != nil {
		args = append(args, *upd.FailureReason)
		sets = append(sets, fmt.Sprintf("failure_reason = $%d", len(args)))
	}
	if upd.ApprovedBy != nil {
		args = append(args, *upd.ApprovedBy)
		sets = append(sets, fmt.Sprintf("approved_by = $%d", len(args)))
	}
	if upd.DownloadTaskID != nil {
		args = append(args, *upd.DownloadTaskID)
		sets = append(sets, fmt.Sprintf("download_task_id = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE requests SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if expected != "" {
		args = append(args, string(expected))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update request %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update request %d: %w", id, err)
	}

	if affected == 0 {
		var current models.Status
		err := tx.QueryRowContext(ctx, "SELECT status FROM requests WHERE id = $1", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read status of request %d: %w", id, err)
		}
		return nil, &StatusMismatchError{ID: id, Current: current}
	}

	req, err := getRequest(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}
	return req, nil
}

// Delete removes the row. It reports whether a row existed.
func (s *RequestStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetAdminHidden hides the request from admin listings without touching the owner's view.
func (s *RequestStore) SetAdminHidden(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE requests SET hidden_from_admin = TRUE WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to hide request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
