package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/justbri/shelfmark/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already taken")
)

const selectUserSQL = `
	SELECT id, username, email, password_hash, is_admin, requests_last_viewed_at, created_at, updated_at
	FROM users`

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var viewed sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsAdmin,
		&viewed,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if viewed.Valid {
		user.RequestsLastViewedAt = &viewed.Time
	}
	return &user, nil
}

func (s *UserStore) getBy(ctx context.Context, where string, arg any) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, selectUserSQL+" WHERE "+where+" = $1", arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return user, nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getBy(ctx, "id", id)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getBy(ctx, "username", username)
}

// Create stores a user whose password is already hashed.
func (s *UserStore) Create(ctx context.Context, username, email, passwordHash string, isAdmin bool) (*models.User, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = $1", username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}
	if exists > 0 {
		return nil, ErrUserExists
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO users (username, email, password_hash, is_admin) VALUES ($1, $2, $3, $4) RETURNING id",
		username, email, passwordHash, isAdmin,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return s.GetByID(ctx, id)
}

// MarkRequestsViewed stamps the time the user last opened their request list.
func (s *UserStore) MarkRequestsViewed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET requests_last_viewed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark requests viewed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
