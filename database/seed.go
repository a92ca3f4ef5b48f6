package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/justbri/shelfmark/config"
	"golang.org/x/crypto/bcrypt"
)

// SeedAdminUser creates the configured admin account if a password is set
// and no user with that name exists yet. It reports whether a user was created.
func SeedAdminUser(ctx context.Context, db *sql.DB, admin config.AdminConfig) (bool, error) {
	// Without a password there is nothing to seed
	if admin.Password == "" {
		return false, nil
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = $1", admin.Username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing admin user: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, is_admin) VALUES ($1, $2, $3, $4)",
		admin.Username,
		admin.Email,
		string(hashedPassword),
		true,
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed admin user: %w", err)
	}

	return true, nil
}
