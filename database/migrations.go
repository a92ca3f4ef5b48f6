package database

import (
	"database/sql"
	"fmt"
)

func primaryKey(dialect Dialect) string {
	if dialect == DialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// RunMigrations creates the users and requests tables and their indexes.
func RunMigrations(db *sql.DB, dialect Dialect) error {
	usersSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS users (
		id %s,
		username VARCHAR(255) UNIQUE NOT NULL,
		email VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		requests_last_viewed_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`, primaryKey(dialect))

	if _, err := db.Exec(usersSQL); err != nil {
		return fmt.Errorf("failed to run users migration: %w", err)
	}

	requestsSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS requests (
		id %s,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','approved','downloading','fulfilled','denied','failed','cancelled')),
		content_type VARCHAR(20) NOT NULL DEFAULT 'ebook'
			CHECK (content_type IN ('ebook','audiobook')),
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		year VARCHAR(16) NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		cover_url TEXT NOT NULL DEFAULT '',
		isbn_10 VARCHAR(16) NOT NULL DEFAULT '',
		isbn_13 VARCHAR(20) NOT NULL DEFAULT '',
		provider VARCHAR(64) NOT NULL DEFAULT '',
		provider_id VARCHAR(255) NOT NULL DEFAULT '',
		series_name TEXT NOT NULL DEFAULT '',
		series_position DOUBLE PRECISION,
		admin_note TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		approved_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
		download_task_id VARCHAR(255) NOT NULL DEFAULT '',
		hidden_from_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS requests_user_id_idx ON requests(user_id);
	CREATE INDEX IF NOT EXISTS requests_status_idx ON requests(status);
	`, primaryKey(dialect))

	if _, err := db.Exec(requestsSQL); err != nil {
		return fmt.Errorf("failed to run requests migration: %w", err)
	}

	return nil
}
