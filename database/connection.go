package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/justbri/shelfmark/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseURL picks a driver for a DATABASE_URL. "sqlite://path", "file:path"
// and bare paths ending in .db use SQLite; everything else goes to pgx.
func ParseURL(url string) (Dialect, string) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), url == ":memory:":
		return DialectSQLite, url
	default:
		return DialectPostgres, url
	}
}

// Connect opens and pings the configured database.
func Connect(cfg *config.Config) (*sql.DB, Dialect, error) {
	dialect, dsn := ParseURL(cfg.DatabaseURL)
	db, err := Open(dialect, dsn)
	if err != nil {
		return nil, "", err
	}
	return db, dialect, nil
}

func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	driver := "pgx"
	if dialect == DialectSQLite {
		driver = "sqlite3"
		if !strings.Contains(dsn, "_busy_timeout") && dsn != ":memory:" {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_busy_timeout=5000&_foreign_keys=on"
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite has a single writer; one connection also keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		return db, nil
	}

	// Configure connection pool limits to prevent "too many clients" errors from PostgreSQL
	db.SetMaxOpenConns(25) // 25 max open connections
	db.SetMaxIdleConns(5)  // Keep 5 idle connections
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
