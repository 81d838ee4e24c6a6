package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/pkg/errors"

	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
)

//go:embed migration/schema.sql
var latestSchema string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite database at the DSN path. A single connection is
// used so that transactions serialize naturally.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	sqliteDB.SetMaxOpenConns(1)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the latest schema. All statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	return nil
}

// placeholder returns the parameter placeholder. SQLite placeholders are
// positional, so the index is ignored; the signature matches the postgres
// driver to keep the query-building code symmetric.
func placeholder(int) string {
	return "?"
}

// placeholders returns n comma-joined placeholders.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, "?")
	}
	return strings.Join(list, ", ")
}
