package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
)

//go:embed migration/schema.sql
var latestSchema string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database using the DSN from the profile.
// The target database must have the pgvector extension available.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: postgresDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the latest schema. Statements are idempotent
// (CREATE ... IF NOT EXISTS), so this is safe to run at every startup.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	return nil
}

// placeholder returns the $n parameter placeholder.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns $1..$n joined by commas.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}
