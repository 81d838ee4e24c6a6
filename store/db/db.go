// Package db provides the database driver dispatch.
package db

import (
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
	"github.com/KDmytro/k-base/store/db/postgres"
	"github.com/KDmytro/k-base/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
