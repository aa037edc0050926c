// Package store selects the persistence backend named in configuration.
package store

import (
	"context"
	"fmt"

	"asset-tracker-api/internal/store/memory"
	"asset-tracker-api/internal/store/sqlstore"
	"asset-tracker-api/internal/tracking"
)

// Memory is the driver name of the in-process backend
const Memory = "memory"

// Config names a backend and how to reach it
type Config struct {
	Driver   string
	DSN      string
	Path     string
	MaxConns int32
	// Migrate applies pending schema files after connecting.
	Migrate bool
}

// Open returns a ready tracking.Store for cfg.Driver
func Open(ctx context.Context, cfg Config) (tracking.Store, error) {
	switch cfg.Driver {
	case Memory:
		return memory.New(), nil
	case sqlstore.Postgres, sqlstore.SQLite:
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:   cfg.Driver,
			DSN:      cfg.DSN,
			Path:     cfg.Path,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
