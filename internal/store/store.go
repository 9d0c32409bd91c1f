// Package store persists one encoded game snapshot per room.
//
// Every backend overwrites the record for a room in place. Only the room's
// coordinator writes to it.
package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("snapshot not found")

type Store interface {
	Save(ctx context.Context, roomID string, data []byte) error
	// Load returns ErrNotFound when the room has no record.
	Load(ctx context.Context, roomID string) ([]byte, error)
	Delete(ctx context.Context, roomID string) error
	Close() error
}

type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
)

type Options struct {
	Driver      Driver
	SQLitePath  string
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
}

// Open connects the backend selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, opts.SQLitePath)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DatabaseURL)
	case DriverRedis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
