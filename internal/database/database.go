// Package database selects and opens the storage backend holding attendance
// records and identity profiles.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/database/mongo"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

// Backend is an opened storage driver.
type Backend struct {
	Driver   string
	Records  attendance.Store
	Profiles identity.Store

	ping  func(context.Context) error
	close func() error
}

// Ping checks that the backend is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// NewMemory returns a backend that keeps everything in process memory.
func NewMemory() *Backend {
	records := memory.NewRecordStore()
	return &Backend{
		Driver:   config.DriverMemory,
		Records:  records,
		Profiles: memory.NewProfileStore(),
		ping:     records.Ping,
	}
}

// Open connects to the backend named by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Backend, error) {
	logger = logger.With("driver", cfg.Driver)

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, attendance is lost on restart")
		return NewMemory(), nil

	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:   cfg.Driver,
			Records:  postgres.NewRecordRepository(pool),
			Profiles: postgres.NewProfileRepository(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil

	case config.DriverMariaDB:
		pool, err := mariadb.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:   cfg.Driver,
			Records:  mariadb.NewRecordRepository(pool),
			Profiles: mariadb.NewProfileRepository(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil

	case config.DriverMongo:
		client, err := mongo.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:   cfg.Driver,
			Records:  mongo.NewRecordRepository(client),
			Profiles: mongo.NewProfileRepository(client),
			ping:     client.Ping,
			close:    client.Close,
		}, nil
	}

	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
