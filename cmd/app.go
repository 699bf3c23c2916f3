package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// app is the wired core shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   clock.Clock
	backend *database.Backend
	ledger  *attendance.Ledger
	gallery *identity.Gallery

	// storageErr is set when serve fell back to memory because the
	// configured backend could not be opened.
	storageErr error
}

// loadConfig reads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.New(cfg.Logging), nil
}

// openApp connects storage and loads the ledger and gallery. With tolerant
// set, storage failures are logged and the app runs on memory storage so
// the kiosk stays usable; otherwise they are returned.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, tolerant bool) (*app, error) {
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, clock: clock.System{Location: loc}}

	a.backend, err = database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		if !tolerant {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		logger.Error("storage unavailable, running on memory storage until restart", "driver", cfg.Database.Driver, "error", err)
		a.storageErr = err
		a.backend = database.NewMemory()
	}

	a.ledger = attendance.NewLedger(a.backend.Records, a.clock, logger)
	a.gallery = identity.NewGallery(a.backend.Profiles, a.clock, logger, identity.Options{
		Threshold:     cfg.Matcher.Threshold,
		DescriptorDim: cfg.Matcher.DescriptorDim,
		UseIndex:      cfg.Matcher.Strategy == config.StrategyHNSW,
	})

	loads := []struct {
		name string
		load func(context.Context) error
	}{
		{"attendance records", a.ledger.Load},
		{"face profiles", a.gallery.Load},
	}
	for _, l := range loads {
		if err := l.load(ctx); err != nil {
			if !tolerant {
				a.Close()
				return nil, fmt.Errorf("failed to load %s: %w", l.name, err)
			}
			logger.Warn("could not load stored data, writes are refused until a reload succeeds",
				"data", l.name, "error", err)
		}
	}
	return a, nil
}

// storagePing reports the health of the configured storage.
func (a *app) storagePing(ctx context.Context) error {
	if a.storageErr != nil {
		return fmt.Errorf("storage unavailable: %w", a.storageErr)
	}
	if err := a.backend.Ping(ctx); err != nil {
		return err
	}
	if !a.ledger.Loaded() || !a.gallery.Loaded() {
		return errors.New("stored data not loaded yet")
	}
	return nil
}

// pending reports whether a resync has work to do: unsaved writes or a
// ledger or gallery still waiting for its first successful load.
func (a *app) pending() bool {
	return !a.ledger.Loaded() || !a.gallery.Loaded() ||
		len(a.ledger.Dirty()) > 0 || len(a.gallery.Dirty()) > 0
}

// resync reloads what failed to load and pushes pending writes to storage.
func (a *app) resync(ctx context.Context) {
	if n, err := a.ledger.Resync(ctx); err != nil {
		a.logger.Warn("attendance resync incomplete", "synced", n, "error", err)
	}
	if n, err := a.gallery.Resync(ctx); err != nil {
		a.logger.Warn("profile resync incomplete", "synced", n, "error", err)
	}
}

// Close releases the storage connection.
func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("failed to close storage", "error", err)
	}
}
