package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"listing-repricer/internal/storage"
)

// Purge deletes reduction attempts older than the retention window. Runs as
// its own invocation so reporting reads are never raced by housekeeping.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = a.Config.Retention.AttemptMaxAge
	}
	if maxAge <= 0 {
		return errors.New("retention.attempt_max_age must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-maxAge)
	deleted, err := store.DeleteAttemptsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "deleted %d attempts older than %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate() error {
	version, dirty, err := storage.Migrate(a.Config.Database.DSN)
	if err != nil {
		return err
	}
	a.Logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema migrated")
	return nil
}
