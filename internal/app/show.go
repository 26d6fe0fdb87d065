package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"listing-repricer/internal/storage"
)

// Show prints recent attempts, runs, or listings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show")
	}
	defer closeStore()

	switch opts.Kind {
	case "attempts":
		return showAttempts(ctx, store, opts.Limit)
	case "runs":
		return showRuns(ctx, store, opts.Limit)
	case "listings":
		return showListings(ctx, store, opts.Limit)
	default:
		return fmt.Errorf("unknown kind %q (want attempts, runs, or listings)", opts.Kind)
	}
}

func showAttempts(ctx context.Context, store *storage.Store, limit int) error {
	attempts, err := store.ListRecentAttempts(ctx, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(os.Stdout, "no attempts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tListing\tOld\tNew\tStrategy\tOutcome\tReason")
	for _, attempt := range attempts {
		newPrice := "-"
		if attempt.NewPrice != nil {
			newPrice = attempt.NewPrice.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			attempt.CreatedAt.UTC().Format(time.RFC3339),
			attempt.ListingID,
			attempt.OldPrice.StringFixed(2),
			newPrice,
			attempt.Strategy,
			attempt.Outcome,
			sanitizeInline(attempt.Reason),
		)
	}
	return writer.Flush()
}

func showRuns(ctx context.Context, store *storage.Store, limit int) error {
	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run date\tStatus\tStarted (UTC)\tCompleted (UTC)")
	for _, run := range runs {
		completed := "-"
		if run.CompletedAt != nil {
			completed = run.CompletedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			run.RunDate.Format("2006-01-02"),
			run.Status,
			run.StartedAt.UTC().Format(time.RFC3339),
			completed,
		)
	}
	return writer.Flush()
}

func showListings(ctx context.Context, store *storage.Store, limit int) error {
	listings, err := store.ListRecentListings(ctx, limit)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(os.Stdout, "no listings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTitle\tCurrent\tFloor\tStrategy\tEnabled\tAnalyzed\tNext reduction (UTC)")
	for _, listing := range listings {
		next := "-"
		if listing.NextReductionAt != nil {
			next = listing.NextReductionAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
			listing.ID,
			truncate(listing.Title, 40),
			formatDecimal(listing.CurrentPrice, 2),
			formatDecimal(listing.MinimumPrice, 2),
			listing.Strategy,
			listing.ReductionEnabled,
			listing.AnalysisState,
			next,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncate(v string, max int) string {
	runes := []rune(v)
	if len(runes) <= max {
		return v
	}
	return string(runes[:max-1]) + "…"
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
