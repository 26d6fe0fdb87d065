package app

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Reduce executes one reduction pass immediately and prints the summary.
func (a *App) Reduce(ctx context.Context, opts ReduceOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot reduce")
	}
	defer closeStore()

	engine := a.newEngine(store)
	summary, err := engine.Run(ctx, opts.Force)
	if err != nil {
		return err
	}

	if summary.NoOp {
		fmt.Fprintf(os.Stdout, "run for %s already handled; nothing to do\n", summary.RunDate.Format("2006-01-02"))
		return nil
	}
	fmt.Fprintf(os.Stdout, "run %s: eligible=%d success=%d skip=%d fail=%d analyzed=%d\n",
		summary.RunDate.Format("2006-01-02"),
		summary.Eligible, summary.Succeeded, summary.Skipped, summary.Failed, summary.Analyzed)
	return nil
}

// Analyze runs a competitive analysis pass over unanalyzed listings.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot analyze")
	}
	defer closeStore()

	res := a.newResolver(store)
	if res == nil {
		return errors.New("marketplace.base_url not configured; cannot analyze")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.Resolver.BatchLimit
	}

	analyzed, failed, err := res.AnalyzeBatch(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "analyzed=%d failed=%d\n", analyzed, failed)
	return nil
}
