// Package reduction orchestrates the daily repricing pass: claim the run for
// today's UTC calendar date, process the eligible listings through the
// strategy calculator and the price-apply gateway, and complete the run only
// once the whole eligible set has been attempted.
package reduction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"listing-repricer/internal/gateway"
	"listing-repricer/internal/marketplace"
	"listing-repricer/internal/resolver"
	"listing-repricer/internal/storage"
	"listing-repricer/internal/strategy"
)

// Options tune one engine instance.
type Options struct {
	Workers      int
	CallTimeout  time.Duration
	StaleAfter   time.Duration
	AnalyzeFirst bool
	AnalyzeLimit int
}

// Summary reports the outcome of one invocation.
type Summary struct {
	RunDate   time.Time
	NoOp      bool
	Analyzed  int
	Eligible  int
	Succeeded int
	Skipped   int
	Failed    int
}

// Engine drives the daily reduction pass.
type Engine struct {
	runs     storage.RunStore
	listings storage.ListingStore
	attempts storage.AttemptStore
	applier  gateway.PriceApplier
	analyzer *resolver.Resolver
	opts     Options
	locks    *keyedLocks
	logger   zerolog.Logger
}

// New constructs an Engine. analyzer may be nil to skip the pre-reduction
// competitive analysis phase.
func New(runs storage.RunStore, listings storage.ListingStore, attempts storage.AttemptStore, applier gateway.PriceApplier, analyzer *resolver.Resolver, opts Options, logger zerolog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	return &Engine{
		runs:     runs,
		listings: listings,
		attempts: attempts,
		applier:  applier,
		analyzer: analyzer,
		opts:     opts,
		locks:    newKeyedLocks(),
		logger:   logger.With().Str("component", "reduction_engine").Logger(),
	}
}

// Run executes one daily pass. force bypasses the dedup guard for
// operator-initiated runs. A run already completed today is a NoOp success;
// claim or selection failures are fatal to the invocation.
func (e *Engine) Run(ctx context.Context, force bool) (Summary, error) {
	now := time.Now().UTC()
	summary := Summary{RunDate: now.Truncate(24 * time.Hour)}

	if force {
		if err := e.runs.ForceClaimRun(ctx, now); err != nil {
			return summary, fmt.Errorf("force claim run: %w", err)
		}
		e.logger.Warn().Msg("dedup guard bypassed by force flag")
	} else {
		outcome, err := e.runs.ClaimRun(ctx, now, e.opts.StaleAfter)
		if err != nil {
			return summary, fmt.Errorf("claim run: %w", err)
		}
		switch outcome {
		case storage.ClaimAlreadyCompleted:
			e.logger.Info().Time("run_date", summary.RunDate).Msg("run already completed today, nothing to do")
			summary.NoOp = true
			return summary, nil
		case storage.ClaimBusy:
			e.logger.Info().Time("run_date", summary.RunDate).Msg("another invocation holds today's run")
			summary.NoOp = true
			return summary, nil
		}
	}

	if e.opts.AnalyzeFirst && e.analyzer != nil {
		analyzed, failed, err := e.analyzer.AnalyzeBatch(ctx, e.opts.AnalyzeLimit)
		summary.Analyzed = analyzed
		if err != nil {
			// Cancellation mid-analysis leaves the run unfinished, same
			// recovery path as a crash.
			return summary, err
		}
		if failed > 0 {
			e.logger.Warn().Int("failed", failed).Msg("some listings failed competitive analysis")
		}
	}

	eligible, err := e.listings.ListEligibleListings(ctx, now)
	if err != nil {
		return summary, fmt.Errorf("select eligible listings: %w", err)
	}
	summary.Eligible = len(eligible)
	e.logger.Info().Int("eligible", len(eligible)).Int("workers", e.opts.Workers).Msg("processing eligible listings")

	e.process(ctx, eligible, &summary)

	if ctx.Err() != nil {
		// Recorded attempts stay valid; the run row stays running so a
		// same-day retry can pick up the remainder.
		return summary, ctx.Err()
	}

	if err := e.runs.CompleteRun(ctx, now); err != nil {
		return summary, fmt.Errorf("complete run: %w", err)
	}
	e.logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("run completed")
	return summary, nil
}

func (e *Engine) process(ctx context.Context, listings []storage.Listing, summary *Summary) {
	jobs := make(chan storage.Listing)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for listing := range jobs {
				outcome := e.processListing(ctx, listing)
				mu.Lock()
				switch outcome {
				case storage.OutcomeSuccess:
					summary.Succeeded++
				case storage.OutcomeSkip:
					summary.Skipped++
				default:
					summary.Failed++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, listing := range listings {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- listing:
		}
	}
	close(jobs)
	wg.Wait()
}

// processListing runs one independent reduction attempt. Every error path
// ends in an audit row, never in an aborted batch.
func (e *Engine) processListing(ctx context.Context, listing storage.Listing) string {
	unlock := e.locks.lock(listing.ID)
	defer unlock()

	attempt := storage.ReductionAttempt{
		ListingID: listing.ID,
		OldPrice:  listing.CurrentPrice,
		Strategy:  listing.Strategy,
	}

	strat, err := strategy.Parse(listing.Strategy, listing.ReductionPct, listing.CustomTarget)
	if err != nil {
		return e.record(ctx, attempt, storage.OutcomeFail, err.Error())
	}

	decision := strategy.Calculate(strategy.Input{
		CurrentPrice: listing.CurrentPrice,
		MinimumPrice: listing.MinimumPrice,
		ListingStart: listing.ListingStartTime,
		Now:          time.Now().UTC(),
	}, strat)

	if decision.Outcome == strategy.OutcomeSkip {
		return e.record(ctx, attempt, storage.OutcomeSkip, decision.Reason)
	}
	attempt.NewPrice = &decision.NewPrice

	applyCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	receipt, err := e.applier.Apply(applyCtx, listing.ExternalID, decision.NewPrice, listing.Currency)
	cancel()
	if err != nil {
		return e.record(ctx, attempt, storage.OutcomeFail, failReason(err))
	}

	now := time.Now().UTC()
	next := now.AddDate(0, 0, listing.IntervalDays)
	applied, err := e.listings.ApplyReduction(ctx, listing.ID, decision.NewPrice, now, next)
	if err != nil {
		return e.record(ctx, attempt, storage.OutcomeFail, fmt.Sprintf("persist reduced price: %v", err))
	}
	if !applied {
		// The guarded update found the row changed underneath us; the remote
		// apply is idempotent, so no compensation is needed.
		return e.record(ctx, attempt, storage.OutcomeFail, "store rejected price write: listing changed concurrently")
	}

	e.logger.Info().
		Int64("listing_id", listing.ID).
		Str("old_price", listing.CurrentPrice.StringFixed(2)).
		Str("new_price", decision.NewPrice.StringFixed(2)).
		Str("reference", receipt.RemoteReference).
		Msg("listing reduced")
	return e.record(ctx, attempt, storage.OutcomeSuccess, "")
}

func (e *Engine) record(ctx context.Context, attempt storage.ReductionAttempt, outcome, reason string) string {
	attempt.Outcome = outcome
	attempt.Reason = reason

	// Audit writes outlive run cancellation.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if err := e.attempts.InsertAttempt(ctx, attempt); err != nil {
		e.logger.Error().Err(err).Int64("listing_id", attempt.ListingID).Msg("failed to record attempt")
	}
	if outcome == storage.OutcomeFail {
		e.logger.Warn().Int64("listing_id", attempt.ListingID).Str("reason", reason).Msg("reduction attempt failed")
	}
	return outcome
}

func failReason(err error) string {
	switch {
	case errors.Is(err, marketplace.ErrAuth):
		return "marketplace authorization rejected; reconnect the seller account"
	case errors.Is(err, context.DeadlineExceeded):
		return "price apply timed out"
	default:
		return err.Error()
	}
}
