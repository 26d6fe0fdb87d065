// Package resolver discovers comparable marketplace listings for a listing
// under automated reduction. Matching runs as an ordered waterfall of tiers
// sharing one sufficiency predicate; the first tier with enough candidates
// after self-exclusion wins, otherwise the largest tier is used best-effort.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"listing-repricer/internal/config"
	"listing-repricer/internal/marketplace"
	"listing-repricer/internal/storage"
)

// Options tune the matching waterfall.
type Options struct {
	MinCandidates int
	OutlierUpper  decimal.Decimal
	OutlierLower  decimal.Decimal
	SellerID      string
	MaxResults    int
}

// OptionsFromConfig maps resolver configuration onto Options.
func OptionsFromConfig(rc config.ResolverConfig, mc config.MarketplaceConfig) Options {
	return Options{
		MinCandidates: rc.MinCandidates,
		OutlierUpper:  decimal.NewFromFloat(rc.OutlierUpper),
		OutlierLower:  decimal.NewFromFloat(rc.OutlierLower),
		SellerID:      mc.SellerID,
		MaxResults:    mc.MaxResults,
	}
}

// tier is one matcher in the waterfall. buildQuery reports false when the
// tier does not apply to the listing (e.g. no product identifier).
type tier struct {
	name       string
	buildQuery func(listing storage.Listing, limit int) (marketplace.Query, bool)
}

var tiers = []tier{
	{
		name: storage.TierIdentifier,
		buildQuery: func(l storage.Listing, limit int) (marketplace.Query, bool) {
			if l.ProductCode == nil || *l.ProductCode == "" {
				return marketplace.Query{}, false
			}
			return marketplace.Query{ProductCode: *l.ProductCode, Limit: limit}, true
		},
	},
	{
		name: storage.TierTitleCategory,
		buildQuery: func(l storage.Listing, limit int) (marketplace.Query, bool) {
			if l.Title == "" || l.CategoryID == "" {
				return marketplace.Query{}, false
			}
			return marketplace.Query{Title: l.Title, CategoryID: l.CategoryID, Limit: limit}, true
		},
	},
	{
		name: storage.TierTitleOnly,
		buildQuery: func(l storage.Listing, limit int) (marketplace.Query, bool) {
			if l.Title == "" {
				return marketplace.Query{}, false
			}
			return marketplace.Query{Title: l.Title, Limit: limit}, true
		},
	},
}

// Resolver runs competitive-match resolution and persists the outcome.
type Resolver struct {
	searcher  marketplace.SearchProvider
	listings  storage.ListingStore
	snapshots storage.SnapshotStore
	opts      Options
	logger    zerolog.Logger
}

// New constructs a Resolver.
func New(searcher marketplace.SearchProvider, listings storage.ListingStore, snapshots storage.SnapshotStore, opts Options, logger zerolog.Logger) *Resolver {
	if opts.MinCandidates <= 0 {
		opts.MinCandidates = 5
	}
	if opts.OutlierUpper.IsZero() {
		opts.OutlierUpper = decimal.NewFromInt(3)
	}
	if opts.OutlierLower.IsZero() {
		opts.OutlierLower = decimal.RequireFromString("0.3")
	}
	return &Resolver{
		searcher:  searcher,
		listings:  listings,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve runs the waterfall for one listing and returns a snapshot. "No data
// found" is a valid snapshot, never an error; only adapter failures produce a
// tier=error snapshot, and even those return a nil error so one listing's
// upstream trouble stays non-fatal to the caller's batch.
func (r *Resolver) Resolve(ctx context.Context, listing storage.Listing) storage.CompetitiveSnapshot {
	snap := storage.CompetitiveSnapshot{
		ListingID:  listing.ID,
		ComputedAt: time.Now().UTC(),
	}

	var (
		bestTier  string
		bestCands []marketplace.Candidate
	)

	for _, t := range tiers {
		query, ok := t.buildQuery(listing, r.opts.MaxResults)
		if !ok {
			continue
		}

		candidates, err := r.searcher.Search(ctx, query)
		if err != nil {
			r.logger.Warn().Err(err).Int64("listing_id", listing.ID).Str("tier", t.name).Msg("tier search failed")
			snap.Tier = storage.TierError
			return snap
		}

		candidates = r.excludeOwn(candidates)
		if len(candidates) >= r.opts.MinCandidates {
			return r.aggregate(snap, t.name, candidates)
		}
		if len(candidates) > len(bestCands) {
			bestTier = t.name
			bestCands = candidates
		}
	}

	if len(bestCands) == 0 {
		snap.Tier = storage.TierNoMatches
		return snap
	}
	return r.aggregate(snap, bestTier, bestCands)
}

func (r *Resolver) excludeOwn(candidates []marketplace.Candidate) []marketplace.Candidate {
	if r.opts.SellerID == "" {
		return candidates
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if c.SellerID == r.opts.SellerID {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// aggregate applies outlier rejection and computes the suggested prices. An
// all-outlier tier degrades to no_matches; the waterfall does not resume.
func (r *Resolver) aggregate(snap storage.CompetitiveSnapshot, tierName string, candidates []marketplace.Candidate) storage.CompetitiveSnapshot {
	prices := make([]decimal.Decimal, 0, len(candidates))
	for _, c := range candidates {
		prices = append(prices, c.Price)
	}

	kept := rejectOutliers(prices, r.opts.OutlierUpper, r.opts.OutlierLower)
	if len(kept) == 0 {
		snap.Tier = storage.TierNoMatches
		return snap
	}

	min := minOf(kept)
	avg := meanOf(kept).Round(2)
	snap.Tier = tierName
	snap.CompetitorCount = len(kept)
	snap.SuggestedMin = &min
	snap.SuggestedAvg = &avg
	return snap
}

// AnalyzeListing resolves one listing, persists the snapshot, and records the
// one-shot analysis state so later scheduler passes skip the listing.
func (r *Resolver) AnalyzeListing(ctx context.Context, listing storage.Listing) (storage.CompetitiveSnapshot, error) {
	snap := r.Resolve(ctx, listing)

	inserted, err := r.snapshots.InsertSnapshot(ctx, snap)
	if err != nil {
		return snap, fmt.Errorf("persist snapshot: %w", err)
	}
	if !inserted {
		r.logger.Debug().Int64("listing_id", listing.ID).Msg("snapshot already exists, keeping first result")
	}

	state := storage.AnalysisAnalyzed
	if snap.Tier == storage.TierError {
		state = storage.AnalysisError
	}
	if err := r.listings.SetAnalysisState(ctx, listing.ID, state); err != nil {
		return snap, fmt.Errorf("set analysis state: %w", err)
	}
	return snap, nil
}

// AnalyzeBatch resolves up to limit unanalyzed listings. Per-listing failures
// are logged and counted, never propagated; cancellation stops the batch
// between listings.
func (r *Resolver) AnalyzeBatch(ctx context.Context, limit int) (analyzed, failed int, err error) {
	listings, err := r.listings.ListUnanalyzedListings(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list unanalyzed listings: %w", err)
	}

	for _, listing := range listings {
		if ctx.Err() != nil {
			return analyzed, failed, ctx.Err()
		}

		snap, analyzeErr := r.AnalyzeListing(ctx, listing)
		if analyzeErr != nil {
			failed++
			r.logger.Error().Err(analyzeErr).Int64("listing_id", listing.ID).Msg("analysis failed")
			continue
		}
		analyzed++
		r.logger.Info().
			Int64("listing_id", listing.ID).
			Str("tier", snap.Tier).
			Int("competitors", snap.CompetitorCount).
			Msg("listing analyzed")
	}
	return analyzed, failed, nil
}
