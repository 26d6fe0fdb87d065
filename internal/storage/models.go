package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Analysis states a listing moves through exactly once per competitive resolve.
const (
	AnalysisUnanalyzed = "unanalyzed"
	AnalysisAnalyzed   = "analyzed"
	AnalysisError      = "error"
)

// Matching tiers recorded on a competitive snapshot.
const (
	TierIdentifier    = "identifier"
	TierTitleCategory = "title_category"
	TierTitleOnly     = "title_only"
	TierNoMatches     = "no_matches"
	TierError         = "error"
)

// Reduction attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeSkip    = "skip"
	OutcomeFail    = "fail"
)

// Scheduler run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
)

// Listing is a marketplace listing under automated reduction.
type Listing struct {
	ID               int64
	ExternalID       string
	Title            string
	CategoryID       string
	ProductCode      *string
	Currency         string
	CurrentPrice     decimal.Decimal
	MinimumPrice     decimal.Decimal
	ReductionEnabled bool
	Strategy         string
	ReductionPct     decimal.Decimal
	CustomTarget     *decimal.Decimal
	IntervalDays     int
	LastReductionAt  *time.Time
	NextReductionAt  *time.Time
	ListingStartTime time.Time
	AnalysisState    string
	Archived         bool
	CreatedAt        time.Time
}

// CompetitiveSnapshot is the persisted result of one competitive-match
// resolution. At most one row exists per listing.
type CompetitiveSnapshot struct {
	ListingID       int64
	Tier            string
	CompetitorCount int
	SuggestedMin    *decimal.Decimal
	SuggestedAvg    *decimal.Decimal
	ComputedAt      time.Time
}

// ReductionAttempt is one append-only audit row per scheduler pass per listing.
type ReductionAttempt struct {
	ID        int64
	ListingID int64
	OldPrice  decimal.Decimal
	NewPrice  *decimal.Decimal
	Strategy  string
	Outcome   string
	Reason    string
	CreatedAt time.Time
}

// SchedulerRun is the per-calendar-date dedup guard row.
type SchedulerRun struct {
	RunDate     time.Time
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// DailyOutcomes aggregates attempt outcomes for one calendar day.
type DailyOutcomes struct {
	Day       time.Time
	Succeeded int
	Skipped   int
	Failed    int
}
