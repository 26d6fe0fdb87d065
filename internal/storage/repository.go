package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	claimRunSQL = `INSERT INTO scheduler_runs (run_date, status, started_at)
    VALUES ($1, 'running', now())
    ON CONFLICT (run_date) DO NOTHING;`

	getRunSQL = `SELECT run_date, status, started_at, completed_at
    FROM scheduler_runs
    WHERE run_date = $1;`

	takeOverStaleRunSQL = `UPDATE scheduler_runs
    SET started_at = now()
    WHERE run_date = $1
      AND status = 'running'
      AND started_at < $2;`

	forceClaimRunSQL = `INSERT INTO scheduler_runs (run_date, status, started_at)
    VALUES ($1, 'running', now())
    ON CONFLICT (run_date) DO UPDATE
    SET status = 'running', started_at = now(), completed_at = NULL;`

	completeRunSQL = `UPDATE scheduler_runs
    SET status = 'completed', completed_at = now()
    WHERE run_date = $1;`

	listRecentRunsSQL = `SELECT run_date, status, started_at, completed_at
    FROM scheduler_runs
    ORDER BY run_date DESC
    LIMIT $1;`

	listingColumns = `id, external_id, title, category_id, product_code, currency,
        current_price, minimum_price, reduction_enabled, strategy, reduction_pct,
        custom_target, interval_days, last_reduction_at, next_reduction_at,
        listing_start_time, analysis_state, archived, created_at`

	listEligibleListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    WHERE reduction_enabled
      AND NOT archived
      AND current_price > minimum_price
      AND (next_reduction_at IS NULL OR next_reduction_at <= $1)
    ORDER BY id;`

	listUnanalyzedListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    WHERE analysis_state = 'unanalyzed'
      AND NOT archived
    ORDER BY id
    LIMIT $1;`

	listRecentListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    ORDER BY id DESC
    LIMIT $1;`

	applyReductionSQL = `UPDATE listings
    SET current_price = $2, last_reduction_at = $3, next_reduction_at = $4
    WHERE id = $1
      AND $2 >= minimum_price
      AND $2 < current_price;`

	setAnalysisStateSQL = `UPDATE listings
    SET analysis_state = $2
    WHERE id = $1;`

	insertSnapshotSQL = `INSERT INTO competitive_snapshots (
        listing_id, tier, competitor_count, suggested_min, suggested_avg, computed_at
    ) VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (listing_id) DO NOTHING;`

	getSnapshotSQL = `SELECT listing_id, tier, competitor_count, suggested_min, suggested_avg, computed_at
    FROM competitive_snapshots
    WHERE listing_id = $1;`

	insertAttemptSQL = `INSERT INTO reduction_attempts (
        listing_id, old_price, new_price, strategy, outcome, reason
    ) VALUES ($1, $2, $3, $4, $5, $6);`

	listRecentAttemptsSQL = `SELECT id, listing_id, old_price, new_price, strategy, outcome, reason, created_at
    FROM reduction_attempts
    ORDER BY created_at DESC
    LIMIT $1;`

	countOutcomesByDaySQL = `SELECT
        date_trunc('day', created_at) AS day,
        COUNT(*) FILTER (WHERE outcome = 'success'),
        COUNT(*) FILTER (WHERE outcome = 'skip'),
        COUNT(*) FILTER (WHERE outcome = 'fail')
    FROM reduction_attempts
    WHERE created_at >= $1
      AND created_at < $2
    GROUP BY day
    ORDER BY day;`

	deleteAttemptsBeforeSQL = `DELETE FROM reduction_attempts WHERE created_at < $1;`
)

// ClaimOutcome reports the result of a dedup-guard claim attempt.
type ClaimOutcome int

const (
	// ClaimAcquired means this invocation owns today's run.
	ClaimAcquired ClaimOutcome = iota
	// ClaimAlreadyCompleted means today's run already finished; the caller
	// should treat the invocation as a no-op success.
	ClaimAlreadyCompleted
	// ClaimBusy means another invocation holds today's run and it is not stale.
	ClaimBusy
)

// RunStore defines dedup-guard operations for scheduler runs.
type RunStore interface {
	ClaimRun(ctx context.Context, runDate time.Time, staleAfter time.Duration) (ClaimOutcome, error)
	ForceClaimRun(ctx context.Context, runDate time.Time) error
	CompleteRun(ctx context.Context, runDate time.Time) error
	ListRecentRuns(ctx context.Context, limit int) ([]SchedulerRun, error)
}

// ListingStore defines listing selection and guarded mutation.
type ListingStore interface {
	ListEligibleListings(ctx context.Context, now time.Time) ([]Listing, error)
	ListUnanalyzedListings(ctx context.Context, limit int) ([]Listing, error)
	ListRecentListings(ctx context.Context, limit int) ([]Listing, error)
	ApplyReduction(ctx context.Context, listingID int64, newPrice decimal.Decimal, reducedAt, nextAt time.Time) (bool, error)
	SetAnalysisState(ctx context.Context, listingID int64, state string) error
}

// SnapshotStore defines competitive snapshot persistence.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap CompetitiveSnapshot) (bool, error)
	GetSnapshot(ctx context.Context, listingID int64) (*CompetitiveSnapshot, error)
}

// AttemptStore defines the append-only audit log.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt ReductionAttempt) error
	ListRecentAttempts(ctx context.Context, limit int) ([]ReductionAttempt, error)
	CountOutcomesByDay(ctx context.Context, from, to time.Time) ([]DailyOutcomes, error)
	DeleteAttemptsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store aggregates access to all repricer entities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ClaimRun atomically claims the run row for the given UTC calendar date. The
// insert relies on the run_date primary key, never read-then-write, so two
// concurrent triggers cannot both acquire the claim. A pre-existing running
// row older than staleAfter is taken over via a guarded update.
func (s *Store) ClaimRun(ctx context.Context, runDate time.Time, staleAfter time.Duration) (ClaimOutcome, error) {
	pool, err := s.getPool()
	if err != nil {
		return ClaimBusy, err
	}

	day := runDate.UTC().Truncate(24 * time.Hour)

	tag, execErr := pool.Exec(ctx, claimRunSQL, day)
	if execErr != nil {
		return ClaimBusy, fmt.Errorf("claim run: %w", execErr)
	}
	if tag.RowsAffected() == 1 {
		return ClaimAcquired, nil
	}

	var run SchedulerRun
	if scanErr := pool.QueryRow(ctx, getRunSQL, day).Scan(&run.RunDate, &run.Status, &run.StartedAt, &run.CompletedAt); scanErr != nil {
		return ClaimBusy, fmt.Errorf("inspect run: %w", scanErr)
	}
	if run.Status == RunStatusCompleted {
		return ClaimAlreadyCompleted, nil
	}

	if staleAfter <= 0 {
		return ClaimBusy, nil
	}
	cutoff := time.Now().UTC().Add(-staleAfter)
	tag, execErr = pool.Exec(ctx, takeOverStaleRunSQL, day, cutoff)
	if execErr != nil {
		return ClaimBusy, fmt.Errorf("take over stale run: %w", execErr)
	}
	if tag.RowsAffected() == 1 {
		return ClaimAcquired, nil
	}
	return ClaimBusy, nil
}

// ForceClaimRun claims today's run unconditionally, resetting a completed row.
// Reserved for operator-initiated runs.
func (s *Store) ForceClaimRun(ctx context.Context, runDate time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	day := runDate.UTC().Truncate(24 * time.Hour)
	if _, execErr := pool.Exec(ctx, forceClaimRunSQL, day); execErr != nil {
		return fmt.Errorf("force claim run: %w", execErr)
	}
	return nil
}

// CompleteRun marks the run row for the given date completed.
func (s *Store) CompleteRun(ctx context.Context, runDate time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	day := runDate.UTC().Truncate(24 * time.Hour)
	tag, execErr := pool.Exec(ctx, completeRunSQL, day)
	if execErr != nil {
		return fmt.Errorf("complete run: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentRuns lists the most recent scheduler runs.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]SchedulerRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]SchedulerRun, 0, limit)
	for rows.Next() {
		var run SchedulerRun
		if err := rows.Scan(&run.RunDate, &run.Status, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ListEligibleListings selects listings due for a reduction attempt.
func (s *Store) ListEligibleListings(ctx context.Context, now time.Time) ([]Listing, error) {
	return s.queryListings(ctx, listEligibleListingsSQL, now.UTC())
}

// ListUnanalyzedListings selects listings awaiting competitive analysis.
func (s *Store) ListUnanalyzedListings(ctx context.Context, limit int) ([]Listing, error) {
	return s.queryListings(ctx, listUnanalyzedListingsSQL, limit)
}

// ListRecentListings lists the most recently created listings.
func (s *Store) ListRecentListings(ctx context.Context, limit int) ([]Listing, error) {
	return s.queryListings(ctx, listRecentListingsSQL, limit)
}

func (s *Store) queryListings(ctx context.Context, query string, args ...any) ([]Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query listings: %w", queryErr)
	}
	defer rows.Close()

	listings := make([]Listing, 0)
	for rows.Next() {
		listing, scanErr := scanListing(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		listings = append(listings, listing)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return listings, nil
}

// ApplyReduction writes the reduced price behind a guarded predicate: the
// update only lands while newPrice stays at or above the floor and strictly
// below the current price, re-checking the pricing invariants at the store
// even though the engine validated them already. Returns false when the
// guard rejected the write.
func (s *Store) ApplyReduction(ctx context.Context, listingID int64, newPrice decimal.Decimal, reducedAt, nextAt time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, applyReductionSQL, listingID, newPrice.StringFixed(2), reducedAt.UTC(), nextAt.UTC())
	if execErr != nil {
		return false, fmt.Errorf("apply reduction: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// SetAnalysisState records the one-shot analysis outcome for a listing.
func (s *Store) SetAnalysisState(ctx context.Context, listingID int64, state string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setAnalysisStateSQL, listingID, state); execErr != nil {
		return fmt.Errorf("set analysis state: %w", execErr)
	}
	return nil
}

// InsertSnapshot persists a competitive snapshot. The listing_id primary key
// keeps the first snapshot authoritative; a repeat insert is silently dropped
// and reported via the returned bool.
func (s *Store) InsertSnapshot(ctx context.Context, snap CompetitiveSnapshot) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var min, avg any
	if snap.SuggestedMin != nil {
		min = snap.SuggestedMin.StringFixed(2)
	}
	if snap.SuggestedAvg != nil {
		avg = snap.SuggestedAvg.StringFixed(2)
	}

	tag, execErr := pool.Exec(ctx, insertSnapshotSQL,
		snap.ListingID,
		snap.Tier,
		snap.CompetitorCount,
		min,
		avg,
		snap.ComputedAt.UTC(),
	)
	if execErr != nil {
		return false, fmt.Errorf("insert snapshot: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSnapshot loads the snapshot for a listing, nil when none exists.
func (s *Store) GetSnapshot(ctx context.Context, listingID int64) (*CompetitiveSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		snap   CompetitiveSnapshot
		minStr sql.NullString
		avgStr sql.NullString
	)
	row := pool.QueryRow(ctx, getSnapshotSQL, listingID)
	if scanErr := row.Scan(&snap.ListingID, &snap.Tier, &snap.CompetitorCount, &minStr, &avgStr, &snap.ComputedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", scanErr)
	}

	if snap.SuggestedMin, err = nullDecimal(minStr); err != nil {
		return nil, fmt.Errorf("parse suggested min: %w", err)
	}
	if snap.SuggestedAvg, err = nullDecimal(avgStr); err != nil {
		return nil, fmt.Errorf("parse suggested avg: %w", err)
	}
	return &snap, nil
}

// InsertAttempt appends one audit row.
func (s *Store) InsertAttempt(ctx context.Context, attempt ReductionAttempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var newPrice any
	if attempt.NewPrice != nil {
		newPrice = attempt.NewPrice.StringFixed(2)
	}

	_, execErr := pool.Exec(ctx, insertAttemptSQL,
		attempt.ListingID,
		attempt.OldPrice.StringFixed(2),
		newPrice,
		attempt.Strategy,
		attempt.Outcome,
		attempt.Reason,
	)
	if execErr != nil {
		return fmt.Errorf("insert attempt: %w", execErr)
	}
	return nil
}

// ListRecentAttempts lists the most recent audit rows.
func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]ReductionAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAttemptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent attempts: %w", queryErr)
	}
	defer rows.Close()

	attempts := make([]ReductionAttempt, 0, limit)
	for rows.Next() {
		attempt, scanErr := scanAttempt(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		attempts = append(attempts, attempt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

// CountOutcomesByDay aggregates attempt outcomes per calendar day.
func (s *Store) CountOutcomesByDay(ctx context.Context, from, to time.Time) ([]DailyOutcomes, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countOutcomesByDaySQL, from.UTC(), to.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("count outcomes by day: %w", queryErr)
	}
	defer rows.Close()

	counts := make([]DailyOutcomes, 0)
	for rows.Next() {
		var day DailyOutcomes
		if err := rows.Scan(&day.Day, &day.Succeeded, &day.Skipped, &day.Failed); err != nil {
			return nil, err
		}
		counts = append(counts, day)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

// DeleteAttemptsBefore purges audit rows older than the retention cutoff.
func (s *Store) DeleteAttemptsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAttemptsBeforeSQL, olderThan.UTC())
	if execErr != nil {
		return 0, fmt.Errorf("delete attempts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanListing(rows pgx.Rows) (Listing, error) {
	var (
		listing     Listing
		productCode sql.NullString
		currentStr  string
		minimumStr  string
		pctStr      string
		customStr   sql.NullString
		lastReduced sql.NullTime
		nextReduced sql.NullTime
	)

	if err := rows.Scan(
		&listing.ID,
		&listing.ExternalID,
		&listing.Title,
		&listing.CategoryID,
		&productCode,
		&listing.Currency,
		&currentStr,
		&minimumStr,
		&listing.ReductionEnabled,
		&listing.Strategy,
		&pctStr,
		&customStr,
		&listing.IntervalDays,
		&lastReduced,
		&nextReduced,
		&listing.ListingStartTime,
		&listing.AnalysisState,
		&listing.Archived,
		&listing.CreatedAt,
	); err != nil {
		return Listing{}, err
	}

	var err error
	if listing.CurrentPrice, err = decimal.NewFromString(currentStr); err != nil {
		return Listing{}, fmt.Errorf("parse current price: %w", err)
	}
	if listing.MinimumPrice, err = decimal.NewFromString(minimumStr); err != nil {
		return Listing{}, fmt.Errorf("parse minimum price: %w", err)
	}
	if listing.ReductionPct, err = decimal.NewFromString(pctStr); err != nil {
		return Listing{}, fmt.Errorf("parse reduction pct: %w", err)
	}
	if listing.CustomTarget, err = nullDecimal(customStr); err != nil {
		return Listing{}, fmt.Errorf("parse custom target: %w", err)
	}

	if productCode.Valid {
		code := productCode.String
		listing.ProductCode = &code
	}
	if lastReduced.Valid {
		t := lastReduced.Time
		listing.LastReductionAt = &t
	}
	if nextReduced.Valid {
		t := nextReduced.Time
		listing.NextReductionAt = &t
	}

	return listing, nil
}

func scanAttempt(rows pgx.Rows) (ReductionAttempt, error) {
	var (
		attempt ReductionAttempt
		oldStr  string
		newStr  sql.NullString
	)

	if err := rows.Scan(
		&attempt.ID,
		&attempt.ListingID,
		&oldStr,
		&newStr,
		&attempt.Strategy,
		&attempt.Outcome,
		&attempt.Reason,
		&attempt.CreatedAt,
	); err != nil {
		return ReductionAttempt{}, err
	}

	var err error
	if attempt.OldPrice, err = decimal.NewFromString(oldStr); err != nil {
		return ReductionAttempt{}, fmt.Errorf("parse old price: %w", err)
	}
	if attempt.NewPrice, err = nullDecimal(newStr); err != nil {
		return ReductionAttempt{}, fmt.Errorf("parse new price: %w", err)
	}
	return attempt, nil
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
