package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"listing-repricer/internal/marketplace"
	"listing-repricer/internal/storage"
)

type fakeSearcher struct {
	results map[string][]marketplace.Candidate
	errs    map[string]error
	queried []string
}

func queryTier(q marketplace.Query) string {
	switch {
	case q.ProductCode != "":
		return storage.TierIdentifier
	case q.CategoryID != "":
		return storage.TierTitleCategory
	default:
		return storage.TierTitleOnly
	}
}

func (f *fakeSearcher) Search(ctx context.Context, q marketplace.Query) ([]marketplace.Candidate, error) {
	tier := queryTier(q)
	f.queried = append(f.queried, tier)
	if err := f.errs[tier]; err != nil {
		return nil, err
	}
	return f.results[tier], nil
}

type fakeListings struct {
	unanalyzed []storage.Listing
	states     map[int64]string
	stateErr   error
}

func (f *fakeListings) ListEligibleListings(ctx context.Context, now time.Time) ([]storage.Listing, error) {
	return nil, nil
}

func (f *fakeListings) ListUnanalyzedListings(ctx context.Context, limit int) ([]storage.Listing, error) {
	if limit < len(f.unanalyzed) {
		return f.unanalyzed[:limit], nil
	}
	return f.unanalyzed, nil
}

func (f *fakeListings) ListRecentListings(ctx context.Context, limit int) ([]storage.Listing, error) {
	return nil, nil
}

func (f *fakeListings) ApplyReduction(ctx context.Context, listingID int64, newPrice decimal.Decimal, reducedAt, nextAt time.Time) (bool, error) {
	return true, nil
}

func (f *fakeListings) SetAnalysisState(ctx context.Context, listingID int64, state string) error {
	if f.stateErr != nil {
		return f.stateErr
	}
	if f.states == nil {
		f.states = make(map[int64]string)
	}
	f.states[listingID] = state
	return nil
}

type fakeSnapshots struct {
	inserted  []storage.CompetitiveSnapshot
	insertErr error
}

func (f *fakeSnapshots) InsertSnapshot(ctx context.Context, snap storage.CompetitiveSnapshot) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	for _, existing := range f.inserted {
		if existing.ListingID == snap.ListingID {
			return false, nil
		}
	}
	f.inserted = append(f.inserted, snap)
	return true, nil
}

func (f *fakeSnapshots) GetSnapshot(ctx context.Context, listingID int64) (*storage.CompetitiveSnapshot, error) {
	for i := range f.inserted {
		if f.inserted[i].ListingID == listingID {
			return &f.inserted[i], nil
		}
	}
	return nil, nil
}

func candidates(seller string, prices ...string) []marketplace.Candidate {
	out := make([]marketplace.Candidate, 0, len(prices))
	for i, p := range prices {
		out = append(out, marketplace.Candidate{
			ItemID:   string(rune('a' + i)),
			Title:    "widget",
			Price:    decimal.RequireFromString(p),
			Currency: "EUR",
			SellerID: seller,
		})
	}
	return out
}

func testListing() storage.Listing {
	code := "4006381333931"
	return storage.Listing{
		ID:          7,
		ExternalID:  "110123456789",
		Title:       "Stainless widget, boxed",
		CategoryID:  "11700",
		ProductCode: &code,
	}
}

func newTestResolver(searcher marketplace.SearchProvider, listings storage.ListingStore, snaps storage.SnapshotStore) *Resolver {
	return New(searcher, listings, snaps, Options{SellerID: "self-42"}, zerolog.Nop())
}

func TestResolveFirstTierSufficient(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: candidates("other", "10", "11", "9", "10.50", "9.50"),
	}}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), testListing())
	if snap.Tier != storage.TierIdentifier {
		t.Fatalf("expected identifier tier, got %q", snap.Tier)
	}
	if len(searcher.queried) != 1 {
		t.Fatalf("sufficient first tier should stop the waterfall, queried %v", searcher.queried)
	}
	if snap.CompetitorCount != 5 {
		t.Fatalf("expected 5 competitors, got %d", snap.CompetitorCount)
	}
	if snap.SuggestedAvg == nil || !snap.SuggestedAvg.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected avg 10, got %v", snap.SuggestedAvg)
	}
	if snap.SuggestedMin == nil || !snap.SuggestedMin.Equal(decimal.RequireFromString("9")) {
		t.Fatalf("expected min 9, got %v", snap.SuggestedMin)
	}
}

func TestResolveTierFallback(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier:    nil,
		storage.TierTitleCategory: nil,
		storage.TierTitleOnly:     candidates("other", "10", "11", "9", "10", "12", "8"),
	}}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), testListing())
	if snap.Tier != storage.TierTitleOnly {
		t.Fatalf("expected title_only tier, got %q", snap.Tier)
	}
	if len(searcher.queried) != 3 {
		t.Fatalf("expected all three tiers queried, got %v", searcher.queried)
	}
	if snap.CompetitorCount != 6 {
		t.Fatalf("expected 6 competitors, got %d", snap.CompetitorCount)
	}
}

func TestResolveSkipsInapplicableTiers(t *testing.T) {
	listing := testListing()
	listing.ProductCode = nil
	listing.CategoryID = ""

	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierTitleOnly: candidates("other", "10", "11", "9", "10", "12"),
	}}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), listing)
	if snap.Tier != storage.TierTitleOnly {
		t.Fatalf("expected title_only tier, got %q", snap.Tier)
	}
	if len(searcher.queried) != 1 || searcher.queried[0] != storage.TierTitleOnly {
		t.Fatalf("tiers without a usable query should be skipped, queried %v", searcher.queried)
	}
}

func TestResolveExcludesOwnOffers(t *testing.T) {
	// Six hits on the first tier, two of them our own: 4 remain, under the
	// sufficiency threshold, so the waterfall continues and falls back to the
	// largest tier collected.
	own := candidates("self-42", "10", "10")
	others := candidates("other", "10", "11", "9", "12")
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: append(own, others...),
	}}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), testListing())
	if len(searcher.queried) != 3 {
		t.Fatalf("4 candidates after self-exclusion should not satisfy the tier, queried %v", searcher.queried)
	}
	if snap.Tier != storage.TierIdentifier {
		t.Fatalf("best-effort fallback should keep the largest tier, got %q", snap.Tier)
	}
	if snap.CompetitorCount != 4 {
		t.Fatalf("expected 4 competitors after excluding own offers, got %d", snap.CompetitorCount)
	}
}

func TestResolveRejectsOutliers(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: candidates("other", "10", "11", "9", "1000", "0.50"),
	}}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), testListing())
	if snap.Tier != storage.TierIdentifier {
		t.Fatalf("expected identifier tier, got %q", snap.Tier)
	}
	if snap.CompetitorCount != 3 {
		t.Fatalf("expected 1000 and 0.50 rejected, got count %d", snap.CompetitorCount)
	}
	if !snap.SuggestedAvg.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected avg 10 over the kept prices, got %s", snap.SuggestedAvg)
	}
	if !snap.SuggestedMin.Equal(decimal.RequireFromString("9")) {
		t.Fatalf("expected min 9, got %s", snap.SuggestedMin)
	}
}

func TestResolveAllOutliersDegradeToNoMatches(t *testing.T) {
	// A bimodal tier where every price falls outside tight outlier bounds:
	// median (1+1000)/2 = 500.5, so both clusters are rejected and the
	// sufficient tier degrades to no_matches without resuming the waterfall.
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: candidates("other", "1", "1", "1", "1000", "1000", "1000"),
	}}
	opts := Options{
		SellerID:     "self-42",
		OutlierUpper: decimal.RequireFromString("1.1"),
		OutlierLower: decimal.RequireFromString("0.95"),
	}
	r := New(searcher, &fakeListings{}, &fakeSnapshots{}, opts, zerolog.Nop())

	snap := r.Resolve(context.Background(), testListing())
	if snap.Tier != storage.TierNoMatches {
		t.Fatalf("all-outlier tier should degrade to no_matches, got %q", snap.Tier)
	}
	if len(searcher.queried) != 1 {
		t.Fatalf("degraded tier is final, waterfall must not resume: queried %v", searcher.queried)
	}
	if snap.CompetitorCount != 0 || snap.SuggestedMin != nil || snap.SuggestedAvg != nil {
		t.Fatalf("degraded snapshot should carry no prices: %+v", snap)
	}
}

func TestResolveNoMatchesAnywhere(t *testing.T) {
	searcher := &fakeSearcher{}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), testListing())
	if snap.Tier != storage.TierNoMatches {
		t.Fatalf("expected no_matches, got %q", snap.Tier)
	}
	if snap.CompetitorCount != 0 || snap.SuggestedMin != nil || snap.SuggestedAvg != nil {
		t.Fatalf("no_matches snapshot should carry no prices: %+v", snap)
	}
}

func TestResolveAdapterError(t *testing.T) {
	searcher := &fakeSearcher{errs: map[string]error{
		storage.TierIdentifier: errors.New("bad gateway"),
	}}
	r := newTestResolver(searcher, &fakeListings{}, &fakeSnapshots{})

	snap := r.Resolve(context.Background(), testListing())
	if snap.Tier != storage.TierError {
		t.Fatalf("adapter failure should produce a tier=error snapshot, got %q", snap.Tier)
	}
}

func TestAnalyzeListingPersistsAndMarks(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: candidates("other", "10", "11", "9", "10.50", "9.50"),
	}}
	listings := &fakeListings{}
	snaps := &fakeSnapshots{}
	r := newTestResolver(searcher, listings, snaps)

	snap, err := r.AnalyzeListing(context.Background(), testListing())
	if err != nil {
		t.Fatalf("AnalyzeListing: %v", err)
	}
	if len(snaps.inserted) != 1 {
		t.Fatalf("expected one persisted snapshot, got %d", len(snaps.inserted))
	}
	if listings.states[7] != storage.AnalysisAnalyzed {
		t.Fatalf("expected listing marked analyzed, got %q", listings.states[7])
	}
	if snap.Tier != storage.TierIdentifier {
		t.Fatalf("unexpected tier %q", snap.Tier)
	}
}

func TestAnalyzeListingErrorState(t *testing.T) {
	searcher := &fakeSearcher{errs: map[string]error{
		storage.TierIdentifier: errors.New("boom"),
	}}
	listings := &fakeListings{}
	snaps := &fakeSnapshots{}
	r := newTestResolver(searcher, listings, snaps)

	if _, err := r.AnalyzeListing(context.Background(), testListing()); err != nil {
		t.Fatalf("adapter trouble must stay non-fatal: %v", err)
	}
	if listings.states[7] != storage.AnalysisError {
		t.Fatalf("expected analysis state error, got %q", listings.states[7])
	}
	if len(snaps.inserted) != 1 || snaps.inserted[0].Tier != storage.TierError {
		t.Fatalf("expected a persisted error snapshot, got %+v", snaps.inserted)
	}
}

func TestAnalyzeListingKeepsFirstSnapshot(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: candidates("other", "10", "11", "9", "10.50", "9.50"),
	}}
	listings := &fakeListings{}
	snaps := &fakeSnapshots{}
	r := newTestResolver(searcher, listings, snaps)

	if _, err := r.AnalyzeListing(context.Background(), testListing()); err != nil {
		t.Fatalf("first analysis: %v", err)
	}
	first := snaps.inserted[0]

	if _, err := r.AnalyzeListing(context.Background(), testListing()); err != nil {
		t.Fatalf("repeat analysis: %v", err)
	}
	if len(snaps.inserted) != 1 {
		t.Fatalf("repeat analysis must not add snapshots, got %d", len(snaps.inserted))
	}
	if snaps.inserted[0].ComputedAt != first.ComputedAt {
		t.Fatal("first snapshot should stay authoritative")
	}
}

func TestAnalyzeBatch(t *testing.T) {
	bad := testListing()
	bad.ID = 8
	badCode := "99"
	bad.ProductCode = &badCode

	searcher := &fakeSearcher{results: map[string][]marketplace.Candidate{
		storage.TierIdentifier: candidates("other", "10", "11", "9", "10.50", "9.50"),
	}}
	listings := &fakeListings{unanalyzed: []storage.Listing{testListing(), bad}}
	snaps := &fakeSnapshots{}
	r := newTestResolver(searcher, listings, snaps)

	analyzed, failed, err := r.AnalyzeBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if analyzed != 2 || failed != 0 {
		t.Fatalf("expected 2 analyzed, got analyzed=%d failed=%d", analyzed, failed)
	}
}

func TestAnalyzeBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	listings := &fakeListings{unanalyzed: []storage.Listing{testListing()}}
	r := newTestResolver(&fakeSearcher{}, listings, &fakeSnapshots{})

	analyzed, _, err := r.AnalyzeBatch(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if analyzed != 0 {
		t.Fatalf("cancelled batch should not analyze, got %d", analyzed)
	}
}
