package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
	"github.com/quarterlab/updown-tracker/internal/platform/goldsky"
	"github.com/quarterlab/updown-tracker/internal/platform/polymarket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Store fakes
// ---------------------------------------------------------------------------

type fakeMarketStore struct {
	mu       sync.Mutex
	markets  map[string]domain.Market
	toFetch  []domain.Market
	active   []domain.Market
	missing  []domain.Market
	fetched  map[string]*string
	resolved map[string]string
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{
		markets:  make(map[string]domain.Market),
		fetched:  make(map[string]*string),
		resolved: make(map[string]string),
	}
}

func (s *fakeMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.Slug] = m
	return nil
}

func (s *fakeMarketStore) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[slug]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarketStore) ListSlugs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slugs := make([]string, 0, len(s.markets))
	for slug := range s.markets {
		slugs = append(slugs, slug)
	}
	return slugs, nil
}

func (s *fakeMarketStore) ListToFetch(_ context.Context, now time.Time) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.toFetch {
		if _, done := s.fetched[m.Slug]; done {
			continue
		}
		if m.EndTime.Before(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) ListActive(_ context.Context, now time.Time) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.active {
		if m.EndTime.After(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) MarkFetched(_ context.Context, slug string, winningOutcome *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched[slug] = winningOutcome
	return nil
}

func (s *fakeMarketStore) ListMissingResolution(_ context.Context, limit int) ([]domain.Market, error) {
	if len(s.missing) > limit {
		return s.missing[:limit], nil
	}
	return s.missing, nil
}

func (s *fakeMarketStore) RecordResolution(_ context.Context, slug, winningOutcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[slug] = winningOutcome
	return nil
}

func (s *fakeMarketStore) ListAll(_ context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *fakeTradeStore) InsertBatch(_ context.Context, trades []domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, t := range trades {
		if _, dup := s.trades[t.ID]; dup {
			continue
		}
		s.trades[t.ID] = t
		inserted++
	}
	return inserted, nil
}

func (s *fakeTradeStore) ListByMarket(_ context.Context, marketSlug string) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.MarketSlug == marketSlug {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListSince(_ context.Context, since time.Time) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakePriceStore struct {
	mu    sync.Mutex
	snaps []domain.PriceSnapshot
}

func (s *fakePriceStore) Insert(_ context.Context, snap domain.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *fakePriceStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.PriceSnapshot
	var deleted int64
	for _, snap := range s.snaps {
		if snap.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps = kept
	return deleted, nil
}

func (s *fakePriceStore) ListSince(_ context.Context, since time.Time) ([]domain.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PriceSnapshot
	for _, snap := range s.snaps {
		if !snap.Timestamp.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakePriceStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

// ---------------------------------------------------------------------------
// Upstream fakes
// ---------------------------------------------------------------------------

// fakeGamma serves APIMarket payloads for known slugs and ErrNotFound for the
// rest, mirroring the empty-list behavior of the metadata API.
type fakeGamma struct {
	mu      sync.Mutex
	markets map[string]polymarket.APIMarket
	calls   int
}

func newFakeGamma() *fakeGamma {
	return &fakeGamma{markets: make(map[string]polymarket.APIMarket)}
}

func (g *fakeGamma) GetMarketBySlug(_ context.Context, slug string) (polymarket.APIMarket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	m, ok := g.markets[slug]
	if !ok {
		return polymarket.APIMarket{}, fmt.Errorf("slug=%s: %w", slug, domain.ErrNotFound)
	}
	return m, nil
}

// fakeResolver resolves slugs from a fixed table; anything absent is
// unresolved.
type fakeResolver struct {
	mu      sync.Mutex
	winners map[string]string
	err     error
	calls   int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{winners: make(map[string]string)}
}

func (r *fakeResolver) GetWinningOutcome(_ context.Context, slug string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	w, ok := r.winners[slug]
	if !ok {
		return "", fmt.Errorf("slug=%s: %w", slug, domain.ErrUnresolved)
	}
	return w, nil
}

// comboKey identifies one (role, field, token) filter.
type comboKey struct {
	role  goldsky.Role
	field goldsky.AssetField
	token string
}

// fakeFillSource serves pre-seeded fills per combination with real cursor
// pagination semantics: ascending by ID with an exclusive id_gt cursor.
type fakeFillSource struct {
	mu    sync.Mutex
	fills map[comboKey][]domain.RawFill
	errs  map[comboKey]error
	pages int
}

func newFakeFillSource() *fakeFillSource {
	return &fakeFillSource{
		fills: make(map[comboKey][]domain.RawFill),
		errs:  make(map[comboKey]error),
	}
}

func (f *fakeFillSource) seed(role goldsky.Role, field goldsky.AssetField, token string, fills ...domain.RawFill) {
	key := comboKey{role, field, token}
	f.fills[key] = append(f.fills[key], fills...)
}

func (f *fakeFillSource) FetchFills(_ context.Context, q goldsky.FillQuery) ([]domain.RawFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++

	key := comboKey{q.Role, q.Field, q.TokenID}
	if err := f.errs[key]; err != nil {
		return nil, err
	}

	first := q.First
	if first <= 0 || first > goldsky.MaxPageSize {
		first = goldsky.MaxPageSize
	}

	var page []domain.RawFill
	for _, fill := range f.fills[key] {
		if q.AfterID != "" && fill.ID <= q.AfterID {
			continue
		}
		page = append(page, fill)
		if len(page) == first {
			break
		}
	}
	return page, nil
}

// ---------------------------------------------------------------------------
// Component fakes
// ---------------------------------------------------------------------------

type fakeStream struct {
	mu           sync.Mutex
	subscribed   map[string]domain.Subscription
	unsubscribed []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{subscribed: make(map[string]domain.Subscription)}
}

func (s *fakeStream) Subscribe(tokenID, marketSlug, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[tokenID] = domain.Subscription{MarketSlug: marketSlug, Outcome: outcome}
}

func (s *fakeStream) Unsubscribe(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribed, tokenID)
	s.unsubscribed = append(s.unsubscribed, tokenID)
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	counts map[string]int64
	err    error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{counts: make(map[string]int64)}
}

func (f *fakeFetcher) FetchMarketTrades(_ context.Context, m domain.Market) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, m.Slug)
	return f.counts[m.Slug], nil
}

type fakeDiscoverer struct {
	markets []domain.Market
	err     error
	calls   int
}

func (d *fakeDiscoverer) Hydrate(context.Context) error { return nil }

func (d *fakeDiscoverer) Discover(_ context.Context, _ time.Time) ([]domain.Market, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.markets, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}
