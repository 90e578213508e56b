package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quarterlab/updown-tracker/internal/platform/polymarket"
)

// gammaMarket builds a complete Gamma payload for a slug ending at end.
func gammaMarket(slug string, end time.Time) polymarket.APIMarket {
	return polymarket.APIMarket{
		Slug:         slug,
		ConditionID:  "0xcond-" + slug,
		Question:     "Will it go up?",
		StartDate:    end.Add(-15 * time.Minute).Format(time.RFC3339),
		EndDate:      end.Format(time.RFC3339),
		Outcomes:     `["Up","Down"]`,
		ClobTokenIDs: `["101","202"]`,
		Active:       true,
	}
}

func TestCandidateSlugsWindow(t *testing.T) {
	d := NewDiscovery(newFakeGamma(), newFakeMarketStore(), []string{"btc", "eth"}, 2, 1, testLogger())

	now := time.Unix(1700000130, 0).UTC() // 30s into a slot
	slugs := d.CandidateSlugs(now)

	// 2 assets x (2 past + 1 current + 1 future) slots.
	if len(slugs) != 8 {
		t.Fatalf("candidates = %d, want 8", len(slugs))
	}

	// The slot containing now ends on the next 900s boundary.
	base := now.Truncate(15 * time.Minute)
	wantEnds := []int64{
		base.Add(-15 * time.Minute).Unix(),
		base.Unix(),
		base.Add(15 * time.Minute).Unix(),
		base.Add(30 * time.Minute).Unix(),
	}
	for i, end := range wantEnds {
		want := fmt.Sprintf("btc-updown-15m-%d", end)
		if slugs[i] != want {
			t.Errorf("slugs[%d] = %q, want %q", i, slugs[i], want)
		}
	}
}

func TestDiscoverConfirmsExistingSlugs(t *testing.T) {
	now := time.Unix(1700000130, 0).UTC()
	base := now.Truncate(15 * time.Minute)
	currentEnd := base.Add(15 * time.Minute)
	slug := MarketSlug("btc", currentEnd)

	gamma := newFakeGamma()
	gamma.markets[slug] = gammaMarket(slug, currentEnd)
	store := newFakeMarketStore()

	d := NewDiscovery(gamma, store, []string{"btc"}, 2, 1, testLogger())
	if err := d.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	found, err := d.Discover(context.Background(), now)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("discovered = %d, want 1", len(found))
	}
	if found[0].Slug != slug {
		t.Errorf("slug = %q, want %q", found[0].Slug, slug)
	}
	if found[0].TokenIDs != [2]string{"101", "202"} {
		t.Errorf("token IDs = %v", found[0].TokenIDs)
	}
	if _, ok := store.markets[slug]; !ok {
		t.Error("discovered market not persisted")
	}
}

func TestDiscoverNoDuplicates(t *testing.T) {
	now := time.Unix(1700000130, 0).UTC()
	currentEnd := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	slug := MarketSlug("btc", currentEnd)

	gamma := newFakeGamma()
	gamma.markets[slug] = gammaMarket(slug, currentEnd)

	d := NewDiscovery(gamma, newFakeMarketStore(), []string{"btc"}, 2, 1, testLogger())

	first, err := d.Discover(context.Background(), now)
	if err != nil {
		t.Fatalf("first Discover: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first pass discovered = %d, want 1", len(first))
	}

	second, err := d.Discover(context.Background(), now)
	if err != nil {
		t.Fatalf("second Discover: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second pass discovered = %d, want 0", len(second))
	}
}

func TestDiscoverSkipsKnownAfterHydrate(t *testing.T) {
	now := time.Unix(1700000130, 0).UTC()
	currentEnd := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	slug := MarketSlug("btc", currentEnd)

	gamma := newFakeGamma()
	gamma.markets[slug] = gammaMarket(slug, currentEnd)

	store := newFakeMarketStore()
	apiMarket := gammaMarket(slug, currentEnd)
	store.markets[slug] = apiMarket.ToDomainMarket()

	d := NewDiscovery(gamma, store, []string{"btc"}, 0, 0, testLogger())
	if err := d.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	found, err := d.Discover(context.Background(), now)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("discovered = %d, want 0 for an already-known slug", len(found))
	}
	if gamma.calls != 0 {
		t.Errorf("gamma calls = %d, want 0", gamma.calls)
	}
}

func TestDiscoverIncompletePayloadSkipped(t *testing.T) {
	now := time.Unix(1700000130, 0).UTC()
	currentEnd := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	slug := MarketSlug("btc", currentEnd)

	gamma := newFakeGamma()
	m := gammaMarket(slug, currentEnd)
	m.ClobTokenIDs = "" // token IDs not yet populated upstream
	gamma.markets[slug] = m

	store := newFakeMarketStore()
	d := NewDiscovery(gamma, store, []string{"btc"}, 0, 0, testLogger())

	found, err := d.Discover(context.Background(), now)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("discovered = %d, want 0", len(found))
	}
	if len(store.markets) != 0 {
		t.Error("incomplete market should not be persisted")
	}

	// The slug stays unknown, so a later pass with a complete payload
	// succeeds.
	gamma.markets[slug] = gammaMarket(slug, currentEnd)
	found, err = d.Discover(context.Background(), now)
	if err != nil {
		t.Fatalf("retry Discover: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("retry discovered = %d, want 1", len(found))
	}
}
