// Package tracker implements the market lifecycle coordinator: slug-grid
// discovery, resolution-aware trade fetching, the live price stream, and the
// scheduler loop that sequences them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
	"github.com/quarterlab/updown-tracker/internal/platform/polymarket"
	"github.com/quarterlab/updown-tracker/pkg/hashset"
)

// marketLookup is the slice of the Gamma client Discovery needs.
type marketLookup interface {
	GetMarketBySlug(ctx context.Context, slug string) (polymarket.APIMarket, error)
}

// Discovery turns wall-clock time into candidate market slugs and confirms
// which ones exist upstream. The known-slug set is owned exclusively by this
// component: hydrated once at startup, grown monotonically afterwards.
type Discovery struct {
	gamma  marketLookup
	store  domain.MarketStore
	logger *slog.Logger

	assets      []string
	pastSlots   int
	futureSlots int

	known hashset.Set[string]
}

// NewDiscovery creates a Discovery for the given tracked assets. pastSlots
// candidates behind the current slot catch markets missed across restarts;
// futureSlots ahead pre-register not-yet-open markets.
func NewDiscovery(
	gamma marketLookup,
	store domain.MarketStore,
	assets []string,
	pastSlots, futureSlots int,
	logger *slog.Logger,
) *Discovery {
	return &Discovery{
		gamma:       gamma,
		store:       store,
		logger:      logger.With(slog.String("component", "discovery")),
		assets:      assets,
		pastSlots:   pastSlots,
		futureSlots: futureSlots,
		known:       hashset.New[string](),
	}
}

// Hydrate loads every persisted slug into the known set. Call once before the
// first Discover pass.
func (d *Discovery) Hydrate(ctx context.Context) error {
	slugs, err := d.store.ListSlugs(ctx)
	if err != nil {
		return fmt.Errorf("tracker: hydrate known slugs: %w", err)
	}
	for _, s := range slugs {
		d.known.Add(s)
	}
	d.logger.Info("known slugs hydrated", slog.Int("count", d.known.Len()))
	return nil
}

// Discover generates the candidate window around now, confirms unknown slugs
// against the metadata API, persists confirmed markets, and returns them.
// A slug that does not exist upstream yet is the expected steady state for
// future-dated slots, not an error. A single candidate's lookup or persist
// failure is logged and skipped; it stays out of the known set and is retried
// on the next pass.
func (d *Discovery) Discover(ctx context.Context, now time.Time) ([]domain.Market, error) {
	var confirmed []domain.Market

	for _, slug := range d.CandidateSlugs(now) {
		if d.known.Has(slug) {
			continue
		}

		api, err := d.gamma.GetMarketBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			d.logger.Warn("candidate lookup failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !api.Complete() {
			d.logger.Warn("candidate payload incomplete", slog.String("slug", slug))
			continue
		}

		m := api.ToDomainMarket()
		if err := d.store.Upsert(ctx, m); err != nil {
			d.logger.Error("persist discovered market failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
			continue
		}

		d.known.Add(slug)
		confirmed = append(confirmed, m)
		d.logger.Info("market discovered",
			slog.String("slug", slug),
			slog.Time("end_time", m.EndTime),
		)
	}

	return confirmed, nil
}

// CandidateSlugs builds the slug window for every tracked asset: the current
// 900s slot plus pastSlots behind and futureSlots ahead. Slugs encode the
// slot's end timestamp.
func (d *Discovery) CandidateSlugs(now time.Time) []string {
	base := now.UTC().Truncate(domain.SlotInterval)

	slugs := make([]string, 0, len(d.assets)*(d.pastSlots+d.futureSlots+1))
	for _, asset := range d.assets {
		for i := -d.pastSlots; i <= d.futureSlots; i++ {
			end := base.Add(time.Duration(i+1) * domain.SlotInterval)
			slugs = append(slugs, MarketSlug(asset, end))
		}
	}
	return slugs
}

// MarketSlug builds the canonical slug for an asset and slot end time,
// e.g. "btc-updown-15m-1700000000".
func MarketSlug(asset string, end time.Time) string {
	return fmt.Sprintf("%s-updown-15m-%d", asset, end.Unix())
}
