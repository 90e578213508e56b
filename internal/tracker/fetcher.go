package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
	"github.com/quarterlab/updown-tracker/internal/platform/goldsky"
)

// usdcAssetID is the asset id the fill index uses for the quote currency.
const usdcAssetID = "0"

// fixedPointScale converts 6-decimal on-chain units (USDC, CTF shares) to
// decimal.
const fixedPointScale = 1e6

// fillSource is the slice of the subgraph client the Fetcher needs.
type fillSource interface {
	FetchFills(ctx context.Context, q goldsky.FillQuery) ([]domain.RawFill, error)
}

// resolutionLookup reads the settled winner from the metadata API.
type resolutionLookup interface {
	GetWinningOutcome(ctx context.Context, slug string) (string, error)
}

// Fetcher retrieves every trade belonging to the tracked wallets in one ended
// market. The fill index has no wallet+side+outcome view, so the Fetcher
// enumerates 8 filter combinations per wallet (role x asset field x outcome
// token), paginating each independently with an ascending id cursor.
type Fetcher struct {
	fills    fillSource
	resolver resolutionLookup
	trades   domain.TradeStore
	markets  domain.MarketStore
	logger   *slog.Logger

	wallets  []string
	pageSize int

	now func() time.Time
}

// NewFetcher creates a Fetcher for the given tracked wallets. pageSize is
// clamped to the index's cap by the client.
func NewFetcher(
	fills fillSource,
	resolver resolutionLookup,
	trades domain.TradeStore,
	markets domain.MarketStore,
	wallets []string,
	pageSize int,
	logger *slog.Logger,
) *Fetcher {
	return &Fetcher{
		fills:    fills,
		resolver: resolver,
		trades:   trades,
		markets:  markets,
		logger:   logger.With(slog.String("component", "fetcher")),
		wallets:  wallets,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// queryCombos enumerates the 4 (role, asset field) pairs; crossed with the
// market's 2 outcome tokens they form the 8 queries per wallet. Each fill
// matches exactly one combination for a given wallet role, so no cross-combo
// de-duplication is needed.
var queryCombos = []struct {
	role  goldsky.Role
	field goldsky.AssetField
}{
	{goldsky.RoleMaker, goldsky.FieldMakerAsset}, // wallet sold the token
	{goldsky.RoleMaker, goldsky.FieldTakerAsset}, // wallet bought the token
	{goldsky.RoleTaker, goldsky.FieldMakerAsset}, // wallet bought the token
	{goldsky.RoleTaker, goldsky.FieldTakerAsset}, // wallet sold the token
}

// FetchMarketTrades retrieves, parses, and persists all tracked-wallet trades
// for the market, then records the resolution and flips trades_fetched. It is
// idempotent: trade IDs are unique per (fill, wallet, role), so a re-run
// inserts 0 new rows. A failing combination stops only that combination's
// pagination; partial results from it are kept and the other combinations
// proceed. When the resolution lookup fails the market is still marked
// fetched with a nil outcome and picked up later by the resolution retry
// pass.
func (f *Fetcher) FetchMarketTrades(ctx context.Context, m domain.Market) (int64, error) {
	from := m.StartTime.Unix()
	to := f.now().Unix()

	var all []domain.Trade
	for _, wallet := range f.wallets {
		for _, combo := range queryCombos {
			for _, tokenID := range m.TokenIDs {
				fills, err := f.fetchCombination(ctx, wallet, combo.role, combo.field, tokenID, from, to)
				if err != nil {
					f.logger.Error("fill combination failed",
						slog.String("market", m.Slug),
						slog.String("wallet", wallet),
						slog.String("role", string(combo.role)),
						slog.String("field", string(combo.field)),
						slog.String("error", err.Error()),
					)
					continue
				}
				for _, fill := range fills {
					t, ok := parseFill(fill, wallet, string(combo.role), m)
					if !ok {
						continue
					}
					all = append(all, t)
				}
			}
		}
	}

	inserted, err := f.trades.InsertBatch(ctx, all)
	if err != nil {
		return inserted, fmt.Errorf("tracker: persist trades for %s: %w", m.Slug, err)
	}

	var winning *string
	w, err := f.resolver.GetWinningOutcome(ctx, m.Slug)
	switch {
	case err == nil:
		winning = &w
	case errors.Is(err, domain.ErrUnresolved):
		f.logger.Info("market not yet resolved upstream", slog.String("market", m.Slug))
	default:
		f.logger.Warn("resolution lookup failed",
			slog.String("market", m.Slug),
			slog.String("error", err.Error()),
		)
	}

	if err := f.markets.MarkFetched(ctx, m.Slug, winning); err != nil {
		return inserted, fmt.Errorf("tracker: mark %s fetched: %w", m.Slug, err)
	}

	f.logger.Info("market trades fetched",
		slog.String("market", m.Slug),
		slog.Int("parsed", len(all)),
		slog.Int64("inserted", inserted),
		slog.Bool("resolved", winning != nil),
	)
	return inserted, nil
}

// fetchCombination paginates one (role, field, token) filter to exhaustion.
// Pages are ordered by ascending event id with an exclusive id_gt cursor; a
// page shorter than the page size signals the end.
func (f *Fetcher) fetchCombination(
	ctx context.Context,
	wallet string,
	role goldsky.Role,
	field goldsky.AssetField,
	tokenID string,
	from, to int64,
) ([]domain.RawFill, error) {
	var (
		out   []domain.RawFill
		after string
	)
	for {
		page, err := f.fills.FetchFills(ctx, goldsky.FillQuery{
			Role:     role,
			Wallet:   wallet,
			Field:    field,
			TokenID:  tokenID,
			FromTime: from,
			ToTime:   to,
			AfterID:  after,
			First:    f.pageSize,
		})
		if err != nil {
			// Keep what earlier pages returned; duplicates on the retry pass
			// are absorbed by the trade ID constraint.
			return out, err
		}

		out = append(out, page...)
		if len(page) < f.pageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

// parseFill converts one raw fill into the tracked wallet's leg of the trade.
//
// The decision table: when the maker's asset-in is the quote asset the maker
// paid USDC and received shares (maker buys, taker sells); otherwise the
// maker gave shares and received USDC (maker sells, taker buys). The outcome
// token is whichever asset id is not the quote asset.
func parseFill(fill domain.RawFill, wallet, role string, m domain.Market) (domain.Trade, bool) {
	var (
		makerBuys bool
		tokenID   string
		usdc      float64
		shares    float64
	)
	if fill.MakerAssetID == usdcAssetID {
		makerBuys = true
		tokenID = fill.TakerAssetID
		usdc = float64(fill.MakerAmountFilled) / fixedPointScale
		shares = float64(fill.TakerAmountFilled) / fixedPointScale
	} else {
		makerBuys = false
		tokenID = fill.MakerAssetID
		shares = float64(fill.MakerAmountFilled) / fixedPointScale
		usdc = float64(fill.TakerAmountFilled) / fixedPointScale
	}

	outcome := m.TokenOutcome(tokenID)
	if outcome == "" {
		return domain.Trade{}, false
	}

	side := domain.SideSell
	if (role == domain.RoleMaker) == makerBuys {
		side = domain.SideBuy
	}

	// Malformed zero-share fills become price 0 rather than aborting the page.
	var price float64
	if shares > 0 {
		price = usdc / shares
	}

	return domain.Trade{
		ID:         domain.TradeID(fill.ID, wallet, role),
		Timestamp:  time.Unix(fill.Timestamp, 0).UTC(),
		MarketSlug: m.Slug,
		Wallet:     wallet,
		Role:       role,
		Side:       side,
		Outcome:    outcome,
		Shares:     shares,
		Price:      price,
		USDCSize:   usdc,
		TxHash:     fill.TransactionHash,
	}, true
}
