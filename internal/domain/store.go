package domain

import (
	"context"
	"time"
)

// MarketStore persists market metadata and the fetch/resolution flags.
type MarketStore interface {
	// Upsert inserts or refreshes a market row keyed by slug. It never clears
	// trades_fetched or an already-recorded winning outcome.
	Upsert(ctx context.Context, m Market) error

	GetBySlug(ctx context.Context, slug string) (Market, error)

	// ListSlugs returns every known market slug; Discovery hydrates its
	// in-memory set from this once at startup.
	ListSlugs(ctx context.Context) ([]string, error)

	// ListToFetch returns markets with trades_fetched=false whose end time is
	// before now, ordered by end time ascending.
	ListToFetch(ctx context.Context, now time.Time) ([]Market, error)

	// ListActive returns markets whose end time is after now.
	ListActive(ctx context.Context, now time.Time) ([]Market, error)

	// MarkFetched flips trades_fetched to true and, when winningOutcome is
	// non-nil, records the resolution in the same statement.
	MarkFetched(ctx context.Context, slug string, winningOutcome *string) error

	// ListMissingResolution returns fetched markets that still lack a
	// recorded winning outcome, for the resolution retry pass.
	ListMissingResolution(ctx context.Context, limit int) ([]Market, error)

	// RecordResolution sets resolved=true and the winning outcome.
	RecordResolution(ctx context.Context, slug, winningOutcome string) error

	ListAll(ctx context.Context) ([]Market, error)
}

// TradeStore persists wallet trades. Inserts are idempotent via the trade ID
// uniqueness constraint.
type TradeStore interface {
	// InsertBatch inserts trades, silently skipping duplicates, and returns
	// the number of rows actually written.
	InsertBatch(ctx context.Context, trades []Trade) (int64, error)

	ListByMarket(ctx context.Context, marketSlug string) ([]Trade, error)
	ListSince(ctx context.Context, since time.Time) ([]Trade, error)
}

// PriceStore persists throttled price snapshots and supports age-based
// cleanup.
type PriceStore interface {
	Insert(ctx context.Context, snap PriceSnapshot) error

	// DeleteBefore removes snapshots older than the cutoff and returns the
	// number of rows deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ListSince(ctx context.Context, since time.Time) ([]PriceSnapshot, error)
}

// QuoteCache holds the unthrottled latest quote per token for consumers that
// must not touch the relational store (the dashboard read path).
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, tokenID string) (Quote, error)
}

// Backupper dumps the store's contents to durable external storage.
type Backupper interface {
	Backup(ctx context.Context) error
}
