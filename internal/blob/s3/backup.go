package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the backup dump.
//
// The dump only needs the query methods it actually calls; the Postgres
// stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// MarketDumpStore provides read access to markets for backup purposes.
type MarketDumpStore interface {
	ListAll(ctx context.Context) ([]domain.Market, error)
}

// TradeDumpStore provides read access to trades for backup purposes.
type TradeDumpStore interface {
	ListSince(ctx context.Context, since time.Time) ([]domain.Trade, error)
}

// PriceDumpStore provides read access to price snapshots for backup purposes.
type PriceDumpStore interface {
	ListSince(ctx context.Context, since time.Time) ([]domain.PriceSnapshot, error)
}

// Backup implements domain.Backupper by dumping markets, trades, and price
// snapshots to JSONL objects under a per-run prefix, finished by a manifest.
// Markets are dumped in full; trades and prices incrementally since the last
// successful run (the first run falls back to the lookback window).
type Backup struct {
	writer   *Writer
	markets  MarketDumpStore
	trades   TradeDumpStore
	prices   PriceDumpStore
	lookback time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// NewBackup creates a Backup. lookback bounds the first incremental dump.
func NewBackup(
	writer *Writer,
	markets MarketDumpStore,
	trades TradeDumpStore,
	prices PriceDumpStore,
	lookback time.Duration,
	logger *slog.Logger,
) *Backup {
	return &Backup{
		writer:   writer,
		markets:  markets,
		trades:   trades,
		prices:   prices,
		lookback: lookback,
		logger:   logger.With(slog.String("component", "backup")),
	}
}

type manifest struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Since      time.Time `json:"since"`
	Markets    int       `json:"markets"`
	Trades     int       `json:"trades"`
	Prices     int       `json:"prices"`
}

// Backup runs one dump. The manifest is written last so a prefix with a
// manifest is always a complete run.
func (b *Backup) Backup(ctx context.Context) error {
	started := time.Now().UTC()
	runID := uuid.NewString()
	prefix := fmt.Sprintf("backup/%s/%s", started.Format("2006-01-02"), runID)

	b.mu.Lock()
	since := b.lastRun
	b.mu.Unlock()
	if since.IsZero() {
		since = started.Add(-b.lookback)
	}

	markets, err := b.markets.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("s3blob: backup markets query: %w", err)
	}
	trades, err := b.trades.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("s3blob: backup trades query: %w", err)
	}
	prices, err := b.prices.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("s3blob: backup prices query: %w", err)
	}

	if err := putJSONL(ctx, b.writer, prefix+"/markets.jsonl", markets); err != nil {
		return err
	}
	if err := putJSONL(ctx, b.writer, prefix+"/trades.jsonl", trades); err != nil {
		return err
	}
	if err := putJSONL(ctx, b.writer, prefix+"/prices.jsonl", prices); err != nil {
		return err
	}

	m := manifest{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Since:      since,
		Markets:    len(markets),
		Trades:     len(trades),
		Prices:     len(prices),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("s3blob: backup manifest marshal: %w", err)
	}
	if err := b.writer.Put(ctx, prefix+"/manifest.json", bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: backup manifest upload: %w", err)
	}

	b.mu.Lock()
	b.lastRun = started
	b.mu.Unlock()

	b.logger.Info("backup complete",
		slog.String("run_id", runID),
		slog.Int("markets", m.Markets),
		slog.Int("trades", m.Trades),
		slog.Int("prices", m.Prices),
	)
	return nil
}

func putJSONL[T any](ctx context.Context, w *Writer, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: backup marshal %s: %w", path, err)
	}
	if err := w.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: backup upload %s: %w", path, err)
	}
	return nil
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact
// line per element.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Backupper = (*Backup)(nil)
