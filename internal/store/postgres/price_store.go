package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// PriceStore implements domain.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a new PriceStore backed by the given pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Insert writes one price snapshot row.
func (s *PriceStore) Insert(ctx context.Context, snap domain.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_snapshots (
			timestamp, market_slug, outcome, price, best_bid, best_ask
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.Timestamp, snap.MarketSlug, snap.Outcome,
		snap.Price, snap.BestBid, snap.BestAsk,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert price snapshot %s/%s: %w",
			snap.MarketSlug, snap.Outcome, err)
	}
	return nil
}

// DeleteBefore removes snapshots older than the cutoff and returns the
// number of rows deleted.
func (s *PriceStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_snapshots WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete price snapshots before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSince returns all snapshots at or after the given time, oldest first.
// Used by the backup dump.
func (s *PriceStore) ListSince(ctx context.Context, since time.Time) ([]domain.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, market_slug, outcome, price, best_bid, best_ask
		 FROM price_snapshots
		 WHERE timestamp >= $1 ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price snapshots since: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PriceSnapshot
	for rows.Next() {
		var p domain.PriceSnapshot
		if err := rows.Scan(
			&p.Timestamp, &p.MarketSlug, &p.Outcome,
			&p.Price, &p.BestBid, &p.BestAsk,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan price snapshot: %w", err)
		}
		snaps = append(snaps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list price snapshots rows: %w", err)
	}
	return snaps, nil
}

// Compile-time interface check.
var _ domain.PriceStore = (*PriceStore)(nil)
