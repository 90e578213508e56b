package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `slug, condition_id, question, start_time, end_time,
	outcome_1, outcome_2, token_id_1, token_id_2,
	resolved, winning_outcome, trades_fetched, created_at, updated_at`

// Upsert inserts or refreshes a market keyed by slug. The fetch flag and a
// recorded resolution are never cleared by an upsert: discovery may re-see a
// market whose trades were already captured.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			slug, condition_id, question, start_time, end_time,
			outcome_1, outcome_2, token_id_1, token_id_2,
			resolved, winning_outcome, trades_fetched, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, FALSE, NOW(), NOW()
		)
		ON CONFLICT (slug) DO UPDATE SET
			condition_id    = EXCLUDED.condition_id,
			question        = EXCLUDED.question,
			start_time      = EXCLUDED.start_time,
			end_time        = EXCLUDED.end_time,
			outcome_1       = EXCLUDED.outcome_1,
			outcome_2       = EXCLUDED.outcome_2,
			token_id_1      = EXCLUDED.token_id_1,
			token_id_2      = EXCLUDED.token_id_2,
			resolved        = markets.resolved OR EXCLUDED.resolved,
			winning_outcome = COALESCE(markets.winning_outcome, EXCLUDED.winning_outcome),
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.Slug, m.ConditionID, m.Question, m.StartTime, m.EndTime,
		m.Outcomes[0], m.Outcomes[1], m.TokenIDs[0], m.TokenIDs[1],
		m.Resolved, m.WinningOutcome,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Slug, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.Slug, &m.ConditionID, &m.Question, &m.StartTime, &m.EndTime,
		&m.Outcomes[0], &m.Outcomes[1], &m.TokenIDs[0], &m.TokenIDs[1],
		&m.Resolved, &m.WinningOutcome, &m.TradesFetched,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// GetBySlug retrieves a market by its primary key.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE slug = $1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", slug, err)
	}
	return m, nil
}

// ListSlugs returns every known market slug.
func (s *MarketStore) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug FROM markets`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list slugs: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("postgres: scan slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// ListToFetch returns markets with unfetched trades whose end time has
// passed, soonest-ended first.
func (s *MarketStore) ListToFetch(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE NOT trades_fetched AND end_time < $1
		 ORDER BY end_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets to fetch: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets to fetch: %w", err)
	}
	return markets, nil
}

// ListActive returns markets still trading at the given instant.
func (s *MarketStore) ListActive(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE end_time > $1
		 ORDER BY end_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active markets: %w", err)
	}
	return markets, nil
}

// MarkFetched flips trades_fetched and records the resolution when known.
// The flag transitions false to true exactly once; callers never reset it.
func (s *MarketStore) MarkFetched(ctx context.Context, slug string, winningOutcome *string) error {
	const query = `
		UPDATE markets SET
			trades_fetched  = TRUE,
			resolved        = resolved OR $2::BOOLEAN,
			winning_outcome = COALESCE($3, winning_outcome),
			updated_at      = NOW()
		WHERE slug = $1`

	_, err := s.pool.Exec(ctx, query, slug, winningOutcome != nil, winningOutcome)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s fetched: %w", slug, err)
	}
	return nil
}

// ListMissingResolution returns fetched markets that still lack a winning
// outcome, oldest first, for the resolution retry pass.
func (s *MarketStore) ListMissingResolution(ctx context.Context, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE trades_fetched AND winning_outcome IS NULL
		 ORDER BY end_time ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets missing resolution: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets missing resolution: %w", err)
	}
	return markets, nil
}

// RecordResolution sets the winning outcome for an already-fetched market.
func (s *MarketStore) RecordResolution(ctx context.Context, slug, winningOutcome string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET
			resolved        = TRUE,
			winning_outcome = $2,
			updated_at      = NOW()
		 WHERE slug = $1`, slug, winningOutcome)
	if err != nil {
		return fmt.Errorf("postgres: record resolution for %s: %w", slug, err)
	}
	return nil
}

// ListAll returns every market, oldest first. Used by the backup dump.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY end_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan all markets: %w", err)
	}
	return markets, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
