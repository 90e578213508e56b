package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each token's
// latest quote is stored at key "quote:{tokenID}" with per-field values, so
// the dashboard read path never touches the relational store. Writes are
// unthrottled: every book event overwrites the hash.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Entries
// expire after ttl so tokens from long-ended markets age out on their own;
// a zero ttl disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(tokenID string) string {
	return "quote:" + tokenID
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SetQuote stores the latest quote for a token.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.TokenID)
	fields := map[string]interface{}{
		"market":   q.MarketSlug,
		"outcome":  q.Outcome,
		"price":    formatFloat(q.Price),
		"best_bid": formatFloat(q.BestBid),
		"best_ask": formatFloat(q.BestAsk),
		"ts":       strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.TokenID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a token. It returns
// domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, tokenID string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(tokenID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{
		TokenID:    tokenID,
		MarketSlug: vals["market"],
		Outcome:    vals["outcome"],
	}

	if q.Price, err = strconv.ParseFloat(vals["price"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote price %s: %w", tokenID, err)
	}
	if q.BestBid, err = strconv.ParseFloat(vals["best_bid"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote best_bid %s: %w", tokenID, err)
	}
	if q.BestAsk, err = strconv.ParseFloat(vals["best_ask"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote best_ask %s: %w", tokenID, err)
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts %s: %w", tokenID, err)
	}
	q.Timestamp = time.Unix(0, tsNano)

	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
