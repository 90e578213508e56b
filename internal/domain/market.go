package domain

import "time"

// SlotInterval is the length of one up/down market: every market opens on a
// 900-second boundary and ends exactly one slot later.
const SlotInterval = 15 * time.Minute

// Market represents one 15-minute binary up/down prediction market. The slug
// encodes the underlying asset and the end timestamp of the slot, e.g.
// "btc-updown-15m-1700000000".
type Market struct {
	Slug           string
	ConditionID    string
	Question       string
	StartTime      time.Time
	EndTime        time.Time
	Outcomes       [2]string // ["Up", "Down"]
	TokenIDs       [2]string // ERC-1155 token IDs, parallel to Outcomes
	Resolved       bool
	WinningOutcome *string // nil until resolution is recorded
	TradesFetched  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the market is still trading at the given instant.
func (m Market) Active(now time.Time) bool {
	return now.Before(m.EndTime)
}

// ReadyAt returns the instant at which the market's trades are considered
// safe to fetch completely. The subgraph can keep indexing fills for a short
// window past the nominal end time, so fetching is deferred by delay.
func (m Market) ReadyAt(delay time.Duration) time.Time {
	return m.EndTime.Add(delay)
}

// TokenOutcome returns the outcome label for the given token ID, or "" when
// the token does not belong to this market.
func (m Market) TokenOutcome(tokenID string) string {
	for i, id := range m.TokenIDs {
		if id == tokenID {
			return m.Outcomes[i]
		}
	}
	return ""
}
