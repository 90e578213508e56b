package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// resolvedPriceEpsilon: the Gamma API reports a settled winner as an outcome
// price of "1" (occasionally "0.999..." during settlement propagation).
const resolvedPriceEpsilon = 0.01

// APIMarket is a market object as returned by the Gamma API. Several list
// fields arrive JSON-encoded inside strings, e.g. "[\"Up\",\"Down\"]".
type APIMarket struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	ConditionID   string `json:"conditionId"`
	Slug          string `json:"slug"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	Closed        bool   `json:"closed"`
	Active        bool   `json:"active"`
}

// parseStringArray decodes a JSON-encoded string array field such as
// Outcomes or ClobTokenIDs. Malformed input yields an empty slice.
func parseStringArray(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// WinningOutcome returns the outcome whose resolved price equals 1.0, or ""
// when the market has not settled (or prices are not yet propagated).
func (m *APIMarket) WinningOutcome() string {
	outcomes := parseStringArray(m.Outcomes)
	prices := parseStringArray(m.OutcomePrices)
	if len(outcomes) != len(prices) {
		return ""
	}
	for i, p := range prices {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		if v >= 1.0-resolvedPriceEpsilon {
			return outcomes[i]
		}
	}
	return ""
}

// ToDomainMarket converts a Gamma APIMarket into a domain.Market. Token IDs
// are parallel to outcomes; markets without exactly two of each are rejected
// by the caller.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		Question:    m.Question,
	}

	outcomes := parseStringArray(m.Outcomes)
	tokens := parseStringArray(m.ClobTokenIDs)
	for i := 0; i < 2 && i < len(outcomes); i++ {
		dm.Outcomes[i] = outcomes[i]
	}
	for i := 0; i < 2 && i < len(tokens); i++ {
		dm.TokenIDs[i] = tokens[i]
	}

	if t, err := time.Parse(time.RFC3339, m.StartDate); err == nil {
		dm.StartTime = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		dm.EndTime = t.UTC()
	}

	if w := m.WinningOutcome(); m.Closed && w != "" {
		dm.Resolved = true
		dm.WinningOutcome = &w
	}

	return dm
}

// Complete reports whether the API payload carries everything the tracker
// needs to register the market: both token IDs, both outcomes, and an end
// time.
func (m *APIMarket) Complete() bool {
	return len(parseStringArray(m.ClobTokenIDs)) == 2 &&
		len(parseStringArray(m.Outcomes)) == 2 &&
		m.EndDate != ""
}

// --------------------------------------------------------------------------
// WebSocket DTOs (CLOB market channel)
// --------------------------------------------------------------------------

// WSSubscribe is the JSON payload sent to the market channel to replace the
// current subscription set with the given token IDs.
type WSSubscribe struct {
	Type     string   `json:"type"` // always "market"
	AssetIDs []string `json:"assets_ids"`
}

// WSEvent is the envelope shared by every inbound frame. Frames arrive
// either as a single object or as a JSON array of objects.
type WSEvent struct {
	EventType string `json:"event_type"` // "price_change", "book", others ignored
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"` // milliseconds

	// price_change payload
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`

	// price_change batch payload (newer feed shape)
	Changes []WSPriceChange `json:"price_changes"`

	// book payload
	Bids []WSPriceLevel `json:"bids"`
	Asks []WSPriceLevel `json:"asks"`
}

// WSPriceChange is one asset update inside a batched price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSPriceLevel is a single bid/ask level in a book snapshot.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ParseWSEvents decodes a raw frame into a slice of events, accepting both a
// bare object and an array of objects. Unparseable frames yield nil.
func ParseWSEvents(raw []byte) []WSEvent {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var events []WSEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil
		}
		return events
	}
	var ev WSEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	return []WSEvent{ev}
}

// EventTime converts the millisecond timestamp string carried by feed events.
// A missing or malformed timestamp falls back to the current time.
func EventTime(ms string) time.Time {
	if n, err := strconv.ParseInt(ms, 10, 64); err == nil && n > 0 {
		return time.UnixMilli(n).UTC()
	}
	return time.Now().UTC()
}
