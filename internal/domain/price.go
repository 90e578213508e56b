package domain

import "time"

// PriceSnapshot is one throttled quote row persisted by the price stream.
type PriceSnapshot struct {
	Timestamp  time.Time
	MarketSlug string
	Outcome    string
	Price      float64
	BestBid    float64
	BestAsk    float64
}

// Quote is the freshest known price state for a token, kept unthrottled for
// synchronous status queries and the live dashboard cache.
type Quote struct {
	TokenID    string
	MarketSlug string
	Outcome    string
	Price      float64
	BestBid    float64
	BestAsk    float64
	Timestamp  time.Time
}

// Subscription maps a tradable token to the market and outcome it belongs to.
// The price stream owns the subscription set exclusively.
type Subscription struct {
	MarketSlug string
	Outcome    string
}
