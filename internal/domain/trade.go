package domain

import (
	"fmt"
	"time"
)

// Trade roles and sides. A tracked wallet can appear on either side of a fill
// in either role, which is why the fetcher issues one query per combination.
const (
	RoleMaker = "maker"
	RoleTaker = "taker"

	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is one wallet's leg of an on-chain order fill, enriched with market
// metadata. ID is derived from the fill event identifier plus wallet and role,
// so re-inserting the same fill is a no-op under the uniqueness constraint.
type Trade struct {
	ID         string
	Timestamp  time.Time
	MarketSlug string
	Wallet     string
	Role       string // RoleMaker or RoleTaker
	Side       string // SideBuy or SideSell
	Outcome    string // "Up" or "Down"
	Shares     float64
	Price      float64
	USDCSize   float64
	TxHash     string
}

// TradeID builds the unique trade identifier for a (fill, wallet, role)
// tuple. The fill event ID already encodes transaction hash and log index.
func TradeID(fillID, wallet, role string) string {
	return fmt.Sprintf("%s:%s:%s", fillID, wallet, role)
}

// RawFill is an on-chain OrderFilled event as indexed by the subgraph.
// Amounts are fixed-point with 6 decimals (USDC and CTF share units).
type RawFill struct {
	ID                string // "<txHash>_<logIndex>", strictly increasing per query order
	TransactionHash   string
	Timestamp         int64
	Maker             string
	Taker             string
	MakerAssetID      string
	TakerAssetID      string
	MakerAmountFilled int64
	TakerAmountFilled int64
	Fee               int64
}
