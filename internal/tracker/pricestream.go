package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quarterlab/updown-tracker/internal/domain"
	"github.com/quarterlab/updown-tracker/internal/notify"
	"github.com/quarterlab/updown-tracker/internal/platform/polymarket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectFloor and reconnectCeil bound the exponential backoff between
	// connection attempts. A successful connection resets the delay to the
	// floor.
	reconnectFloor = 1 * time.Second
	reconnectCeil  = 30 * time.Second
)

// eventNotifier is the slice of the notifier the stream needs.
type eventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// backoff produces exponentially increasing delays between a floor and a
// ceiling.
type backoff struct {
	floor, ceil time.Duration
	next        time.Duration
}

func newBackoff(floor, ceil time.Duration) *backoff {
	return &backoff{floor: floor, ceil: ceil, next: floor}
}

// Next returns the current delay and doubles the next one up to the ceiling.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.ceil {
		b.next = b.ceil
	}
	return d
}

// Reset drops the next delay back to the floor.
func (b *backoff) Reset() {
	b.next = b.floor
}

// PriceStream maintains one live connection to the CLOB market channel,
// multiplexes subscriptions for many outcome tokens, and persists throttled
// price snapshots. Subscribe/Unsubscribe are synchronous, idempotent, and
// safe to call in any connection state: the set is flushed as one subscribe
// message on every (re)connect. The subscription set is owned exclusively by
// this component.
type PriceStream struct {
	wsURL        string
	saveInterval time.Duration
	prices       domain.PriceStore
	quotes       domain.QuoteCache // optional
	notifier     eventNotifier     // optional
	logger       *slog.Logger

	// mu guards subs and conn. gorilla/websocket allows one concurrent
	// writer, so every write goes through it too.
	mu   sync.Mutex
	subs map[string]domain.Subscription
	conn *websocket.Conn

	// trackMu guards the latest-quote map and the per-token throttle clock.
	trackMu   sync.Mutex
	latest    map[string]domain.Quote
	lastSaved map[string]time.Time
}

// NewPriceStream creates a PriceStream. quotes and notifier may be nil.
func NewPriceStream(
	wsURL string,
	prices domain.PriceStore,
	quotes domain.QuoteCache,
	saveInterval time.Duration,
	notifier eventNotifier,
	logger *slog.Logger,
) *PriceStream {
	return &PriceStream{
		wsURL:        wsURL,
		saveInterval: saveInterval,
		prices:       prices,
		quotes:       quotes,
		notifier:     notifier,
		logger:       logger.With(slog.String("component", "pricestream")),
		subs:         make(map[string]domain.Subscription),
		latest:       make(map[string]domain.Quote),
		lastSaved:    make(map[string]time.Time),
	}
}

// Subscribe adds a token to the subscription set and pushes the updated set
// when connected. Re-subscribing an already-tracked token is a no-op.
func (s *PriceStream) Subscribe(tokenID, marketSlug, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[tokenID]; ok {
		return
	}
	s.subs[tokenID] = domain.Subscription{MarketSlug: marketSlug, Outcome: outcome}
	s.pushSubscriptionsLocked()
}

// Unsubscribe removes a token from the subscription set. Events for the token
// still in flight are dropped as unknown. Tracking state for the token is
// released.
func (s *PriceStream) Unsubscribe(tokenID string) {
	s.mu.Lock()
	if _, ok := s.subs[tokenID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, tokenID)
	s.pushSubscriptionsLocked()
	s.mu.Unlock()

	s.trackMu.Lock()
	delete(s.latest, tokenID)
	delete(s.lastSaved, tokenID)
	s.trackMu.Unlock()
}

// Latest returns the freshest in-memory quote for a token, unthrottled.
func (s *PriceStream) Latest(tokenID string) (domain.Quote, bool) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	q, ok := s.latest[tokenID]
	return q, ok
}

// SubscriptionCount reports the current size of the subscription set.
func (s *PriceStream) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Run drives the connect/read/reconnect loop until ctx is cancelled. Each
// disconnect doubles the retry delay from 1s up to 30s; a successful connect
// resets it.
func (s *PriceStream) Run(ctx context.Context) error {
	bo := newBackoff(reconnectFloor, reconnectCeil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			// The attempt got through the dial before dropping, so the next
			// failure starts the ladder over.
			bo.Reset()
		}

		delay := bo.Next()
		s.logger.Warn("price stream disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, notify.EventStreamDown,
				"Price stream disconnected", err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection dials once, flushes the subscription set, and reads frames
// until the connection drops or ctx is cancelled. connected reports whether
// the dial succeeded.
func (s *PriceStream) runConnection(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return false, err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.pushSubscriptionsLocked()
	count := len(s.subs)
	s.mu.Unlock()

	s.logger.Info("price stream connected", slog.Int("subscriptions", count))

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()
			return true, err
		}
		s.handleFrame(ctx, raw)
	}
}

// pingLoop keeps the connection alive for its lifetime.
func (s *PriceStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// pushSubscriptionsLocked sends the full current set as one market-channel
// subscribe message; the server replaces its set with the payload, so an
// empty set is pushed too to stop the feed after the last unsubscribe. No-op
// when disconnected (the set is flushed on the next connect). Caller holds
// s.mu.
func (s *PriceStream) pushSubscriptionsLocked() {
	if s.conn == nil {
		return
	}

	msg := polymarket.WSSubscribe{Type: "market", AssetIDs: make([]string, 0, len(s.subs))}
	for tokenID := range s.subs {
		msg.AssetIDs = append(msg.AssetIDs, tokenID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal subscribe message", slog.String("error", err.Error()))
		return
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("push subscriptions failed", slog.String("error", err.Error()))
	}
}

// handleFrame decodes one inbound frame and applies every event it carries.
// Unknown event shapes are ignored.
func (s *PriceStream) handleFrame(ctx context.Context, raw []byte) {
	for _, ev := range polymarket.ParseWSEvents(raw) {
		ts := polymarket.EventTime(ev.Timestamp)

		switch ev.EventType {
		case "price_change":
			if len(ev.Changes) > 0 {
				for _, ch := range ev.Changes {
					s.applyQuote(ctx, ch.AssetID, ch.Price, ch.BestBid, ch.BestAsk, ts)
				}
				continue
			}
			s.applyQuote(ctx, ev.AssetID, ev.Price, ev.BestBid, ev.BestAsk, ts)

		case "book":
			bid, ask, ok := bestOfBook(ev.Bids, ev.Asks)
			if !ok {
				continue
			}
			mid := (bid + ask) / 2
			s.applyParsedQuote(ctx, ev.AssetID, mid, bid, ask, ts)
		}
	}
}

// applyQuote parses the string-encoded fields and applies the quote. A
// malformed price drops the event; missing bid/ask default to zero.
func (s *PriceStream) applyQuote(ctx context.Context, tokenID, price, bid, ask string, ts time.Time) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return
	}
	b, _ := strconv.ParseFloat(bid, 64)
	a, _ := strconv.ParseFloat(ask, 64)
	s.applyParsedQuote(ctx, tokenID, p, b, a, ts)
}

// applyParsedQuote updates the in-memory quote, writes through to the quote
// cache, and persists a snapshot when the token's throttle interval has
// elapsed. Events for tokens outside the subscription set are dropped: they
// belong to a just-unsubscribed market.
func (s *PriceStream) applyParsedQuote(ctx context.Context, tokenID string, price, bid, ask float64, ts time.Time) {
	s.mu.Lock()
	sub, ok := s.subs[tokenID]
	s.mu.Unlock()
	if !ok {
		return
	}

	q := domain.Quote{
		TokenID:    tokenID,
		MarketSlug: sub.MarketSlug,
		Outcome:    sub.Outcome,
		Price:      price,
		BestBid:    bid,
		BestAsk:    ask,
		Timestamp:  ts,
	}

	s.trackMu.Lock()
	s.latest[tokenID] = q
	last := s.lastSaved[tokenID]
	persist := ts.Sub(last) >= s.saveInterval
	if persist {
		s.lastSaved[tokenID] = ts
	}
	s.trackMu.Unlock()

	if s.quotes != nil {
		if err := s.quotes.SetQuote(ctx, q); err != nil {
			s.logger.Warn("quote cache write failed",
				slog.String("token", tokenID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !persist {
		return
	}
	snap := domain.PriceSnapshot{
		Timestamp:  ts,
		MarketSlug: sub.MarketSlug,
		Outcome:    sub.Outcome,
		Price:      price,
		BestBid:    bid,
		BestAsk:    ask,
	}
	if err := s.prices.Insert(ctx, snap); err != nil {
		s.logger.Error("persist price snapshot failed",
			slog.String("market", sub.MarketSlug),
			slog.String("outcome", sub.Outcome),
			slog.String("error", err.Error()),
		)
	}
}

// bestOfBook extracts the highest bid and lowest ask from a book snapshot.
func bestOfBook(bids, asks []polymarket.WSPriceLevel) (bestBid, bestAsk float64, ok bool) {
	for _, lvl := range bids {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if p > bestBid {
			bestBid = p
		}
	}
	for _, lvl := range asks {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid, bestAsk, bestBid > 0 && bestAsk > 0
}
