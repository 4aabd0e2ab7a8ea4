// Package feed keeps a venue's orderbook cache warm from a websocket depth
// stream, so decision ticks can run off pushed data instead of REST polls.
// The REST path stays as fallback: a cache miss after the TTL simply fetches.
package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"hedgearb/internal/infra/log"
	"hedgearb/internal/infra/network"
	"hedgearb/internal/venue"
)

// Config describes one venue stream. SubscribeMsg, when non-nil, is sent as
// JSON right after the dial; venues that encode the subscription in the URL
// leave it nil.
type Config struct {
	VenueID      string
	URL          string
	Symbol       string
	SubscribeMsg any
}

type Feeder struct {
	cfg    Config
	cache  *venue.BookCache
	logger log.Logger
}

func New(cfg Config, cache *venue.BookCache, logger log.Logger) *Feeder {
	return &Feeder{cfg: cfg, cache: cache, logger: logger}
}

// Run dials the stream and pumps depth updates into the cache until the
// context ends. Connection drops reconnect with exponential backoff; the
// retry counter resets after a healthy read.
func (f *Feeder) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.runConn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := network.Backoff(retry)
			retry++
			f.logger.Warn().Err(err).
				Str("venue", f.cfg.VenueID).
				Dur("backoff", wait).
				Msg("book stream dropped, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		retry = 0
	}
}

func (f *Feeder) runConn(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if f.cfg.SubscribeMsg != nil {
		if err := conn.WriteJSON(f.cfg.SubscribeMsg); err != nil {
			return err
		}
	}
	f.logger.Info().Str("venue", f.cfg.VenueID).Msg("book stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		book, ok := ParseDepth(msg)
		if !ok {
			continue
		}
		book.VenueID = f.cfg.VenueID
		book.Symbol = f.cfg.Symbol
		f.cache.Put(book)
	}
}

// depthMsg covers both common wire shapes: full keys ("bids"/"asks") and the
// binance stream short keys ("b"/"a"). Payloads nested under "data" are
// unwrapped first.
type depthMsg struct {
	Data json.RawMessage `json:"data"`
	Bids [][]string      `json:"bids"`
	Asks [][]string      `json:"asks"`
	B    [][]string      `json:"b"`
	A    [][]string      `json:"a"`
}

// ParseDepth extracts a book from a raw stream message. Messages that carry
// no depth payload (subscription acks, pings) return ok=false.
func ParseDepth(msg []byte) (venue.Book, bool) {
	var m depthMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return venue.Book{}, false
	}
	if len(m.Data) > 0 {
		inner := m.Data
		m = depthMsg{}
		if err := json.Unmarshal(inner, &m); err != nil {
			return venue.Book{}, false
		}
	}
	bids, asks := m.Bids, m.Asks
	if len(bids) == 0 && len(asks) == 0 {
		bids, asks = m.B, m.A
	}
	if len(bids) == 0 && len(asks) == 0 {
		return venue.Book{}, false
	}
	b := venue.Book{Ts: time.Now(), Bids: parseLevels(bids), Asks: parseLevels(asks)}
	b.Normalize()
	return b, true
}

func parseLevels(raw [][]string) []venue.Level {
	out := make([]venue.Level, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		p, _ := strconv.ParseFloat(lv[0], 64)
		q, _ := strconv.ParseFloat(lv[1], 64)
		if p > 0 && q > 0 {
			out = append(out, venue.Level{Price: p, Qty: q})
		}
	}
	return out
}
