package venue

import (
	"context"
	"sort"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

// OrderState is the internal normalized order status. Venue-specific
// vocabularies are mapped into it by Spec.NormalizeStatus.
type OrderState string

const (
	StateOpen      OrderState = "open"
	StateFilled    OrderState = "filled"
	StateCancelled OrderState = "cancelled"
	StateError     OrderState = "error"
)

type Level struct{ Price, Qty float64 }

// Book is an L2 snapshot: bids descending, asks ascending.
type Book struct {
	VenueID string
	Symbol  string
	Bids    []Level
	Asks    []Level
	Ts      time.Time
}

// Normalize re-sorts both sides; adapters call it when the raw feed gives no
// ordering guarantee.
func (b *Book) Normalize() {
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

func (b Book) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

func (b Book) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Mid returns 0 when either side is empty; callers treat 0 as "skip this tick".
func (b Book) Mid() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Quote is the ephemeral top-of-book view derived from a Book.
type Quote struct {
	VenueID string
	BestBid float64
	BestAsk float64
	Ts      time.Time
}

func (b Book) Quote() Quote {
	return Quote{VenueID: b.VenueID, BestBid: b.BestBid(), BestAsk: b.BestAsk(), Ts: b.Ts}
}

type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       Side
	Qty        float64 // base units; adapters convert to native contract units
	Price      float64 // 0 for market orders
	Type       OrderType
	Leverage   int
	ReduceOnly bool
}

type OrderAck struct {
	OrderID string
	State   OrderState
}

type OrderStatus struct {
	State        OrderState
	FilledQty    float64
	RequestedQty float64
	AvgPrice     float64
}

// Filled reports whether the order is done from the core's point of view:
// either the venue says so, or the filled quantity covers the request.
func (s OrderStatus) Filled() bool {
	if s.State == StateFilled {
		return true
	}
	return s.RequestedQty > 0 && s.FilledQty >= s.RequestedQty
}

type Position struct {
	Symbol string
	Size   float64 // signed: positive long, negative short
}

type Balance struct {
	Asset string
	Free  float64
}

// Adapter is the per-venue capability contract consumed by the core. Adapters
// are stateless command executors; they hold no cycle-specific state and may
// be shared across cycles.
type Adapter interface {
	Name() string
	GetOrderBook(ctx context.Context, symbol string, depth int) (Book, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderStatus, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	Close() error
}

// Optional capability: open-order listing, used by post-cycle verification.
type OpenOrdersQuerier interface {
	GetOpenOrders(ctx context.Context, symbol string) ([]string, error)
}

// Spec is the per-venue instrument policy handed to adapters and the core:
// tick size, contract conversion, optional price band and status vocabulary.
type Spec struct {
	ID           string
	TickSize     float64
	ContractSize float64 // base units per contract; 0 = quantities already in base units
	PriceBandPct float64 // clamp order price to ±pct of last trade; 0 disables
	Vocab        map[string]OrderState
}

// NormalizeStatus maps a raw venue status string into the internal enum.
// Unknown strings degrade to StateError so callers never act on a status
// they cannot interpret.
func (s Spec) NormalizeStatus(raw string) OrderState {
	if st, ok := s.Vocab[raw]; ok {
		return st
	}
	return StateError
}

// SpecFromVocab builds the state mapping out of config's string form.
func SpecFromVocab(id string, tick, contract, band float64, vocab map[string]string) Spec {
	m := make(map[string]OrderState, len(vocab))
	for raw, st := range vocab {
		switch OrderState(st) {
		case StateOpen, StateFilled, StateCancelled, StateError:
			m[raw] = OrderState(st)
		}
	}
	return Spec{ID: id, TickSize: tick, ContractSize: contract, PriceBandPct: band, Vocab: m}
}
