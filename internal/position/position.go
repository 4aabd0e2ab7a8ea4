package position

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"hedgearb/internal/infra/log"
	"hedgearb/internal/venue"
)

// Status is the lifecycle state of an arbitrage position. Transitions are
// validated; an illegal transition is a programming error surfaced loudly
// rather than silently absorbed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusOpening    Status = "opening"
	StatusHedging    Status = "hedging"
	StatusOpened     Status = "opened"
	StatusMonitoring Status = "monitoring"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusOpening, StatusFailed},
	StatusOpening:    {StatusHedging, StatusOpened, StatusFailed},
	StatusHedging:    {StatusOpened, StatusFailed},
	StatusOpened:     {StatusMonitoring, StatusClosing, StatusFailed},
	StatusMonitoring: {StatusClosing, StatusFailed},
	StatusClosing:    {StatusClosed, StatusFailed},
}

// Terminal reports whether the position has left the active set.
func (s Status) Terminal() bool { return s == StatusClosed || s == StatusFailed }

// StrategyType records why the position was opened.
type StrategyType string

const (
	Convergence StrategyType = "convergence"
	Divergence  StrategyType = "divergence"
	Volume      StrategyType = "volume"
)

// Leg is one side of the matched pair.
type Leg struct {
	VenueID    string
	Side       venue.Side
	OrderID    string
	EntryPrice float64
	ExitPrice  float64
	FilledQty  float64
}

// ArbitragePosition is a matched pair of opposite-side legs across two
// venues. All mutation goes through methods; Status is only changed by
// Transition so the log carries every state change.
type ArbitragePosition struct {
	mu sync.Mutex

	ID          string
	Symbol      string
	Quantity    float64
	Leverage    int
	LegA        Leg
	LegB        Leg
	EntrySpread float64
	EntryTime   time.Time
	ExitSpread  float64
	ExitTime    time.Time
	Strategy    StrategyType
	Status      Status

	addOns int
}

// New builds a pending position. Sides must oppose each other to keep net
// exposure zero.
func New(symbol string, qty float64, leverage int, strategy StrategyType, legA, legB Leg) (*ArbitragePosition, error) {
	if legA.Side == legB.Side {
		return nil, fmt.Errorf("position: legs must take opposite sides, both are %s", legA.Side)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("position: quantity must be positive, got %v", qty)
	}
	return &ArbitragePosition{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Quantity: qty,
		Leverage: leverage,
		LegA:     legA,
		LegB:     legB,
		Strategy: strategy,
		Status:   StatusPending,
	}, nil
}

// Transition moves the position to the next status, validating against the
// transition table and logging the move. Returns an error on an illegal
// transition without mutating state.
func (p *ArbitragePosition) Transition(logger log.Logger, to Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.Status
	if !allowed(from, to) {
		return fmt.Errorf("position %s: illegal transition %s -> %s", p.ID, from, to)
	}
	p.Status = to
	logger.Info().
		Str("position_id", p.ID).
		Str("symbol", p.Symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("position transition")
	return nil
}

func allowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CurrentStatus returns the status under the lock; Status field reads in
// tests are fine single-threaded but the monitor goroutines go through this.
func (p *ArbitragePosition) CurrentStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Status
}

// RecordFills stores both confirmed fills and recomputes the entry spread
// from the prices that actually executed rather than the ones quoted at
// decision time.
func (p *ArbitragePosition) RecordFills(fillA, fillB venue.OrderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LegA.EntryPrice = fillA.AvgPrice
	p.LegA.FilledQty = fillA.FilledQty
	p.LegB.EntryPrice = fillB.AvgPrice
	p.LegB.FilledQty = fillB.FilledQty
	p.EntrySpread = math.Abs(fillA.AvgPrice - fillB.AvgPrice)
	p.EntryTime = time.Now()
}

// RecordExitFills stores both confirmed exit fills so a closed position
// carries the realized exit spread alongside the entry.
func (p *ArbitragePosition) RecordExitFills(fillA, fillB venue.OrderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LegA.ExitPrice = fillA.AvgPrice
	p.LegB.ExitPrice = fillB.AvgPrice
	p.ExitSpread = math.Abs(fillA.AvgPrice - fillB.AvgPrice)
	p.ExitTime = time.Now()
}

// AssignOrders stores the venue order ids for both legs once placement acks.
func (p *ArbitragePosition) AssignOrders(orderA, orderB string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LegA.OrderID = orderA
	p.LegB.OrderID = orderB
}

// CanAddOn reports whether the one-per-position add-on is still available.
func (p *ArbitragePosition) CanAddOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addOns == 0
}

// FoldAddOn merges an executed add-on into the position: quantity increases
// and the entry spread becomes the quantity-weighted blend of old and new.
// A second add-on is rejected.
func (p *ArbitragePosition) FoldAddOn(qty, spread float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addOns > 0 {
		return fmt.Errorf("position %s: add-on already used", p.ID)
	}
	if qty <= 0 {
		return fmt.Errorf("position %s: add-on quantity must be positive, got %v", p.ID, qty)
	}
	total := p.Quantity + qty
	p.EntrySpread = (p.EntrySpread*p.Quantity + spread*qty) / total
	p.Quantity = total
	p.addOns++
	return nil
}

// NetExposure is the signed base-quantity imbalance between the two legs.
// Zero means delta neutral.
func (p *ArbitragePosition) NetExposure() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, b := p.LegA.FilledQty, p.LegB.FilledQty
	if p.LegA.Side == venue.Sell {
		a = -a
	}
	if p.LegB.Side == venue.Sell {
		b = -b
	}
	return a + b
}

// HeldFor returns how long the position has been open. Zero before fills
// confirm.
func (p *ArbitragePosition) HeldFor(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}
