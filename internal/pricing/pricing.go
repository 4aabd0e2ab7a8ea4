package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hedgearb/internal/venue"
)

// Tier selects how aggressively an order is priced against the book.
type Tier string

const (
	// Maker joins the passive queue: bid for a buy, ask for a sell.
	Maker Tier = "maker"
	// Taker crosses the book at the touch: ask for a buy, bid for a sell.
	Taker Tier = "taker"
	// EscalatedTaker punches through several levels so the order survives
	// book movement during the request round-trip.
	EscalatedTaker Tier = "escalated-taker"
)

// MakerPrice returns the passive price for the side, or an error when the
// relevant side of the book is empty.
func MakerPrice(book venue.Book, side venue.Side) (float64, error) {
	var p float64
	if side == venue.Buy {
		p = book.BestBid()
	} else {
		p = book.BestAsk()
	}
	if p <= 0 {
		return 0, fmt.Errorf("pricing: no %s maker level on %s", side, book.VenueID)
	}
	return p, nil
}

// TakerPrice returns the crossing price for the side.
func TakerPrice(book venue.Book, side venue.Side) (float64, error) {
	var p float64
	if side == venue.Buy {
		p = book.BestAsk()
	} else {
		p = book.BestBid()
	}
	if p <= 0 {
		return 0, fmt.Errorf("pricing: no %s taker level on %s", side, book.VenueID)
	}
	return p, nil
}

// EscalatedPrice walks depth levels into the opposing side and prices at that
// level. When the book is shallower than requested it instead applies
// bufferPct beyond the worst visible level, so the order still punches
// through whatever liquidity exists.
func EscalatedPrice(book venue.Book, side venue.Side, depth int, bufferPct float64) (float64, error) {
	levels := book.Asks
	if side == venue.Sell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 0, fmt.Errorf("pricing: no %s liquidity on %s", side, book.VenueID)
	}
	if depth < 1 {
		depth = 1
	}
	if depth <= len(levels) {
		return levels[depth-1].Price, nil
	}
	worst := levels[len(levels)-1].Price
	if side == venue.Buy {
		return worst * (1 + bufferPct/100), nil
	}
	return worst * (1 - bufferPct/100), nil
}

// RoundToTick snaps price onto the venue tick grid, rounding toward the
// passive side: buys round down, sells round up, so rounding never makes an
// order more aggressive than the caller priced it. Float ticks like 0.1 do
// not divide cleanly in binary, hence the decimal arithmetic.
func RoundToTick(price float64, side venue.Side, tick float64) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	steps := p.Div(t)
	if side == venue.Buy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	out, _ := steps.Mul(t).Float64()
	return out
}

// ClampToBand bounds price into ±spec.PriceBandPct around ref (typically the
// venue's last trade price). Venues with a band reject orders priced outside
// it, so the clamp turns a rejection into a fill at the band edge. A zero
// band or zero ref disables the clamp.
func ClampToBand(price, ref float64, spec venue.Spec) float64 {
	if spec.PriceBandPct <= 0 || ref <= 0 {
		return price
	}
	pct := decimal.NewFromFloat(spec.PriceBandPct).Div(decimal.NewFromInt(100))
	r := decimal.NewFromFloat(ref)
	lo := r.Mul(decimal.NewFromInt(1).Sub(pct))
	hi := r.Mul(decimal.NewFromInt(1).Add(pct))
	p := decimal.NewFromFloat(price)
	if p.LessThan(lo) {
		p = lo
	} else if p.GreaterThan(hi) {
		p = hi
	}
	out, _ := p.Float64()
	return out
}

// ToContracts converts a base-unit quantity into the venue's native contract
// count. Venues quoting directly in base units carry ContractSize 0.
func ToContracts(qty float64, spec venue.Spec) float64 {
	if spec.ContractSize <= 0 {
		return qty
	}
	out, _ := decimal.NewFromFloat(qty).Div(decimal.NewFromFloat(spec.ContractSize)).Float64()
	return out
}

// FromContracts is the inverse of ToContracts, used when reading venue
// position sizes back into base units.
func FromContracts(contracts float64, spec venue.Spec) float64 {
	if spec.ContractSize <= 0 {
		return contracts
	}
	out, _ := decimal.NewFromFloat(contracts).Mul(decimal.NewFromFloat(spec.ContractSize)).Float64()
	return out
}

// ForTier dispatches to the tier-specific price and applies tick rounding.
func ForTier(book venue.Book, side venue.Side, tier Tier, depth int, bufferPct, tick float64) (float64, error) {
	var (
		p   float64
		err error
	)
	switch tier {
	case Maker:
		p, err = MakerPrice(book, side)
	case Taker:
		p, err = TakerPrice(book, side)
	case EscalatedTaker:
		p, err = EscalatedPrice(book, side, depth, bufferPct)
	default:
		return 0, fmt.Errorf("pricing: unknown tier %q", tier)
	}
	if err != nil {
		return 0, err
	}
	return RoundToTick(p, side, tick), nil
}
