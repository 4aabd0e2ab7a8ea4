package pricing

import (
	"math"
	"testing"

	"hedgearb/internal/venue"
)

func testBook() venue.Book {
	return venue.Book{
		VenueID: "x",
		Bids: []venue.Level{
			{Price: 100.0, Qty: 1}, {Price: 99.9, Qty: 1}, {Price: 99.8, Qty: 1},
		},
		Asks: []venue.Level{
			{Price: 100.2, Qty: 1}, {Price: 100.3, Qty: 1}, {Price: 100.4, Qty: 1},
		},
	}
}

func TestMakerAndTakerPrices(t *testing.T) {
	b := testBook()
	if p, _ := MakerPrice(b, venue.Buy); p != 100.0 {
		t.Fatalf("maker buy = %v, want 100.0", p)
	}
	if p, _ := MakerPrice(b, venue.Sell); p != 100.2 {
		t.Fatalf("maker sell = %v, want 100.2", p)
	}
	if p, _ := TakerPrice(b, venue.Buy); p != 100.2 {
		t.Fatalf("taker buy = %v, want 100.2", p)
	}
	if p, _ := TakerPrice(b, venue.Sell); p != 100.0 {
		t.Fatalf("taker sell = %v, want 100.0", p)
	}
	if _, err := TakerPrice(venue.Book{}, venue.Buy); err == nil {
		t.Fatal("empty book must error")
	}
}

func TestEscalatedPriceWalksLevels(t *testing.T) {
	b := testBook()
	if p, _ := EscalatedPrice(b, venue.Buy, 3, 0.1); p != 100.4 {
		t.Fatalf("escalated buy depth 3 = %v, want 100.4", p)
	}
	if p, _ := EscalatedPrice(b, venue.Sell, 2, 0.1); p != 99.9 {
		t.Fatalf("escalated sell depth 2 = %v, want 99.9", p)
	}
}

func TestEscalatedPriceBuffersShallowBook(t *testing.T) {
	b := testBook()
	// Requesting depth 5 from a 3-level book applies the buffer beyond the
	// worst visible level instead.
	p, err := EscalatedPrice(b, venue.Buy, 5, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	want := 100.4 * 1.001
	if math.Abs(p-want) > 1e-9 {
		t.Fatalf("buffered buy = %v, want %v", p, want)
	}
	p, _ = EscalatedPrice(b, venue.Sell, 5, 0.1)
	want = 99.8 * 0.999
	if math.Abs(p-want) > 1e-9 {
		t.Fatalf("buffered sell = %v, want %v", p, want)
	}
}

func TestRoundToTickIsSideAware(t *testing.T) {
	// 100.37 on a 0.1 grid: a buy must not round up past the priced level.
	if got := RoundToTick(100.37, venue.Buy, 0.1); got != 100.3 {
		t.Fatalf("buy round = %v, want 100.3", got)
	}
	if got := RoundToTick(100.31, venue.Sell, 0.1); got != 100.4 {
		t.Fatalf("sell round = %v, want 100.4", got)
	}
	// Already on-grid values pass through exactly despite binary float ticks.
	if got := RoundToTick(100.3, venue.Buy, 0.1); got != 100.3 {
		t.Fatalf("on-grid buy = %v, want 100.3", got)
	}
	if got := RoundToTick(100.3, venue.Sell, 0.1); got != 100.3 {
		t.Fatalf("on-grid sell = %v, want 100.3", got)
	}
	if got := RoundToTick(42.0, venue.Buy, 0); got != 42.0 {
		t.Fatalf("zero tick must pass through, got %v", got)
	}
}

func TestClampToBand(t *testing.T) {
	spec := venue.Spec{ID: "bp", PriceBandPct: 24}
	ref := 100.0
	if got := ClampToBand(130, ref, spec); got != 124 {
		t.Fatalf("high clamp = %v, want 124", got)
	}
	if got := ClampToBand(70, ref, spec); got != 76 {
		t.Fatalf("low clamp = %v, want 76", got)
	}
	if got := ClampToBand(110, ref, spec); got != 110 {
		t.Fatalf("in-band price must pass through, got %v", got)
	}
	if got := ClampToBand(130, ref, venue.Spec{}); got != 130 {
		t.Fatalf("zero band must disable clamp, got %v", got)
	}
}

func TestContractConversion(t *testing.T) {
	spec := venue.Spec{ID: "x", ContractSize: 0.01}
	if got := ToContracts(0.05, spec); got != 5 {
		t.Fatalf("0.05 base / 0.01 contract = %v, want 5", got)
	}
	if got := FromContracts(5, spec); got != 0.05 {
		t.Fatalf("5 contracts * 0.01 = %v, want 0.05", got)
	}
	// Base-unit venues pass quantities through untouched.
	if got := ToContracts(0.05, venue.Spec{}); got != 0.05 {
		t.Fatalf("base-unit venue changed qty: %v", got)
	}
}

func TestForTierRoundsResult(t *testing.T) {
	b := venue.Book{
		VenueID: "x",
		Bids:    []venue.Level{{Price: 100.07, Qty: 1}},
		Asks:    []venue.Level{{Price: 100.23, Qty: 1}},
	}
	p, err := ForTier(b, venue.Buy, Taker, 0, 0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if p != 100.2 {
		t.Fatalf("taker buy rounded = %v, want 100.2", p)
	}
	if _, err := ForTier(b, venue.Buy, Tier("nope"), 0, 0, 0.1); err == nil {
		t.Fatal("unknown tier must error")
	}
}
