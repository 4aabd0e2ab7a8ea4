package engine

import (
	"testing"
	"time"

	"hedgearb/internal/config"
	"hedgearb/internal/position"
	"hedgearb/internal/venue"
)

func testPolicy() ExitPolicy {
	return PolicyFromConfig(config.Load())
}

func openPosition(t *testing.T, strategy position.StrategyType, entrySpread float64) *position.ArbitragePosition {
	t.Helper()
	p, err := position.New("BTCUSDT", 0.01, 1, strategy,
		position.Leg{VenueID: "aster", Side: venue.Buy},
		position.Leg{VenueID: "backpack", Side: venue.Sell})
	if err != nil {
		t.Fatal(err)
	}
	p.RecordFills(
		venue.OrderStatus{State: venue.StateFilled, AvgPrice: 100, FilledQty: 0.01, RequestedQty: 0.01},
		venue.OrderStatus{State: venue.StateFilled, AvgPrice: 100 + entrySpread, FilledQty: 0.01, RequestedQty: 0.01},
	)
	return p
}

func TestClassifyEntryStrategy(t *testing.T) {
	p := testPolicy()
	if st, ok := p.Classify(80); !ok || st != position.Convergence {
		t.Fatalf("spread 80 should enter convergence, got %v/%v", st, ok)
	}
	if st, ok := p.Classify(-80); !ok || st != position.Convergence {
		t.Fatalf("sign must not matter, got %v/%v", st, ok)
	}
	if st, ok := p.Classify(50); !ok || st != position.Divergence {
		t.Fatalf("spread 50 should enter divergence, got %v/%v", st, ok)
	}
	if _, ok := p.Classify(70); ok {
		t.Fatal("spread between thresholds must not enter")
	}
}

func TestConvergenceClosesOnNarrowing(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Convergence, 100)
	after := pos.EntryTime.Add(pol.MinHold + time.Second)

	// Entry 100, close ratio 0.9: 85 < 90 closes, 95 holds.
	if d := pol.Evaluate(pos, 85, after); d != Close {
		t.Fatalf("spread 85 on entry 100 = %s, want close", d)
	}
	if d := pol.Evaluate(pos, 95, after); d != Hold {
		t.Fatalf("spread 95 on entry 100 = %s, want hold", d)
	}
}

func TestDivergenceClosesOnWidening(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Divergence, 50)
	after := pos.EntryTime.Add(pol.MinHold + time.Second)

	// Entry 50, close ratio 1.1: 56 > 55 closes, 52 holds.
	if d := pol.Evaluate(pos, 56, after); d != Close {
		t.Fatalf("spread 56 on entry 50 = %s, want close", d)
	}
	if d := pol.Evaluate(pos, 52, after); d != Hold {
		t.Fatalf("spread 52 on entry 50 = %s, want hold", d)
	}
}

func TestMinHoldBlocksClose(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Convergence, 100)
	early := pos.EntryTime.Add(pol.MinHold / 2)
	if d := pol.Evaluate(pos, 10, early); d != Hold {
		t.Fatalf("close before min hold = %s, want hold", d)
	}
}

func TestMaxHoldForcesClose(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Convergence, 100)
	late := pos.EntryTime.Add(pol.MaxHold)
	// Spread still favorable, but the ceiling wins.
	if d := pol.Evaluate(pos, 200, late); d != Close {
		t.Fatalf("past max hold = %s, want close", d)
	}
}

func TestAddOnFiresOnceOnFavorableMove(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Convergence, 100)
	after := pos.EntryTime.Add(pol.MinHold + time.Second)

	// 125 >= 120% of entry: add on.
	if d := pol.Evaluate(pos, 125, after); d != AddOn {
		t.Fatalf("spread 125 on entry 100 = %s, want add-on", d)
	}
	if err := pos.FoldAddOn(0.01, 125); err != nil {
		t.Fatal(err)
	}
	// Entry spread is now blended to 112.5; 125 still >= 120% of 112.5 would
	// be false (135 needed), and the add-on budget is spent regardless.
	if d := pol.Evaluate(pos, 200, after); d == AddOn {
		t.Fatal("second add-on must never fire")
	}
}

func TestDivergenceAddOn(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Divergence, 50)
	after := pos.EntryTime.Add(pol.MinHold + time.Second)
	// 38 <= 80% of 50: spread keeps tightening, add on.
	if d := pol.Evaluate(pos, 38, after); d != AddOn {
		t.Fatalf("spread 38 on divergence entry 50 = %s, want add-on", d)
	}
}

func TestVolumePositionClosesAfterMinHold(t *testing.T) {
	pol := testPolicy()
	pos := openPosition(t, position.Volume, 5)
	if d := pol.Evaluate(pos, 5, pos.EntryTime.Add(time.Second)); d != Hold {
		t.Fatalf("volume close before min hold = %s, want hold", d)
	}
	if d := pol.Evaluate(pos, 5, pos.EntryTime.Add(pol.MinHold)); d != Close {
		t.Fatalf("volume after min hold = %s, want close", d)
	}
}
