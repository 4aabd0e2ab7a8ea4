package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"hedgearb/internal/position"
	"hedgearb/internal/venue"
)

func TestRecordAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	pos, err := position.New("BTCUSDT", 0.01, 3, position.Convergence,
		position.Leg{VenueID: "aster", Side: venue.Buy},
		position.Leg{VenueID: "backpack", Side: venue.Sell})
	if err != nil {
		t.Fatal(err)
	}
	pos.RecordFills(
		venue.OrderStatus{State: venue.StateFilled, AvgPrice: 101, FilledQty: 0.01, RequestedQty: 0.01},
		venue.OrderStatus{State: venue.StateFilled, AvgPrice: 210, FilledQty: 0.01, RequestedQty: 0.01},
	)
	pos.RecordExitFills(
		venue.OrderStatus{State: venue.StateFilled, AvgPrice: 105, FilledQty: 0.01, RequestedQty: 0.01},
		venue.OrderStatus{State: venue.StateFilled, AvgPrice: 206, FilledQty: 0.01, RequestedQty: 0.01},
	)
	logger := zerolog.Nop()
	for _, st := range []position.Status{position.StatusOpening, position.StatusOpened, position.StatusClosing, position.StatusClosed} {
		if err := pos.Transition(logger, st); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.RecordPosition(ctx, pos); err != nil {
		t.Fatal(err)
	}
	// Re-recording the same id replaces, not duplicates.
	if err := s.RecordPosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	n, err = s.Count(ctx, string(position.StatusClosed))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("closed count = %d, want 1", n)
	}
	n, err = s.Count(ctx, string(position.StatusFailed))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("failed count = %d, want 0", n)
	}

	// The row carries the realized exit next to the entry.
	var exitSpread float64
	var exitTime int64
	err = s.db.QueryRowContext(ctx,
		`SELECT exit_spread, exit_time FROM positions WHERE id = ?`, pos.ID,
	).Scan(&exitSpread, &exitTime)
	if err != nil {
		t.Fatal(err)
	}
	if exitSpread != 101 {
		t.Fatalf("exit spread = %v, want 101", exitSpread)
	}
	if exitTime == 0 {
		t.Fatal("exit time must be recorded for a closed position")
	}
}

func TestRecordFailedPositionWithoutFills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	pos, err := position.New("BTCUSDT", 0.01, 3, position.Divergence,
		position.Leg{VenueID: "aster", Side: venue.Sell},
		position.Leg{VenueID: "backpack", Side: venue.Buy})
	if err != nil {
		t.Fatal(err)
	}
	if err := pos.Transition(zerolog.Nop(), position.StatusFailed); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordPosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	// Never-filled timestamps are stored as 0, not as the zero-time epoch
	// distance.
	var entryTime, exitTime int64
	err = s.db.QueryRowContext(ctx,
		`SELECT entry_time, exit_time FROM positions WHERE id = ?`, pos.ID,
	).Scan(&entryTime, &exitTime)
	if err != nil {
		t.Fatal(err)
	}
	if entryTime != 0 || exitTime != 0 {
		t.Fatalf("timestamps = %d/%d, want 0/0 for a never-filled position", entryTime, exitTime)
	}
}
