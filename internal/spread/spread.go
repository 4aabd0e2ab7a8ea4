package spread

import (
	"context"

	"golang.org/x/sync/errgroup"

	"hedgearb/internal/venue"
)

// Snapshot holds both directional spreads and each venue's mid price for one
// decision tick. Direction 1 buys on A and sells on B; direction 2 the
// reverse. A zero mid on either side marks the snapshot degenerate.
type Snapshot struct {
	ABuyBSell float64 // B.bid - A.ask
	BBuyASell float64 // A.bid - B.ask
	Best      float64
	MidA      float64
	MidB      float64
	QuoteA    venue.Quote
	QuoteB    venue.Quote
}

// Degenerate reports that at least one book was empty or one-sided and the
// caller must skip the decision for this tick.
func (s Snapshot) Degenerate() bool { return s.MidA == 0 || s.MidB == 0 }

type Calculator struct {
	a, b       venue.Adapter
	symA, symB string
	depth      int
	cache      *venue.BookCache
}

func NewCalculator(a, b venue.Adapter, symA, symB string, depth int, cache *venue.BookCache) *Calculator {
	return &Calculator{a: a, b: b, symA: symA, symB: symB, depth: depth, cache: cache}
}

// Snapshot fetches both books concurrently and derives the spreads. The
// concurrent fetch is a correctness requirement: a sequential fetch widens
// the window over which the computed spread is stale.
func (c *Calculator) Snapshot(ctx context.Context) (Snapshot, error) {
	var bookA, bookB venue.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bookA, err = c.cache.Fetch(gctx, c.a, c.symA, c.depth)
		return err
	})
	g.Go(func() error {
		var err error
		bookB, err = c.cache.Fetch(gctx, c.b, c.symB, c.depth)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return Derive(bookA, bookB), nil
}

// Derive computes the snapshot from two already-fetched books. Empty books
// degrade to zero spreads rather than erroring; the Degenerate flag carries
// the signal.
func Derive(bookA, bookB venue.Book) Snapshot {
	s := Snapshot{
		MidA:   bookA.Mid(),
		MidB:   bookB.Mid(),
		QuoteA: bookA.Quote(),
		QuoteB: bookB.Quote(),
	}
	if s.Degenerate() {
		return s
	}
	s.ABuyBSell = bookB.BestBid() - bookA.BestAsk()
	s.BBuyASell = bookA.BestBid() - bookB.BestAsk()
	s.Best = s.ABuyBSell
	if s.BBuyASell > s.Best {
		s.Best = s.BBuyASell
	}
	return s
}
