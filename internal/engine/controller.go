package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hedgearb/internal/config"
	"hedgearb/internal/infra/log"
	"hedgearb/internal/infra/metrics"
	"hedgearb/internal/infra/network"
	"hedgearb/internal/position"
	"hedgearb/internal/pricing"
	"hedgearb/internal/spread"
	"hedgearb/internal/venue"
)

// ErrNoEntry means this tick offered nothing to trade: degenerate books, a
// spread between the entry thresholds, or one below the noise floor.
var ErrNoEntry = errors.New("no entry opportunity")

// residueEpsilon is the largest venue position size still treated as flat
// during post-cycle verification.
const residueEpsilon = 1e-9

// maxBadTicks bounds how many consecutive failed or one-sided snapshots are
// tolerated before the condition is treated as fatal rather than transient.
const maxBadTicks = 10

// Recorder persists terminal positions. Nil disables persistence.
type Recorder interface {
	RecordPosition(ctx context.Context, pos *position.ArbitragePosition) error
}

// Controller owns the full cycle: spread decision, paired entry, fill-race
// resolution, position monitoring, exit and post-cycle verification.
type Controller struct {
	logger  log.Logger
	cfg     config.Config
	legA    VenueLeg
	legB    VenueLeg
	cache   *venue.BookCache
	calc    *spread.Calculator
	policy  ExitPolicy
	mon     *Monitor
	rng     *rand.Rand
	buckets map[string]*network.TokenBucket
	store   Recorder

	mu       sync.Mutex
	active   *position.ArbitragePosition
	monStop  context.CancelFunc
	monDone  chan struct{}
	cleaned  bool
	badTicks int
}

func (c *Controller) noteBadTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.badTicks++
	return c.badTicks >= maxBadTicks
}

func (c *Controller) resetBadTicks() {
	c.mu.Lock()
	c.badTicks = 0
	c.mu.Unlock()
}

// NewController wires the engine. Both legs on the same venue is a
// configuration error caught here, before any order can be placed. A nil rng
// gets seeded from config (zero seed means time-seeded).
func NewController(logger log.Logger, cfg config.Config, legA, legB VenueLeg, store Recorder, rng *rand.Rand) (*Controller, error) {
	if legA.Adapter == nil || legB.Adapter == nil {
		return nil, errors.New("controller: both venue adapters are required")
	}
	if legA.Spec.ID == legB.Spec.ID {
		return nil, fmt.Errorf("controller: both legs on venue %q", legA.Spec.ID)
	}
	if rng == nil {
		seed := cfg.Trading.RandSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	cache := venue.NewBookCache(time.Duration(cfg.Monitor.BookTTLMs) * time.Millisecond)
	c := &Controller{
		logger: logger,
		cfg:    cfg,
		legA:   legA,
		legB:   legB,
		cache:  cache,
		calc:   spread.NewCalculator(legA.Adapter, legB.Adapter, legA.Symbol, legB.Symbol, cfg.Monitor.BookDepth, cache),
		policy: PolicyFromConfig(cfg),
		rng:    rng,
		buckets: map[string]*network.TokenBucket{
			legA.Spec.ID: network.PerMinute(cfg.Trading.MaxOrdersPerMin),
			legB.Spec.ID: network.PerMinute(cfg.Trading.MaxOrdersPerMin),
		},
		store: store,
	}
	c.mon = NewMonitor(logger, monitorConfigFrom(cfg), c.placeOrder)
	return c, nil
}

// Cache exposes the shared book cache so stream feeders can keep it warm.
func (c *Controller) Cache() *venue.BookCache { return c.cache }

// Active returns the position currently held, nil when flat.
func (c *Controller) Active() *position.ArbitragePosition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// placeOrder is the single choke point for order submission: the per-venue
// rate bucket gates it and the submit metrics are counted here. Both the
// controller and the monitor's compensation path go through it.
func (c *Controller) placeOrder(ctx context.Context, leg VenueLeg, req venue.OrderRequest) (venue.OrderAck, error) {
	bucket := c.buckets[leg.Spec.ID]
	blocked := false
	for bucket != nil && !bucket.Allow(time.Now()) {
		if !blocked {
			metrics.OrderRateBlocks.WithLabelValues(leg.Spec.ID).Inc()
			blocked = true
		}
		select {
		case <-ctx.Done():
			return venue.OrderAck{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	ack, err := leg.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return venue.OrderAck{}, err
	}
	metrics.OrdersSubmittedTotal.WithLabelValues(leg.Spec.ID, string(req.Side), string(req.Type)).Inc()
	c.logger.Info().
		Str("venue", leg.Spec.ID).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Float64("qty", req.Qty).
		Float64("price", req.Price).
		Str("order_id", ack.OrderID).
		Msg("order placed")
	return ack, nil
}

// Execute runs one entry attempt: snapshot, classify, place both legs and
// resolve the fill race. Returns ErrNoEntry when the tick offers nothing. In
// dry-run mode the planned orders are logged and nothing is placed; the
// returned position is nil.
func (c *Controller) Execute(ctx context.Context) (*position.ArbitragePosition, error) {
	start := time.Now()
	snap, err := c.calc.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.TicksSkipped.Inc()
		if c.noteBadTick() {
			return nil, fmt.Errorf("book data persistently unavailable: %w", err)
		}
		c.logger.Warn().Err(err).Msg("snapshot failed, skipping tick")
		return nil, ErrNoEntry
	}
	if snap.Degenerate() {
		metrics.TicksSkipped.Inc()
		if c.noteBadTick() {
			return nil, errors.New("order books persistently one-sided")
		}
		return nil, ErrNoEntry
	}
	c.resetBadTicks()
	metrics.SpreadBest.Set(snap.Best)
	metrics.SpreadObserved.Observe(snap.Best)

	strategy, aBuys, ok := c.decide(snap)
	metrics.DecisionLatencyMs.Observe(float64(time.Since(start).Milliseconds()))
	if !ok {
		return nil, ErrNoEntry
	}

	sideA := venue.Sell
	if aBuys {
		sideA = venue.Buy
	}
	sideB := sideA.Opposite()
	qty := c.cfg.Trading.Quantity

	pos, err := position.New(c.cfg.Trading.Symbol, qty, c.cfg.Trading.Leverage, strategy,
		position.Leg{VenueID: c.legA.Spec.ID, Side: sideA},
		position.Leg{VenueID: c.legB.Spec.ID, Side: sideB})
	if err != nil {
		return nil, err
	}

	priceA, priceB, err := c.makerPrices(ctx, sideA, sideB)
	if err != nil {
		return nil, err
	}

	if c.cfg.Trading.DryRun {
		c.logger.Info().
			Str("strategy", string(strategy)).
			Float64("best_spread", snap.Best).
			Str("venue_a", c.legA.Spec.ID).Str("side_a", string(sideA)).Float64("price_a", priceA).
			Str("venue_b", c.legB.Spec.ID).Str("side_b", string(sideB)).Float64("price_b", priceB).
			Float64("qty", qty).
			Msg("dry run: orders not placed")
		return nil, nil
	}

	if err := pos.Transition(c.logger, position.StatusOpening); err != nil {
		return nil, err
	}
	ackA, ackB, err := c.placePair(ctx, sideA, sideB, qty, priceA, priceB, false)
	if err != nil {
		_ = pos.Transition(c.logger, position.StatusFailed)
		metrics.PositionsFailedTotal.Inc()
		c.record(ctx, pos)
		return pos, err
	}
	pos.AssignOrders(ackA.OrderID, ackB.OrderID)

	a := legOrder{leg: c.legA, orderID: ackA.OrderID, side: sideA, qty: qty}
	b := legOrder{leg: c.legB, orderID: ackB.OrderID, side: sideB, qty: qty}
	settle := func(fillA, fillB venue.OrderStatus) error {
		pos.RecordFills(fillA, fillB)
		if terr := pos.Transition(c.logger, position.StatusOpened); terr != nil {
			return terr
		}
		metrics.PositionsOpenedTotal.Inc()
		metrics.OrdersFilledTotal.WithLabelValues(c.legA.Spec.ID).Inc()
		metrics.OrdersFilledTotal.WithLabelValues(c.legB.Spec.ID).Inc()
		c.logger.Info().
			Str("position_id", pos.ID).
			Float64("entry_spread", pos.EntrySpread).
			Msg("position opened")
		return nil
	}
	if err := c.mon.resolveFillRace(ctx, pos, a, b, c.mon.cfg.OpenCeiling, settle); err != nil {
		c.record(ctx, pos)
		return pos, err
	}

	c.mu.Lock()
	c.active = pos
	c.mu.Unlock()
	return pos, nil
}

// decide maps the snapshot onto a strategy and a direction. In volume mode
// direction is random and spread is ignored; otherwise wide spreads enter
// convergence buying the cheap venue, tight spreads enter divergence buying
// the expensive one.
func (c *Controller) decide(snap spread.Snapshot) (position.StrategyType, bool, bool) {
	if c.cfg.Trading.Mode == "volume" {
		return position.Volume, c.rng.Intn(2) == 0, true
	}
	strategy, ok := c.policy.Classify(snap.Best)
	if !ok || math.Abs(snap.Best) < c.cfg.Trading.MinSpread {
		return "", false, false
	}
	aBuys := snap.MidA < snap.MidB
	if strategy == position.Divergence {
		aBuys = !aBuys
	}
	return strategy, aBuys, true
}

// makerPrices prices both legs passively: the bid for a buying leg, the ask
// for a selling one. Paired placements always queue at the maker price; the
// aggressive tiers belong to the monitor's compensation path.
func (c *Controller) makerPrices(ctx context.Context, sideA, sideB venue.Side) (float64, float64, error) {
	bookA, err := c.cache.Fetch(ctx, c.legA.Adapter, c.legA.Symbol, c.cfg.Monitor.BookDepth)
	if err != nil {
		return 0, 0, err
	}
	bookB, err := c.cache.Fetch(ctx, c.legB.Adapter, c.legB.Symbol, c.cfg.Monitor.BookDepth)
	if err != nil {
		return 0, 0, err
	}
	priceA, err := pricing.ForTier(bookA, sideA, pricing.Maker, 0, 0, c.legA.Spec.TickSize)
	if err != nil {
		return 0, 0, err
	}
	priceB, err := pricing.ForTier(bookB, sideB, pricing.Maker, 0, 0, c.legB.Spec.TickSize)
	if err != nil {
		return 0, 0, err
	}
	return priceA, priceB, nil
}

// placePair submits both legs concurrently. If one placement fails the other
// is cancelled immediately so no naked single-leg order survives the call.
func (c *Controller) placePair(ctx context.Context, sideA, sideB venue.Side, qty, priceA, priceB float64, reduceOnly bool) (venue.OrderAck, venue.OrderAck, error) {
	var ackA, ackB venue.OrderAck
	var errA, errB error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ackA, errA = c.placeOrder(gctx, c.legA, venue.OrderRequest{
			ClientID: uuid.NewString(), Symbol: c.legA.Symbol, Side: sideA,
			Qty: qty, Price: priceA, Type: venue.Limit,
			Leverage: c.cfg.Trading.Leverage, ReduceOnly: reduceOnly,
		})
		return nil
	})
	g.Go(func() error {
		ackB, errB = c.placeOrder(gctx, c.legB, venue.OrderRequest{
			ClientID: uuid.NewString(), Symbol: c.legB.Symbol, Side: sideB,
			Qty: qty, Price: priceB, Type: venue.Limit,
			Leverage: c.cfg.Trading.Leverage, ReduceOnly: reduceOnly,
		})
		return nil
	})
	_ = g.Wait()

	switch {
	case errA == nil && errB == nil:
		return ackA, ackB, nil
	case errA != nil && errB != nil:
		return venue.OrderAck{}, venue.OrderAck{}, fmt.Errorf("both placements failed: %v; %v", errA, errB)
	case errA != nil:
		c.cancelSurvivor(ctx, c.legB, ackB.OrderID)
		return venue.OrderAck{}, venue.OrderAck{}, fmt.Errorf("placement on %s failed: %w", c.legA.Spec.ID, errA)
	default:
		c.cancelSurvivor(ctx, c.legA, ackA.OrderID)
		return venue.OrderAck{}, venue.OrderAck{}, fmt.Errorf("placement on %s failed: %w", c.legB.Spec.ID, errB)
	}
}

// cancelSurvivor cancels the leg whose pair failed to place. A failed cancel
// is followed by a status read, so a fill that raced the cancel is surfaced
// instead of silently left on the venue.
func (c *Controller) cancelSurvivor(ctx context.Context, leg VenueLeg, orderID string) {
	err := leg.Adapter.CancelOrder(ctx, orderID, leg.Symbol)
	if err == nil {
		metrics.OrdersCancelledTotal.WithLabelValues(leg.Spec.ID).Inc()
		return
	}
	c.logger.Error().Err(err).
		Str("venue", leg.Spec.ID).
		Str("order_id", orderID).
		Msg("cancel of surviving leg failed, rechecking status")
	st, err := leg.Adapter.GetOrderStatus(ctx, orderID, leg.Symbol)
	if err != nil {
		c.logger.Error().Err(err).
			Str("venue", leg.Spec.ID).
			Str("order_id", orderID).
			Msg("surviving leg status unknown, order may be live")
		return
	}
	if st.Filled() || st.FilledQty > 0 {
		c.logger.Error().
			Str("venue", leg.Spec.ID).
			Str("order_id", orderID).
			Float64("filled_qty", st.FilledQty).
			Msg("surviving leg executed without its pair")
	}
}

// StartMonitoring spawns the exit-policy loop for an opened position. Calling
// it again while a loop runs, or on a terminal position, is a no-op.
func (c *Controller) StartMonitoring(ctx context.Context, pos *position.ArbitragePosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monStop != nil || pos.CurrentStatus().Terminal() {
		return
	}
	if pos.CurrentStatus() == position.StatusOpened {
		if err := pos.Transition(c.logger, position.StatusMonitoring); err != nil {
			return
		}
	}
	mctx, cancel := context.WithCancel(ctx)
	c.monStop = cancel
	c.monDone = make(chan struct{})
	go c.monitorLoop(mctx, pos, c.monDone)
}

// StopMonitoring halts the exit loop and waits for it to drain. Idempotent.
func (c *Controller) StopMonitoring() {
	c.mu.Lock()
	stop, done := c.monStop, c.monDone
	c.monStop, c.monDone = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (c *Controller) monitorLoop(ctx context.Context, pos *position.ArbitragePosition, done chan struct{}) {
	defer close(done)
	interval := time.Duration(c.cfg.Exit.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if pos.CurrentStatus().Terminal() {
			return
		}
		snap, err := c.calc.Snapshot(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("monitor snapshot failed")
			continue
		}
		if snap.Degenerate() {
			metrics.TicksSkipped.Inc()
			continue
		}
		switch c.policy.Evaluate(pos, snap.Best, time.Now()) {
		case Close:
			if err := c.ClosePosition(ctx, pos); err != nil {
				c.logger.Error().Err(err).Str("position_id", pos.ID).Msg("close failed")
			}
			return
		case AddOn:
			if err := c.executeAddOn(ctx, pos, snap); err != nil {
				c.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("add-on failed")
			}
		}
	}
}

// ClosePosition unwinds both legs with passive reduce-only orders and
// resolves the close-side fill race under the close ceiling; the monitor
// escalates whichever side does not fill.
func (c *Controller) ClosePosition(ctx context.Context, pos *position.ArbitragePosition) error {
	if err := pos.Transition(c.logger, position.StatusClosing); err != nil {
		return err
	}
	// Exit sides reverse the entry.
	sideA := pos.LegA.Side.Opposite()
	sideB := pos.LegB.Side.Opposite()
	priceA, priceB, err := c.makerPrices(ctx, sideA, sideB)
	if err != nil {
		return err
	}
	qty := pos.Quantity
	ackA, ackB, err := c.placePair(ctx, sideA, sideB, qty, priceA, priceB, true)
	if err != nil {
		_ = pos.Transition(c.logger, position.StatusFailed)
		metrics.PositionsFailedTotal.Inc()
		c.record(ctx, pos)
		return err
	}
	a := legOrder{leg: c.legA, orderID: ackA.OrderID, side: sideA, qty: qty}
	b := legOrder{leg: c.legB, orderID: ackB.OrderID, side: sideB, qty: qty}
	settle := func(fillA, fillB venue.OrderStatus) error {
		pos.RecordExitFills(fillA, fillB)
		if terr := pos.Transition(c.logger, position.StatusClosed); terr != nil {
			return terr
		}
		metrics.PositionsClosedTotal.Inc()
		c.logger.Info().
			Str("position_id", pos.ID).
			Float64("exit_spread", pos.ExitSpread).
			Float64("entry_spread", pos.EntrySpread).
			Msg("position closed")
		return nil
	}
	if err := c.mon.resolveFillRace(ctx, pos, a, b, c.mon.cfg.CloseCeiling, settle); err != nil {
		c.record(ctx, pos)
		return err
	}
	c.record(ctx, pos)
	c.mu.Lock()
	if c.active == pos {
		c.active = nil
	}
	c.mu.Unlock()
	return nil
}

// executeAddOn grows the position through the same paired-entry protocol and
// folds the executed spread into the blended entry spread.
func (c *Controller) executeAddOn(ctx context.Context, pos *position.ArbitragePosition, snap spread.Snapshot) error {
	if !pos.CanAddOn() {
		return errors.New("add-on already used")
	}
	qty := pos.Quantity * c.cfg.Trading.AddOnRatio
	if qty <= 0 {
		return errors.New("add-on ratio yields zero quantity")
	}
	priceA, priceB, err := c.makerPrices(ctx, pos.LegA.Side, pos.LegB.Side)
	if err != nil {
		return err
	}
	ackA, ackB, err := c.placePair(ctx, pos.LegA.Side, pos.LegB.Side, qty, priceA, priceB, false)
	if err != nil {
		return err
	}
	a := legOrder{leg: c.legA, orderID: ackA.OrderID, side: pos.LegA.Side, qty: qty}
	b := legOrder{leg: c.legB, orderID: ackB.OrderID, side: pos.LegB.Side, qty: qty}
	settle := func(fillA, fillB venue.OrderStatus) error {
		if ferr := pos.FoldAddOn(qty, math.Abs(fillA.AvgPrice-fillB.AvgPrice)); ferr != nil {
			return ferr
		}
		metrics.AddOnsTotal.Inc()
		c.logger.Info().
			Str("position_id", pos.ID).
			Float64("qty", qty).
			Float64("blended_spread", pos.EntrySpread).
			Msg("add-on folded into position")
		return nil
	}
	return c.mon.resolveFillRace(ctx, pos, a, b, c.mon.cfg.OpenCeiling, settle)
}

// VerifyClean checks both venues for residual positions and open orders after
// a cycle. Any residue is an exposure leak and halts trading.
func (c *Controller) VerifyClean(ctx context.Context) error {
	for _, leg := range []VenueLeg{c.legA, c.legB} {
		positions, err := leg.Adapter.GetPositions(ctx)
		if err != nil {
			return fmt.Errorf("verify %s: %w", leg.Spec.ID, err)
		}
		for _, p := range positions {
			if p.Symbol == leg.Symbol && math.Abs(p.Size) > residueEpsilon {
				metrics.CyclesDirtyTotal.Inc()
				return fmt.Errorf("verify %s: residual position %s size %v", leg.Spec.ID, p.Symbol, p.Size)
			}
		}
		if q, ok := leg.Adapter.(venue.OpenOrdersQuerier); ok {
			open, err := q.GetOpenOrders(ctx, leg.Symbol)
			if err != nil {
				return fmt.Errorf("verify %s: %w", leg.Spec.ID, err)
			}
			if len(open) > 0 {
				metrics.CyclesDirtyTotal.Inc()
				return fmt.Errorf("verify %s: %d open orders remain", leg.Spec.ID, len(open))
			}
		}
	}
	return nil
}

// RunCycles executes full open-monitor-close cycles until the configured
// count is reached (zero means run until the context ends). A failed position
// halts the loop; no-entry ticks and clean no-fill aborts do not.
func (c *Controller) RunCycles(ctx context.Context) error {
	delay := time.Duration(c.cfg.Trading.CycleDelaySeconds) * time.Second
	if !c.cfg.Trading.DryRun {
		c.logBalances(ctx)
	}
	completed := 0
	for c.cfg.Trading.Cycles == 0 || completed < c.cfg.Trading.Cycles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pos, err := c.Execute(ctx)
		switch {
		case errors.Is(err, ErrNoEntry), errors.Is(err, ErrNoFill):
			if serr := sleepCtx(ctx, delay); serr != nil {
				return serr
			}
			continue
		case err != nil:
			return err
		case pos == nil:
			// Dry run counts as a completed cycle.
			completed++
			if serr := sleepCtx(ctx, delay); serr != nil {
				return serr
			}
			continue
		}

		c.StartMonitoring(ctx, pos)
		c.awaitTerminal(ctx, pos)
		c.StopMonitoring()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pos.CurrentStatus() == position.StatusFailed {
			return fmt.Errorf("cycle halted: position %s failed", pos.ID)
		}
		if err := c.VerifyClean(ctx); err != nil {
			return err
		}
		metrics.CyclesCompletedTotal.Inc()
		completed++
		c.logger.Info().Int("completed", completed).Msg("cycle complete")
		if serr := sleepCtx(ctx, delay); serr != nil {
			return serr
		}
	}
	return nil
}

func (c *Controller) awaitTerminal(ctx context.Context, pos *position.ArbitragePosition) {
	c.mu.Lock()
	done := c.monDone
	c.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// Cleanup stops monitoring and closes both adapters. Safe to call more than
// once.
func (c *Controller) Cleanup() error {
	c.StopMonitoring()
	c.mu.Lock()
	if c.cleaned {
		c.mu.Unlock()
		return nil
	}
	c.cleaned = true
	c.mu.Unlock()
	var first error
	for _, leg := range []VenueLeg{c.legA, c.legB} {
		if err := leg.Adapter.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.logger.Info().Msg("controller cleaned up")
	return first
}

// logBalances is a best-effort pre-flight: it surfaces what each venue has
// available before live trading starts. Failures are logged, not fatal; the
// first placement will fail loudly enough.
func (c *Controller) logBalances(ctx context.Context) {
	for _, leg := range []VenueLeg{c.legA, c.legB} {
		balances, err := leg.Adapter.GetBalances(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Str("venue", leg.Spec.ID).Msg("balance check failed")
			continue
		}
		for _, b := range balances {
			if b.Free > 0 {
				c.logger.Info().
					Str("venue", leg.Spec.ID).
					Str("asset", b.Asset).
					Float64("free", b.Free).
					Msg("available balance")
			}
		}
	}
}

func (c *Controller) record(ctx context.Context, pos *position.ArbitragePosition) {
	if c.store == nil {
		return
	}
	if err := c.store.RecordPosition(ctx, pos); err != nil {
		c.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("history record failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
