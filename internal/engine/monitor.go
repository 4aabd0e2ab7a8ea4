package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hedgearb/internal/config"
	"hedgearb/internal/infra/log"
	"hedgearb/internal/infra/metrics"
	"hedgearb/internal/infra/network"
	"hedgearb/internal/position"
	"hedgearb/internal/pricing"
	"hedgearb/internal/venue"
)

// statusRetryBudget bounds how often a single status poll is retried with
// backoff before the venue is treated as persistently unreachable.
const statusRetryBudget = 3

var (
	// ErrNoFill means neither leg filled within the ceiling and both orders
	// were cancelled; the book never came to us and no exposure remains.
	ErrNoFill = errors.New("no leg filled within ceiling")
	// ErrHedgeExhausted means one leg filled, the hedge retry budget is
	// spent, and the position may carry unhedged exposure. Trading must stop.
	ErrHedgeExhausted = errors.New("hedge retry budget exhausted")
)

// MonitorConfig bounds the fill-race loop and the compensation protocol.
type MonitorConfig struct {
	PollInterval        time.Duration
	AttemptTimeout      time.Duration
	CancelGrace         time.Duration
	OpenCeiling         time.Duration
	CloseCeiling        time.Duration
	MaxHedgeRetries     int
	EscalationDepth     int
	EscalationBufferPct float64
	BookDepth           int
}

func monitorConfigFrom(cfg config.Config) MonitorConfig {
	return MonitorConfig{
		PollInterval:        time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond,
		AttemptTimeout:      time.Duration(cfg.Monitor.AttemptTimeoutSeconds) * time.Second,
		CancelGrace:         time.Duration(cfg.Monitor.CancelGraceMs) * time.Millisecond,
		OpenCeiling:         time.Duration(cfg.Monitor.OpenCeilingSeconds) * time.Second,
		CloseCeiling:        time.Duration(cfg.Monitor.CloseCeilingSeconds) * time.Second,
		MaxHedgeRetries:     cfg.Monitor.MaxHedgeRetries,
		EscalationDepth:     cfg.Monitor.EscalationDepth,
		EscalationBufferPct: cfg.Monitor.EscalationBufferPct,
		BookDepth:           cfg.Monitor.BookDepth,
	}
}

// VenueLeg bundles everything the engine needs to act on one venue.
type VenueLeg struct {
	Adapter venue.Adapter
	Spec    venue.Spec
	Symbol  string
}

// legOrder is one working order being raced against its pair.
type legOrder struct {
	leg     VenueLeg
	orderID string
	side    venue.Side
	qty     float64
}

// PlaceFunc submits an order through the controller so rate limiting and
// order metrics stay in one place.
type PlaceFunc func(ctx context.Context, leg VenueLeg, req venue.OrderRequest) (venue.OrderAck, error)

// settleFunc receives both confirmed fills, in (A, B) order, once the race
// resolves. The open path records entry fills, the close path records exits.
type settleFunc func(fillA, fillB venue.OrderStatus) error

// Monitor resolves the fill race between two working legs and runs the
// compensation protocol when only one side executes. The same loop serves
// opening and closing; only the settlement differs.
type Monitor struct {
	logger log.Logger
	cfg    MonitorConfig
	place  PlaceFunc
}

func NewMonitor(logger log.Logger, cfg MonitorConfig, place PlaceFunc) *Monitor {
	return &Monitor{logger: logger, cfg: cfg, place: place}
}

// resolveFillRace polls both legs until both fill, one fills and the other is
// hedged, or the ceiling passes with no fill. Fills are handed to settle in
// (A, B) order. The hedging status is only entered during the opening phase;
// close-phase compensation keeps the position in closing.
func (m *Monitor) resolveFillRace(ctx context.Context, pos *position.ArbitragePosition, a, b legOrder, ceiling time.Duration, settle settleFunc) error {
	deadline := time.Now().Add(ceiling)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		stA, stB, err := m.pollBoth(ctx, a, b)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A venue we cannot read is a venue we cannot supervise:
			// pull both orders before giving up.
			m.cancelBoth(ctx, a, b)
			m.fail(pos)
			return fmt.Errorf("fill race aborted: %w", err)
		}

		switch {
		case stA.Filled() && stB.Filled():
			return settle(stA, stB)

		case stA.Filled() || stB.Filled():
			winner, loser := a, b
			wonSt, lostSt := stA, stB
			aWon := true
			if stB.Filled() {
				winner, loser = b, a
				wonSt, lostSt = stB, stA
				aWon = false
			}
			raceStart := time.Now()
			m.markHedging(pos)
			m.logger.Warn().
				Str("position_id", pos.ID).
				Str("won", winner.leg.Spec.ID).
				Str("lost", loser.leg.Spec.ID).
				Msg("single-sided fill, compensating")

			lostSt, filledAnyway, err := m.cancelAndRecheck(ctx, loser)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.fail(pos)
				return err
			}
			if !filledAnyway {
				lostSt, err = m.compensate(ctx, pos, loser, lostSt)
				if err != nil {
					m.fail(pos)
					return err
				}
				metrics.UnhedgedWindowMs.Observe(float64(time.Since(raceStart).Milliseconds()))
			}
			if aWon {
				return settle(wonSt, lostSt)
			}
			return settle(lostSt, wonSt)

		default:
			if time.Now().After(deadline) {
				return m.abortUnfilled(ctx, pos, a, b, settle)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// markHedging transitions opening positions into hedging. During the close
// phase the position stays in closing, so the transition is skipped.
func (m *Monitor) markHedging(pos *position.ArbitragePosition) {
	if pos.CurrentStatus() == position.StatusOpening {
		_ = pos.Transition(m.logger, position.StatusHedging)
	}
}

func (m *Monitor) fail(pos *position.ArbitragePosition) {
	_ = pos.Transition(m.logger, position.StatusFailed)
	metrics.PositionsFailedTotal.Inc()
}

// orderStatus reads one order's status, retrying transient venue errors with
// bounded backoff. Only a persistently failing venue surfaces an error.
func (m *Monitor) orderStatus(ctx context.Context, leg VenueLeg, orderID string) (venue.OrderStatus, error) {
	var last error
	for attempt := 0; attempt < statusRetryBudget; attempt++ {
		st, err := leg.Adapter.GetOrderStatus(ctx, orderID, leg.Symbol)
		if err == nil {
			return st, nil
		}
		last = err
		if attempt == statusRetryBudget-1 {
			break
		}
		m.logger.Warn().Err(err).
			Str("venue", leg.Spec.ID).
			Str("order_id", orderID).
			Int("attempt", attempt).
			Msg("status poll failed, retrying")
		select {
		case <-ctx.Done():
			return venue.OrderStatus{}, ctx.Err()
		case <-time.After(network.Backoff(attempt)):
		}
	}
	return venue.OrderStatus{}, fmt.Errorf("status of %s on %s: %w", orderID, leg.Spec.ID, last)
}

func (m *Monitor) pollBoth(ctx context.Context, a, b legOrder) (venue.OrderStatus, venue.OrderStatus, error) {
	var stA, stB venue.OrderStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stA, err = m.orderStatus(gctx, a.leg, a.orderID)
		return err
	})
	g.Go(func() error {
		var err error
		stB, err = m.orderStatus(gctx, b.leg, b.orderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return venue.OrderStatus{}, venue.OrderStatus{}, err
	}
	return stA, stB, nil
}

// cancelLeg is the best-effort cancel used when the race loop can no longer
// supervise an order. Failures are logged; the order may still be live.
func (m *Monitor) cancelLeg(ctx context.Context, lo legOrder) {
	if err := lo.leg.Adapter.CancelOrder(ctx, lo.orderID, lo.leg.Symbol); err != nil {
		m.logger.Error().Err(err).
			Str("venue", lo.leg.Spec.ID).
			Str("order_id", lo.orderID).
			Msg("cancel failed, order may be live")
		return
	}
	metrics.OrdersCancelledTotal.WithLabelValues(lo.leg.Spec.ID).Inc()
}

func (m *Monitor) cancelBoth(ctx context.Context, a, b legOrder) {
	m.cancelLeg(ctx, a)
	m.cancelLeg(ctx, b)
}

// cancelAndRecheck cancels the losing order and re-reads its status. A failed
// cancel is treated as "may have filled": the status read decides. Returns
// the final status and whether the order turned out filled after all.
func (m *Monitor) cancelAndRecheck(ctx context.Context, lo legOrder) (venue.OrderStatus, bool, error) {
	if err := lo.leg.Adapter.CancelOrder(ctx, lo.orderID, lo.leg.Symbol); err != nil {
		m.logger.Warn().Err(err).
			Str("venue", lo.leg.Spec.ID).
			Str("order_id", lo.orderID).
			Msg("cancel failed, rechecking status")
	} else {
		metrics.OrdersCancelledTotal.WithLabelValues(lo.leg.Spec.ID).Inc()
	}
	if m.cfg.CancelGrace > 0 {
		select {
		case <-ctx.Done():
			return venue.OrderStatus{}, false, ctx.Err()
		case <-time.After(m.cfg.CancelGrace):
		}
	}
	st, err := m.orderStatus(ctx, lo.leg, lo.orderID)
	if err != nil {
		return venue.OrderStatus{}, false, err
	}
	return st, st.Filled(), nil
}

// compensate places escalating-taker orders for the unfilled remainder of the
// losing leg until it fills or the retry budget runs out. Partial fills
// across attempts accumulate into the returned status.
func (m *Monitor) compensate(ctx context.Context, pos *position.ArbitragePosition, lo legOrder, prior venue.OrderStatus) (venue.OrderStatus, error) {
	remaining := lo.qty - prior.FilledQty
	filledQty := prior.FilledQty
	notional := prior.FilledQty * prior.AvgPrice

	for retry := 0; retry < m.cfg.MaxHedgeRetries; retry++ {
		if retry > 0 {
			metrics.HedgeRetriesTotal.Inc()
		}
		book, err := lo.leg.Adapter.GetOrderBook(ctx, lo.leg.Symbol, m.cfg.BookDepth+retry)
		if err != nil {
			return venue.OrderStatus{}, err
		}
		depth := m.cfg.EscalationDepth + retry
		price, err := pricing.EscalatedPrice(book, lo.side, depth, m.cfg.EscalationBufferPct)
		if err != nil {
			return venue.OrderStatus{}, err
		}
		price = pricing.RoundToTick(price, lo.side, lo.leg.Spec.TickSize)

		req := venue.OrderRequest{
			ClientID: uuid.NewString(),
			Symbol:   lo.leg.Symbol,
			Side:     lo.side,
			Qty:      remaining,
			Price:    price,
			Type:     venue.Limit,
		}
		ack, err := m.place(ctx, lo.leg, req)
		if err != nil {
			return venue.OrderStatus{}, err
		}
		metrics.HedgeAttemptsTotal.Inc()
		m.logger.Info().
			Str("position_id", pos.ID).
			Str("venue", lo.leg.Spec.ID).
			Str("side", string(lo.side)).
			Float64("qty", remaining).
			Float64("price", price).
			Int("retry", retry).
			Int("depth", depth).
			Msg("hedge order placed")

		st, err := m.awaitFill(ctx, lo.leg, ack.OrderID)
		if err != nil {
			m.cancelLeg(ctx, legOrder{leg: lo.leg, orderID: ack.OrderID, side: lo.side, qty: remaining})
			return venue.OrderStatus{}, err
		}
		if !st.Filled() {
			st, _, err = m.cancelAndRecheck(ctx, legOrder{leg: lo.leg, orderID: ack.OrderID, side: lo.side, qty: remaining})
			if err != nil {
				return venue.OrderStatus{}, err
			}
		}
		filledQty += st.FilledQty
		notional += st.FilledQty * st.AvgPrice
		remaining -= st.FilledQty
		if remaining <= 1e-12 {
			metrics.OrdersFilledTotal.WithLabelValues(lo.leg.Spec.ID).Inc()
			avg := 0.0
			if filledQty > 0 {
				avg = notional / filledQty
			}
			return venue.OrderStatus{State: venue.StateFilled, FilledQty: filledQty, RequestedQty: lo.qty, AvgPrice: avg}, nil
		}
	}
	metrics.HedgeExhaustedTotal.Inc()
	return venue.OrderStatus{}, fmt.Errorf("%w on %s: %.8f of %.8f unfilled", ErrHedgeExhausted, lo.leg.Spec.ID, remaining, lo.qty)
}

// awaitFill polls one order until it fills or the per-attempt timeout passes.
// A non-filled status at timeout is returned as-is for the caller to cancel.
func (m *Monitor) awaitFill(ctx context.Context, leg VenueLeg, orderID string) (venue.OrderStatus, error) {
	deadline := time.Now().Add(m.cfg.AttemptTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		st, err := m.orderStatus(ctx, leg, orderID)
		if err != nil {
			return venue.OrderStatus{}, err
		}
		if st.Filled() || st.State == venue.StateCancelled || time.Now().After(deadline) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return venue.OrderStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// abortUnfilled cancels both legs after the ceiling with nothing filled. Late
// fills discovered during cancellation fall back into the race resolution.
func (m *Monitor) abortUnfilled(ctx context.Context, pos *position.ArbitragePosition, a, b legOrder, settle settleFunc) error {
	stA, filledA, err := m.cancelAndRecheck(ctx, a)
	if err != nil {
		m.cancelLeg(ctx, b)
		m.fail(pos)
		return err
	}
	stB, filledB, err := m.cancelAndRecheck(ctx, b)
	if err != nil {
		m.fail(pos)
		return err
	}
	switch {
	case filledA && filledB:
		return settle(stA, stB)
	case filledA:
		m.markHedging(pos)
		hedged, herr := m.compensate(ctx, pos, b, stB)
		if herr != nil {
			m.fail(pos)
			return herr
		}
		return settle(stA, hedged)
	case filledB:
		m.markHedging(pos)
		hedged, herr := m.compensate(ctx, pos, a, stA)
		if herr != nil {
			m.fail(pos)
			return herr
		}
		return settle(hedged, stB)
	default:
		m.fail(pos)
		m.logger.Warn().Str("position_id", pos.ID).Msg("no fill within ceiling, both legs cancelled")
		return ErrNoFill
	}
}
