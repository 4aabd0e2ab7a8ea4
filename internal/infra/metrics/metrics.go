package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DecisionLatencyMs  = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "decision_latency_ms", Help: "Spread snapshot to decision latency", Buckets: prometheus.LinearBuckets(1, 10, 20)})
	BookFetchLatencyMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "book_fetch_latency_ms", Help: "Orderbook fetch latency by venue", Buckets: prometheus.LinearBuckets(1, 10, 20)}, []string{"venue"})

	SpreadBest     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "spread_best", Help: "Best directional spread at last snapshot"})
	SpreadObserved = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "spread_observed", Help: "Best spread per snapshot", Buckets: prometheus.LinearBuckets(-100, 10, 41)})
	TicksSkipped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ticks_skipped_total", Help: "Decision ticks skipped on degenerate book data"})

	OrdersSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Orders submitted by venue, side and type"}, []string{"venue", "side", "type"})
	OrdersCancelledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_cancelled_total", Help: "Orders cancelled by venue"}, []string{"venue"})
	OrdersFilledTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_filled_total", Help: "Orders confirmed filled by venue"}, []string{"venue"})
	APIErrorsTotal       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "api_errors_total", Help: "API errors by venue and endpoint"}, []string{"venue", "endpoint"})

	HedgeAttemptsTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "hedge_attempts_total", Help: "Compensating orders submitted after a single-sided fill"})
	HedgeRetriesTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "hedge_retries_total", Help: "Compensating order retries after per-attempt timeout"})
	HedgeExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "hedge_exhausted_total", Help: "Positions failed on hedge retry budget exhaustion"})
	UnhedgedWindowMs    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "unhedged_window_ms", Help: "Time between single-sided fill detection and hedge submission", Buckets: prometheus.LinearBuckets(10, 50, 30)})

	PositionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "positions_opened_total", Help: "Positions that reached opened"})
	PositionsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "positions_closed_total", Help: "Positions that reached closed"})
	PositionsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "positions_failed_total", Help: "Positions that reached failed"})
	AddOnsTotal          = prometheus.NewCounter(prometheus.CounterOpts{Name: "add_ons_total", Help: "Size-increasing add-ons executed"})

	CyclesCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "cycles_completed_total", Help: "Full open-monitor-close cycles completed"})
	CyclesDirtyTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cycles_dirty_total", Help: "Cycles whose post-cycle verification found residue"})
	OrderRateBlocks      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "order_rate_blocks_total", Help: "Order placements blocked by the per-venue rate limiter"}, []string{"venue"})
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		DecisionLatencyMs, BookFetchLatencyMs,
		SpreadBest, SpreadObserved, TicksSkipped,
		OrdersSubmittedTotal, OrdersCancelledTotal, OrdersFilledTotal, APIErrorsTotal,
		HedgeAttemptsTotal, HedgeRetriesTotal, HedgeExhaustedTotal, UnhedgedWindowMs,
		PositionsOpenedTotal, PositionsClosedTotal, PositionsFailedTotal, AddOnsTotal,
		CyclesCompletedTotal, CyclesDirtyTotal, OrderRateBlocks,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
