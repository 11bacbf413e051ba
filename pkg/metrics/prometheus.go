package metrics

import (
	"BotArena/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	transitions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	pnl         *prometheus.CounterVec
	equity      prometheus.Gauge
	epochs      prometheus.Counter
	replaced    prometheus.Counter
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New registers the arena metrics on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_session_transitions_total",
				Help: "Market session state transitions",
			},
			[]string{"from", "to"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_decisions_total",
				Help: "Strategy decisions by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_risk_rejections_total",
				Help: "Trades vetoed by the risk controller",
			},
			[]string{"reason"},
		),
		resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_trades_resolved_total",
				Help: "Resolved trades by outcome",
			},
			[]string{"outcome"},
		),
		pnl: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_realized_pnl_abs_total",
				Help: "Absolute realized P&L split by sign",
			},
			[]string{"sign"},
		),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "arena_equity",
			Help: "Running arena equity after the last resolution",
		}),
		epochs: f.NewCounter(prometheus.CounterOpts{
			Name: "arena_epochs_total",
			Help: "Completed evolution epochs",
		}),
		replaced: f.NewCounter(prometheus.CounterOpts{
			Name: "arena_bots_replaced_total",
			Help: "Bots retired by evolution",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arena_last_price",
				Help: "Last observed underlying price",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arena_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTransition(from, to models.SessionStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) RecordDecision(strategy models.StrategyType, traded bool) {
	result := "no_trade"
	if traded {
		result = "trade"
	}
	r.decisions.WithLabelValues(string(strategy), result).Inc()
}

func (r *Recorder) RecordRejection(reason models.RejectReason) {
	r.rejections.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) RecordResolution(outcome models.Outcome, pnl float64) {
	r.resolutions.WithLabelValues(string(outcome)).Inc()
	switch {
	case pnl > 0:
		r.pnl.WithLabelValues("profit").Add(pnl)
	case pnl < 0:
		r.pnl.WithLabelValues("loss").Add(-pnl)
	}
}

func (r *Recorder) RecordEquity(equity float64) {
	r.equity.Set(equity)
}

func (r *Recorder) RecordEpoch(replaced int) {
	r.epochs.Inc()
	r.replaced.Add(float64(replaced))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTransition(models.SessionStatus, models.SessionStatus) {}
func (Nop) RecordDecision(models.StrategyType, bool)                    {}
func (Nop) RecordRejection(models.RejectReason)                         {}
func (Nop) RecordResolution(models.Outcome, float64)                    {}
func (Nop) RecordEquity(float64)                                        {}
func (Nop) RecordEpoch(int)                                             {}
func (Nop) RecordError(string)                                          {}
func (Nop) RecordLastPrice(string, float64)                             {}
func (Nop) RecordLatency(string, float64)                               {}
