package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genied",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Total number of Generate calls",
		},
		[]string{"mode", "result"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genied",
			Subsystem: "engine",
			Name:      "tokens_total",
			Help:      "Total number of streamed word tokens",
		},
		[]string{"mode"},
	)

	ttftSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genied",
			Subsystem: "engine",
			Name:      "time_to_first_token_seconds",
			Help:      "Time from request to first streamed token",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genied",
			Subsystem: "engine",
			Name:      "generation_duration_seconds",
			Help:      "Duration of Generate calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	degradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genied",
			Subsystem: "engine",
			Name:      "degradations_total",
			Help:      "Transitions of the persistent channel to degraded",
		},
		[]string{"reason"},
	)

	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "genied",
			Subsystem: "engine",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, tokensTotal, ttftSeconds, generationDuration, degradationsTotal, stateGauge)
}

var allStates = []State{StateUninitialized, StateInitializing, StateReady, StateDegraded, StateClosed}

func observeState(cur State) {
	for _, s := range allStates {
		v := 0.0
		if s == cur {
			v = 1
		}
		stateGauge.WithLabelValues(s.String()).Set(v)
	}
}

func observeGeneration(m Metrics, err error) {
	mode := string(m.Mode)
	result := "ok"
	if err != nil {
		result = ErrorKind(err)
	}
	generationsTotal.WithLabelValues(mode, result).Inc()
	tokensTotal.WithLabelValues(mode).Add(float64(m.Tokens))
	generationDuration.WithLabelValues(mode).Observe(m.Elapsed.Seconds())
	if m.Tokens > 0 {
		ttftSeconds.WithLabelValues(mode).Observe(m.TimeToFirstToken.Seconds())
	}
}
