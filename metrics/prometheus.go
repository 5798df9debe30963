package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// GlobalMetricsRegistry is the Prometheus metrics registry singleton
var GlobalMetricsRegistry *prometheus.Registry

var (
	sandboxCounterVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sandbox_counter_total",
		Help: "Cumulative value of a named sandbox counter (gas/memory/timeout rejections, pool releases).",
	}, []string{"name"})
	sandboxTimerVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sandbox_timer_nanoseconds",
		Help: "Cumulative elapsed nanoseconds of a named sandbox timer.",
	}, []string{"name"})
)

func init() {
	ResetGlobalMetricsRegistry()
}

// ResetGlobalMetricsRegistry resets GlobalMetricsRegistry to it's default value.
// This is needed by the unit tests that create many server instances and would try to register duplicate collectors in the registry
func ResetGlobalMetricsRegistry() {
	GlobalMetricsRegistry = prometheus.NewRegistry()
	GlobalMetricsRegistry.MustRegister(prometheus.NewGoCollector())
	GlobalMetricsRegistry.MustRegister(sandboxCounterVec, sandboxTimerVec)
}

// ExportToPrometheus copies m's current named timers and counters into
// GlobalMetricsRegistry's gauge vectors, by the "timer_<name>_ns" /
// "counter_<name>" key shape m.All() produces. It is a push, not a
// registration: callers call it after each Execute (or on whatever
// cadence they like) rather than wiring m itself in as a Collector,
// since Metrics accumulates per-Sandbox rather than per-process.
func ExportToPrometheus(m Metrics) {
	for key, v := range m.All() {
		switch {
		case strings.HasPrefix(key, "counter_"):
			name := strings.TrimPrefix(key, "counter_")
			if n, ok := toFloat(v); ok {
				sandboxCounterVec.WithLabelValues(name).Set(n)
			}
		case strings.HasSuffix(key, "_ns") && strings.HasPrefix(key, "timer_"):
			name := strings.TrimSuffix(strings.TrimPrefix(key, "timer_"), "_ns")
			if n, ok := toFloat(v); ok {
				sandboxTimerVec.WithLabelValues(name).Set(n)
			}
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
