package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-core/internal/trade"
)

// Metrics exports pipeline counters to Prometheus and keeps in-process
// latency windows for the system snapshot endpoint.
type Metrics struct {
	registry *prometheus.Registry

	signals       *prometheus.CounterVec
	signalLatency prometheus.Histogram
	ticks         *prometheus.CounterVec
	trades        *prometheus.CounterVec
	evalLatency   prometheus.Histogram
	faults        prometheus.Counter

	SignalLatency *LatencyWindow
	EvalLatency   *LatencyWindow

	signalsTotal atomic.Uint64
	ticksTotal   atomic.Uint64
	tradesTotal  atomic.Uint64
	faultsTotal  atomic.Uint64
	started      time.Time
}

var _ trade.Metrics = (*Metrics)(nil)

// NewMetrics builds a metrics set on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signal_core_signals_total", Help: "Signals processed by outcome"},
			[]string{"action"},
		),
		signalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_core_signal_seconds",
			Help:    "Time spent processing one signal",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signal_core_ticks_total", Help: "Market ticks ingested"},
			[]string{"symbol"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signal_core_trades_total", Help: "Completed trades"},
			[]string{"side"},
		),
		evalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_core_graph_eval_seconds",
			Help:    "Strategy graph evaluation time",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_core_subscriber_faults_total",
			Help: "Bus handler errors and panics",
		}),
		SignalLatency: NewLatencyWindow(1000),
		EvalLatency:   NewLatencyWindow(1000),
		started:       time.Now(),
	}
	m.registry.MustRegister(
		m.signals, m.signalLatency, m.ticks, m.trades, m.evalLatency, m.faults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSignal records one processed signal.
func (m *Metrics) ObserveSignal(action trade.Action, seconds float64) {
	m.signals.WithLabelValues(string(action)).Inc()
	m.signalLatency.Observe(seconds)
	m.SignalLatency.Record(seconds * 1000)
	m.signalsTotal.Add(1)
}

// ObserveTick counts a market tick.
func (m *Metrics) ObserveTick(symbol string) {
	m.ticks.WithLabelValues(symbol).Inc()
	m.ticksTotal.Add(1)
}

// ObserveTrade counts a completed trade by the side it closed.
func (m *Metrics) ObserveTrade(side trade.Side) {
	m.trades.WithLabelValues(string(side)).Inc()
	m.tradesTotal.Add(1)
}

// ObserveEvaluation records one graph evaluation.
func (m *Metrics) ObserveEvaluation(d time.Duration) {
	m.evalLatency.Observe(d.Seconds())
	m.EvalLatency.Record(float64(d.Nanoseconds()) / 1e6)
}

// ObserveFault counts a failed bus handler.
func (m *Metrics) ObserveFault() {
	m.faults.Inc()
	m.faultsTotal.Add(1)
}

// Gauge exposes fn as a gauge, e.g. bus drops or websocket clients.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot is a point-in-time view for the system endpoint.
type Snapshot struct {
	SignalLatency  LatencyStats `json:"signal_latency_ms"`
	EvalLatency    LatencyStats `json:"eval_latency_ms"`
	Signals        uint64       `json:"signals"`
	Ticks          uint64       `json:"ticks"`
	Trades         uint64       `json:"trades"`
	Faults         uint64       `json:"faults"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	Uptime         string       `json:"uptime"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Snapshot returns current counters and latency stats.
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Snapshot{
		SignalLatency:  m.SignalLatency.Stats(),
		EvalLatency:    m.EvalLatency.Stats(),
		Signals:        m.signalsTotal.Load(),
		Ticks:          m.ticksTotal.Load(),
		Trades:         m.tradesTotal.Load(),
		Faults:         m.faultsTotal.Load(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		Timestamp:      time.Now().UTC(),
	}
}

// LatencyWindow keeps the last N samples (milliseconds). Stats are
// recomputed lazily.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
	dirty   bool
	cached  LatencyStats
}

// NewLatencyWindow creates a window of size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 1000
	}
	return &LatencyWindow{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

// Record adds a sample.
func (w *LatencyWindow) Record(ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) >= w.maxSize {
		w.samples = w.samples[1:]
	}
	w.samples = append(w.samples, ms)
	w.dirty = true
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg and percentiles of the window.
func (w *LatencyWindow) Stats() LatencyStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return w.cached
	}
	n := len(w.samples)
	if n == 0 {
		w.cached, w.dirty = LatencyStats{}, false
		return w.cached
	}

	sorted := make([]float64, n)
	copy(sorted, w.samples)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	w.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	w.dirty = false
	return w.cached
}
