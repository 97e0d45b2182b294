package observability

import (
	"sync"
	"time"

	"orderline/internal/saga"
)

type StepSnapshot struct {
	Attempts      int64   `json:"attempts"`
	Failures      int64   `json:"failures"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec     int64                     `json:"uptime_sec"`
	TotalRequests int64                     `json:"total_requests"`
	TotalErrors   int64                     `json:"total_errors"`
	InFlight      int64                     `json:"in_flight"`
	SagasStarted  int64                     `json:"sagas_started"`
	Outcomes      map[string]int64          `json:"outcomes"`
	Signals       map[string]int64          `json:"signals"`
	Steps         map[string]StepSnapshot   `json:"steps"`
	Lifecycle     *LifecycleSnapshot        `json:"lifecycle,omitempty"`
	Methods       map[string]MethodSnapshot `json:"methods"`
}

type stepStats struct {
	attempts     int64
	failures     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu           sync.Mutex
	start        time.Time
	methods      map[string]*methodStats
	steps        map[string]*stepStats
	sagasStarted int64
	outcomes     map[string]int64
	signals      map[string]int64
	lifecycle    lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:    time.Now(),
		methods:  make(map[string]*methodStats),
		steps:    make(map[string]*stepStats),
		outcomes: make(map[string]int64),
		signals:  make(map[string]int64),
	}
}

// Start opens a span around one gateway call.
func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

// StepAttempt records one saga step attempt. Its signature matches the
// executor's observer hook.
func (m *Metrics) StepAttempt(step string, attempt int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats, ok := m.steps[step]
	if !ok {
		stats = &stepStats{}
		m.steps[step] = stats
	}
	stats.attempts++
	if err != nil {
		stats.failures++
	}
	stats.totalLatency += elapsed
	if elapsed > stats.maxLatency {
		stats.maxLatency = elapsed
	}
	stats.lastLatency = elapsed
	m.mu.Unlock()
}

// ObserveEvent folds saga lifecycle events into the counters.
func (m *Metrics) ObserveEvent(ev saga.Event) {
	if m == nil {
		return
	}
	m.mu.Lock()
	switch ev.Type {
	case saga.EventStarted:
		m.sagasStarted++
	case saga.EventSignalReceived:
		m.signals[string(ev.Signal)]++
	case saga.EventFinished:
		m.outcomes[string(ev.Status)]++
	}
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:    int64(now.Sub(m.start).Seconds()),
		SagasStarted: m.sagasStarted,
		Outcomes:     make(map[string]int64, len(m.outcomes)),
		Signals:      make(map[string]int64, len(m.signals)),
		Steps:        make(map[string]StepSnapshot, len(m.steps)),
		Methods:      make(map[string]MethodSnapshot, len(m.methods)),
	}

	for status, n := range m.outcomes {
		snap.Outcomes[status] = n
	}
	for kind, n := range m.signals {
		snap.Signals[kind] = n
	}

	for step, stats := range m.steps {
		avg := 0.0
		if stats.attempts > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.attempts)
		}
		snap.Steps[step] = StepSnapshot{
			Attempts:      stats.attempts,
			Failures:      stats.failures,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
