package observability

import (
	"sync"
	"time"

	"orderflow/internal/saga"
)

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type SagaSnapshot struct {
	Started     int64            `json:"started"`
	Completed   int64            `json:"completed"`
	Compensated int64            `json:"compensated"`
	Failed      int64            `json:"failed"`
	StepRetries map[string]int64 `json:"step_retries,omitempty"`
}

type Snapshot struct {
	UptimeSec     int64                     `json:"uptime_sec"`
	TotalRequests int64                     `json:"total_requests"`
	TotalErrors   int64                     `json:"total_errors"`
	InFlight      int64                     `json:"in_flight"`
	Methods       map[string]MethodSnapshot `json:"methods"`
	Sagas         map[string]SagaSnapshot   `json:"sagas"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type sagaStats struct {
	started     int64
	completed   int64
	compensated int64
	failed      int64
	stepRetries map[string]int64
}

// Metrics collects per-method call stats and saga lifecycle counters. It
// satisfies the orchestrator's Metrics interface.
type Metrics struct {
	mu      sync.Mutex
	start   time.Time
	methods map[string]*methodStats
	sagas   map[string]*sagaStats
}

type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:   time.Now(),
		methods: make(map[string]*methodStats),
		sagas:   make(map[string]*sagaStats),
	}
}

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

// SagaStarted counts a started saga instance.
func (m *Metrics) SagaStarted(sagaType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureSaga(sagaType).started++
	m.mu.Unlock()
}

// SagaFinished counts a saga instance reaching a terminal status.
func (m *Metrics) SagaFinished(sagaType string, status saga.Status) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureSaga(sagaType)
	switch status {
	case saga.StatusCompleted:
		stats.completed++
	case saga.StatusCompensated:
		stats.compensated++
	case saga.StatusFailed:
		stats.failed++
	}
	m.mu.Unlock()
}

// StepRetried counts a scheduled retry of a saga step.
func (m *Metrics) StepRetried(sagaType, step string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureSaga(sagaType)
	if stats.stepRetries == nil {
		stats.stepRetries = make(map[string]int64)
	}
	stats.stepRetries[step]++
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
		UptimeSec: int64(now.Sub(m.start).Seconds()),
		Methods:   make(map[string]MethodSnapshot),
		Sagas:     make(map[string]SagaSnapshot),
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

	for sagaType, stats := range m.sagas {
		sagaSnap := SagaSnapshot{
			Started:     stats.started,
			Completed:   stats.completed,
			Compensated: stats.compensated,
			Failed:      stats.failed,
		}
		if len(stats.stepRetries) > 0 {
			sagaSnap.StepRetries = make(map[string]int64, len(stats.stepRetries))
			for step, n := range stats.stepRetries {
				sagaSnap.StepRetries[step] = n
			}
		}
		snap.Sagas[sagaType] = sagaSnap
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

func (m *Metrics) ensureSaga(sagaType string) *sagaStats {
	stats, ok := m.sagas[sagaType]
	if !ok {
		stats = &sagaStats{}
		m.sagas[sagaType] = stats
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
