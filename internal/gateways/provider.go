package gateway

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	// healthWindow is how many recent sends a provider is judged on.
	healthWindow = 50
	// latencies at or above this score zero
	maxLatencyMs = 5000.0
	ewmaAlpha    = 0.2
)

type sendOutcome struct {
	ok        bool
	latencyMs int64
}

// providerHealth is a rolling record of a provider's recent sends.
type providerHealth struct {
	mu               sync.Mutex
	window           [healthWindow]sendOutcome
	size, next       int
	consecutiveFails int
	total, failed    int64
	ewmaLatencyMs    float64
	lastFailure      time.Time
}

func newProviderHealth() *providerHealth {
	return &providerHealth{}
}

func (h *providerHealth) record(o sendOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.window[h.next] = o
	h.next = (h.next + 1) % healthWindow
	if h.size < healthWindow {
		h.size++
	}
	h.total++
	if !o.ok {
		h.failed++
		h.consecutiveFails++
		h.lastFailure = time.Now()
		return
	}
	h.consecutiveFails = 0
	if h.ewmaLatencyMs == 0 {
		h.ewmaLatencyMs = float64(o.latencyMs)
	} else {
		h.ewmaLatencyMs = ewmaAlpha*float64(o.latencyMs) + (1-ewmaAlpha)*h.ewmaLatencyMs
	}
}

func (h *providerHealth) RecordSuccess(latencyMs int64) { h.record(sendOutcome{ok: true, latencyMs: latencyMs}) }
func (h *providerHealth) RecordFailure()                { h.record(sendOutcome{}) }

// SuccessRate is measured over the window. A provider with no history is
// assumed good.
func (h *providerHealth) SuccessRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return 1
	}
	ok := 0
	for _, o := range h.window[:h.size] {
		if o.ok {
			ok++
		}
	}
	return float64(ok) / float64(h.size)
}

func (h *providerHealth) AvgLatencyMs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(math.Round(h.ewmaLatencyMs))
}

func (h *providerHealth) P95LatencyMs() int64 {
	h.mu.Lock()
	latencies := make([]int64, 0, h.size)
	for _, o := range h.window[:h.size] {
		if o.ok {
			latencies = append(latencies, o.latencyMs)
		}
	}
	h.mu.Unlock()

	if len(latencies) == 0 {
		return 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := int(float64(len(latencies)) * 0.95)
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	return latencies[idx]
}

func (h *providerHealth) ConsecutiveFails() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFails
}

func (h *providerHealth) Totals() (total, failed int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total, h.failed
}

type ProviderState int32

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	case StateCircuitOpen:
		return "circuit_open"
	}
	return "unknown"
}

// Provider is one mail API endpoint.
type Provider struct {
	name      string
	baseURL   string
	client    *fasthttp.Client
	health    *providerHealth
	weight    int
	state     atomic.Int32
	openUntil atomic.Int64
}

func NewProvider(name, baseURL string, weight int, client *fasthttp.Client) *Provider {
	p := &Provider{
		name:    name,
		baseURL: baseURL,
		client:  client,
		health:  newProviderHealth(),
		weight:  weight,
	}
	p.state.Store(int32(StateHealthy))
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GetState() ProviderState { return ProviderState(p.state.Load()) }

func (p *Provider) SetState(state ProviderState) { p.state.Store(int32(state)) }

// trip opens the circuit for d.
func (p *Provider) trip(d time.Duration) {
	p.openUntil.Store(time.Now().Add(d).UnixNano())
	p.SetState(StateCircuitOpen)
}

// IsAvailable lets one probe through once an open circuit has expired; the
// provider comes back degraded until the evaluator clears it.
func (p *Provider) IsAvailable() bool {
	switch p.GetState() {
	case StateCircuitOpen:
		if time.Now().UnixNano() < p.openUntil.Load() {
			return false
		}
		p.SetState(StateDegraded)
		return true
	case StateUnhealthy:
		return false
	}
	return true
}

// Score ranks available providers, higher is better. Unavailable ones score 0.
func (p *Provider) Score() float64 {
	if !p.IsAvailable() {
		return 0
	}
	latency := 1 - float64(p.health.AvgLatencyMs())/maxLatencyMs
	if latency < 0 {
		latency = 0
	}
	score := 0.5*p.health.SuccessRate() + 0.3*latency + 0.2*float64(p.weight)/100
	score *= math.Pow(0.8, float64(p.health.ConsecutiveFails()))
	if p.GetState() == StateDegraded {
		score *= 0.5
	}
	return score * 100
}
