// Package availability tracks whether each external marketplace API is
// currently known to be usable. Consumers issuing bulk fetches check the
// latch first to avoid hammering a dead endpoint; the fetch functions
// themselves remain safe to call regardless.
package availability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var availabilityState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "marketfetch_api_availability",
	Help: "Availability latch per API: 0 unavailable, 1 degraded, 2 available",
}, []string{"api"})

// Status is the latch state of one external API.
type Status int

const (
	// Unavailable means the API is known to be down or credentials are
	// revoked; bulk fetches should not be started.
	Unavailable Status = iota

	// Degraded is informational only and never blocks calls.
	Degraded

	// Available is the healthy state and the initial one.
	Available
)

func (s Status) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Degraded:
		return "degraded"
	default:
		return "available"
	}
}

// State is a snapshot of one API's latch.
type State struct {
	Status    Status
	Reason    string
	ChangedAt time.Time
}

// Registry holds one latch per external API. Safe for concurrent use.
type Registry struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	states map[string]State
}

// NewRegistry creates an empty latch registry. APIs not yet seen report
// Available.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
		states: make(map[string]State),
	}
}

// State returns the latch snapshot for api.
func (r *Registry) State(api string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[api]; ok {
		return st
	}
	return State{Status: Available}
}

// Usable reports whether bulk fetches against api should proceed.
// Degraded never blocks.
func (r *Registry) Usable(api string) bool {
	return r.State(api).Status != Unavailable
}

// MarkUnavailable latches api as unavailable with a reason: permanent
// credential revocation or repeated server errors.
func (r *Registry) MarkUnavailable(api, reason string) {
	r.set(api, Unavailable, reason)
}

// MarkDegraded records an informational degradation; calls continue.
func (r *Registry) MarkDegraded(api, reason string) {
	r.set(api, Degraded, reason)
}

// MarkAvailable resets the latch after a successful call (self-healing).
func (r *Registry) MarkAvailable(api string) {
	r.set(api, Available, "")
}

func (r *Registry) set(api string, status Status, reason string) {
	r.mu.Lock()
	prev, existed := r.states[api]
	if existed && prev.Status == status && prev.Reason == reason {
		r.mu.Unlock()
		return
	}
	r.states[api] = State{Status: status, Reason: reason, ChangedAt: time.Now()}
	r.mu.Unlock()

	availabilityState.WithLabelValues(api).Set(float64(status))

	evt := r.logger.Info()
	if status == Unavailable {
		evt = r.logger.Error()
	} else if status == Degraded {
		evt = r.logger.Warn()
	}
	evt.
		Str("api", api).
		Str("status", status.String()).
		Str("reason", reason).
		Msg("API availability changed")
}
