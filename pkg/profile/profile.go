// Package profile holds the per-API request profiles: window limits, rate
// budgets, burst allowances and backoff parameters for every supported
// marketplace endpoint family.
package profile

import (
	"sync"
	"time"
)

// Known api_type keys. An unknown key falls back to DefaultProfile.
const (
	WBSales   = "wb_sales"
	WBOrders  = "wb_orders"
	WBStocks  = "wb_stocks"
	WBAdv     = "wb_adv"
	OzonSales = "ozon_sales"
	OzonOrders = "ozon_orders"
)

// Profile describes the request constraints of one api_type.
type Profile struct {
	// MaxWindowDays is the widest date range a single request may cover.
	MaxWindowDays int

	// RequestsPerMinute is the budget for the trailing 60-second window.
	RequestsPerMinute int

	// MinInterval is the minimum spacing between consecutive requests.
	MinInterval time.Duration

	// BurstLimit is the number of burst tokens available above the
	// steady-state rate. Tokens refill at RequestsPerMinute/60 per second.
	BurstLimit int

	// RetryDelayBase is the base wait after a 429 response.
	RetryDelayBase time.Duration

	// RetryDelayMultiplier is the linear per-attempt component of the
	// 429 backoff formula.
	RetryDelayMultiplier time.Duration

	// CacheTTL controls how long fully-elapsed historical chunks may be
	// served from cache. Zero disables caching for this api_type.
	CacheTTL time.Duration
}

// DefaultProfile is the conservative fallback for unknown api_type keys.
var DefaultProfile = Profile{
	MaxWindowDays:        30,
	RequestsPerMinute:    10,
	MinInterval:          1 * time.Second,
	BurstLimit:           3,
	RetryDelayBase:       5 * time.Second,
	RetryDelayMultiplier: 2 * time.Second,
	CacheTTL:             0,
}

// defaultProfiles are the compiled-in per-endpoint constraints. The WB
// statistics API throttles aggressively and caps windows at 45 days; the
// Ozon seller API allows tighter spacing but only 30-day windows.
func defaultProfiles() map[string]Profile {
	return map[string]Profile{
		WBSales: {
			MaxWindowDays:        45,
			RequestsPerMinute:    5,
			MinInterval:          2 * time.Second,
			BurstLimit:           3,
			RetryDelayBase:       5 * time.Second,
			RetryDelayMultiplier: 2 * time.Second,
			CacheTTL:             6 * time.Hour,
		},
		WBOrders: {
			MaxWindowDays:        45,
			RequestsPerMinute:    5,
			MinInterval:          2 * time.Second,
			BurstLimit:           3,
			RetryDelayBase:       5 * time.Second,
			RetryDelayMultiplier: 2 * time.Second,
			CacheTTL:             6 * time.Hour,
		},
		WBStocks: {
			MaxWindowDays:        1,
			RequestsPerMinute:    5,
			MinInterval:          2 * time.Second,
			BurstLimit:           2,
			RetryDelayBase:       5 * time.Second,
			RetryDelayMultiplier: 2 * time.Second,
			CacheTTL:             0,
		},
		WBAdv: {
			MaxWindowDays:        31,
			RequestsPerMinute:    10,
			MinInterval:          1 * time.Second,
			BurstLimit:           5,
			RetryDelayBase:       3 * time.Second,
			RetryDelayMultiplier: 1 * time.Second,
			CacheTTL:             1 * time.Hour,
		},
		OzonSales: {
			MaxWindowDays:        30,
			RequestsPerMinute:    30,
			MinInterval:          500 * time.Millisecond,
			BurstLimit:           10,
			RetryDelayBase:       2 * time.Second,
			RetryDelayMultiplier: 1 * time.Second,
			CacheTTL:             6 * time.Hour,
		},
		OzonOrders: {
			MaxWindowDays:        30,
			RequestsPerMinute:    30,
			MinInterval:          500 * time.Millisecond,
			BurstLimit:           10,
			RetryDelayBase:       2 * time.Second,
			RetryDelayMultiplier: 1 * time.Second,
			CacheTTL:             6 * time.Hour,
		},
	}
}

// DelayRule maps a total requested period length to a courtesy delay
// between chunk requests.
type DelayRule struct {
	MaxDays int
	Delay   time.Duration
}

// defaultDelayRules are hand-tuned against endpoints known to degrade
// under sustained pulls. They are configuration, not gospel.
func defaultDelayRules() []DelayRule {
	return []DelayRule{
		{MaxDays: 30, Delay: 500 * time.Millisecond},
		{MaxDays: 90, Delay: 1 * time.Second},
		{MaxDays: 180, Delay: 2 * time.Second},
	}
}

// defaultMaxDelay applies to periods longer than the last delay rule.
const defaultMaxDelay = 3 * time.Second

// Registry resolves api_type keys to Profiles. It is safe for concurrent
// use and supports reloading from a YAML file at runtime.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	fallback Profile
	delays   []DelayRule
	maxDelay time.Duration
	path     string
}

// NewRegistry returns a registry with the compiled-in defaults.
func NewRegistry() *Registry {
	return &Registry{
		profiles: defaultProfiles(),
		fallback: DefaultProfile,
		delays:   defaultDelayRules(),
		maxDelay: defaultMaxDelay,
	}
}

// Lookup returns the profile for apiType, or the fallback profile for
// unknown keys.
func (r *Registry) Lookup(apiType string) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[apiType]; ok {
		return p
	}
	return r.fallback
}

// Set installs or replaces the profile for apiType.
func (r *Registry) Set(apiType string, p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[apiType] = p
}

// Known reports whether apiType has an explicit profile.
func (r *Registry) Known(apiType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[apiType]
	return ok
}

// APITypes returns the configured api_type keys.
func (r *Registry) APITypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	return keys
}

// InterChunkDelay returns the courtesy delay between chunk requests for a
// fetch covering totalDays in total. Larger totals get larger delays.
func (r *Registry) InterChunkDelay(totalDays int) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.delays {
		if totalDays <= rule.MaxDays {
			return rule.Delay
		}
	}
	return r.maxDelay
}
