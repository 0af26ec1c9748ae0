package profile

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of a profile configuration file. Durations
// are plain integers in the unit named by the field, matching the upstream
// API documentation.
type fileConfig struct {
	Default  *profileConfig           `yaml:"default"`
	Profiles map[string]profileConfig `yaml:"profiles"`
	Delays   []delayConfig            `yaml:"delays"`
	// MaxDelaySeconds applies to periods longer than every delay rule.
	MaxDelaySeconds int `yaml:"max_delay_s"`
}

type profileConfig struct {
	MaxWindowDays          int `yaml:"max_window_days"`
	RequestsPerMinute      int `yaml:"requests_per_minute"`
	MinIntervalMS          int `yaml:"min_interval_ms"`
	BurstLimit             int `yaml:"burst_limit"`
	RetryDelayBaseMS       int `yaml:"retry_delay_base_ms"`
	RetryDelayMultiplierMS int `yaml:"retry_delay_multiplier_ms"`
	CacheTTLSeconds        int `yaml:"cache_ttl_s"`
}

type delayConfig struct {
	MaxDays int `yaml:"max_days"`
	DelayMS int `yaml:"delay_ms"`
}

func (c profileConfig) toProfile() Profile {
	return Profile{
		MaxWindowDays:        c.MaxWindowDays,
		RequestsPerMinute:    c.RequestsPerMinute,
		MinInterval:          time.Duration(c.MinIntervalMS) * time.Millisecond,
		BurstLimit:           c.BurstLimit,
		RetryDelayBase:       time.Duration(c.RetryDelayBaseMS) * time.Millisecond,
		RetryDelayMultiplier: time.Duration(c.RetryDelayMultiplierMS) * time.Millisecond,
		CacheTTL:             time.Duration(c.CacheTTLSeconds) * time.Second,
	}
}

func (c profileConfig) validate(name string) error {
	if c.MaxWindowDays < 1 {
		return fmt.Errorf("profile %s: max_window_days must be >= 1 (got %d)", name, c.MaxWindowDays)
	}
	if c.RequestsPerMinute < 1 {
		return fmt.Errorf("profile %s: requests_per_minute must be >= 1 (got %d)", name, c.RequestsPerMinute)
	}
	if c.BurstLimit < 1 {
		return fmt.Errorf("profile %s: burst_limit must be >= 1 (got %d)", name, c.BurstLimit)
	}
	if c.MinIntervalMS < 0 || c.RetryDelayBaseMS < 0 || c.RetryDelayMultiplierMS < 0 || c.CacheTTLSeconds < 0 {
		return fmt.Errorf("profile %s: durations must not be negative", name)
	}
	return nil
}

// LoadFile replaces the registry contents with profiles from a YAML file.
// Keys absent from the file keep their compiled-in defaults. The path is
// remembered so Reload can pick up edits without restarting the process.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile config: %w", err)
	}
	if err := r.apply(data); err != nil {
		return err
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return nil
}

// Reload re-reads the file given to the last LoadFile call.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("reload: no config file loaded")
	}
	return r.LoadFile(path)
}

func (r *Registry) apply(data []byte) error {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse profile config: %w", err)
	}

	for name, pc := range cfg.Profiles {
		if err := pc.validate(name); err != nil {
			return err
		}
	}
	if cfg.Default != nil {
		if err := cfg.Default.validate("default"); err != nil {
			return err
		}
	}
	for _, d := range cfg.Delays {
		if d.MaxDays < 1 || d.DelayMS < 0 {
			return fmt.Errorf("delay rule: max_days must be >= 1 and delay_ms >= 0")
		}
	}

	profiles := defaultProfiles()
	for name, pc := range cfg.Profiles {
		profiles[name] = pc.toProfile()
	}

	fallback := DefaultProfile
	if cfg.Default != nil {
		fallback = cfg.Default.toProfile()
	}

	delays := defaultDelayRules()
	if len(cfg.Delays) > 0 {
		delays = make([]DelayRule, 0, len(cfg.Delays))
		for _, d := range cfg.Delays {
			delays = append(delays, DelayRule{
				MaxDays: d.MaxDays,
				Delay:   time.Duration(d.DelayMS) * time.Millisecond,
			})
		}
		sort.Slice(delays, func(i, j int) bool { return delays[i].MaxDays < delays[j].MaxDays })
	}

	maxDelay := defaultMaxDelay
	if cfg.MaxDelaySeconds > 0 {
		maxDelay = time.Duration(cfg.MaxDelaySeconds) * time.Second
	}

	r.mu.Lock()
	r.profiles = profiles
	r.fallback = fallback
	r.delays = delays
	r.maxDelay = maxDelay
	r.mu.Unlock()

	return nil
}
