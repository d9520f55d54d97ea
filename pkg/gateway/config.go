package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/draiv/vehicle-gateway/pkg/authorize"
	"github.com/draiv/vehicle-gateway/pkg/breaker"
	"github.com/draiv/vehicle-gateway/pkg/session"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s" or "2h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) value() time.Duration {
	return time.Duration(d)
}

// Config tunes the gateway. Zero fields take the defaults from DefaultConfig.
type Config struct {
	TTL struct {
		// Status covers fast-changing reads: vehicle status, fuel, charge, mileage.
		Status Duration `yaml:"status"`
		// Location changes while driving, so it expires faster than status.
		Location Duration `yaml:"location"`
		// Capabilities are semi-static per vehicle.
		Capabilities Duration `yaml:"capabilities"`
	} `yaml:"ttl"`

	Timeout struct {
		Read Duration `yaml:"read"`
		// Command covers privileged actions that wait for vehicle acknowledgment.
		Command     Duration `yaml:"command"`
		LightSignal Duration `yaml:"light_signal"`
	} `yaml:"timeout"`

	Breaker struct {
		FailureThreshold   int      `yaml:"failure_threshold"`
		Window             Duration `yaml:"window"`
		RecoveryTimeout    Duration `yaml:"recovery_timeout"`
		MaxRecoveryTimeout Duration `yaml:"max_recovery_timeout"`
		QuotaPause         Duration `yaml:"quota_pause"`
		MaxQuotaPause      Duration `yaml:"max_quota_pause"`
	} `yaml:"breaker"`

	Authorize struct {
		MaxFailures int      `yaml:"max_failures"`
		Lockout     Duration `yaml:"lockout"`
	} `yaml:"authorize"`

	Retry struct {
		// Attempts is the number of automatic retries after a transient failure.
		Attempts int      `yaml:"attempts"`
		Backoff  Duration `yaml:"backoff"`
	} `yaml:"retry"`

	// OwnerRate throttles requests per owner before any backend work happens.
	OwnerRate struct {
		PerMinute int `yaml:"per_minute"`
		Burst     int `yaml:"burst"`
	} `yaml:"owner_rate"`

	SessionLifetime Duration `yaml:"session_lifetime"`
	CacheEntries    int      `yaml:"cache_entries"`
}

func DefaultConfig() Config {
	var c Config
	c.TTL.Status = Duration(60 * time.Second)
	c.TTL.Location = Duration(30 * time.Second)
	c.TTL.Capabilities = Duration(6 * time.Hour)
	c.Timeout.Read = Duration(900 * time.Millisecond)
	c.Timeout.Command = Duration(30 * time.Second)
	c.Timeout.LightSignal = Duration(10 * time.Second)
	c.Breaker.FailureThreshold = 5
	c.Breaker.Window = Duration(time.Minute)
	c.Breaker.RecoveryTimeout = Duration(time.Minute)
	c.Breaker.MaxRecoveryTimeout = Duration(16 * time.Minute)
	c.Breaker.QuotaPause = Duration(time.Minute)
	c.Breaker.MaxQuotaPause = Duration(time.Hour)
	c.Authorize.MaxFailures = 3
	c.Authorize.Lockout = 5 * Duration(time.Minute)
	c.Retry.Attempts = 2
	c.Retry.Backoff = Duration(250 * time.Millisecond)
	c.OwnerRate.PerMinute = 60
	c.OwnerRate.Burst = 10
	c.SessionLifetime = Duration(session.DefaultLifetime)
	c.CacheEntries = 4096
	return c
}

// withDefaults substitutes defaults for fields whose configured value would be
// unusable, such as a zero owner rate that would disable the limiter's arithmetic.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.OwnerRate.PerMinute <= 0 {
		c.OwnerRate.PerMinute = defaults.OwnerRate.PerMinute
	}
	if c.OwnerRate.Burst <= 0 {
		c.OwnerRate.Burst = defaults.OwnerRate.Burst
	}
	if c.CacheEntries <= 0 {
		c.CacheEntries = defaults.CacheEntries
	}
	return c
}

// LoadConfig reads a YAML config file over the defaults. A missing path returns the
// defaults unchanged.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config: %w", err)
	}
	return config, nil
}

func (c Config) breakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:   c.Breaker.FailureThreshold,
		Window:             c.Breaker.Window.value(),
		RecoveryTimeout:    c.Breaker.RecoveryTimeout.value(),
		MaxRecoveryTimeout: c.Breaker.MaxRecoveryTimeout.value(),
		QuotaPause:         c.Breaker.QuotaPause.value(),
		MaxQuotaPause:      c.Breaker.MaxQuotaPause.value(),
	}
}

func (c Config) authorizeConfig() authorize.Config {
	return authorize.Config{
		MaxFailures: c.Authorize.MaxFailures,
		Lockout:     c.Authorize.Lockout.value(),
	}
}
