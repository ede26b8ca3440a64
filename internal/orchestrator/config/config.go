package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeoutProfiles holds the named execution timeout durations a session
// can be monitored against.
type TimeoutProfiles struct {
	Quick         time.Duration
	Thorough      time.Duration
	Comprehensive time.Duration
}

// MonitorConfig holds configuration for session timeout monitoring
type MonitorConfig struct {
	// Profiles are the selectable execution timeout durations
	Profiles TimeoutProfiles
	// DependencyWait is the default dependency-wait timeout
	DependencyWait time.Duration
	// StaleThreshold is the progress-staleness threshold and check interval
	StaleThreshold time.Duration
	// WarningFraction is the fraction of the execution timeout at which
	// a timeout-warning event fires
	WarningFraction float64
}

// DefaultMonitorConfig returns default configuration for timeout monitoring
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Profiles: TimeoutProfiles{
			Quick:         DefaultQuickTimeout,
			Thorough:      DefaultThoroughTimeout,
			Comprehensive: DefaultComprehensiveTimeout,
		},
		DependencyWait:  DefaultDependencyWait,
		StaleThreshold:  DefaultStaleThreshold,
		WarningFraction: DefaultWarningFraction,
	}
}

// SyncConfig holds configuration for shared-context synchronization
type SyncConfig struct {
	// MaxInsights is the maximum insights retained per shared context
	MaxInsights int
	// MaxThemes is the maximum weighted themes retained per shared context
	MaxThemes int
	// MaxBatchSize is the pending-update count that forces a flush
	MaxBatchSize int
	// BatchInterval is how long batched updates may wait before flushing
	BatchInterval time.Duration
}

// DefaultSyncConfig returns default configuration for the synchronizer
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxInsights:   DefaultMaxInsights,
		MaxThemes:     DefaultMaxThemes,
		MaxBatchSize:  DefaultMaxBatchSize,
		BatchInterval: DefaultBatchInterval,
	}
}

// RetryConfig holds the backoff parameters advertised with timeout events
type RetryConfig struct {
	// MaxAttempts is the maximum retry attempts advised to callers
	MaxAttempts int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier
	Multiplier float64
}

// DefaultRetryConfig returns default retry advice parameters
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Config aggregates the orchestrator configuration surface
type Config struct {
	Monitor         MonitorConfig
	Sync            SyncConfig
	Retry           RetryConfig
	MaxParallelism  int
	CacheTTL        time.Duration
	SessionMaxAge   time.Duration
	CleanupInterval time.Duration
}

// Default returns the full default configuration
func Default() Config {
	return Config{
		Monitor:         DefaultMonitorConfig(),
		Sync:            DefaultSyncConfig(),
		Retry:           DefaultRetryConfig(),
		MaxParallelism:  DefaultMaxParallelism,
		CacheTTL:        DefaultConvergenceCacheTTL,
		SessionMaxAge:   DefaultSessionMaxAge,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// FromEnv returns the default configuration with THINKING_* environment
// overrides applied. Unset variables keep their defaults; malformed values
// are reported as errors rather than silently ignored.
func FromEnv() (Config, error) {
	cfg := Default()

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"THINKING_TIMEOUT_QUICK", &cfg.Monitor.Profiles.Quick},
		{"THINKING_TIMEOUT_THOROUGH", &cfg.Monitor.Profiles.Thorough},
		{"THINKING_TIMEOUT_COMPREHENSIVE", &cfg.Monitor.Profiles.Comprehensive},
		{"THINKING_DEPENDENCY_WAIT", &cfg.Monitor.DependencyWait},
		{"THINKING_STALE_THRESHOLD", &cfg.Monitor.StaleThreshold},
		{"THINKING_BATCH_INTERVAL", &cfg.Sync.BatchInterval},
		{"THINKING_CACHE_TTL", &cfg.CacheTTL},
		{"THINKING_SESSION_MAX_AGE", &cfg.SessionMaxAge},
		{"THINKING_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay},
		{"THINKING_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay},
	}
	for _, d := range durations {
		raw := os.Getenv(d.name)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", d.name, raw, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"THINKING_MAX_INSIGHTS", &cfg.Sync.MaxInsights},
		{"THINKING_MAX_THEMES", &cfg.Sync.MaxThemes},
		{"THINKING_MAX_BATCH_SIZE", &cfg.Sync.MaxBatchSize},
		{"THINKING_MAX_PARALLELISM", &cfg.MaxParallelism},
		{"THINKING_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts},
	}
	for _, i := range ints {
		raw := os.Getenv(i.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return cfg, fmt.Errorf("invalid %s %q: must be a positive integer", i.name, raw)
		}
		*i.dst = parsed
	}

	return cfg, nil
}
