package config

import "time"

// Default timing configurations used throughout the orchestrator
const (
	// DefaultQuickTimeout is the execution timeout for the "quick" profile
	DefaultQuickTimeout = 5 * time.Minute

	// DefaultThoroughTimeout is the execution timeout for the "thorough" profile
	DefaultThoroughTimeout = 15 * time.Minute

	// DefaultComprehensiveTimeout is the execution timeout for the "comprehensive" profile
	DefaultComprehensiveTimeout = 30 * time.Minute

	// DefaultDependencyWait is how long a session may wait on dependencies
	DefaultDependencyWait = 2 * time.Minute

	// DefaultStaleThreshold is how long without progress before a session is flagged stale
	DefaultStaleThreshold = 1 * time.Minute

	// DefaultWarningFraction is the fraction of the execution timeout at which a warning fires
	DefaultWarningFraction = 0.8

	// DefaultBatchInterval is how long batched context updates may sit before flushing
	DefaultBatchInterval = 500 * time.Millisecond

	// DefaultConvergenceCacheTTL is the time-to-live for cached convergence outputs
	DefaultConvergenceCacheTTL = 5 * time.Minute

	// DefaultSessionMaxAge is how long an inactive session is kept before cleanup
	DefaultSessionMaxAge = 30 * time.Minute

	// DefaultCleanupInterval is how often stale sessions are swept
	DefaultCleanupInterval = 5 * time.Minute
)

// Default capacity limits for shared contexts and batching
const (
	// DefaultMaxInsights is the maximum insights retained per shared context
	DefaultMaxInsights = 50

	// DefaultMaxThemes is the maximum weighted themes retained per shared context
	DefaultMaxThemes = 20

	// DefaultMaxBatchSize is the queue length that forces an immediate batch flush
	DefaultMaxBatchSize = 10

	// DefaultMaxParallelism bounds the number of parallel plan groups
	DefaultMaxParallelism = 4
)
