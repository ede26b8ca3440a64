package orchestrator

// Hooks for external test packages. Tests that need storage/memory (which
// itself imports orchestrator) must live outside package orchestrator and
// reach the in-package test helpers through these.
const FallbackStepCountForTest = fallbackStepCount

var (
	NewFakeClockForTest = func() Clock { return newFakeClock() }
	TestLoggerForTest   = testLogger
)
