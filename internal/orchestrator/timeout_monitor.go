package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator/config"
	"github.com/mindhatch/thinking-mcp/internal/orchestrator/retry"
)

var (
	// ErrSessionNotMonitored is returned for operations on unknown sessions
	ErrSessionNotMonitored = errors.New("session is not being monitored")
	// ErrUnknownProfile is returned for an unrecognized timeout profile
	ErrUnknownProfile = errors.New("unknown timeout profile")
)

// TimeoutProfile names a configured execution timeout duration
type TimeoutProfile string

const (
	ProfileQuick         TimeoutProfile = "quick"
	ProfileThorough      TimeoutProfile = "thorough"
	ProfileComprehensive TimeoutProfile = "comprehensive"
)

// MonitorState is the supervision state of one monitored session
type MonitorState string

const (
	MonitorRunning MonitorState = "running"
	MonitorWaiting MonitorState = "waiting"
)

// Timeout types carried in timeout event data
const (
	TimeoutTypeExecution  = "execution"
	TimeoutTypeDependency = "dependency"
)

// sessionMonitor is the per-session supervision entry
type sessionMonitor struct {
	sessionID    string
	groupID      string
	profile      TimeoutProfile
	startTime    time.Time
	lastProgress time.Time
	timeoutAt    time.Time
	state        MonitorState
	waitingOn    []string

	execTimer  Timer
	warnTimer  Timer
	waitTimer  Timer
	staleTimer Timer

	warned  bool
	expired bool
}

// MonitoringStats summarizes the monitor's view of all tracked sessions
type MonitoringStats struct {
	ActiveSessions  int           `json:"activeSessions"`
	WaitingSessions int           `json:"waitingSessions"`
	AverageElapsed  time.Duration `json:"averageElapsed"`
	LongestSession  string        `json:"longestSession,omitempty"`
	LongestElapsed  time.Duration `json:"longestElapsed"`
}

// TimeoutMonitor tracks per-session elapsed time against execution,
// dependency-wait, and progress-staleness thresholds. Timeouts are
// advisory: the monitor publishes events and never aborts a session.
// All timers run through the injected clock, so tests advance virtual
// time deterministically.
type TimeoutMonitor struct {
	cfg    config.MonitorConfig
	clock  Clock
	bus    *EventBus
	policy retry.Policy
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionMonitor
}

// NewTimeoutMonitor creates a timeout monitor
func NewTimeoutMonitor(cfg config.MonitorConfig, policy retry.Policy, clock Clock, bus *EventBus, logger *slog.Logger) *TimeoutMonitor {
	return &TimeoutMonitor{
		cfg:      cfg,
		clock:    clock,
		bus:      bus,
		policy:   policy,
		logger:   logger,
		sessions: make(map[string]*sessionMonitor),
	}
}

// profileTimeout resolves a profile name to its configured duration
func (m *TimeoutMonitor) profileTimeout(profile TimeoutProfile) (time.Duration, error) {
	switch profile {
	case ProfileQuick:
		return m.cfg.Profiles.Quick, nil
	case ProfileThorough, "":
		return m.cfg.Profiles.Thorough, nil
	case ProfileComprehensive:
		return m.cfg.Profiles.Comprehensive, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
}

// StartMonitoringSession begins supervising a session against the named
// profile's execution timeout. Restarting an already-monitored session
// stops its previous timers first, so repeated start/stop cycles never
// leak timers.
func (m *TimeoutMonitor) StartMonitoringSession(sessionID, groupID string, profile TimeoutProfile) error {
	timeout, err := m.profileTimeout(profile)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[sessionID]; ok {
		stopTimers(prev)
	}

	now := m.clock.Now()
	sm := &sessionMonitor{
		sessionID:    sessionID,
		groupID:      groupID,
		profile:      profile,
		startTime:    now,
		lastProgress: now,
		timeoutAt:    now.Add(timeout),
		state:        MonitorRunning,
	}
	m.sessions[sessionID] = sm

	sm.execTimer = m.clock.AfterFunc(timeout, func() { m.onExecutionTimeout(sessionID) })
	warnAt := time.Duration(float64(timeout) * m.cfg.WarningFraction)
	sm.warnTimer = m.clock.AfterFunc(warnAt, func() { m.onWarning(sessionID) })
	sm.staleTimer = m.clock.AfterFunc(m.cfg.StaleThreshold, func() { m.onStaleCheck(sessionID) })

	m.logger.Debug("Started monitoring session",
		"session_id", sessionID,
		"group_id", groupID,
		"profile", profile,
		"timeout", timeout,
	)
	return nil
}

// RecordProgress notes session activity. A waiting session returns to
// running and its dependency-wait timer is cancelled.
func (m *TimeoutMonitor) RecordProgress(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotMonitored, sessionID)
	}
	sm.lastProgress = m.clock.Now()
	if sm.state == MonitorWaiting {
		sm.state = MonitorRunning
		sm.waitingOn = nil
		if sm.waitTimer != nil {
			sm.waitTimer.Stop()
			sm.waitTimer = nil
		}
	}
	return nil
}

// SetSessionWaiting switches a session to the waiting state and starts
// the dependency-wait timeout, independent of the execution timeout.
func (m *TimeoutMonitor) SetSessionWaiting(sessionID string, dependencyIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotMonitored, sessionID)
	}
	sm.state = MonitorWaiting
	sm.waitingOn = append([]string(nil), dependencyIDs...)
	if sm.waitTimer != nil {
		sm.waitTimer.Stop()
	}
	sm.waitTimer = m.clock.AfterFunc(m.cfg.DependencyWait, func() { m.onDependencyTimeout(sessionID) })
	return nil
}

// ExtendTimeout pushes the outstanding execution deadline out by extra
// without resetting elapsed-time accounting. Calling it after expiry has
// no effect: the timeout already happened.
func (m *TimeoutMonitor) ExtendTimeout(sessionID string, extra time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotMonitored, sessionID)
	}
	if sm.expired {
		return nil
	}

	if sm.execTimer != nil {
		sm.execTimer.Stop()
	}
	sm.timeoutAt = sm.timeoutAt.Add(extra)
	remaining := sm.timeoutAt.Sub(m.clock.Now())
	sm.execTimer = m.clock.AfterFunc(remaining, func() { m.onExecutionTimeout(sessionID) })

	// the 80% warning tracks the extended deadline if it has not fired yet
	if !sm.warned && sm.warnTimer != nil {
		sm.warnTimer.Stop()
		total := sm.timeoutAt.Sub(sm.startTime)
		warnAt := sm.startTime.Add(time.Duration(float64(total) * m.cfg.WarningFraction))
		if until := warnAt.Sub(m.clock.Now()); until > 0 {
			sm.warnTimer = m.clock.AfterFunc(until, func() { m.onWarning(sessionID) })
		}
	}

	m.logger.Debug("Extended session timeout",
		"session_id", sessionID,
		"extra", extra,
		"timeout_at", sm.timeoutAt,
	)
	return nil
}

// StopMonitoring removes a session and clears all of its timers
func (m *TimeoutMonitor) StopMonitoring(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.sessions[sessionID]; ok {
		stopTimers(sm)
		delete(m.sessions, sessionID)
	}
}

// Entry returns a snapshot of a session's monitoring state
func (m *TimeoutMonitor) Entry(sessionID string) (state MonitorState, waitingOn []string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, found := m.sessions[sessionID]
	if !found {
		return "", nil, false
	}
	return sm.state, append([]string(nil), sm.waitingOn...), true
}

// Stats returns active/waiting counts, average elapsed time, and the
// longest-running session.
func (m *TimeoutMonitor) Stats() MonitoringStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitoringStats{}
	now := m.clock.Now()
	var total time.Duration
	for _, sm := range m.sessions {
		elapsed := now.Sub(sm.startTime)
		total += elapsed
		if sm.state == MonitorWaiting {
			stats.WaitingSessions++
		} else {
			stats.ActiveSessions++
		}
		if elapsed > stats.LongestElapsed {
			stats.LongestElapsed = elapsed
			stats.LongestSession = sm.sessionID
		}
	}
	if n := len(m.sessions); n > 0 {
		stats.AverageElapsed = total / time.Duration(n)
	}
	return stats
}

// onExecutionTimeout fires when a session's execution deadline passes.
// The session stays tracked (removal happens on completion or explicit
// stop) but its remaining timers are silenced.
func (m *TimeoutMonitor) onExecutionTimeout(sessionID string) {
	m.mu.Lock()
	sm, ok := m.sessions[sessionID]
	if !ok || sm.expired {
		m.mu.Unlock()
		return
	}
	// the deadline may have been extended after this timer was armed
	if m.clock.Now().Before(sm.timeoutAt) {
		m.mu.Unlock()
		return
	}
	sm.expired = true
	if sm.warnTimer != nil {
		sm.warnTimer.Stop()
	}
	if sm.staleTimer != nil {
		sm.staleTimer.Stop()
	}
	elapsed := m.clock.Now().Sub(sm.startTime)
	groupID := sm.groupID
	m.mu.Unlock()

	m.logger.Warn("Session execution timeout",
		"session_id", sessionID,
		"group_id", groupID,
		"elapsed", elapsed,
	)
	m.bus.Publish(Event{
		Topic:     TopicTimeout,
		GroupID:   groupID,
		SessionID: sessionID,
		Data: map[string]any{
			"timeoutType":  TimeoutTypeExecution,
			"elapsedMs":    elapsed.Milliseconds(),
			"retryAfterMs": m.policy.Delay(1).Milliseconds(),
			"maxAttempts":  m.policy.MaxAttempts,
		},
		At: m.clock.Now(),
	})
}

// onDependencyTimeout fires when a session has waited too long on its
// dependencies. The session may be otherwise healthy; state is unchanged.
func (m *TimeoutMonitor) onDependencyTimeout(sessionID string) {
	m.mu.Lock()
	sm, ok := m.sessions[sessionID]
	if !ok || sm.state != MonitorWaiting {
		m.mu.Unlock()
		return
	}
	waitingOn := append([]string(nil), sm.waitingOn...)
	groupID := sm.groupID
	m.mu.Unlock()

	m.bus.Publish(Event{
		Topic:     TopicTimeout,
		GroupID:   groupID,
		SessionID: sessionID,
		Data: map[string]any{
			"timeoutType": TimeoutTypeDependency,
			"waitingOn":   waitingOn,
		},
		At: m.clock.Now(),
	})
}

// onWarning fires at the configured fraction of the execution timeout
func (m *TimeoutMonitor) onWarning(sessionID string) {
	m.mu.Lock()
	sm, ok := m.sessions[sessionID]
	if !ok || sm.warned || sm.expired {
		m.mu.Unlock()
		return
	}
	sm.warned = true
	total := sm.timeoutAt.Sub(sm.startTime)
	elapsed := m.clock.Now().Sub(sm.startTime)
	groupID := sm.groupID
	m.mu.Unlock()

	percent := 0.0
	if total > 0 {
		percent = float64(elapsed) / float64(total) * 100
	}
	m.bus.Publish(Event{
		Topic:     TopicTimeoutWarning,
		GroupID:   groupID,
		SessionID: sessionID,
		Data: map[string]any{
			"percentComplete": percent,
			"remainingMs":     (total - elapsed).Milliseconds(),
		},
		At: m.clock.Now(),
	})
}

// onStaleCheck compares time since last progress against the staleness
// threshold and reschedules itself. Stale progress is informational and
// never alters monitoring state.
func (m *TimeoutMonitor) onStaleCheck(sessionID string) {
	m.mu.Lock()
	sm, ok := m.sessions[sessionID]
	if !ok || sm.expired {
		m.mu.Unlock()
		return
	}
	sinceProgress := m.clock.Now().Sub(sm.lastProgress)
	stale := sinceProgress >= m.cfg.StaleThreshold
	groupID := sm.groupID
	sm.staleTimer = m.clock.AfterFunc(m.cfg.StaleThreshold, func() { m.onStaleCheck(sessionID) })
	m.mu.Unlock()

	if !stale {
		return
	}
	m.bus.Publish(Event{
		Topic:     TopicProgressStale,
		GroupID:   groupID,
		SessionID: sessionID,
		Data: map[string]any{
			"sinceProgressMs": sinceProgress.Milliseconds(),
		},
		At: m.clock.Now(),
	})
}

func stopTimers(sm *sessionMonitor) {
	for _, t := range []Timer{sm.execTimer, sm.warnTimer, sm.waitTimer, sm.staleTimer} {
		if t != nil {
			t.Stop()
		}
	}
}
