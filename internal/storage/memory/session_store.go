// Package memory provides the in-memory SessionStore implementation.
// Persistence to disk is an external concern; everything here lives for
// the lifetime of the process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator"
)

var (
	errSessionNil      = errors.New("session cannot be nil")
	errSessionIDEmpty  = errors.New("session ID cannot be empty")
	errSessionNotFound = errors.New("session not found")
	errGroupNil        = errors.New("group cannot be nil")
	errGroupIDEmpty    = errors.New("group ID cannot be empty")
	errGroupNotFound   = errors.New("parallel group not found")
)

// groupTransitions encodes the monotonic group lifecycle:
// active -> converging -> completed, or -> failed from either live state.
var groupTransitions = map[orchestrator.GroupStatus][]orchestrator.GroupStatus{
	orchestrator.GroupActive:     {orchestrator.GroupConverging, orchestrator.GroupFailed},
	orchestrator.GroupConverging: {orchestrator.GroupCompleted, orchestrator.GroupFailed},
}

// SessionStore implements orchestrator.SessionStore using in-memory maps
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*orchestrator.ThinkingSession
	groups   map[string]*orchestrator.ParallelSessionGroup
}

// NewSessionStore creates an empty in-memory session store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*orchestrator.ThinkingSession),
		groups:   make(map[string]*orchestrator.ParallelSessionGroup),
	}
}

// CreateSession stores a new thinking session
func (s *SessionStore) CreateSession(ctx context.Context, session *orchestrator.ThinkingSession) error {
	if session == nil {
		return errSessionNil
	}
	if session.ID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session with ID %s already exists", session.ID)
	}

	stored := copySession(session)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.LastActive.IsZero() {
		stored.LastActive = stored.CreatedAt
	}
	if stored.Status == "" {
		stored.Status = orchestrator.SessionRunning
	}
	s.sessions[session.ID] = stored
	return nil
}

// GetSession retrieves a session by ID; a copy is returned so callers
// cannot mutate stored state.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*orchestrator.ThinkingSession, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, sessionID)
	}
	return copySession(session), nil
}

// TouchSession updates a session's last-active time
func (s *SessionStore) TouchSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", errSessionNotFound, sessionID)
	}
	session.LastActive = time.Now()
	return nil
}

// RecordStep appends a step record and folds new insights and metrics
// into the session.
func (s *SessionStore) RecordStep(ctx context.Context, sessionID string, record orchestrator.StepRecord, insights []string, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", errSessionNotFound, sessionID)
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	session.History = append(session.History, record)
	session.CurrentStep = record.Step
	session.Insights = append(session.Insights, insights...)
	if len(metrics) > 0 && session.Metrics == nil {
		session.Metrics = make(map[string]float64, len(metrics))
	}
	for k, v := range metrics {
		session.Metrics[k] = v
	}
	session.LastActive = time.Now()
	return nil
}

// CreateParallelGroup stores a new parallel session group
func (s *SessionStore) CreateParallelGroup(ctx context.Context, group *orchestrator.ParallelSessionGroup) error {
	if group == nil {
		return errGroupNil
	}
	if group.GroupID == "" {
		return errGroupIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[group.GroupID]; exists {
		return fmt.Errorf("group with ID %s already exists", group.GroupID)
	}

	stored := copyGroup(group)
	if stored.Status == "" {
		stored.Status = orchestrator.GroupActive
	}
	if stored.StartTime.IsZero() {
		stored.StartTime = time.Now()
	}
	if stored.CompletedSessions == nil {
		stored.CompletedSessions = []string{}
	}
	s.groups[group.GroupID] = stored
	return nil
}

// GetParallelGroup retrieves a parallel group by ID
func (s *SessionStore) GetParallelGroup(ctx context.Context, groupID string) (*orchestrator.ParallelSessionGroup, error) {
	if groupID == "" {
		return nil, errGroupIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errGroupNotFound, groupID)
	}
	return copyGroup(group), nil
}

// UpdateGroupStatus advances a group's lifecycle state; transitions are
// monotonic and invalid ones are rejected.
func (s *SessionStore) UpdateGroupStatus(ctx context.Context, groupID string, status orchestrator.GroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", errGroupNotFound, groupID)
	}
	if group.Status == status {
		return nil
	}
	for _, next := range groupTransitions[group.Status] {
		if next == status {
			group.Status = status
			return nil
		}
	}
	return fmt.Errorf("invalid group status transition %s -> %s", group.Status, status)
}

// MarkSessionCompleted appends a session to a group's completed list.
// The list grows monotonically; marking twice is a no-op.
func (s *SessionStore) MarkSessionCompleted(ctx context.Context, groupID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", errGroupNotFound, groupID)
	}
	for _, id := range group.CompletedSessions {
		if id == sessionID {
			return nil
		}
	}
	group.CompletedSessions = append(group.CompletedSessions, sessionID)

	if session, ok := s.sessions[sessionID]; ok {
		session.Status = orchestrator.SessionCompleted
		session.LastActive = time.Now()
	}
	return nil
}

// CleanupStale removes sessions inactive for longer than maxAge and
// returns how many were removed.
func (s *SessionStore) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, session := range s.sessions {
		if now.Sub(session.LastActive) > maxAge {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// SessionCount returns the number of stored sessions
func (s *SessionStore) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveGroupIDs returns the IDs of groups not yet completed or failed
func (s *SessionStore) ActiveGroupIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, group := range s.groups {
		if group.Status == orchestrator.GroupActive || group.Status == orchestrator.GroupConverging {
			out = append(out, id)
		}
	}
	return out
}

func copySession(in *orchestrator.ThinkingSession) *orchestrator.ThinkingSession {
	out := *in
	if in.Insights != nil {
		out.Insights = append([]string(nil), in.Insights...)
	}
	if in.History != nil {
		out.History = append([]orchestrator.StepRecord(nil), in.History...)
	}
	if in.Metrics != nil {
		out.Metrics = make(map[string]float64, len(in.Metrics))
		for k, v := range in.Metrics {
			out.Metrics[k] = v
		}
	}
	return &out
}

func copyGroup(in *orchestrator.ParallelSessionGroup) *orchestrator.ParallelSessionGroup {
	out := *in
	if in.SessionIDs != nil {
		out.SessionIDs = append([]string(nil), in.SessionIDs...)
	}
	if in.CompletedSessions != nil {
		out.CompletedSessions = append([]string(nil), in.CompletedSessions...)
	}
	if in.Convergence != nil {
		conv := *in.Convergence
		out.Convergence = &conv
	}
	return &out
}
