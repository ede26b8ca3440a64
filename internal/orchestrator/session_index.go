package orchestrator

import (
	"sort"
	"sync"
)

// SessionIndex maintains fast lookup indexes over live sessions:
// technique -> session IDs, group -> session IDs, and session -> status.
// It is an index, not the source of truth; the session store owns the data.
type SessionIndex struct {
	mu          sync.RWMutex
	byTechnique map[TechniqueID]map[string]struct{}
	byGroup     map[string]map[string]struct{}
	status      map[string]SessionStatus
	group       map[string]string
}

// NewSessionIndex creates an empty session index
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		byTechnique: make(map[TechniqueID]map[string]struct{}),
		byGroup:     make(map[string]map[string]struct{}),
		status:      make(map[string]SessionStatus),
		group:       make(map[string]string),
	}
}

// Register indexes a session under its technique and group
func (idx *SessionIndex) Register(sessionID string, technique TechniqueID, groupID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.byTechnique[technique] == nil {
		idx.byTechnique[technique] = make(map[string]struct{})
	}
	idx.byTechnique[technique][sessionID] = struct{}{}

	if groupID != "" {
		if idx.byGroup[groupID] == nil {
			idx.byGroup[groupID] = make(map[string]struct{})
		}
		idx.byGroup[groupID][sessionID] = struct{}{}
		idx.group[sessionID] = groupID
	}

	idx.status[sessionID] = SessionRunning
}

// SetStatus updates the indexed status of a session; unknown sessions are
// ignored.
func (idx *SessionIndex) SetStatus(sessionID string, status SessionStatus) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.status[sessionID]; ok {
		idx.status[sessionID] = status
	}
}

// Status returns the indexed status of a session
func (idx *SessionIndex) Status(sessionID string) (SessionStatus, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.status[sessionID]
	return s, ok
}

// SessionsForTechnique returns the session IDs indexed under a technique,
// sorted for deterministic output.
func (idx *SessionIndex) SessionsForTechnique(technique TechniqueID) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.byTechnique[technique])
}

// GroupSessions returns the session IDs indexed under a group, sorted
func (idx *SessionIndex) GroupSessions(groupID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.byGroup[groupID])
}

// GroupOf returns the group a session is indexed under
func (idx *SessionIndex) GroupOf(sessionID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	g, ok := idx.group[sessionID]
	return g, ok
}

// Remove drops a session from every index
func (idx *SessionIndex) Remove(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for technique, ids := range idx.byTechnique {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(idx.byTechnique, technique)
		}
	}
	if groupID, ok := idx.group[sessionID]; ok {
		delete(idx.byGroup[groupID], sessionID)
		if len(idx.byGroup[groupID]) == 0 {
			delete(idx.byGroup, groupID)
		}
	}
	delete(idx.group, sessionID)
	delete(idx.status, sessionID)
}

// StatusCounts returns the number of sessions per status
func (idx *SessionIndex) StatusCounts() map[SessionStatus]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	counts := make(map[SessionStatus]int)
	for _, s := range idx.status {
		counts[s]++
	}
	return counts
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
