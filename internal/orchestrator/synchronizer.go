package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator/config"
)

var (
	// ErrGroupNotFound is returned when a group ID has no shared context
	ErrGroupNotFound = errors.New("shared context not found for group")
)

// pendingUpdate is one queued batched/checkpoint update
type pendingUpdate struct {
	sessionID string
	update    ContextUpdate
}

// batchState is the per-group queue for batched and checkpoint strategies
type batchState struct {
	pending []pendingUpdate
	timer   Timer
	armed   bool
}

// SyncStats aggregates synchronizer state across all tracked groups
type SyncStats struct {
	Groups        int                    `json:"groups"`
	TotalInsights int                    `json:"totalInsights"`
	TotalUpdates  int                    `json:"totalUpdates"`
	PendingCount  int                    `json:"pendingCount"`
	Strategies    map[UpdateStrategy]int `json:"strategies"`
}

// Synchronizer owns one SharedContext per parallel group and is the only
// legal mutation path for it. Mutations for the same group are serialized
// in submission order through a keyed FIFO lock; different groups proceed
// independently. Applied updates and flushed batches are published on the
// event bus.
type Synchronizer struct {
	cfg    config.SyncConfig
	clock  Clock
	bus    *EventBus
	index  *SessionIndex
	logger *slog.Logger
	locks  *keyedLock

	mu         sync.RWMutex
	contexts   map[string]*SharedContext
	strategies map[string]UpdateStrategy
	batches    map[string]*batchState
}

// NewSynchronizer creates a session synchronizer
func NewSynchronizer(cfg config.SyncConfig, clock Clock, bus *EventBus, index *SessionIndex, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		cfg:        cfg,
		clock:      clock,
		bus:        bus,
		index:      index,
		logger:     logger,
		locks:      newKeyedLock(),
		contexts:   make(map[string]*SharedContext),
		strategies: make(map[string]UpdateStrategy),
		batches:    make(map[string]*batchState),
	}
}

// InitializeSharedContext creates the shared context for a group with the
// given update strategy. Idempotent: an existing context for the group is
// cleared first.
func (s *Synchronizer) InitializeSharedContext(groupID string, strategy UpdateStrategy) {
	if strategy == "" {
		strategy = UpdateImmediate
	}

	// queue behind in-flight operations so a re-init never races an update
	_ = s.locks.Do(groupID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if bs, ok := s.batches[groupID]; ok && bs.timer != nil {
			bs.timer.Stop()
		}
		s.contexts[groupID] = &SharedContext{
			GroupID:    groupID,
			Insights:   []string{},
			Themes:     make(map[string]float64),
			Metrics:    make(map[string]float64),
			LastUpdate: s.clock.Now(),
		}
		s.strategies[groupID] = strategy
		s.batches[groupID] = &batchState{}
		return nil
	})

	s.logger.Debug("Initialized shared context",
		"group_id", groupID,
		"strategy", strategy,
	)
}

// UpdateSharedContext folds a session's update into the group context
// according to the group's strategy: immediate applies synchronously under
// the group lock, batched queues and flushes on size or interval, and
// checkpoint queues until ProcessCheckpoint.
func (s *Synchronizer) UpdateSharedContext(sessionID, groupID string, update ContextUpdate) error {
	s.mu.RLock()
	strategy, ok := s.strategies[groupID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	switch strategy {
	case UpdateBatched:
		return s.enqueue(sessionID, groupID, update, true)
	case UpdateCheckpoint:
		return s.enqueue(sessionID, groupID, update, false)
	default:
		err := s.locks.Do(groupID, func() error {
			return s.applyUpdate(groupID, sessionID, update)
		})
		if err != nil {
			return err
		}
		// published after the group lock is released so a handler may call
		// back into locked operations on the same group
		s.publishUpdate(groupID, sessionID, 1)
		return nil
	}
}

// enqueue appends an update to the group queue. With a timer, the queue
// flushes when it reaches the max batch size or when the interval fires;
// arming is idempotent so concurrent updates never arm two timers.
func (s *Synchronizer) enqueue(sessionID, groupID string, update ContextUpdate, withTimer bool) error {
	s.mu.Lock()
	bs, ok := s.batches[groupID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	bs.pending = append(bs.pending, pendingUpdate{sessionID: sessionID, update: update})
	// checkpoint queues are unbounded until an explicit checkpoint call
	full := withTimer && len(bs.pending) >= s.cfg.MaxBatchSize

	if full {
		if bs.timer != nil {
			bs.timer.Stop()
		}
		bs.armed = false
		s.mu.Unlock()
		return s.flush(groupID)
	}

	if withTimer && !bs.armed {
		bs.armed = true
		bs.timer = s.clock.AfterFunc(s.cfg.BatchInterval, func() {
			if err := s.flush(groupID); err != nil {
				s.logger.Error("Batch flush failed", "group_id", groupID, "error", err)
			}
		})
	}
	s.mu.Unlock()
	return nil
}

// ProcessCheckpoint flushes the queued updates of a checkpoint-strategy
// group. Also legal for batched groups, where it forces an early flush.
func (s *Synchronizer) ProcessCheckpoint(groupID string) error {
	s.mu.RLock()
	_, ok := s.batches[groupID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	return s.flush(groupID)
}

// flush drains the pending queue and applies it atomically under the
// group lock, then publishes a batch event once the lock is released.
func (s *Synchronizer) flush(groupID string) error {
	var applied int
	err := s.locks.Do(groupID, func() error {
		s.mu.Lock()
		bs, ok := s.batches[groupID]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
		drained := bs.pending
		bs.pending = nil
		bs.armed = false
		if bs.timer != nil {
			bs.timer.Stop()
			bs.timer = nil
		}
		s.mu.Unlock()

		for _, pu := range drained {
			if err := s.applyUpdate(groupID, pu.sessionID, pu.update); err != nil {
				return err
			}
		}
		applied = len(drained)
		return nil
	})
	if err != nil || applied == 0 {
		return err
	}

	s.bus.Publish(Event{
		Topic:   TopicBatch(groupID),
		GroupID: groupID,
		Data:    map[string]any{"updates": applied},
		At:      s.clock.Now(),
	})
	return nil
}

// applyUpdate folds one update into the group's context: insights append
// and trim to the max keeping the most recent, theme weights add then trim
// to the top-N, metrics shallow-merge with last write winning per key.
// Callers must hold the group lock.
func (s *Synchronizer) applyUpdate(groupID, sessionID string, update ContextUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.contexts[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	sc.Insights = append(sc.Insights, update.Insights...)
	if n := len(sc.Insights); n > s.cfg.MaxInsights {
		sc.Insights = append([]string{}, sc.Insights[n-s.cfg.MaxInsights:]...)
	}

	for _, tw := range update.Themes {
		sc.Themes[tw.Theme] += tw.Weight
	}
	if len(sc.Themes) > s.cfg.MaxThemes {
		trimThemes(sc.Themes, s.cfg.MaxThemes)
	}

	for k, v := range update.Metrics {
		sc.Metrics[k] = v
	}

	sc.LastUpdate = s.clock.Now()
	sc.UpdateCount++

	if sessionID != "" {
		s.index.SetStatus(sessionID, SessionRunning)
	}
	return nil
}

func (s *Synchronizer) publishUpdate(groupID, sessionID string, count int) {
	s.bus.Publish(Event{
		Topic:     TopicUpdate(groupID),
		GroupID:   groupID,
		SessionID: sessionID,
		Data:      map[string]any{"updates": count},
		At:        s.clock.Now(),
	})
}

// AtomicThemeUpdate adds delta to one theme's weight under the group lock
func (s *Synchronizer) AtomicThemeUpdate(groupID, theme string, delta float64) error {
	return s.locks.Do(groupID, func() error {
		return s.applyUpdate(groupID, "", ContextUpdate{
			Themes: []ThemeWeight{{Theme: theme, Weight: delta}},
		})
	})
}

// AtomicMetricUpdate sets one metric under the group lock
func (s *Synchronizer) AtomicMetricUpdate(groupID, name string, value float64) error {
	return s.locks.Do(groupID, func() error {
		return s.applyUpdate(groupID, "", ContextUpdate{
			Metrics: map[string]float64{name: value},
		})
	})
}

// AtomicMetricIncrement adds delta to one metric as a read-modify-write
// under the group lock, so concurrent increments never lose updates.
func (s *Synchronizer) AtomicMetricIncrement(groupID, name string, delta float64) error {
	return s.locks.Do(groupID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sc, ok := s.contexts[groupID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
		sc.Metrics[name] += delta
		sc.LastUpdate = s.clock.Now()
		sc.UpdateCount++
		return nil
	})
}

// ContextSummary returns the read-only digest of a group's context, with
// at most ten themes ordered by weight descending.
func (s *Synchronizer) ContextSummary(groupID string) (*ContextSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.contexts[groupID]
	if !ok {
		return nil, false
	}

	metrics := make(map[string]float64, len(sc.Metrics))
	for k, v := range sc.Metrics {
		metrics[k] = v
	}

	return &ContextSummary{
		InsightCount: len(sc.Insights),
		TopThemes:    topThemes(sc.Themes, 10),
		Metrics:      metrics,
		LastUpdate:   sc.LastUpdate,
		UpdateCount:  sc.UpdateCount,
	}, true
}

// MergeContexts unions the contexts of several groups for hierarchical
// composition: insights concatenate in group order, theme weights sum,
// metrics merge with last write winning, update counts sum. Groups without
// a context are skipped; false is returned when none existed.
func (s *Synchronizer) MergeContexts(groupIDs []string) (*SharedContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := &SharedContext{
		Insights: []string{},
		Themes:   make(map[string]float64),
		Metrics:  make(map[string]float64),
	}
	found := false
	for _, groupID := range groupIDs {
		sc, ok := s.contexts[groupID]
		if !ok {
			continue
		}
		found = true
		merged.Insights = append(merged.Insights, sc.Insights...)
		for theme, w := range sc.Themes {
			merged.Themes[theme] += w
		}
		for k, v := range sc.Metrics {
			merged.Metrics[k] = v
		}
		merged.UpdateCount += sc.UpdateCount
		if sc.LastUpdate.After(merged.LastUpdate) {
			merged.LastUpdate = sc.LastUpdate
		}
	}
	if !found {
		return nil, false
	}
	return merged, true
}

// ClearContext removes all state and listeners for a group. It queues
// behind the group's in-flight operations, so a clear never interleaves
// with an update.
func (s *Synchronizer) ClearContext(groupID string) {
	_ = s.locks.Do(groupID, func() error {
		s.mu.Lock()
		if bs, ok := s.batches[groupID]; ok && bs.timer != nil {
			bs.timer.Stop()
		}
		delete(s.contexts, groupID)
		delete(s.strategies, groupID)
		delete(s.batches, groupID)
		s.mu.Unlock()

		s.bus.DropTopic(TopicUpdate(groupID))
		s.bus.DropTopic(TopicBatch(groupID))
		return nil
	})
	s.logger.Debug("Cleared shared context", "group_id", groupID)
}

// CleanupInactiveGroups clears every tracked group not present in
// activeIDs and returns how many were cleared.
func (s *Synchronizer) CleanupInactiveGroups(activeIDs []string) int {
	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	s.mu.RLock()
	var stale []string
	for groupID := range s.contexts {
		if _, ok := active[groupID]; !ok {
			stale = append(stale, groupID)
		}
	}
	s.mu.RUnlock()

	for _, groupID := range stale {
		s.ClearContext(groupID)
	}
	return len(stale)
}

// Stats aggregates counts and the strategy distribution across all groups
func (s *Synchronizer) Stats() SyncStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SyncStats{
		Groups:     len(s.contexts),
		Strategies: make(map[UpdateStrategy]int),
	}
	for _, sc := range s.contexts {
		stats.TotalInsights += len(sc.Insights)
		stats.TotalUpdates += sc.UpdateCount
	}
	for _, strategy := range s.strategies {
		stats.Strategies[strategy]++
	}
	for _, bs := range s.batches {
		stats.PendingCount += len(bs.pending)
	}
	return stats
}

// trimThemes keeps the top max themes by weight, breaking ties by theme
// name so trimming is deterministic.
func trimThemes(themes map[string]float64, max int) {
	ranked := make([]ThemeWeight, 0, len(themes))
	for theme, w := range themes {
		ranked = append(ranked, ThemeWeight{Theme: theme, Weight: w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		return ranked[i].Theme < ranked[j].Theme
	})
	for _, tw := range ranked[max:] {
		delete(themes, tw.Theme)
	}
}

// topThemes returns up to max themes ordered by weight descending
func topThemes(themes map[string]float64, max int) []ThemeWeight {
	ranked := make([]ThemeWeight, 0, len(themes))
	for theme, w := range themes {
		ranked = append(ranked, ThemeWeight{Theme: theme, Weight: w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		return ranked[i].Theme < ranked[j].Theme
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}
