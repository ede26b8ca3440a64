package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator/config"
)

func newTestSynchronizer(clock Clock) (*Synchronizer, *EventBus, *SessionIndex) {
	bus := NewEventBus()
	index := NewSessionIndex()
	s := NewSynchronizer(config.DefaultSyncConfig(), clock, bus, index, testLogger())
	return s, bus, index
}

func TestSynchronizer_ImmediateUpdate(t *testing.T) {
	s, bus, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)

	var events []Event
	bus.Subscribe(TopicUpdate("g1"), func(ev Event) { events = append(events, ev) })

	err := s.UpdateSharedContext("s1", "g1", ContextUpdate{
		Insights: []string{"users skip step two"},
		Themes:   []ThemeWeight{{Theme: "friction", Weight: 0.5}},
		Metrics:  map[string]float64{"confidence": 0.7},
	})
	if err != nil {
		t.Fatalf("UpdateSharedContext failed: %v", err)
	}

	summary, ok := s.ContextSummary("g1")
	if !ok {
		t.Fatal("Expected a context summary")
	}
	if summary.InsightCount != 1 {
		t.Errorf("InsightCount = %d, want 1", summary.InsightCount)
	}
	if summary.UpdateCount != 1 {
		t.Errorf("UpdateCount = %d, want 1", summary.UpdateCount)
	}
	if summary.Metrics["confidence"] != 0.7 {
		t.Errorf("Metric confidence = %v, want 0.7", summary.Metrics["confidence"])
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 update event, got %d", len(events))
	}
}

func TestSynchronizer_UnknownGroup(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())

	err := s.UpdateSharedContext("s1", "ghost", ContextUpdate{Insights: []string{"x"}})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound, got %v", err)
	}
	if err := s.ProcessCheckpoint("ghost"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound from checkpoint, got %v", err)
	}
}

func TestSynchronizer_InsightTrimKeepsRecent(t *testing.T) {
	clock := newFakeClock()
	bus := NewEventBus()
	cfg := config.DefaultSyncConfig()
	cfg.MaxInsights = 5
	s := NewSynchronizer(cfg, clock, bus, NewSessionIndex(), testLogger())
	s.InitializeSharedContext("g1", UpdateImmediate)

	for i := 0; i < 8; i++ {
		err := s.UpdateSharedContext("s1", "g1", ContextUpdate{
			Insights: []string{fmt.Sprintf("insight-%d", i)},
		})
		if err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	summary, _ := s.ContextSummary("g1")
	if summary.InsightCount != 5 {
		t.Errorf("InsightCount = %d, want 5", summary.InsightCount)
	}
	// the retained window is the most recent, verified via merge output
	merged, ok := s.MergeContexts([]string{"g1"})
	if !ok {
		t.Fatal("MergeContexts found nothing")
	}
	if merged.Insights[0] != "insight-3" || merged.Insights[4] != "insight-7" {
		t.Errorf("Trim kept %v, want insight-3 through insight-7", merged.Insights)
	}
}

func TestSynchronizer_ThemeTrimKeepsHeaviest(t *testing.T) {
	clock := newFakeClock()
	cfg := config.DefaultSyncConfig()
	cfg.MaxThemes = 3
	s := NewSynchronizer(cfg, clock, NewEventBus(), NewSessionIndex(), testLogger())
	s.InitializeSharedContext("g1", UpdateImmediate)

	themes := []ThemeWeight{
		{Theme: "alpha", Weight: 0.9},
		{Theme: "beta", Weight: 0.1},
		{Theme: "gamma", Weight: 0.7},
		{Theme: "delta", Weight: 0.5},
	}
	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Themes: themes}); err != nil {
		t.Fatalf("UpdateSharedContext failed: %v", err)
	}

	summary, _ := s.ContextSummary("g1")
	if len(summary.TopThemes) != 3 {
		t.Fatalf("Expected 3 themes after trim, got %v", summary.TopThemes)
	}
	for _, tw := range summary.TopThemes {
		if tw.Theme == "beta" {
			t.Error("Lightest theme survived the trim")
		}
	}
	if summary.TopThemes[0].Theme != "alpha" {
		t.Errorf("Heaviest theme first, got %v", summary.TopThemes)
	}
}

func TestSynchronizer_ThemeWeightsAccumulate(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)

	for i := 0; i < 3; i++ {
		err := s.UpdateSharedContext("s1", "g1", ContextUpdate{
			Themes: []ThemeWeight{{Theme: "friction", Weight: 0.5}},
		})
		if err != nil {
			t.Fatalf("UpdateSharedContext failed: %v", err)
		}
	}

	summary, _ := s.ContextSummary("g1")
	if len(summary.TopThemes) != 1 || summary.TopThemes[0].Weight != 1.5 {
		t.Errorf("Theme weight should accumulate to 1.5, got %v", summary.TopThemes)
	}
}

func TestSynchronizer_BatchedFlushOnSize(t *testing.T) {
	clock := newFakeClock()
	cfg := config.DefaultSyncConfig()
	cfg.MaxBatchSize = 3
	bus := NewEventBus()
	s := NewSynchronizer(cfg, clock, bus, NewSessionIndex(), testLogger())
	s.InitializeSharedContext("g1", UpdateBatched)

	var batches []Event
	bus.Subscribe(TopicBatch("g1"), func(ev Event) { batches = append(batches, ev) })

	for i := 0; i < 2; i++ {
		if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if summary, _ := s.ContextSummary("g1"); summary.InsightCount != 0 {
		t.Errorf("Updates applied before the batch filled, count %d", summary.InsightCount)
	}

	// the third update hits the size bound and flushes
	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	summary, _ := s.ContextSummary("g1")
	if summary.InsightCount != 3 {
		t.Errorf("InsightCount = %d after size flush, want 3", summary.InsightCount)
	}
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch event, got %d", len(batches))
	}
	if batches[0].Data["updates"] != 3 {
		t.Errorf("Batch event reports %v updates, want 3", batches[0].Data["updates"])
	}
}

func TestSynchronizer_BatchedFlushOnInterval(t *testing.T) {
	clock := newFakeClock()
	cfg := config.DefaultSyncConfig()
	bus := NewEventBus()
	s := NewSynchronizer(cfg, clock, bus, NewSessionIndex(), testLogger())
	s.InitializeSharedContext("g1", UpdateBatched)

	var batches int
	bus.Subscribe(TopicBatch("g1"), func(Event) { batches++ })

	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.UpdateSharedContext("s2", "g1", ContextUpdate{Insights: []string{"y"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	// two queued updates arm exactly one timer
	if clock.pendingTimers() != 1 {
		t.Errorf("Expected 1 armed timer, got %d", clock.pendingTimers())
	}

	clock.Advance(cfg.BatchInterval)

	summary, _ := s.ContextSummary("g1")
	if summary.InsightCount != 2 {
		t.Errorf("InsightCount = %d after interval flush, want 2", summary.InsightCount)
	}
	if batches != 1 {
		t.Errorf("Expected 1 batch event, got %d", batches)
	}

	// the timer does not re-fire for an empty queue
	clock.Advance(cfg.BatchInterval)
	if batches != 1 {
		t.Errorf("Timer re-fired on empty queue, %d events", batches)
	}
}

func TestSynchronizer_CheckpointFlushesOnlyExplicitly(t *testing.T) {
	clock := newFakeClock()
	cfg := config.DefaultSyncConfig()
	cfg.MaxBatchSize = 2
	s := NewSynchronizer(cfg, clock, NewEventBus(), NewSessionIndex(), testLogger())
	s.InitializeSharedContext("g1", UpdateCheckpoint)

	// checkpoint queues are unbounded: exceeding the batch size must not flush
	for i := 0; i < 5; i++ {
		if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if summary, _ := s.ContextSummary("g1"); summary.InsightCount != 0 {
		t.Errorf("Checkpoint updates applied without a checkpoint, count %d", summary.InsightCount)
	}
	if clock.pendingTimers() != 0 {
		t.Errorf("Checkpoint strategy armed %d timers", clock.pendingTimers())
	}

	if err := s.ProcessCheckpoint("g1"); err != nil {
		t.Fatalf("ProcessCheckpoint failed: %v", err)
	}
	summary, _ := s.ContextSummary("g1")
	if summary.InsightCount != 5 {
		t.Errorf("InsightCount = %d after checkpoint, want 5", summary.InsightCount)
	}

	// an empty checkpoint is legal and a no-op
	if err := s.ProcessCheckpoint("g1"); err != nil {
		t.Fatalf("Empty checkpoint failed: %v", err)
	}
}

func TestSynchronizer_Reinitialize(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)

	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"old"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	s.InitializeSharedContext("g1", UpdateImmediate)

	summary, ok := s.ContextSummary("g1")
	if !ok {
		t.Fatal("Context missing after re-init")
	}
	if summary.InsightCount != 0 || summary.UpdateCount != 0 {
		t.Errorf("Re-init did not reset the context: %+v", summary)
	}
}

func TestSynchronizer_AtomicMetricIncrementConcurrent(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AtomicMetricIncrement("g1", "ideas", 1); err != nil {
				t.Errorf("AtomicMetricIncrement failed: %v", err)
			}
		}()
	}
	wg.Wait()

	summary, _ := s.ContextSummary("g1")
	if summary.Metrics["ideas"] != 100 {
		t.Errorf("Metric ideas = %v after 100 increments, want 100", summary.Metrics["ideas"])
	}
	if summary.UpdateCount != 100 {
		t.Errorf("UpdateCount = %d, want 100", summary.UpdateCount)
	}
}

func TestSynchronizer_AtomicThemeAndMetricUpdate(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)

	if err := s.AtomicThemeUpdate("g1", "friction", 0.4); err != nil {
		t.Fatalf("AtomicThemeUpdate failed: %v", err)
	}
	if err := s.AtomicThemeUpdate("g1", "friction", 0.6); err != nil {
		t.Fatalf("AtomicThemeUpdate failed: %v", err)
	}
	if err := s.AtomicMetricUpdate("g1", "confidence", 0.8); err != nil {
		t.Fatalf("AtomicMetricUpdate failed: %v", err)
	}

	summary, _ := s.ContextSummary("g1")
	if len(summary.TopThemes) != 1 || summary.TopThemes[0].Weight != 1.0 {
		t.Errorf("Theme friction = %v, want weight 1.0", summary.TopThemes)
	}
	if summary.Metrics["confidence"] != 0.8 {
		t.Errorf("Metric confidence = %v, want 0.8", summary.Metrics["confidence"])
	}
}

func TestSynchronizer_MergeContexts(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)
	s.InitializeSharedContext("g2", UpdateImmediate)

	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{
		Insights: []string{"from-a"},
		Themes:   []ThemeWeight{{Theme: "shared", Weight: 3}},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.UpdateSharedContext("s2", "g2", ContextUpdate{
		Insights: []string{"from-b"},
		Themes:   []ThemeWeight{{Theme: "shared", Weight: 3}},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	merged, ok := s.MergeContexts([]string{"g1", "g2", "ghost"})
	if !ok {
		t.Fatal("MergeContexts found nothing")
	}
	if len(merged.Insights) != 2 || merged.Insights[0] != "from-a" || merged.Insights[1] != "from-b" {
		t.Errorf("Merged insights = %v, want [from-a from-b]", merged.Insights)
	}
	if merged.Themes["shared"] != 6 {
		t.Errorf("Merged theme weight = %v, want 6", merged.Themes["shared"])
	}
	if merged.UpdateCount != 2 {
		t.Errorf("Merged update count = %d, want 2", merged.UpdateCount)
	}

	if _, ok := s.MergeContexts([]string{"ghost"}); ok {
		t.Error("Merge of unknown groups must report not found")
	}
}

func TestSynchronizer_ClearContext(t *testing.T) {
	s, bus, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)
	bus.Subscribe(TopicUpdate("g1"), func(Event) {})
	bus.Subscribe(TopicBatch("g1"), func(Event) {})

	s.ClearContext("g1")

	if _, ok := s.ContextSummary("g1"); ok {
		t.Error("Context survived ClearContext")
	}
	if bus.SubscriberCount(TopicUpdate("g1")) != 0 {
		t.Error("Update listeners survived ClearContext")
	}
	if bus.SubscriberCount(TopicBatch("g1")) != 0 {
		t.Error("Batch listeners survived ClearContext")
	}
	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Update after clear returned %v, want ErrGroupNotFound", err)
	}
}

func TestSynchronizer_CleanupInactiveGroups(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)
	s.InitializeSharedContext("g2", UpdateImmediate)
	s.InitializeSharedContext("g3", UpdateImmediate)

	cleared := s.CleanupInactiveGroups([]string{"g2"})
	if cleared != 2 {
		t.Errorf("Cleared %d groups, want 2", cleared)
	}
	if _, ok := s.ContextSummary("g2"); !ok {
		t.Error("Active group was cleared")
	}
	if _, ok := s.ContextSummary("g1"); ok {
		t.Error("Inactive group g1 survived cleanup")
	}
}

func TestSynchronizer_SummaryTopThemesBounded(t *testing.T) {
	clock := newFakeClock()
	cfg := config.DefaultSyncConfig()
	s := NewSynchronizer(cfg, clock, NewEventBus(), NewSessionIndex(), testLogger())
	s.InitializeSharedContext("g1", UpdateImmediate)

	var themes []ThemeWeight
	for i := 0; i < 15; i++ {
		themes = append(themes, ThemeWeight{Theme: fmt.Sprintf("theme-%02d", i), Weight: float64(i)})
	}
	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Themes: themes}); err != nil {
		t.Fatalf("UpdateSharedContext failed: %v", err)
	}

	summary, _ := s.ContextSummary("g1")
	if len(summary.TopThemes) > 10 {
		t.Errorf("Summary carries %d themes, want at most 10", len(summary.TopThemes))
	}
	for i := 1; i < len(summary.TopThemes); i++ {
		if summary.TopThemes[i].Weight > summary.TopThemes[i-1].Weight {
			t.Errorf("Themes not ordered by weight: %v", summary.TopThemes)
		}
	}
}

func TestSynchronizer_Stats(t *testing.T) {
	s, _, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)
	s.InitializeSharedContext("g2", UpdateCheckpoint)

	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"a", "b"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.UpdateSharedContext("s2", "g2", ContextUpdate{Insights: []string{"c"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	stats := s.Stats()
	if stats.Groups != 2 {
		t.Errorf("Groups = %d, want 2", stats.Groups)
	}
	if stats.TotalInsights != 2 {
		t.Errorf("TotalInsights = %d, want 2 (checkpoint still queued)", stats.TotalInsights)
	}
	if stats.PendingCount != 1 {
		t.Errorf("PendingCount = %d, want 1", stats.PendingCount)
	}
	if stats.Strategies[UpdateImmediate] != 1 || stats.Strategies[UpdateCheckpoint] != 1 {
		t.Errorf("Strategy distribution = %v", stats.Strategies)
	}
}

func TestSynchronizer_SessionStatusRefresh(t *testing.T) {
	s, _, index := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)
	index.Register("s1", TechniqueSixHats, "g1")
	index.SetStatus("s1", SessionWaiting)

	if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if status, _ := index.Status("s1"); status != SessionRunning {
		t.Errorf("Contributing session status = %q, want running", status)
	}
}

// a slow subscriber must not corrupt ordering for later updates
func TestSynchronizer_SubscriberSeesAppliedState(t *testing.T) {
	s, bus, _ := newTestSynchronizer(newFakeClock())
	s.InitializeSharedContext("g1", UpdateImmediate)

	var counts []int
	bus.Subscribe(TopicUpdate("g1"), func(Event) {
		summary, _ := s.ContextSummary("g1")
		counts = append(counts, summary.InsightCount)
	})

	for i := 0; i < 3; i++ {
		if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	want := []int{1, 2, 3}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("Subscriber observed counts %v, want %v", counts, want)
		}
	}
}

// event handlers may call back into locked operations on the same group
func TestSynchronizer_HandlerReentersGroupLock(t *testing.T) {
	t.Run("update event", func(t *testing.T) {
		s, bus, _ := newTestSynchronizer(newFakeClock())
		s.InitializeSharedContext("g1", UpdateImmediate)

		bus.Subscribe(TopicUpdate("g1"), func(Event) {
			if err := s.AtomicMetricIncrement("g1", "echoes", 1); err != nil {
				t.Errorf("Re-entrant increment failed: %v", err)
			}
		})

		done := make(chan error, 1)
		go func() {
			done <- s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}})
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("UpdateSharedContext failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Update deadlocked behind its own event handler")
		}

		summary, _ := s.ContextSummary("g1")
		if summary.Metrics["echoes"] != 1 {
			t.Errorf("Metric echoes = %v, want 1", summary.Metrics["echoes"])
		}
	})

	t.Run("batch event", func(t *testing.T) {
		s, bus, _ := newTestSynchronizer(newFakeClock())
		s.InitializeSharedContext("g1", UpdateCheckpoint)

		bus.Subscribe(TopicBatch("g1"), func(Event) {
			if err := s.AtomicThemeUpdate("g1", "echoes", 0.5); err != nil {
				t.Errorf("Re-entrant theme update failed: %v", err)
			}
		})

		if err := s.UpdateSharedContext("s1", "g1", ContextUpdate{Insights: []string{"x"}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- s.ProcessCheckpoint("g1") }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("ProcessCheckpoint failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Checkpoint deadlocked behind its own event handler")
		}

		summary, _ := s.ContextSummary("g1")
		if len(summary.TopThemes) != 1 || summary.TopThemes[0].Weight != 0.5 {
			t.Errorf("TopThemes = %v, want echoes at 0.5", summary.TopThemes)
		}
	})
}
