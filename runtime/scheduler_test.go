package runtime

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type fakeMaintainer struct {
	agents       []string
	failDecayFor map[string]bool
	decayCalls   map[string]int
	cleanupCalls map[string]int
}

func newFakeMaintainer(agents ...string) *fakeMaintainer {
	return &fakeMaintainer{
		agents:       agents,
		failDecayFor: map[string]bool{},
		decayCalls:   map[string]int{},
		cleanupCalls: map[string]int{},
	}
}

func (m *fakeMaintainer) AgentIDs(ctx context.Context) []string { return m.agents }

func (m *fakeMaintainer) DecayOldMemories(ctx context.Context, agentID string, daysThreshold int) bool {
	m.decayCalls[agentID]++
	return !m.failDecayFor[agentID]
}

func (m *fakeMaintainer) Cleanup(ctx context.Context, agentID string) int {
	m.cleanupCalls[agentID]++
	return 2
}

func TestNewSchedulerParsesCronAndDuration(t *testing.T) {
	store := newFakeMaintainer()
	for _, schedule := range []string{"0 3 * * *", "*/5 * * * *", "6h", "@daily"} {
		if _, err := NewScheduler(store, schedule, 30, zerolog.Nop()); err != nil {
			t.Errorf("NewScheduler(%q) failed: %v", schedule, err)
		}
	}
	if _, err := NewScheduler(store, "not a schedule", 30, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := NewScheduler(store, "", 30, zerolog.Nop()); err == nil {
		t.Error("expected error for empty schedule")
	}
}

func TestRunSweepDecaysThenCleans(t *testing.T) {
	store := newFakeMaintainer("agent-1", "agent-2")
	sched, err := NewScheduler(store, "6h", 30, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	sched.RunSweep(context.Background())

	for _, agentID := range store.agents {
		if store.decayCalls[agentID] != 1 {
			t.Errorf("decay calls for %s = %d, want 1", agentID, store.decayCalls[agentID])
		}
		if store.cleanupCalls[agentID] != 1 {
			t.Errorf("cleanup calls for %s = %d, want 1", agentID, store.cleanupCalls[agentID])
		}
	}
}

func TestRunSweepSkipsCleanupWhenDecayKeepsFailing(t *testing.T) {
	store := newFakeMaintainer("agent-1", "agent-2")
	store.failDecayFor["agent-1"] = true
	sched, err := NewScheduler(store, "6h", 30, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	// Cancelled context keeps the backoff retry from sleeping through the
	// test; the first failed attempt is terminal.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sched.RunSweep(ctx)

	if store.cleanupCalls["agent-1"] != 0 {
		t.Errorf("cleanup ran for failing agent, calls = %d", store.cleanupCalls["agent-1"])
	}
	if store.cleanupCalls["agent-2"] != 1 {
		t.Errorf("cleanup calls for healthy agent = %d, want 1", store.cleanupCalls["agent-2"])
	}
}
