package preempt

import (
	"testing"
	"time"
)

func TestStepBudgetExhaustion(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(100, 0)
	c.SetClock(func() time.Time { return now })

	c.Preempt("task-1", Budget{MaxSteps: 3, MaxTimeMs: 5000})

	if w := c.Consume("task-1", "s1", "m1"); w != nil {
		t.Fatalf("step 1 exhausted: %+v", w)
	}
	if w := c.Consume("task-1", "s2", "m1"); w != nil {
		t.Fatalf("step 2 exhausted: %+v", w)
	}
	w := c.Consume("task-1", "s3", "m2")
	if w == nil {
		t.Fatal("step 3 should exhaust the budget")
	}
	if w.Exhaustion != ExhaustedSteps {
		t.Errorf("exhaustion = %s, want steps_exhausted", w.Exhaustion)
	}
	if w.LastStepID != "s3" || w.ModuleCursor != "m2" {
		t.Errorf("witness cursor = %s/%s", w.LastStepID, w.ModuleCursor)
	}

	// The grant is consumed with the witness.
	if w := c.Consume("task-1", "s4", "m2"); w != nil {
		t.Errorf("consumed grant still active: %+v", w)
	}
}

func TestTimeBudgetExhaustion(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(100, 0)
	c.SetClock(func() time.Time { return now })

	c.Preempt("task-1", Budget{MaxSteps: 10, MaxTimeMs: 5000})

	now = now.Add(4 * time.Second)
	if w := c.Consume("task-1", "s1", ""); w != nil {
		t.Fatalf("within time budget: %+v", w)
	}
	now = now.Add(2 * time.Second)
	w := c.Consume("task-1", "s2", "")
	if w == nil || w.Exhaustion != ExhaustedTime {
		t.Fatalf("witness = %+v, want time_exhausted", w)
	}
}

func TestBothBudgetsExhausted(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(100, 0)
	c.SetClock(func() time.Time { return now })

	c.Preempt("task-1", Budget{MaxSteps: 1, MaxTimeMs: 1000})
	now = now.Add(2 * time.Second)
	w := c.Consume("task-1", "s1", "")
	if w == nil || w.Exhaustion != ExhaustedBoth {
		t.Fatalf("witness = %+v, want both_exhausted", w)
	}
}

func TestRegrantResetsConsumption(t *testing.T) {
	c := NewCoordinator()
	c.Preempt("task-1", Budget{MaxSteps: 2, MaxTimeMs: 60000})
	c.Consume("task-1", "s1", "")

	c.Preempt("task-1", Budget{MaxSteps: 2, MaxTimeMs: 60000})
	if w := c.Consume("task-1", "s2", ""); w != nil {
		t.Errorf("regrant did not reset steps: %+v", w)
	}
}

func TestZeroBudgetFallsBackToDefault(t *testing.T) {
	c := NewCoordinator()
	c.Preempt("task-1", Budget{})
	for i := 0; i < DefaultBudget.MaxSteps-1; i++ {
		if w := c.Consume("task-1", "s", ""); w != nil {
			t.Fatalf("default budget exhausted early at %d: %+v", i+1, w)
		}
	}
	if w := c.Consume("task-1", "s", ""); w == nil {
		t.Error("default budget never exhausted")
	}
}

func TestConsumeWithoutGrant(t *testing.T) {
	c := NewCoordinator()
	if w := c.Consume("task-unknown", "s1", ""); w != nil {
		t.Errorf("no grant, got witness %+v", w)
	}
}

func TestRelease(t *testing.T) {
	c := NewCoordinator()
	c.Preempt("task-1", Budget{MaxSteps: 1, MaxTimeMs: 60000})
	c.Release("task-1")
	if w := c.Consume("task-1", "s1", ""); w != nil {
		t.Errorf("released grant produced witness: %+v", w)
	}
}
