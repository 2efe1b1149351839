package core

import (
	"testing"

	"botmind/internal/config"
	"botmind/internal/ingest"
	"botmind/internal/store"
	"botmind/internal/task"
)

func newCore(t *testing.T) *Core {
	t.Helper()
	c, err := New(config.Default(), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestAddTaskThroughCore(t *testing.T) {
	c := newCore(t)

	res, err := c.AddTask(&task.Partial{
		Title:      "Collect oak_log",
		Type:       "gathering",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "oak_log", "quantity": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != ingest.DecisionCreated {
		t.Fatalf("decision = %s", res.Decision)
	}
	if len(c.GetActiveTasks()) != 1 {
		t.Error("task not visible in active set")
	}
	if c.GetTaskProgress(res.Task.ID) == nil {
		t.Error("no progress record")
	}
}

func TestFailTaskOpensCooldown(t *testing.T) {
	c := newCore(t)

	res, err := c.AddTask(&task.Partial{
		Title:      "Craft iron_pickaxe",
		Type:       "crafting",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "iron_pickaxe", "quantity": 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !c.FailTask(res.Task.ID, "max_retries_exceeded", "") {
		t.Fatal("fail rejected")
	}
	if got := c.Store.Get(res.Task.ID).Status; got != task.StatusFailed {
		t.Fatalf("status = %s", got)
	}

	// The equivalent intent is rejected while the category cools down.
	dup, err := c.AddTask(&task.Partial{
		Title:      "Craft iron_pickaxe",
		Type:       "crafting",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "iron_pickaxe", "quantity": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if dup.Decision != ingest.DecisionDroppedCooldown {
		t.Errorf("decision = %s, want dropped_cooldown", dup.Decision)
	}
}

func TestPauseWallThroughCore(t *testing.T) {
	c := newCore(t)

	res, err := c.AddTask(&task.Partial{
		Title:      "Collect oak_log",
		Type:       "gathering",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "oak_log"},
	})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Task.ID

	if !c.PauseTask(id) {
		t.Fatal("pause failed")
	}
	// A runtime activation attempt cannot cross the wall by side effect; the
	// status machine allows paused->active, but the hold only clears through
	// ResumeTask.
	c.UpdateTaskStatus(id, task.StatusActive)
	if hold := c.Store.Get(id).Metadata.GoalBinding.Hold; hold == nil {
		t.Error("manual pause hold cleared without resume")
	}
	if !c.ResumeTask(id) {
		t.Fatal("resume failed")
	}
	if hold := c.Store.Get(id).Metadata.GoalBinding.Hold; hold != nil {
		t.Errorf("hold survived resume: %+v", hold)
	}
}

func TestAddStepsBeforeCurrent(t *testing.T) {
	c := newCore(t)

	res, err := c.AddTask(&task.Partial{
		Title:      "Collect oak_log",
		Type:       "gathering",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "oak_log", "quantity": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Task.ID

	events := c.Subscribe()
	if !c.AddStepsBeforeCurrent(id, []task.Step{{Label: "leaf:craft_recipe stone_axe"}}) {
		t.Fatal("splice failed")
	}
	got := c.Store.Get(id)
	if len(got.Steps) != 3 {
		t.Fatalf("steps = %d", len(got.Steps))
	}
	if got.Steps[0].Label != "leaf:craft_recipe stone_axe" {
		t.Errorf("prerequisite not spliced first: %q", got.Steps[0].Label)
	}
	for i, s := range got.Steps {
		if s.Order != i {
			t.Errorf("step %d order = %d", i, s.Order)
		}
		if s.ID == "" {
			t.Errorf("step %d has no id", i)
		}
	}

	saw := false
	for len(events) > 0 {
		if ev := <-events; ev.Type == store.EventTaskStepsInserted {
			saw = true
		}
	}
	if !saw {
		t.Error("no steps-inserted event")
	}
}

func TestAnnotateCurrentStep(t *testing.T) {
	c := newCore(t)

	res, err := c.AddTask(&task.Partial{
		Title:      "Collect oak_log",
		Type:       "gathering",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "oak_log"},
	})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Task.ID

	if !c.AnnotateCurrentStepWithLeaf(id, "dig_block", map[string]any{"blockType": "oak_log"}) {
		t.Fatal("annotate failed")
	}
	got := c.Store.Get(id).Steps[0]
	if got.Meta.Leaf != "dig_block" || !got.Meta.Executable {
		t.Errorf("meta = %+v", got.Meta)
	}
}

func TestConsumePreemptionBudgetHoldsTask(t *testing.T) {
	c := newCore(t)

	res, err := c.AddTask(&task.Partial{
		Title:      "Collect oak_log",
		Type:       "gathering",
		Source:     task.SourceManual,
		Parameters: map[string]any{"item": "oak_log", "quantity": 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Task.ID
	c.UpdateTaskStatus(id, task.StatusActive)

	c.PreemptTask(id)
	for i := 0; i < 2; i++ {
		if got := c.ConsumePreemptionBudget(id, "s", "m"); got != nil {
			t.Fatalf("budget exhausted early: %+v", got)
		}
	}
	witness := c.ConsumePreemptionBudget(id, "s3", "m")
	if witness == nil {
		t.Fatal("third step should exhaust the default budget")
	}

	got := c.Store.Get(id)
	if got.Status != task.StatusPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}
	if h := got.Metadata.GoalBinding.Hold; h == nil || h.Reason != task.HoldPreempted {
		t.Errorf("hold = %+v", h)
	}
}
