package status

import (
	"sync"
	"testing"
	"time"

	"botmind/internal/store"
	"botmind/internal/task"
)

func newFixture(t *testing.T, s task.Status) (*store.Store, *Machine, string) {
	t.Helper()
	st := store.New(0, false)
	m := New(st)
	tk := &task.Task{
		ID:        task.NewID(),
		Title:     "Collect wood",
		Type:      "gathering",
		Source:    task.SourceManual,
		Status:    s,
		CreatedAt: time.Now(),
		Metadata: task.Metadata{
			Origin: &task.Origin{Kind: task.OriginAPI, CreatedAt: task.NowMillis()},
		},
	}
	st.Put(tk, nil)
	return st, m, tk.ID
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to task.Status
		want     bool
	}{
		{task.StatusPending, task.StatusActive, true},
		{task.StatusPending, task.StatusPendingPlanning, true},
		{task.StatusPendingPlanning, task.StatusPending, true},
		{task.StatusPendingPlanning, task.StatusCompleted, true}, // policy transition
		{task.StatusActive, task.StatusPaused, true},
		{task.StatusActive, task.StatusUnplannable, true},
		{task.StatusPaused, task.StatusActive, true},
		{task.StatusPaused, task.StatusPendingPlanning, false},
		{task.StatusUnplannable, task.StatusPending, true},
		{task.StatusUnplannable, task.StatusPendingPlanning, true},
		{task.StatusUnplannable, task.StatusFailed, true},
		{task.StatusUnplannable, task.StatusActive, false},
		{task.StatusUnplannable, task.StatusCompleted, false},
		{task.StatusCompleted, task.StatusActive, false},
		{task.StatusFailed, task.StatusPending, false},
	}
	for _, c := range cases {
		st, m, id := newFixture(t, c.from)
		got := m.UpdateStatus(id, c.to, OriginRuntime)
		if got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
		cur := st.Get(id)
		if c.want && cur.Status != c.to {
			t.Errorf("%s -> %s: status is %s after accepted transition", c.from, c.to, cur.Status)
		}
		if !c.want && cur.Status != c.from {
			t.Errorf("%s -> %s: rejected transition mutated status to %s", c.from, c.to, cur.Status)
		}
	}
}

func TestTerminalMutationEmitsEvent(t *testing.T) {
	st, m, id := newFixture(t, task.StatusCompleted)
	events := st.Subscribe()

	if m.UpdateStatus(id, task.StatusActive, OriginRuntime) {
		t.Fatal("mutation on terminal task should be rejected")
	}
	select {
	case ev := <-events:
		if ev.Type != store.EventTaskLifecycle || ev.Lifecycle != store.LifecycleTerminalSuppressed {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no terminal-suppression event emitted")
	}
}

func TestPolicyTransitionEmitsEvent(t *testing.T) {
	st, m, id := newFixture(t, task.StatusPendingPlanning)
	events := st.Subscribe()

	if !m.UpdateStatus(id, task.StatusCompleted, OriginRuntime) {
		t.Fatal("policy transition should be allowed")
	}
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Lifecycle == store.LifecyclePolicyTransition {
				return
			}
		case <-deadline:
			t.Fatal("no policy event emitted")
		}
	}
}

func TestProgressFrozenOnFailedWithoutStatusChange(t *testing.T) {
	st, m, id := newFixture(t, task.StatusUnplannable)

	if m.UpdateProgress(id, 0.5, nil, OriginRuntime) {
		t.Error("progress-only write on unplannable task should be rejected")
	}
	if got := st.Get(id).Progress; got != 0 {
		t.Errorf("progress = %v, want 0", got)
	}

	// The same progress accompanied by a status move is accepted.
	pending := task.StatusPending
	if !m.UpdateProgress(id, 0.5, &pending, OriginRuntime) {
		t.Error("progress with status change should be accepted")
	}
	if got := st.Get(id).Progress; got != 0.5 {
		t.Errorf("progress = %v, want 0.5", got)
	}
}

func TestProgressMonotoneAndClamped(t *testing.T) {
	st, m, id := newFixture(t, task.StatusActive)

	m.UpdateProgress(id, 0.6, nil, OriginRuntime)
	m.UpdateProgress(id, 0.3, nil, OriginRuntime) // regression ignored
	if got := st.Get(id).Progress; got != 0.6 {
		t.Errorf("progress = %v, want 0.6 (monotone)", got)
	}
	m.UpdateProgress(id, 4.2, nil, OriginRuntime)
	if got := st.Get(id).Progress; got != 1 {
		t.Errorf("progress = %v, want clamped to 1", got)
	}
}

func TestConcurrentCompleteAndPauseKeepsTerminal(t *testing.T) {
	// Completion and a protocol-origin pause race; whichever lands second
	// must see the other's write. A completed task with a paused status
	// would never retire to history.
	for i := 0; i < 500; i++ {
		st, m, id := newFixture(t, task.StatusActive)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Complete(id)
		}()
		go func() {
			defer wg.Done()
			m.UpdateStatus(id, task.StatusPaused, OriginProtocol)
		}()
		wg.Wait()

		got := st.Get(id)
		if got.CompletedAt != nil && got.Status != task.StatusCompleted {
			t.Fatalf("iteration %d: completedAt set but status = %s", i, got.Status)
		}
		if got.Status == task.StatusCompleted && got.Progress != 1 {
			t.Fatalf("iteration %d: completed with progress %v", i, got.Progress)
		}
	}
}

func TestNegativeProgressClampsToZero(t *testing.T) {
	_, m, id := newFixture(t, task.StatusActive)
	rec := &hookRecorder{}
	m.SetHooks(rec)

	if !m.UpdateProgress(id, -0.4, nil, OriginRuntime) {
		t.Fatal("negative progress should be accepted as a zero write")
	}
	if rec.progressCalls != 1 {
		t.Errorf("progress hook calls = %d, want 1", rec.progressCalls)
	}

	// On a frozen status a negative value counts as a progress write and is
	// rejected like any other.
	_, m2, id2 := newFixture(t, task.StatusUnplannable)
	if m2.UpdateProgress(id2, -0.4, nil, OriginRuntime) {
		t.Error("negative progress on unplannable task should be rejected")
	}
}

func TestCompleteSetsProgressAndTimestamp(t *testing.T) {
	st, m, id := newFixture(t, task.StatusActive)

	if !m.Complete(id) {
		t.Fatal("complete failed")
	}
	got := st.Get(id)
	if got.Status != task.StatusCompleted || got.Progress != 1 {
		t.Errorf("status=%s progress=%v after complete", got.Status, got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
}

func TestStartedAtStampedOnce(t *testing.T) {
	st, m, id := newFixture(t, task.StatusPending)

	m.UpdateStatus(id, task.StatusActive, OriginRuntime)
	first := st.Get(id).StartedAt
	if first == nil {
		t.Fatal("startedAt not stamped on first activation")
	}

	m.UpdateStatus(id, task.StatusPaused, OriginRuntime)
	time.Sleep(2 * time.Millisecond)
	m.UpdateStatus(id, task.StatusActive, OriginRuntime)
	if got := st.Get(id).StartedAt; !got.Equal(*first) {
		t.Error("startedAt moved on re-activation")
	}
}

func TestSetBlockedBackfillsFromMetadataClock(t *testing.T) {
	st, m, id := newFixture(t, task.StatusActive)

	// A prior mutation stamps UpdatedAt; the block must inherit it rather
	// than minting a fresh timestamp.
	st.Mutate(id, func(tk *task.Task) { tk.Metadata.NoStepsReason = "solver-unsolved" })
	before := st.Get(id).Metadata.UpdatedAt
	if before == 0 {
		t.Fatal("fixture has no UpdatedAt")
	}

	time.Sleep(3 * time.Millisecond)
	if !m.SetBlocked(id, "rig_e_solver_unimplemented", 0) {
		t.Fatal("SetBlocked failed")
	}
	got := st.Get(id)
	if got.Metadata.BlockedReason != "rig_e_solver_unimplemented" {
		t.Errorf("blockedReason = %q", got.Metadata.BlockedReason)
	}
	if got.Metadata.BlockedAt != before {
		t.Errorf("blockedAt = %d, want backfilled %d", got.Metadata.BlockedAt, before)
	}
}

func TestReopenBlocked(t *testing.T) {
	st, m, id := newFixture(t, task.StatusUnplannable)
	m.SetBlocked(id, "rig_e_no_plan_found", 0)

	if !m.ReopenBlocked(id) {
		t.Fatal("reopen failed")
	}
	got := st.Get(id)
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Metadata.BlockedReason != "" || got.Metadata.BlockedAt != 0 {
		t.Errorf("blocked fields not cleared: %+v", got.Metadata)
	}
}

func TestUnknownTask(t *testing.T) {
	st := store.New(0, false)
	m := New(st)
	if m.UpdateStatus("task-missing", task.StatusActive, OriginRuntime) {
		t.Error("unknown id should return false")
	}
}

// hookRecorder captures hook invocations.
type hookRecorder struct {
	statusCalls   int
	progressCalls int
}

func (h *hookRecorder) OnTaskStatusChanged(_ *task.Task, _, _ task.Status) { h.statusCalls++ }
func (h *hookRecorder) OnTaskProgressUpdated(_ *task.Task, _ float64)      { h.progressCalls++ }

func TestHooksFireOnlyForRuntimeOrigin(t *testing.T) {
	_, m, id := newFixture(t, task.StatusPending)
	rec := &hookRecorder{}
	m.SetHooks(rec)

	m.UpdateStatus(id, task.StatusActive, OriginProtocol)
	if rec.statusCalls != 0 {
		t.Error("protocol-origin mutation fired hooks")
	}

	m.UpdateProgress(id, 0.2, nil, OriginRuntime)
	if rec.progressCalls != 1 {
		t.Errorf("progress hook calls = %d, want 1", rec.progressCalls)
	}
	m.UpdateStatus(id, task.StatusPaused, OriginRuntime)
	if rec.statusCalls != 1 {
		t.Errorf("status hook calls = %d, want 1", rec.statusCalls)
	}
}
