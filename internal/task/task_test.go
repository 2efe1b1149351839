package task

import (
	"testing"
	"time"
)

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		in       any
		fallback float64
		want     float64
	}{
		{0.7, 0.5, 0.7},
		{1.5, 0.5, 1.0},
		{-2.0, 0.5, 0.0},
		{3, 0.5, 1.0},
		{"low", 0.5, 0.3},
		{"Medium", 0.5, 0.5},
		{" HIGH ", 0.5, 0.8},
		{"urgent", 0.5, 0.5},
		{nil, 0.4, 0.4},
		{struct{}{}, 0.9, 0.9},
	}
	for _, c := range cases {
		if got := NormalizeScore(c.in, c.fallback); got != c.want {
			t.Errorf("NormalizeScore(%v, %v) = %v, want %v", c.in, c.fallback, got, c.want)
		}
	}
}

func TestHashGoalKeySeparator(t *testing.T) {
	// Concatenation collisions must not produce the same key.
	if HashGoalKey("a", "bc") == HashGoalKey("ab", "c") {
		t.Error("hash collides across part boundaries")
	}
	if HashGoalKey("build_shelter", "0,4,0") != HashGoalKey("build_shelter", "0,4,0") {
		t.Error("hash is not deterministic")
	}
	if len(HashGoalKey("x")) != 16 {
		t.Errorf("key length = %d, want 16 hex chars", len(HashGoalKey("x")))
	}
}

func TestCoarseRegion(t *testing.T) {
	cases := []struct {
		x, y, z float64
		want    string
	}{
		{0, 0, 0, "0,0,0"},
		{15.9, 15.9, 15.9, "0,0,0"},
		{16, 0, 0, "1,0,0"},
		{-0.1, 0, 0, "-1,0,0"},
		{-16, -17, 31.5, "-1,-2,1"},
	}
	for _, c := range cases {
		if got := CoarseRegion(c.x, c.y, c.z); got != c.want {
			t.Errorf("CoarseRegion(%v,%v,%v) = %s, want %s", c.x, c.y, c.z, got, c.want)
		}
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:    "task-1",
		Title: "Build shelter",
		Steps: []Step{{ID: "s1", Label: "place blocks"}},
		Metadata: Metadata{
			GoalBinding: &GoalBinding{
				GoalInstanceID: "gi-1",
				GoalKey:        "abc",
				GoalKeyAliases: []string{"k1"},
				Hold:           &Hold{Reason: HoldManualPause, Since: 1},
			},
			Solver: &SolverMeta{RigGReplan: &RigGReplan{InFlight: true, Attempt: 1}},
		},
	}
	cp := orig.Clone()

	cp.Steps[0].Done = true
	cp.Metadata.GoalBinding.GoalKeyAliases[0] = "mutated"
	cp.Metadata.GoalBinding.Hold.Reason = HoldPreempted
	cp.Metadata.Solver.RigGReplan.Attempt = 9

	if orig.Steps[0].Done {
		t.Error("clone shares step backing array")
	}
	if orig.Metadata.GoalBinding.GoalKeyAliases[0] != "k1" {
		t.Error("clone shares alias slice")
	}
	if orig.Metadata.GoalBinding.Hold.Reason != HoldManualPause {
		t.Error("clone shares hold pointer")
	}
	if orig.Metadata.Solver.RigGReplan.Attempt != 1 {
		t.Error("clone shares replan marker")
	}
}

func TestCurrentStepIndex(t *testing.T) {
	tk := &Task{Steps: []Step{{Done: true}, {Done: false}, {Done: false}}}
	if got := tk.CurrentStepIndex(); got != 1 {
		t.Errorf("index = %d, want 1", got)
	}
	tk.Steps[1].Done = true
	tk.Steps[2].Done = true
	if got := tk.CurrentStepIndex(); got != 3 {
		t.Errorf("index = %d, want len(steps)", got)
	}
	empty := &Task{}
	if got := empty.CurrentStepIndex(); got != 0 {
		t.Errorf("empty index = %d, want 0", got)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed}
	open := []Status{StatusPending, StatusPendingPlanning, StatusActive, StatusPaused, StatusUnplannable}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNowMillisMonotonicEnough(t *testing.T) {
	a := NowMillis()
	time.Sleep(2 * time.Millisecond)
	b := NowMillis()
	if b < a {
		t.Errorf("time went backwards: %d then %d", a, b)
	}
}
