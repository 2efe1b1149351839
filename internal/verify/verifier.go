// Package verify captures pre-step snapshots of bot state and reconciles
// post-step state against the effects a step declared. Verification failure
// blocks step progression without failing the task.
package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"botmind/internal/botstate"
	"botmind/internal/logging"
	"botmind/internal/status"
	"botmind/internal/store"
	"botmind/internal/task"
)

// Result classifies a verification outcome.
type Result string

const (
	ResultVerified Result = "verified"
	ResultSkipped  Result = "skipped"
	ResultFailed   Result = "failed"
)

// Verification is one recorded outcome, indexed by (taskID, stepID).
type Verification struct {
	TaskID   string    `json:"taskId"`
	StepID   string    `json:"stepId"`
	Leaf     string    `json:"leaf"`
	Status   Result    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	Recorded time.Time `json:"recorded"`
}

// Snapshot is the pre-step capture of bot state.
type Snapshot struct {
	Position        botstate.Position
	Food            float64
	Health          float64
	InventoryTotal  int
	InventoryByName map[string]int
	Ts              time.Time
}

// StateSource reads bot state. Implemented by botstate.Client.
type StateSource interface {
	Snapshot(ctx context.Context) (*botstate.State, error)
	Inventory(ctx context.Context) ([]botstate.Item, error)
}

// ReplanScheduler schedules a bounded replan for an unplannable task.
// Implemented by the replan package.
type ReplanScheduler interface {
	ScheduleReplan(taskID string)
}

// Options tunes verification behavior.
type Options struct {
	Enabled      bool
	Timeout      time.Duration // default verification window
	DigTimeout   time.Duration // dig/acquire leaves need longer
	PollInterval time.Duration
	MoveEpsilon  float64
}

func (o *Options) fill() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.DigTimeout < 20*time.Second {
		o.DigTimeout = 20 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 400 * time.Millisecond
	}
	if o.MoveEpsilon <= 0 {
		o.MoveEpsilon = 0.75
	}
}

type snapKey struct{ taskID, stepID string }

// Verifier is the executor-boundary step verifier.
type Verifier struct {
	bot     StateSource
	store   *store.Store
	machine *status.Machine
	replans ReplanScheduler
	opts    Options
	log     *logging.Logger

	mu        sync.Mutex
	snapshots map[snapKey]*Snapshot
	results   map[snapKey]*Verification
}

// New creates a verifier.
func New(bot StateSource, st *store.Store, m *status.Machine, replans ReplanScheduler, opts Options) *Verifier {
	opts.fill()
	return &Verifier{
		bot:       bot,
		store:     st,
		machine:   m,
		replans:   replans,
		opts:      opts,
		log:       logging.Get(logging.CategoryVerify),
		snapshots: make(map[snapKey]*Snapshot),
		results:   make(map[snapKey]*Verification),
	}
}

// GetVerification returns the recorded outcome for a step, or nil.
func (v *Verifier) GetVerification(taskID, stepID string) *Verification {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.results[snapKey{taskID, stepID}]; ok {
		cp := *r
		return &cp
	}
	return nil
}

// StartTaskStep runs the Rig G feasibility gate and captures the pre-step
// snapshot. In dry-run mode the gate may be evaluated but nothing mutates:
// no snapshot persists, no startedAt, only a shadow evaluation event.
func (v *Verifier) StartTaskStep(ctx context.Context, taskID, stepID string, dryRun bool) bool {
	t := v.store.Get(taskID)
	if t == nil {
		return false
	}

	if sv := t.Metadata.Solver; sv != nil && sv.RigG != nil && !sv.RigGChecked {
		if dryRun {
			v.store.Emit(store.Event{
				Type:      store.EventTaskLifecycle,
				Lifecycle: store.LifecycleShadowRigG,
				TaskID:    taskID,
			})
		} else if !v.rigGGate(t) {
			return false
		}
	}

	if dryRun {
		return true
	}

	snap, err := v.captureSnapshot(ctx)
	if err != nil {
		v.log.Warn("pre-step snapshot for %s/%s failed: %v", taskID, stepID, err)
		// A snapshot miss is not fatal; verification degrades to skipped.
	} else {
		v.mu.Lock()
		v.snapshots[snapKey{taskID, stepID}] = snap
		v.mu.Unlock()
	}

	v.machine.UpdateStatus(taskID, task.StatusActive, status.OriginRuntime)
	v.store.Emit(store.Event{Type: store.EventTaskStepStarted, TaskID: taskID, StepID: stepID})
	return true
}

// rigGGate enforces the feasibility verdict. Returns false when the task
// was parked unplannable.
func (v *Verifier) rigGGate(t *task.Task) bool {
	signals := t.Metadata.Solver.RigG
	if !signals.FeasibilityPassed {
		rejection := firstRejection(signals.Rejections)
		reason := fmt.Sprintf("Feasibility failed: %s", rejection)
		v.log.Warn("task %s failed Rig G gate: %s", t.ID, rejection)

		v.machine.UpdateStatus(t.ID, task.StatusUnplannable, status.OriginRuntime)
		v.machine.SetBlocked(t.ID, reason, 0)
		if v.replans != nil {
			v.replans.ScheduleReplan(t.ID)
		}
		v.store.Emit(store.Event{
			Type:      store.EventTaskLifecycle,
			Lifecycle: store.LifecycleRigGReplanNeeded,
			TaskID:    t.ID,
			Reason:    reason,
		})
		return false
	}

	v.store.Mutate(t.ID, func(t *task.Task) {
		sv := t.EnsureSolver()
		sv.RigGChecked = true
	})
	if p95 := signals.ReadySetSizeP95; p95 > 0 {
		v.log.Debug("task %s suggested parallelism %d", t.ID, suggestedParallelism(p95))
	}
	return true
}

// suggestedParallelism derives a worker hint from the feasibility DAG's
// ready-set size.
func suggestedParallelism(readySetP95 int) int {
	switch {
	case readySetP95 >= 8:
		return 4
	case readySetP95 >= 4:
		return 2
	default:
		return 1
	}
}

func firstRejection(rejections map[string]int) string {
	best := ""
	for k := range rejections {
		if best == "" || k < best {
			best = k
		}
	}
	if best == "" {
		return "unknown"
	}
	return best
}

func (v *Verifier) captureSnapshot(ctx context.Context) (*Snapshot, error) {
	st, err := v.bot.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Position:        st.Position,
		Food:            st.Food,
		Health:          st.Health,
		InventoryTotal:  st.InventoryTotal(),
		InventoryByName: st.InventoryByName(),
		Ts:              time.Now(),
	}, nil
}

// CompleteTaskStep verifies the step's declared effects and, on success,
// marks the step done and advances progress. A failed verification returns
// false and leaves the step unfinished.
func (v *Verifier) CompleteTaskStep(ctx context.Context, taskID, stepID string, skipVerification bool) bool {
	t := v.store.Get(taskID)
	if t == nil {
		return false
	}
	step := findStep(t, stepID)
	if step == nil {
		return false
	}

	leaf, args := DeriveLeafAndArgs(step)

	key := snapKey{taskID, stepID}
	v.mu.Lock()
	snap := v.snapshots[key]
	v.mu.Unlock()

	result := Verification{TaskID: taskID, StepID: stepID, Leaf: leaf, Recorded: time.Now()}
	switch {
	case skipVerification || !v.opts.Enabled:
		result.Status = ResultSkipped
		result.Detail = "verification disabled"
	default:
		result.Status, result.Detail = v.verifyLeaf(ctx, step, leaf, args, snap)
	}

	v.mu.Lock()
	v.results[key] = &result
	if result.Status != ResultFailed {
		delete(v.snapshots, key)
	}
	v.mu.Unlock()

	if result.Status == ResultFailed {
		v.log.Warn("step %s/%s (%s) failed verification: %s", taskID, stepID, leaf, result.Detail)
		return false
	}

	return v.advance(ctx, taskID, stepID)
}

// advance marks the step done and either progresses or completes the task.
func (v *Verifier) advance(ctx context.Context, taskID, stepID string) bool {
	var done, total int
	var last bool
	v.store.Mutate(taskID, func(t *task.Task) {
		for i := range t.Steps {
			if t.Steps[i].ID == stepID {
				t.Steps[i].Done = true
			}
			if t.Steps[i].Done {
				done++
			}
		}
		total = len(t.Steps)
		last = done == total
	})
	v.store.Emit(store.Event{Type: store.EventTaskStepCompleted, TaskID: taskID, StepID: stepID})

	if !last {
		progress := float64(done) / float64(total)
		return v.machine.UpdateProgress(taskID, progress, nil, status.OriginRuntime)
	}

	// Final inventory gate: a structured output requirement must be covered
	// by the whole inventory before the task may complete. Under-count
	// leaves the task for the executor to re-drive.
	t := v.store.Get(taskID)
	if t != nil && !v.finalInventoryGate(ctx, t) {
		v.log.Warn("task %s final inventory gate not met; not completing", taskID)
		return false
	}
	return v.machine.Complete(taskID)
}

func (v *Verifier) finalInventoryGate(ctx context.Context, t *task.Task) bool {
	req := t.Metadata.Requirement
	if req == nil || req.Item == "" || req.Quantity <= 0 {
		return true
	}
	items, err := v.bot.Inventory(ctx)
	if err != nil {
		v.log.Warn("final inventory fetch for %s failed: %v", t.ID, err)
		return false
	}
	have := 0
	accepted := acceptedItemNames(req.Item)
	for _, it := range items {
		name := botstate.NormalizeItemName(it.Type)
		for _, a := range accepted {
			if name == a {
				have += it.Count
				break
			}
		}
	}
	return have >= req.Quantity
}

func findStep(t *task.Task, stepID string) *task.Step {
	for i := range t.Steps {
		if t.Steps[i].ID == stepID {
			return &t.Steps[i]
		}
	}
	return nil
}

// verifyLeaf dispatches on the leaf class and polls bot state until pass or
// timeout.
func (v *Verifier) verifyLeaf(ctx context.Context, step *task.Step, leaf string, args map[string]any, snap *Snapshot) (Result, string) {
	class := classify(leaf)

	switch class {
	case classSensing, classPlanning:
		return ResultVerified, "observational leaf"
	case classUnknown:
		if step.Meta.Executable {
			return ResultFailed, "No leaf derivable for executable step"
		}
		return ResultSkipped, "non-executable step"
	}

	if snap == nil {
		return ResultSkipped, "no pre-step snapshot"
	}

	timeout := v.opts.Timeout
	if class == classInventory && (leaf == "dig_block" || leaf == "acquire_material") {
		timeout = v.opts.DigTimeout
	}

	deadline := time.Now().Add(timeout)
	var lastDetail string
	for {
		ok, detail, err := v.checkOnce(ctx, class, leaf, step, args, snap)
		if err != nil {
			return ResultFailed, fmt.Sprintf("state fetch: %v", err)
		}
		if ok {
			return ResultVerified, detail
		}
		lastDetail = detail
		if time.Now().After(deadline) {
			return ResultFailed, lastDetail
		}
		select {
		case <-ctx.Done():
			return ResultFailed, ctx.Err().Error()
		case <-time.After(v.opts.PollInterval):
		}
	}
}

func (v *Verifier) checkOnce(ctx context.Context, class leafClass, leaf string, step *task.Step, args map[string]any, snap *Snapshot) (bool, string, error) {
	st, err := v.bot.Snapshot(ctx)
	if err != nil {
		return false, "", err
	}

	switch class {
	case classMovement:
		dist := st.Position.DistanceTo(snap.Position)
		if dist >= v.opts.MoveEpsilon {
			return true, fmt.Sprintf("moved %.2f units", dist), nil
		}
		return false, fmt.Sprintf("moved %.2f < %.2f units", dist, v.opts.MoveEpsilon), nil

	case classInventory:
		item := targetItem(args)
		if item == "" {
			return false, "no target item declared", nil
		}
		accepted := acceptedItemNames(item)
		byName := st.InventoryByName()
		before, after := 0, 0
		for _, a := range accepted {
			before += snap.InventoryByName[a]
			after += byName[a]
		}
		want := declaredDelta(step, args)
		if after-before >= want {
			return true, fmt.Sprintf("%s +%d", item, after-before), nil
		}
		return false, fmt.Sprintf("%s delta %d < %d", item, after-before, want), nil

	case classPlacement:
		item := botstate.NormalizeItemName(targetItem(args))
		if item == "" {
			return false, "no placed item declared", nil
		}
		for _, b := range st.NearbyBlocks {
			if containsFold(b, item) {
				return true, "placed block observed nearby", nil
			}
		}
		return false, fmt.Sprintf("no nearby block matching %q", item), nil

	case classConsume:
		if st.Food > snap.Food {
			return true, fmt.Sprintf("food %.1f -> %.1f", snap.Food, st.Food), nil
		}
		return false, "food level unchanged", nil
	}
	return false, "unhandled class", nil
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), needle)
}
