// Package task defines the task domain model for the planning core.
//
// A Task is the unit of work the executor drives: it carries ordered steps,
// a status, normalized priority/urgency, and a structured metadata envelope.
// All mutation goes through the status machine or the store; nothing in this
// package mutates shared state.
package task

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingPlanning Status = "pending_planning"
	StatusActive          Status = "active"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusPaused          Status = "paused"
	StatusUnplannable     Status = "unplannable"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Source identifies where a task originated.
type Source string

const (
	SourceManual     Source = "manual"
	SourceAutonomous Source = "autonomous"
	SourceGoal       Source = "goal"
	SourceIntrusive  Source = "intrusive"
	SourcePlanner    Source = "planner"
)

// OriginKind classifies the creation provenance of a task.
type OriginKind string

const (
	OriginAPI          OriginKind = "api"
	OriginCognition    OriginKind = "cognition"
	OriginGoalSource   OriginKind = "goal_source"
	OriginGoalResolver OriginKind = "goal_resolver"
	OriginExecutor     OriginKind = "executor"
)

// HoldReason tags a suspension on a goal-bound task.
type HoldReason string

const (
	HoldManualPause HoldReason = "manual_pause"
	HoldPreempted   HoldReason = "preempted"
	HoldGoalPaused  HoldReason = "goal_paused"
)

// Step is a single dispatchable (or intent) action within a task.
type Step struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Order int      `json:"order"`
	Done  bool     `json:"done"`
	Meta  StepMeta `json:"meta"`
}

// StepMeta carries executor-facing annotations on a step.
type StepMeta struct {
	Leaf       string         `json:"leaf,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Executable bool           `json:"executable"`
	Produces   []ItemDelta    `json:"produces,omitempty"`
	Consumes   []ItemDelta    `json:"consumes,omitempty"`
	Source     string         `json:"source,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	ModuleID   string         `json:"moduleId,omitempty"`
	Intent     string         `json:"intent,omitempty"`
}

// ItemDelta declares an expected inventory change for a step.
type ItemDelta struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// Origin is the immutable creation provenance envelope. It is stamped exactly
// once during ingestion finalization; later metadata writes cannot replace it.
type Origin struct {
	Kind          OriginKind `json:"kind"`
	Name          string     `json:"name,omitempty"`
	ParentTaskID  string     `json:"parentTaskId,omitempty"`
	ParentGoalKey string     `json:"parentGoalKey,omitempty"`
	CreatedAt     int64      `json:"createdAt"` // unix milliseconds
}

// Hold is a reason-tagged suspension on a goal-bound task.
type Hold struct {
	Reason HoldReason `json:"reason"`
	Since  int64      `json:"since"` // unix milliseconds
	Detail string     `json:"detail,omitempty"`
}

// Completion tracks verifier state for a goal-bound task.
type Completion struct {
	Verifier          string `json:"verifier,omitempty"`
	DefinitionVersion int    `json:"definitionVersion,omitempty"`
	ConsecutivePasses int    `json:"consecutivePasses,omitempty"`
}

// Anchors carries the site signature for location-anchored goals.
type Anchors struct {
	SiteSignature string `json:"siteSignature,omitempty"`
}

// GoalBinding couples a task to an external goal identity.
type GoalBinding struct {
	GoalInstanceID string     `json:"goalInstanceId"`
	GoalKey        string     `json:"goalKey"`
	GoalKeyAliases []string   `json:"goalKeyAliases,omitempty"`
	GoalType       string     `json:"goalType,omitempty"`
	GoalID         string     `json:"goalId,omitempty"`
	Anchors        *Anchors   `json:"anchors,omitempty"`
	Completion     Completion `json:"completion"`
	Hold           *Hold      `json:"hold,omitempty"`
}

// RigGSignals is the feasibility analyzer's verdict attached by the solver.
type RigGSignals struct {
	FeasibilityPassed bool           `json:"feasibility_passed"`
	Rejections        map[string]int `json:"rejections,omitempty"`
	ReadySetSizeP95   int            `json:"ready_set_size_p95,omitempty"`
}

// RigGReplan is the in-flight marker for a scheduled replan attempt.
type RigGReplan struct {
	InFlight    bool  `json:"inFlight"`
	Attempt     int   `json:"attempt"`
	ScheduledAt int64 `json:"scheduledAt"`
}

// SolverMeta is the namespace for solver-produced data. The ingestion
// pipeline deep-merges it and never filters it key by key.
type SolverMeta struct {
	RigG           *RigGSignals      `json:"rigG,omitempty"`
	RigGChecked    bool              `json:"rigGChecked,omitempty"`
	RigGReplan     *RigGReplan       `json:"rigGReplan,omitempty"`
	ReplanAttempts int               `json:"replanAttempts,omitempty"`
	PlanID         string            `json:"planId,omitempty"`
	EpisodeHashes  map[string]string `json:"episodeHashes,omitempty"`
	Extra          map[string]any    `json:"extra,omitempty"`
}

// Provenance records upstream reduction artifacts for cross-thought dedup.
type Provenance struct {
	SchemaVersion    int    `json:"schemaVersion,omitempty"`
	CommittedDigest  string `json:"committedDigest,omitempty"`
	SterlingThoughts string `json:"sterlingThoughts,omitempty"`
}

// Metadata is the closed task metadata envelope. Only these fields survive
// ingestion; arbitrary caller-supplied keys land in Extra only when they are
// on the allowlist, otherwise they are dropped.
type Metadata struct {
	Origin        *Origin      `json:"origin,omitempty"`
	GoalKey       string       `json:"goalKey,omitempty"`
	SubtaskKey    string       `json:"subtaskKey,omitempty"`
	Provenance    *Provenance  `json:"taskProvenance,omitempty"`
	Requirement   *Requirement `json:"requirement,omitempty"`
	Solver        *SolverMeta  `json:"solver,omitempty"`
	GoalBinding   *GoalBinding `json:"goalBinding,omitempty"`
	BlockedReason string       `json:"blockedReason,omitempty"`
	BlockedAt     int64        `json:"blockedAt,omitempty"`
	NoStepsReason string       `json:"noStepsReason,omitempty"`
	FailureCode   string       `json:"failureCode,omitempty"`
	FailureError  string       `json:"failureError,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	CreatedAt     int64        `json:"createdAt,omitempty"`
	UpdatedAt     int64        `json:"updatedAt,omitempty"`
}

// Task is the central entity: a unit of work with observable progress.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	Source      Source         `json:"source"`
	Priority    float64        `json:"priority"`
	Urgency     float64        `json:"urgency"`
	Progress    float64        `json:"progress"`
	Status      Status         `json:"status"`
	Steps       []Step         `json:"steps"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Metadata    Metadata       `json:"metadata"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep-enough copy for handing across the API boundary.
// Steps and aliases are copied; parameter values are shared (treated as
// immutable once ingested).
func (t *Task) Clone() *Task {
	cp := *t
	cp.Steps = make([]Step, len(t.Steps))
	copy(cp.Steps, t.Steps)
	if t.Metadata.GoalBinding != nil {
		gb := *t.Metadata.GoalBinding
		gb.GoalKeyAliases = append([]string(nil), t.Metadata.GoalBinding.GoalKeyAliases...)
		if t.Metadata.GoalBinding.Hold != nil {
			h := *t.Metadata.GoalBinding.Hold
			gb.Hold = &h
		}
		if t.Metadata.GoalBinding.Anchors != nil {
			a := *t.Metadata.GoalBinding.Anchors
			gb.Anchors = &a
		}
		cp.Metadata.GoalBinding = &gb
	}
	if t.Metadata.Solver != nil {
		sv := *t.Metadata.Solver
		if t.Metadata.Solver.RigGReplan != nil {
			rp := *t.Metadata.Solver.RigGReplan
			sv.RigGReplan = &rp
		}
		cp.Metadata.Solver = &sv
	}
	return &cp
}

// EnsureSolver returns the solver namespace, allocating it on first use.
func (t *Task) EnsureSolver() *SolverMeta {
	if t.Metadata.Solver == nil {
		t.Metadata.Solver = &SolverMeta{}
	}
	return t.Metadata.Solver
}

// CurrentStepIndex returns the index of the first unfinished step, or
// len(steps) when all are done.
func (t *Task) CurrentStepIndex() int {
	for i, s := range t.Steps {
		if !s.Done {
			return i
		}
	}
	return len(t.Steps)
}

// NewID returns a fresh task id.
func NewID() string {
	return "task-" + uuid.NewString()
}

// NewStepID returns a fresh step id.
func NewStepID() string {
	return "step-" + uuid.NewString()
}

// NormalizeScore coerces heterogeneous priority/urgency inputs to [0,1].
// Numbers pass through clamped; the strings low/medium/high map to fixed
// points; anything else gets the fallback.
func NormalizeScore(v any, fallback float64) float64 {
	switch x := v.(type) {
	case float64:
		return clamp01(x)
	case float32:
		return clamp01(float64(x))
	case int:
		return clamp01(float64(x))
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "low":
			return 0.3
		case "medium":
			return 0.5
		case "high":
			return 0.8
		}
	}
	return clamp01(fallback)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// SubtaskKey derives the dedup key for an executor-spawned prerequisite.
func SubtaskKey(parentTaskID, taskType, item string) string {
	return fmt.Sprintf("%s:%s:%s", parentTaskID, taskType, strings.ToLower(item))
}

// goalKeySep prevents concatenation collisions: hash("a","bc") must differ
// from hash("ab","c").
const goalKeySep = "\x1f"

// HashGoalKey hashes the identity parts of a goal into a stable key.
func HashGoalKey(parts ...string) string {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(goalKeySep))
		}
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// CoarseRegion buckets a world coordinate into a 16-unit region cell, so
// goals anchored anywhere inside the same cell share an identity.
func CoarseRegion(x, y, z float64) string {
	return fmt.Sprintf("%d,%d,%d",
		int(math.Floor(x/16)), int(math.Floor(y/16)), int(math.Floor(z/16)))
}

// NowMillis is the timestamp convention used throughout metadata.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
