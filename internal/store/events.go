package store

import "time"

// EventType identifies a store or lifecycle event.
type EventType string

const (
	EventTaskAdded           EventType = "taskAdded"
	EventTaskUpdated         EventType = "taskUpdated"
	EventTaskRemoved         EventType = "taskRemoved"
	EventTaskProgressUpdated EventType = "taskProgressUpdated"
	EventTaskMetadataUpdated EventType = "taskMetadataUpdated"
	EventTaskStepStarted     EventType = "taskStepStarted"
	EventTaskStepCompleted   EventType = "taskStepCompleted"
	EventTaskStepsInserted   EventType = "taskStepsInserted"
	EventTaskLifecycle       EventType = "taskLifecycleEvent"
	EventHighPriorityAdded   EventType = "high_priority_added"
	EventThoughtConverted    EventType = "thoughtConvertedToTask"
	EventGoalBindingDrift    EventType = "goalBindingDrift"
)

// Lifecycle event subtypes carried in Event.Reason-bearing envelopes.
const (
	LifecycleFinalizeViolation   = "task_finalize_invariant_violation"
	LifecycleOriginOverwrite     = "origin_overwrite_dropped"
	LifecycleStrictPutWarning    = "unfinalized_put"
	LifecycleTerminalSuppressed  = "terminal_mutation_suppressed"
	LifecycleSolverUnavailable   = "solver_unavailable"
	LifecycleRigGReplanNeeded    = "rig_g_replan_needed"
	LifecycleRigGReplanExhausted = "rig_g_replan_exhausted"
	LifecycleShadowRigG          = "shadow_rig_g_evaluation"
	LifecyclePolicyTransition    = "policy_transition"
)

// Event is the thin payload envelope delivered to subscribers. Full task
// objects are deliberately not included.
type Event struct {
	Type           EventType `json:"type"`
	Lifecycle      string    `json:"lifecycle,omitempty"` // subtype for EventTaskLifecycle
	TaskID         string    `json:"taskId,omitempty"`
	StepID         string    `json:"stepId,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Advice         string    `json:"advice,omitempty"`
	TaskType       string    `json:"taskType,omitempty"`
	Source         string    `json:"source,omitempty"`
	HasGoalBinding bool      `json:"hasGoalBinding,omitempty"`
	OriginKind     string    `json:"originKind,omitempty"`
	Title          string    `json:"title,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
