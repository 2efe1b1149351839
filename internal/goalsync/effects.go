package goalsync

import "botmind/internal/task"

// EffectKind enumerates the sync effects the hook reducer can emit.
type EffectKind string

const (
	EffectUpdateGoalStatus EffectKind = "update_goal_status"
	EffectUpdateTaskStatus EffectKind = "update_task_status"
	EffectApplyHold        EffectKind = "apply_hold"
	EffectClearHold        EffectKind = "clear_hold"
	EffectNoop             EffectKind = "noop"
)

// Effect is a single reconciliation step produced by the reducer. Effects
// are pure data; the drain interprets them.
type Effect struct {
	Kind       EffectKind
	TaskID     string
	GoalID     string
	TaskStatus task.Status
	GoalStatus string
	HoldReason task.HoldReason
	HoldDetail string
	Reason     string // for noop
}

// Noop returns a recorded no-op effect with a reason.
func Noop(taskID, reason string) Effect {
	return Effect{Kind: EffectNoop, TaskID: taskID, Reason: reason}
}

// GoalAction is an external goal lifecycle event fed into the reducer.
type GoalAction string

const (
	GoalResumed   GoalAction = "goal_resumed"
	GoalSuspended GoalAction = "goal_suspended"
	GoalCompleted GoalAction = "goal_completed"
	GoalAbandoned GoalAction = "goal_abandoned"
)
