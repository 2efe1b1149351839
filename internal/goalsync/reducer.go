package goalsync

import (
	"botmind/internal/task"
)

// Reducer derives sync effects from task and goal lifecycle changes. It is
// pure: no store access, no side effects, fully table-driven on the inputs.
type Reducer struct{}

// OnTaskStatusChanged maps a task transition onto goal-registry effects.
func (Reducer) OnTaskStatusChanged(t *task.Task, from, to task.Status) []Effect {
	gb := t.Metadata.GoalBinding
	if gb == nil {
		return nil
	}
	var out []Effect
	switch to {
	case task.StatusCompleted:
		if gb.GoalID != "" {
			out = append(out, Effect{
				Kind: EffectUpdateGoalStatus, TaskID: t.ID,
				GoalID: gb.GoalID, GoalStatus: "completed",
			})
		}
	case task.StatusFailed, task.StatusUnplannable:
		if gb.GoalID != "" {
			out = append(out, Effect{
				Kind: EffectUpdateGoalStatus, TaskID: t.ID,
				GoalID: gb.GoalID, GoalStatus: "blocked",
			})
		}
	case task.StatusActive:
		// Returning to work clears transient holds. The manual pause wall
		// is absolute: only a management resume may clear it, so an active
		// transition against it reduces to a noop.
		if gb.Hold != nil {
			if gb.Hold.Reason == task.HoldManualPause {
				out = append(out, Noop(t.ID, "manual_pause_wall"))
			} else {
				out = append(out, Effect{Kind: EffectClearHold, TaskID: t.ID})
			}
		}
	case task.StatusPaused:
		if from == task.StatusActive && gb.GoalID != "" {
			out = append(out, Effect{
				Kind: EffectUpdateGoalStatus, TaskID: t.ID,
				GoalID: gb.GoalID, GoalStatus: "suspended",
			})
		}
	}
	if len(out) == 0 {
		out = append(out, Noop(t.ID, "no_goal_effect"))
	}
	return out
}

// OnTaskProgressUpdated forwards progress to the goal registry.
func (Reducer) OnTaskProgressUpdated(t *task.Task, progress float64) []Effect {
	gb := t.Metadata.GoalBinding
	if gb == nil || gb.GoalID == "" {
		return nil
	}
	return []Effect{{
		Kind: EffectUpdateGoalStatus, TaskID: t.ID,
		GoalID: gb.GoalID, GoalStatus: "progress",
	}}
}

// OnGoalAction maps an external goal lifecycle event onto effects against
// the bound tasks.
func (Reducer) OnGoalAction(action GoalAction, tasks []*task.Task) []Effect {
	var out []Effect
	for _, t := range tasks {
		gb := t.Metadata.GoalBinding
		if gb == nil {
			continue
		}
		switch action {
		case GoalResumed:
			if gb.Hold != nil && gb.Hold.Reason == task.HoldManualPause {
				// goal_resumed never tunnels through a manual pause.
				out = append(out, Noop(t.ID, "manual_pause_wall"))
				continue
			}
			out = append(out,
				Effect{Kind: EffectClearHold, TaskID: t.ID},
				Effect{Kind: EffectUpdateTaskStatus, TaskID: t.ID, TaskStatus: task.StatusActive},
			)
		case GoalSuspended:
			out = append(out,
				Effect{Kind: EffectApplyHold, TaskID: t.ID, HoldReason: task.HoldGoalPaused},
				Effect{Kind: EffectUpdateTaskStatus, TaskID: t.ID, TaskStatus: task.StatusPaused},
			)
		case GoalCompleted:
			out = append(out, Effect{Kind: EffectUpdateTaskStatus, TaskID: t.ID, TaskStatus: task.StatusCompleted})
		case GoalAbandoned:
			out = append(out, Effect{Kind: EffectUpdateTaskStatus, TaskID: t.ID, TaskStatus: task.StatusFailed})
		}
	}
	return out
}
