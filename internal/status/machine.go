// Package status is the authoritative mutator for task status and progress.
// Every transition goes through the table below; goal-binding hooks fire for
// runtime-origin mutations only, so protocol-origin writes from the effect
// drain cannot re-enter the reducer.
package status

import (
	"time"

	"botmind/internal/logging"
	"botmind/internal/store"
	"botmind/internal/task"
)

// Origin tags who is asking for a mutation.
type Origin string

const (
	// OriginRuntime is the executor/API path; goal-binding hooks fire.
	OriginRuntime Origin = "runtime"
	// OriginProtocol is the effect drain path; hooks are suppressed.
	OriginProtocol Origin = "protocol"
)

// Hooks receives runtime-origin lifecycle notifications. Implemented by the
// goal binding coordinator.
type Hooks interface {
	OnTaskStatusChanged(t *task.Task, from, to task.Status)
	OnTaskProgressUpdated(t *task.Task, progress float64)
}

// allowed maps from-status to the set of permitted targets.
var allowed = map[task.Status]map[task.Status]bool{
	task.StatusPending: {
		task.StatusPendingPlanning: true, task.StatusActive: true, task.StatusPaused: true,
		task.StatusCompleted: true, task.StatusFailed: true, task.StatusUnplannable: true,
	},
	task.StatusPendingPlanning: {
		task.StatusPending: true, task.StatusActive: true, task.StatusPaused: true,
		task.StatusCompleted: true, task.StatusFailed: true, task.StatusUnplannable: true,
	},
	task.StatusActive: {
		task.StatusPending: true, task.StatusPendingPlanning: true, task.StatusPaused: true,
		task.StatusCompleted: true, task.StatusFailed: true, task.StatusUnplannable: true,
	},
	task.StatusPaused: {
		task.StatusPending: true, task.StatusActive: true,
		task.StatusCompleted: true, task.StatusFailed: true, task.StatusUnplannable: true,
	},
	task.StatusCompleted: {},
	task.StatusFailed:    {},
	task.StatusUnplannable: {
		task.StatusPending: true, task.StatusPendingPlanning: true, task.StatusFailed: true,
	},
}

// policyTransitions are allowed but emit a policy event when taken.
var policyTransitions = map[task.Status]map[task.Status]bool{
	task.StatusPendingPlanning: {task.StatusCompleted: true},
}

// Machine executes status transitions against the store.
type Machine struct {
	store *store.Store
	hooks Hooks
	log   *logging.Logger
}

// New creates a status machine over the store.
func New(s *store.Store) *Machine {
	return &Machine{store: s, log: logging.Get(logging.CategoryStatus)}
}

// SetHooks installs the goal-binding hooks. Must be called before the
// machine sees runtime traffic.
func (m *Machine) SetHooks(h Hooks) { m.hooks = h }

// UpdateStatus applies a status change with no progress change.
func (m *Machine) UpdateStatus(id string, to task.Status, origin Origin) bool {
	return m.update(id, -1, &to, origin)
}

// UpdateProgress clamps progress to [0,1], optionally applies a status
// change, and refreshes the progress index. Returns false on unknown id,
// terminal target, rejected mutation, or a disallowed transition.
func (m *Machine) UpdateProgress(id string, progress float64, s *task.Status, origin Origin) bool {
	// Negative input is a progress write of 0, not the no-progress sentinel.
	if progress < 0 {
		progress = 0
	}
	return m.update(id, progress, s, origin)
}

// Complete sets progress 1.0 and runs the terminal path.
func (m *Machine) Complete(id string) bool {
	completed := task.StatusCompleted
	return m.update(id, 1.0, &completed, OriginRuntime)
}

// Fail marks the task failed with a blocked reason.
func (m *Machine) Fail(id string, reason string) bool {
	failed := task.StatusFailed
	if !m.update(id, -1, &failed, OriginRuntime) {
		return false
	}
	return m.SetBlocked(id, reason, 0)
}

// SetBlocked records a blocked reason, backfilling blockedAt from the
// metadata clock so causal ordering holds (never a fresh timestamp newer
// than the update that caused the block).
func (m *Machine) SetBlocked(id, reason string, at int64) bool {
	return m.store.Mutate(id, func(t *task.Task) {
		t.Metadata.BlockedReason = reason
		if at > 0 {
			t.Metadata.BlockedAt = at
		} else if t.Metadata.UpdatedAt > 0 {
			t.Metadata.BlockedAt = t.Metadata.UpdatedAt
		} else {
			t.Metadata.BlockedAt = task.NowMillis()
		}
	})
}

// ReopenBlocked clears the blocked reason and returns the task to pending.
func (m *Machine) ReopenBlocked(id string) bool {
	if !m.store.Mutate(id, func(t *task.Task) {
		t.Metadata.BlockedReason = ""
		t.Metadata.BlockedAt = 0
	}) {
		return false
	}
	pending := task.StatusPending
	return m.update(id, -1, &pending, OriginRuntime)
}

// update validates and applies a mutation in one locked pass. Legality is
// judged against the live task inside the store lock, so a concurrent
// terminal write cannot slip between the check and the write.
func (m *Machine) update(id string, progress float64, to *task.Status, origin Origin) bool {
	var (
		from           task.Status
		statusChanging bool
		policy         bool
		terminal       bool
		frozen         bool
		disallowed     bool
		after          *task.Task
	)
	ok := m.store.MutateChecked(id, func(t *task.Task) bool {
		from = t.Status
		if from.IsTerminal() {
			terminal = true
			return false
		}
		statusChanging = to != nil && *to != from

		// Progress on failed/unplannable tasks is frozen unless the same
		// call also moves the status.
		if progress >= 0 && !statusChanging &&
			(from == task.StatusFailed || from == task.StatusUnplannable) {
			frozen = true
			return false
		}

		if statusChanging {
			if !allowed[from][*to] {
				disallowed = true
				return false
			}
			policy = policyTransitions[from][*to]
		}

		if progress >= 0 {
			if progress > 1 {
				progress = 1
			}
			// Progress is monotone within a non-failed lifetime.
			if progress > t.Progress || statusChanging {
				t.Progress = progress
			}
		}
		if statusChanging {
			t.Status = *to
			now := time.Now()
			switch *to {
			case task.StatusActive:
				if t.StartedAt == nil {
					t.StartedAt = &now
				}
			case task.StatusCompleted:
				t.Progress = 1
				t.CompletedAt = &now
			}
		}
		after = t.Clone()
		return true
	})
	if !ok {
		switch {
		case terminal:
			m.log.Warn("mutation on terminal task %s (%s) suppressed", id, from)
			m.store.Emit(store.Event{
				Type:      store.EventTaskLifecycle,
				Lifecycle: store.LifecycleTerminalSuppressed,
				TaskID:    id,
				Reason:    string(from),
			})
		case frozen:
			m.log.Debug("progress-only mutation on %s task %s rejected", from, id)
		case disallowed:
			m.log.Warn("disallowed transition %s -> %s on task %s", from, *to, id)
		}
		return false
	}

	if statusChanging {
		if policy {
			m.store.Emit(store.Event{
				Type:      store.EventTaskLifecycle,
				Lifecycle: store.LifecyclePolicyTransition,
				TaskID:    id,
				Reason:    string(from) + "->" + string(*to),
			})
		}
		m.log.Info("task %s: %s -> %s (origin %s)", id, from, *to, origin)
	}
	if progress >= 0 {
		m.store.Emit(store.Event{Type: store.EventTaskProgressUpdated, TaskID: id})
	}

	if origin == OriginRuntime && m.hooks != nil {
		if statusChanging {
			m.hooks.OnTaskStatusChanged(after, from, *to)
		}
		if progress >= 0 {
			m.hooks.OnTaskProgressUpdated(after, after.Progress)
		}
	}
	return true
}
