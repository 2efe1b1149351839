// Package goalsync keeps task state and external goal state reconciled.
// A pure hook reducer turns lifecycle changes into sync effects; a single
// serialized drain applies them, so effect batches observe each other's
// writes in schedule order.
package goalsync

import (
	"fmt"
	"sync"

	"botmind/internal/logging"
	"botmind/internal/status"
	"botmind/internal/store"
	"botmind/internal/task"
)

// GoalRegistry is the external goal store the coordinator reports into.
type GoalRegistry interface {
	UpdateGoalStatus(goalID, goalStatus string) error
}

const recentEffectCap = 256

type batch struct {
	effects []Effect
	done    chan struct{}
}

// Coordinator owns the effect drain and implements status.Hooks.
type Coordinator struct {
	store    *store.Store
	machine  *status.Machine
	registry GoalRegistry
	reducer  Reducer
	log      *logging.Logger

	queue  chan batch
	closed chan struct{}
	wg     sync.WaitGroup

	recentMu sync.Mutex
	recent   []Effect
}

// New creates a coordinator and starts its drain. registry may be nil when
// no external goal registry is attached; goal effects are then recorded but
// not forwarded.
func New(st *store.Store, m *status.Machine, registry GoalRegistry) *Coordinator {
	c := &Coordinator{
		store:    st,
		machine:  m,
		registry: registry,
		log:      logging.Get(logging.CategoryGoalSync),
		queue:    make(chan batch, 128),
		closed:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.drain()
	return c
}

// Close stops the drain after the queued batches finish.
func (c *Coordinator) Close() {
	close(c.closed)
	c.wg.Wait()
}

// Schedule appends a batch to the drain and returns a channel closed when
// the batch has fully applied. Batches apply in schedule order; a later
// batch always observes an earlier batch's writes.
func (c *Coordinator) Schedule(effects []Effect) <-chan struct{} {
	done := make(chan struct{})
	if len(effects) == 0 {
		close(done)
		return done
	}
	select {
	case c.queue <- batch{effects: effects, done: done}:
	case <-c.closed:
		close(done)
	}
	return done
}

// ScheduleAndWait schedules a batch and blocks until it has applied,
// including every batch scheduled before it.
func (c *Coordinator) ScheduleAndWait(effects []Effect) {
	<-c.Schedule(effects)
}

// OnTaskStatusChanged implements status.Hooks for runtime-origin changes.
func (c *Coordinator) OnTaskStatusChanged(t *task.Task, from, to task.Status) {
	c.Schedule(c.reducer.OnTaskStatusChanged(t, from, to))
}

// OnTaskProgressUpdated implements status.Hooks.
func (c *Coordinator) OnTaskProgressUpdated(t *task.Task, progress float64) {
	c.Schedule(c.reducer.OnTaskProgressUpdated(t, progress))
}

// ApplyGoalAction reduces an external goal event against every bound task
// and waits for the resulting batch to apply.
func (c *Coordinator) ApplyGoalAction(action GoalAction, goalID string) {
	bound := c.store.List(func(t *task.Task) bool {
		gb := t.Metadata.GoalBinding
		return gb != nil && gb.GoalID == goalID
	})
	c.ScheduleAndWait(c.reducer.OnGoalAction(action, bound))
}

// Pause is the management pause: it applies the manual_pause hold that only
// Resume can clear.
func (c *Coordinator) Pause(taskID string) bool {
	ok := c.store.Mutate(taskID, func(t *task.Task) {
		if t.Metadata.GoalBinding == nil {
			t.Metadata.GoalBinding = &task.GoalBinding{GoalInstanceID: taskID}
		}
		t.Metadata.GoalBinding.Hold = &task.Hold{
			Reason: task.HoldManualPause,
			Since:  task.NowMillis(),
		}
	})
	if !ok {
		return false
	}
	return c.machine.UpdateStatus(taskID, task.StatusPaused, status.OriginRuntime)
}

// Resume clears a manual pause. This is the only path that removes a
// manual_pause hold.
func (c *Coordinator) Resume(taskID string) bool {
	ok := c.store.Mutate(taskID, func(t *task.Task) {
		if t.Metadata.GoalBinding != nil {
			t.Metadata.GoalBinding.Hold = nil
		}
	})
	if !ok {
		return false
	}
	return c.machine.UpdateStatus(taskID, task.StatusActive, status.OriginRuntime)
}

// ApplyPreemption records a hold witness from the preemption coordinator.
func (c *Coordinator) ApplyPreemption(taskID, detail string) {
	c.ScheduleAndWait([]Effect{
		{Kind: EffectApplyHold, TaskID: taskID, HoldReason: task.HoldPreempted, HoldDetail: detail},
		{Kind: EffectUpdateTaskStatus, TaskID: taskID, TaskStatus: task.StatusPaused},
	})
}

// RecentEffects returns the most recently applied effects, oldest first.
func (c *Coordinator) RecentEffects() []Effect {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	return append([]Effect(nil), c.recent...)
}

func (c *Coordinator) drain() {
	defer c.wg.Done()
	for {
		select {
		case b := <-c.queue:
			c.applyBatch(b)
		case <-c.closed:
			// Flush what is already queued, then stop.
			for {
				select {
				case b := <-c.queue:
					c.applyBatch(b)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) applyBatch(b batch) {
	defer close(b.done)

	var meta, statusEffects, goal []Effect
	for _, e := range b.effects {
		switch e.Kind {
		case EffectApplyHold, EffectClearHold, EffectNoop:
			meta = append(meta, e)
		case EffectUpdateTaskStatus:
			statusEffects = append(statusEffects, e)
		case EffectUpdateGoalStatus:
			goal = append(goal, e)
		}
	}

	// Metadata effects apply first. A failure here logs but does not abort
	// the batch; status effects still run.
	if err := c.applySyncEffects(meta); err != nil {
		c.log.Error("metadata effects failed (mayBePartial=true): %v", err)
	}

	for _, e := range statusEffects {
		// Protocol origin suppresses hook re-entry from the drain.
		c.machine.UpdateStatus(e.TaskID, e.TaskStatus, status.OriginProtocol)
		c.record(e)
	}

	for _, e := range goal {
		if c.registry != nil {
			if err := c.registry.UpdateGoalStatus(e.GoalID, e.GoalStatus); err != nil {
				c.log.Error("goal registry update failed for %s: %v", e.GoalID, err)
			}
		}
		c.record(e)
	}
}

func (c *Coordinator) applySyncEffects(effects []Effect) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying sync effects: %v", r)
		}
	}()
	for _, e := range effects {
		switch e.Kind {
		case EffectApplyHold:
			c.store.Mutate(e.TaskID, func(t *task.Task) {
				if t.Metadata.GoalBinding == nil {
					t.Metadata.GoalBinding = &task.GoalBinding{GoalInstanceID: t.ID}
				}
				t.Metadata.GoalBinding.Hold = &task.Hold{
					Reason: e.HoldReason,
					Since:  task.NowMillis(),
					Detail: e.HoldDetail,
				}
			})
		case EffectClearHold:
			c.store.Mutate(e.TaskID, func(t *task.Task) {
				gb := t.Metadata.GoalBinding
				if gb == nil || gb.Hold == nil {
					return
				}
				// Manual pause survives everything except Resume.
				if gb.Hold.Reason != task.HoldManualPause {
					gb.Hold = nil
				}
			})
		case EffectNoop:
			c.log.Debug("noop effect for %s: %s", e.TaskID, e.Reason)
		}
		c.record(e)
	}
	return nil
}

func (c *Coordinator) record(e Effect) {
	c.recentMu.Lock()
	c.recent = append(c.recent, e)
	if len(c.recent) > recentEffectCap {
		c.recent = c.recent[len(c.recent)-recentEffectCap:]
	}
	c.recentMu.Unlock()
}
