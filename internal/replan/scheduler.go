// Package replan retries step generation for unplannable tasks on a
// bounded, idempotent timer. One timer per task; an in-flight marker on the
// task's solver metadata makes duplicate schedule calls no-ops.
package replan

import (
	"sync"
	"time"

	"botmind/internal/logging"
	"botmind/internal/status"
	"botmind/internal/store"
	"botmind/internal/task"
)

// StepRegenerator produces a fresh step plan for a task that failed
// feasibility. Implemented by the solver boundary.
type StepRegenerator interface {
	RegenerateSteps(t *task.Task) ([]task.Step, error)
}

// Options bounds the scheduler.
type Options struct {
	Backoff     time.Duration // delay before a replan fires (default 5s)
	MaxAttempts int           // attempt ceiling (default 3)
	Exponential bool          // double the backoff per attempt
}

func (o *Options) fill() {
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
}

// Scheduler owns the taskID -> timer map.
type Scheduler struct {
	store   *store.Store
	machine *status.Machine
	regen   StepRegenerator
	opts    Options
	log     *logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a scheduler.
func New(st *store.Store, m *status.Machine, regen StepRegenerator, opts Options) *Scheduler {
	opts.fill()
	return &Scheduler{
		store:   st,
		machine: m,
		regen:   regen,
		opts:    opts,
		log:     logging.Get(logging.CategoryReplan),
		timers:  make(map[string]*time.Timer),
	}
}

// Close cancels all pending timers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// ScheduleReplan schedules a bounded replan for a task. Idempotent: a
// second call while one is in flight increments nothing and creates no
// second timer. The in-flight claim happens under the store lock, so
// concurrent callers cannot both pass the check.
func (s *Scheduler) ScheduleReplan(taskID string) {
	var (
		attempt   int
		inFlight  bool
		exhausted bool
	)
	claimed := s.store.MutateChecked(taskID, func(t *task.Task) bool {
		sv := t.Metadata.Solver
		attempts := 0
		if sv != nil {
			attempts = sv.ReplanAttempts
			if sv.RigGReplan != nil && sv.RigGReplan.InFlight {
				inFlight = true
				return false
			}
		}
		if attempts >= s.opts.MaxAttempts {
			exhausted = true
			return false
		}
		attempt = attempts + 1
		live := t.EnsureSolver()
		live.ReplanAttempts = attempt
		live.RigGReplan = &task.RigGReplan{
			InFlight:    true,
			Attempt:     attempt,
			ScheduledAt: task.NowMillis(),
		}
		return true
	})
	if !claimed {
		switch {
		case inFlight:
			s.log.Info("replan for %s already scheduled; skipping", taskID)
		case exhausted:
			s.log.Warn("replan attempts exhausted for %s", taskID)
			s.machine.SetBlocked(taskID, "rig_g_replan_exhausted", 0)
			s.store.Emit(store.Event{
				Type:      store.EventTaskLifecycle,
				Lifecycle: store.LifecycleRigGReplanExhausted,
				TaskID:    taskID,
			})
		}
		return
	}

	delay := s.opts.Backoff
	if s.opts.Exponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	s.log.Info("replan %d/%d for %s in %s", attempt, s.opts.MaxAttempts, taskID, delay)

	s.mu.Lock()
	if old, ok := s.timers[taskID]; ok {
		old.Stop()
	}
	s.timers[taskID] = time.AfterFunc(delay, func() { s.fire(taskID) })
	s.mu.Unlock()
}

// Cancel drops the pending timer for a task, if any. Called when a task
// leaves unplannable through another path.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[taskID]; ok {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

func (s *Scheduler) fire(taskID string) {
	// Timer bookkeeping is cleaned up no matter how the attempt ends.
	defer func() {
		s.mu.Lock()
		delete(s.timers, taskID)
		s.mu.Unlock()
	}()

	t := s.store.Get(taskID)
	if t == nil {
		return
	}
	if t.Status != task.StatusUnplannable {
		s.clearInFlight(taskID)
		s.log.Info("task %s no longer unplannable; skipping replan", taskID)
		return
	}

	steps, err := s.regen.RegenerateSteps(t)
	if err != nil || len(steps) == 0 {
		s.clearInFlight(taskID)
		s.log.Warn("replan for %s produced no plan: %v", taskID, err)
		// Remain unplannable; the next startTaskStep reschedules subject to
		// the attempt ceiling.
		return
	}

	s.store.Mutate(taskID, func(t *task.Task) {
		t.Steps = spliceSteps(t.Steps, steps)
		sv := t.EnsureSolver()
		sv.RigGReplan = nil
		sv.RigGChecked = false
		t.Metadata.BlockedReason = ""
		t.Metadata.BlockedAt = 0
	})
	s.store.Emit(store.Event{Type: store.EventTaskStepsInserted, TaskID: taskID})
	s.machine.UpdateStatus(taskID, task.StatusPending, status.OriginRuntime)
	s.log.Info("replan for %s spliced %d steps", taskID, len(steps))
}

func (s *Scheduler) clearInFlight(taskID string) {
	s.store.Mutate(taskID, func(t *task.Task) {
		if t.Metadata.Solver != nil {
			t.Metadata.Solver.RigGReplan = nil
		}
	})
}

// spliceSteps keeps completed steps and replaces the unfinished tail with
// the regenerated plan, renumbering orders.
func spliceSteps(existing, fresh []task.Step) []task.Step {
	var kept []task.Step
	for _, st := range existing {
		if st.Done {
			kept = append(kept, st)
		}
	}
	out := append(kept, fresh...)
	for i := range out {
		out[i].Order = i
	}
	return out
}
