// Package core assembles the task lifecycle components and exposes the
// stable operation surface consumed by the executor, the HTTP API, and the
// thought converter.
package core

import (
	"context"
	"fmt"

	"botmind/internal/botstate"
	"botmind/internal/config"
	"botmind/internal/dedupe"
	"botmind/internal/goalsync"
	"botmind/internal/ingest"
	"botmind/internal/logging"
	"botmind/internal/preempt"
	"botmind/internal/replan"
	"botmind/internal/status"
	"botmind/internal/store"
	"botmind/internal/task"
	"botmind/internal/verify"
)

// Solver is the step-regeneration boundary used by the replan scheduler.
type Solver = replan.StepRegenerator

// Core owns every lifecycle component for the process lifetime. Dedup
// state lives here rather than in package globals; tests build fresh cores.
type Core struct {
	cfg *config.Config

	Store       *store.Store
	Machine     *status.Machine
	Coordinator *goalsync.Coordinator
	Verifier    *verify.Verifier
	Replans     *replan.Scheduler
	Registry    *dedupe.Registry
	Pipeline    *ingest.Pipeline
	Preemption  *preempt.Coordinator

	log *logging.Logger
}

// Deps are the external collaborators.
type Deps struct {
	Bot      verify.StateSource
	Registry goalsync.GoalRegistry // external goal registry; may be nil
	Solver   Solver                // step regenerator; may be nil
}

// New wires a core. The startup self-check validates that every blocked
// reason classifies; an uncovered reason is a configuration bug.
func New(cfg *config.Config, deps Deps) (*Core, error) {
	if uncovered := dedupe.VerifyCoverage(); len(uncovered) > 0 {
		return nil, fmt.Errorf("blocked reasons missing classification: %v", uncovered)
	}

	st := store.New(cfg.MaxTaskHistory, cfg.StrictFinalize)
	machine := status.New(st)
	coordinator := goalsync.New(st, machine, deps.Registry)
	machine.SetHooks(coordinator)

	registry := dedupe.NewRegistry(0)
	pipeline := ingest.New(st, registry, ingest.Options{
		StrictFinalize: cfg.StrictFinalize,
		DebugDropLog:   cfg.Logging.DebugMode,
	})

	var solver Solver = deps.Solver
	if solver == nil {
		solver = noSolver{}
	}
	replans := replan.New(st, machine, solver, replan.Options{
		Backoff:     cfg.Replan.Backoff,
		MaxAttempts: cfg.Replan.MaxAttempts,
		Exponential: cfg.Replan.Exponential,
	})

	var bot verify.StateSource = deps.Bot
	if bot == nil {
		bot = botstate.New(cfg.BotState.BaseURL, cfg.BotState.Timeout)
	}
	verifier := verify.New(bot, st, machine, replans, verify.Options{
		Enabled: cfg.EnableActionVerification,
		Timeout: cfg.ActionVerificationTimeout,
	})

	return &Core{
		cfg:         cfg,
		Store:       st,
		Machine:     machine,
		Coordinator: coordinator,
		Verifier:    verifier,
		Replans:     replans,
		Registry:    registry,
		Pipeline:    pipeline,
		Preemption:  preempt.NewCoordinator(),
		log:         logging.Get(logging.CategoryBoot),
	}, nil
}

// Close shuts down background machinery.
func (c *Core) Close() {
	c.Replans.Close()
	c.Coordinator.Close()
}

// noSolver fails every regeneration attempt; tasks stay unplannable until
// a real solver is configured.
type noSolver struct{}

func (noSolver) RegenerateSteps(*task.Task) ([]task.Step, error) {
	return nil, fmt.Errorf("no solver configured")
}

// --- ingestion ---

// AddTask ingests a partial through the pipeline.
func (c *Core) AddTask(p *task.Partial) (*ingest.Result, error) {
	return c.Pipeline.AddTask(p)
}

// EnableGoalResolver installs the goal resolver on the pipeline.
func (c *Core) EnableGoalResolver(r ingest.GoalResolver) {
	c.Pipeline.EnableGoalResolver(r)
}

// ConfigureHierarchicalPlanner installs the Rig E macro planner.
func (c *Core) ConfigureHierarchicalPlanner(planner ingest.MacroPlanner) {
	c.Pipeline.ConfigureHierarchicalPlanner(planner)
}

// --- status and progress ---

// UpdateTaskStatus applies a runtime-origin status change.
func (c *Core) UpdateTaskStatus(id string, s task.Status) bool {
	return c.Machine.UpdateStatus(id, s, status.OriginRuntime)
}

// UpdateTaskProgress applies a runtime-origin progress change.
func (c *Core) UpdateTaskProgress(id string, progress float64, s *task.Status) bool {
	return c.Machine.UpdateProgress(id, progress, s, status.OriginRuntime)
}

// EnsureActivated moves a pending task to active if it is not already.
func (c *Core) EnsureActivated(id string) bool {
	t := c.Store.Get(id)
	if t == nil {
		return false
	}
	if t.Status == task.StatusActive {
		return true
	}
	return c.Machine.UpdateStatus(id, task.StatusActive, status.OriginRuntime)
}

// --- step execution boundary ---

// StartTaskStep gates and snapshots a step before dispatch.
func (c *Core) StartTaskStep(ctx context.Context, taskID, stepID string, dryRun bool) bool {
	return c.Verifier.StartTaskStep(ctx, taskID, stepID, dryRun)
}

// CompleteTaskStep verifies and advances a step.
func (c *Core) CompleteTaskStep(ctx context.Context, taskID, stepID string, skipVerification bool) bool {
	return c.Verifier.CompleteTaskStep(ctx, taskID, stepID, skipVerification)
}

// RegenerateSteps schedules an immediate replan for a task.
func (c *Core) RegenerateSteps(taskID string) {
	c.Replans.ScheduleReplan(taskID)
}

// AddStepsBeforeCurrent splices steps ahead of the first unfinished step.
func (c *Core) AddStepsBeforeCurrent(taskID string, steps []task.Step) bool {
	if len(steps) == 0 {
		return false
	}
	ok := c.Store.Mutate(taskID, func(t *task.Task) {
		idx := t.CurrentStepIndex()
		for i := range steps {
			if steps[i].ID == "" {
				steps[i].ID = task.NewStepID()
			}
		}
		out := make([]task.Step, 0, len(t.Steps)+len(steps))
		out = append(out, t.Steps[:idx]...)
		out = append(out, steps...)
		out = append(out, t.Steps[idx:]...)
		for i := range out {
			out[i].Order = i
		}
		t.Steps = out
	})
	if ok {
		c.Store.Emit(store.Event{Type: store.EventTaskStepsInserted, TaskID: taskID})
	}
	return ok
}

// AnnotateCurrentStepWithLeaf sets the executable leaf on the current step.
func (c *Core) AnnotateCurrentStepWithLeaf(taskID, leaf string, args map[string]any) bool {
	return c.annotateCurrent(taskID, func(s *task.Step) {
		s.Meta.Leaf = leaf
		s.Meta.Args = args
		s.Meta.Executable = true
	})
}

// AnnotateCurrentStepWithOption records a planner option on the current
// step without making it executable.
func (c *Core) AnnotateCurrentStepWithOption(taskID, option string) bool {
	return c.annotateCurrent(taskID, func(s *task.Step) {
		s.Meta.Intent = option
	})
}

func (c *Core) annotateCurrent(taskID string, fn func(*task.Step)) bool {
	return c.Store.Mutate(taskID, func(t *task.Task) {
		idx := t.CurrentStepIndex()
		if idx < len(t.Steps) {
			fn(&t.Steps[idx])
		}
	})
}

// --- preemption ---

// PreemptTask grants the default budget and pauses the task when a prior
// grant is already exhausted.
func (c *Core) PreemptTask(taskID string) {
	c.Preemption.Preempt(taskID, preempt.DefaultBudget)
}

// ConsumePreemptionBudget records one step of preempted work; on
// exhaustion the hold witness is applied as a preempted hold.
func (c *Core) ConsumePreemptionBudget(taskID, stepID, cursor string) *preempt.HoldWitness {
	w := c.Preemption.Consume(taskID, stepID, cursor)
	if w != nil {
		c.Coordinator.ApplyPreemption(taskID, string(w.Exhaustion))
	}
	return w
}

// --- queries ---

// GetTasks returns tasks matching the filter (nil matches all).
func (c *Core) GetTasks(filter func(*task.Task) bool) []*task.Task {
	return c.Store.List(filter)
}

// GetActiveTasks returns tasks in open statuses.
func (c *Core) GetActiveTasks() []*task.Task { return c.Store.Active() }

// GetTaskProgress returns the progress record for one task.
func (c *Core) GetTaskProgress(id string) *store.Progress { return c.Store.GetProgress(id) }

// GetTaskStatistics returns the statistics snapshot.
func (c *Core) GetTaskStatistics() store.Statistics { return c.Store.Statistics() }

// GetTaskHistory returns up to limit retired tasks, most recent first.
func (c *Core) GetTaskHistory(limit int) []*task.Task { return c.Store.History(limit) }

// CleanupCompletedTasks retires terminal tasks to the history ring.
func (c *Core) CleanupCompletedTasks() int { return c.Store.CleanupCompleted() }

// Subscribe returns the store event stream.
func (c *Core) Subscribe() <-chan store.Event { return c.Store.Subscribe() }

// --- management ---

// PauseTask applies the manual pause wall.
func (c *Core) PauseTask(id string) bool { return c.Coordinator.Pause(id) }

// ResumeTask clears a manual pause.
func (c *Core) ResumeTask(id string) bool { return c.Coordinator.Resume(id) }

// FailTask marks a task failed and opens the failure cooldown.
func (c *Core) FailTask(id, reason, toolReasonCode string) bool {
	if !c.Machine.Fail(id, reason) {
		return false
	}
	if t := c.Store.Get(id); t != nil {
		c.Pipeline.RegisterFailure(t, toolReasonCode)
	}
	return true
}
