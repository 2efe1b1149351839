package ingest

import (
	"errors"

	"botmind/internal/task"
)

// Rig E sentinel outcomes for navigation-class tasks.
var (
	// ErrOntologyGap means the planner is configured but the task context
	// cannot be mapped into its ontology.
	ErrOntologyGap = errors.New("rig_e_ontology_gap")
	// ErrNoPlanFound means the planner ran but search failed.
	ErrNoPlanFound = errors.New("rig_e_no_plan_found")
)

// CraftSolver produces steps for craft-kind requirements.
type CraftSolver interface {
	SolveCraft(p *task.Partial, req *task.Requirement) ([]task.Step, error)
}

// BuildSolver produces steps for build-kind requirements.
type BuildSolver interface {
	SolveBuild(p *task.Partial, req *task.Requirement) ([]task.Step, error)
}

// MacroPlanner is the Rig E macro planner for navigate/explore/find tasks.
// It returns ErrOntologyGap or ErrNoPlanFound for the two sentinel failure
// modes.
type MacroPlanner interface {
	PlanMacro(p *task.Partial, req *task.Requirement) ([]task.Step, error)
}

// ResolveOutcome is the goal resolver's verdict.
type ResolveOutcome string

const (
	ResolveContinue         ResolveOutcome = "continue"
	ResolveAlreadySatisfied ResolveOutcome = "already_satisfied"
	ResolveCreated          ResolveOutcome = "created"
	ResolveFellThrough      ResolveOutcome = "fell_through"
)

// GoalResolver finds or creates the goal identity for a goal-sourced task.
// The returned binding is attached to the task regardless of outcome.
type GoalResolver interface {
	ResolveOrCreate(p *task.Partial, goalType string) (ResolveOutcome, *task.GoalBinding, error)
}

// compileAcquireSteps turns a collect/mine requirement directly into
// per-unit acquire_material steps; no solver round-trip needed.
func compileAcquireSteps(req *task.Requirement) []task.Step {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	steps := make([]task.Step, 0, qty)
	for i := 0; i < qty; i++ {
		steps = append(steps, task.Step{
			ID:    task.NewStepID(),
			Label: "Collect " + req.Item,
			Order: i,
			Meta: task.StepMeta{
				Leaf:       "acquire_material",
				Args:       map[string]any{"item": req.Item, "count": 1},
				Executable: true,
				Produces:   []task.ItemDelta{{Item: req.Item, Quantity: 1}},
				Source:     "requirement-compiler",
			},
		})
	}
	return steps
}

// sentinelStep builds the single non-executable blocked step that carries a
// Rig E failure reason.
func sentinelStep(reason string) task.Step {
	return task.Step{
		ID:    task.NewStepID(),
		Label: "Awaiting macro planner",
		Meta: task.StepMeta{
			Executable: false,
			Intent:     reason,
			Source:     "rig-e-gate",
		},
	}
}
