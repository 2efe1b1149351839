// Package ingest materializes tasks from heterogeneous intent sources. The
// pipeline is the single entry point for task creation: dedup probes run
// first, then goal resolution, step generation, normalization, origin
// stamping, allowlist projection, and finalization, in that order.
package ingest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"botmind/internal/dedupe"
	"botmind/internal/logging"
	"botmind/internal/store"
	"botmind/internal/task"
)

// Decision explains what AddTask did with a partial.
type Decision string

const (
	DecisionCreated          Decision = "created"
	DecisionDedupExisting    Decision = "dedup_existing"
	DecisionDroppedDedup     Decision = "dropped_dedup"
	DecisionDroppedCooldown  Decision = "dropped_cooldown"
	DecisionAlreadySatisfied Decision = "already_satisfied"
)

// Result pairs the task (possibly a pre-existing one) with the decision.
type Result struct {
	Task     *task.Task
	Decision Decision
}

// Options tunes the pipeline.
type Options struct {
	StrictFinalize bool
	DebugDropLog   bool
}

// Pipeline builds, finalizes, and persists new tasks.
type Pipeline struct {
	// mu serializes AddTask so concurrent ingestion of equivalent intents
	// resolves to a single task (the dedup probe and the put are atomic).
	mu sync.Mutex

	store    *store.Store
	registry *dedupe.Registry
	opts     Options
	log      *logging.Logger

	resolver GoalResolver
	craft    CraftSolver
	build    BuildSolver
	rigE     MacroPlanner
}

// New creates a pipeline. Solvers and resolver are optional; nil disables
// the corresponding routing.
func New(st *store.Store, registry *dedupe.Registry, opts Options) *Pipeline {
	return &Pipeline{
		store:    st,
		registry: registry,
		opts:     opts,
		log:      logging.Get(logging.CategoryIngest),
	}
}

// EnableGoalResolver installs (or replaces) the goal resolver.
func (p *Pipeline) EnableGoalResolver(r GoalResolver) { p.resolver = r }

// ConfigureSolvers installs the domain solvers.
func (p *Pipeline) ConfigureSolvers(craft CraftSolver, build BuildSolver) {
	p.craft = craft
	p.build = build
}

// ConfigureHierarchicalPlanner installs the Rig E macro planner.
func (p *Pipeline) ConfigureHierarchicalPlanner(planner MacroPlanner) { p.rigE = planner }

// AddTask is the single ingestion entry point.
func (p *Pipeline) AddTask(partial *task.Partial) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Sterling digest window: a just-completed task with the same committed
	// digest still suppresses re-emission, so the probe spans live tasks
	// and the history ring.
	if key := partial.DedupeKey(); key != "" {
		if existing := p.store.FindBySterlingDedupeKey(key); existing != nil {
			p.log.Info("digest %s already materialized as %s", key, existing.ID)
			return &Result{Task: existing, Decision: DecisionDroppedDedup}, nil
		}
		if p.registry.SeenDigest(key) {
			p.log.Info("digest %s in recent window; dropping", key)
			return &Result{Decision: DecisionDroppedDedup}, nil
		}
	}

	// Category cooldown: recently failed equivalent intents are rejected.
	categoryKey := p.categoryKey(partial)
	if class, cooling := p.registry.InCooldown(categoryKey); cooling {
		p.log.Info("intent %q in %s cooldown; dropping", categoryKey, class)
		return &Result{Decision: DecisionDroppedCooldown}, nil
	}

	// Pre-resolver dedup probe.
	if existing := p.store.FindSimilar(partial); existing != nil {
		p.log.Debug("similar task %s matches incoming %q", existing.ID, partial.Title)
		return &Result{Task: existing, Decision: DecisionDedupExisting}, nil
	}

	// Routing gate: goal-sourced building intents go through the resolver.
	if p.resolver != nil && partial.Source == task.SourceGoal && partial.Type == "building" {
		res, err := p.resolveGoal(partial)
		if err == nil && res != nil {
			return res, nil
		}
		if err != nil {
			// Resolver failure falls through to the normal path.
			p.log.Warn("goal resolver failed for %q: %v", partial.Title, err)
			p.store.Emit(store.Event{
				Type:      store.EventTaskLifecycle,
				Lifecycle: store.LifecycleSolverUnavailable,
				TaskID:    partial.ID,
				Reason:    err.Error(),
			})
		}
	}

	t, err := p.materialize(partial)
	if err != nil {
		return nil, err
	}

	p.store.Put(t, &store.PutOptions{CallSite: "ingest.AddTask"})
	if t.Priority >= 0.8 {
		p.store.Emit(store.Event{
			Type: store.EventHighPriorityAdded, TaskID: t.ID, Title: t.Title,
		})
	}
	return &Result{Task: t, Decision: DecisionCreated}, nil
}

// resolveGoal delegates to the goal resolver and, for already-satisfied
// goals, short-circuits ingestion.
func (p *Pipeline) resolveGoal(partial *task.Partial) (*Result, error) {
	goalType := inferGoalType(partial)
	outcome, binding, err := p.resolver.ResolveOrCreate(partial, goalType)
	if err != nil {
		return nil, err
	}
	if binding != nil {
		partial.GoalBinding = binding
	}

	if outcome == ResolveAlreadySatisfied {
		p.log.Info("goal %s already satisfied; no task for %q", goalType, partial.Title)
		return &Result{Decision: DecisionAlreadySatisfied}, nil
	}

	// Whatever the outcome, an open task already bound to the same goal
	// identity absorbs the intent.
	if binding != nil && binding.GoalKey != "" {
		for _, t := range p.store.Active() {
			gb := t.Metadata.GoalBinding
			if gb != nil && (gb.GoalKey == binding.GoalKey || hasAlias(gb, binding.GoalKey)) {
				return &Result{Task: t, Decision: DecisionDedupExisting}, nil
			}
		}
	}

	t, err := p.materialize(partial)
	if err != nil {
		return nil, err
	}
	p.store.Put(t, &store.PutOptions{CallSite: "ingest.resolveGoal"})
	return &Result{Task: t, Decision: DecisionCreated}, nil
}

func hasAlias(gb *task.GoalBinding, key string) bool {
	for _, a := range gb.GoalKeyAliases {
		if a == key {
			return true
		}
	}
	return false
}

// inferGoalType reads parameters.goalType or falls back to title keywords.
func inferGoalType(partial *task.Partial) string {
	if v, ok := partial.Parameters["goalType"].(string); ok && v != "" {
		return v
	}
	title := strings.ToLower(partial.Title)
	if strings.Contains(title, "structure") {
		return "build_structure"
	}
	// "shelter" and everything else default to shelter.
	return "build_shelter"
}

// materialize runs step generation, normalization, origin stamping, the
// metadata allowlist projection, and finalization.
func (p *Pipeline) materialize(partial *task.Partial) (*task.Task, error) {
	now := time.Now()
	id := partial.ID
	if id == "" {
		id = task.NewID()
	}

	req := partial.Requirement
	if req == nil {
		req = task.ResolveRequirement(partial.Type, partial.Title, partial.Parameters)
	}

	t := &task.Task{
		ID:          id,
		Title:       partial.Title,
		Description: partial.Description,
		Type:        partial.Type,
		Source:      partial.Source,
		Priority:    task.NormalizeScore(partial.Priority, 0.5),
		Urgency:     task.NormalizeScore(partial.Urgency, 0.5),
		Status:      task.StatusPending,
		Parameters:  partial.Parameters,
		CreatedAt:   now,
	}
	t.Metadata.CreatedAt = now.UnixMilli()
	t.Metadata.UpdatedAt = now.UnixMilli()
	t.Metadata.Requirement = req
	t.Metadata.Tags = append([]string(nil), partial.Tags...)

	p.generateSteps(t, partial, req)

	// Normalization: subtask key for executor-spawned prerequisites,
	// canonical intent parameters for stable identity.
	if partial.ParentTaskID != "" {
		item := ""
		if req != nil {
			item = req.Item
		}
		t.Metadata.SubtaskKey = task.SubtaskKey(partial.ParentTaskID, partial.Type, item)
	}
	p.stampOrigin(t, partial, now)
	p.projectMetadata(t, partial)
	if err := p.finalize(t); err != nil {
		return nil, err
	}
	return t, nil
}

// generateSteps routes step generation by requirement kind and applies the
// sentinel/blocked policies for the paths with no executable plan.
func (p *Pipeline) generateSteps(t *task.Task, partial *task.Partial, req *task.Requirement) {
	if len(partial.Steps) > 0 {
		t.Steps = append([]task.Step(nil), partial.Steps...)
		for i := range t.Steps {
			if t.Steps[i].ID == "" {
				t.Steps[i].ID = task.NewStepID()
			}
			t.Steps[i].Order = i
		}
		return
	}

	if t.Type == "advisory_action" {
		// Advisory tasks never generate steps; they are born blocked.
		t.Metadata.BlockedReason = "advisory_action"
		t.Metadata.NoStepsReason = "advisory-skip"
		return
	}

	kind := ""
	if req != nil {
		kind = req.Kind
	}
	switch kind {
	case "collect", "mine":
		t.Steps = compileAcquireSteps(req)

	case "craft":
		p.solveWith(t, partial, req, func() ([]task.Step, error) {
			if p.craft == nil {
				return nil, fmt.Errorf("craft solver not configured")
			}
			return p.craft.SolveCraft(partial, req)
		})

	case "build":
		p.solveWith(t, partial, req, func() ([]task.Step, error) {
			if p.build == nil {
				return nil, fmt.Errorf("build solver not configured")
			}
			return p.build.SolveBuild(partial, req)
		})

	case "navigate", "explore", "find":
		p.planMacro(t, partial, req)

	default:
		if partial.NoStepsReason != "" {
			t.Metadata.NoStepsReason = partial.NoStepsReason
		}
	}

	if len(t.Steps) == 0 && t.Metadata.BlockedReason == "" {
		t.Metadata.BlockedReason = "no-executable-plan"
		if t.Metadata.NoStepsReason == "" {
			t.Metadata.NoStepsReason = "no-requirement"
		}
	}
}

func (p *Pipeline) solveWith(t *task.Task, partial *task.Partial, req *task.Requirement, solve func() ([]task.Step, error)) {
	steps, err := solve()
	if err != nil {
		p.log.Warn("solver failed for %q: %v", partial.Title, err)
		p.store.Emit(store.Event{
			Type:      store.EventTaskLifecycle,
			Lifecycle: store.LifecycleSolverUnavailable,
			TaskID:    t.ID,
			Reason:    err.Error(),
		})
		t.Metadata.NoStepsReason = "solver-error"
		return
	}
	if len(steps) == 0 {
		t.Metadata.NoStepsReason = "solver-unsolved"
		return
	}
	t.Steps = steps
	for i := range t.Steps {
		if t.Steps[i].ID == "" {
			t.Steps[i].ID = task.NewStepID()
		}
		t.Steps[i].Order = i
	}
}

// planMacro handles the Rig E path: macro plan when configured, sentinel
// step otherwise. Either way a navigation task without a plan waits in
// pending_planning.
func (p *Pipeline) planMacro(t *task.Task, partial *task.Partial, req *task.Requirement) {
	if p.rigE == nil {
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = "rig_e_solver_unimplemented"
		t.Steps = []task.Step{sentinelStep("rig_e_solver_unimplemented")}
		return
	}
	steps, err := p.rigE.PlanMacro(partial, req)
	switch {
	case err == ErrOntologyGap:
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = "rig_e_ontology_gap"
		t.Steps = []task.Step{sentinelStep("rig_e_ontology_gap")}
	case err == ErrNoPlanFound:
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = "rig_e_no_plan_found"
		t.Steps = []task.Step{sentinelStep("rig_e_no_plan_found")}
	case err != nil:
		p.store.Emit(store.Event{
			Type:      store.EventTaskLifecycle,
			Lifecycle: store.LifecycleSolverUnavailable,
			TaskID:    t.ID,
			Reason:    err.Error(),
		})
		t.Metadata.NoStepsReason = "solver-error"
	default:
		t.Steps = steps
		for i := range t.Steps {
			if t.Steps[i].ID == "" {
				t.Steps[i].ID = task.NewStepID()
			}
			t.Steps[i].Order = i
		}
	}
}

// stampOrigin derives the immutable origin envelope from source, tags,
// parent, and binding.
func (p *Pipeline) stampOrigin(t *task.Task, partial *task.Partial, now time.Time) {
	kind := deriveOriginKind(partial)
	t.Metadata.Origin = &task.Origin{
		Kind:          kind,
		ParentTaskID:  partial.ParentTaskID,
		ParentGoalKey: partial.ParentGoalKey,
		CreatedAt:     now.UnixMilli(),
	}
	if partial.GoalBinding != nil {
		t.Metadata.GoalBinding = partial.GoalBinding
		t.Metadata.GoalKey = partial.GoalBinding.GoalKey
	}

	if partial.Source == task.SourceGoal && partial.GoalBinding == nil {
		reason := "goal_resolver_disabled"
		if p.resolver != nil {
			reason = "type_not_gated:" + partial.Type
		}
		p.store.Emit(store.Event{
			Type:       store.EventGoalBindingDrift,
			TaskID:     t.ID,
			Reason:     reason,
			TaskType:   t.Type,
			Source:     string(t.Source),
			OriginKind: string(kind),
		})
	}

	// Autonomous sub-tasks are expected to carry a requirement candidate.
	if partial.Source == task.SourceAutonomous && partial.ParentTaskID != "" &&
		t.Metadata.Requirement == nil && t.Type != "advisory_action" {
		p.log.Warn("autonomous sub-task %s has no requirement candidate", t.ID)
	}
}

func deriveOriginKind(partial *task.Partial) task.OriginKind {
	switch {
	case partial.Source == task.SourceManual:
		return task.OriginAPI
	case partial.Source == task.SourceAutonomous && hasTags(partial.Tags, "cognitive", "autonomous"):
		return task.OriginCognition
	case partial.ParentTaskID != "":
		return task.OriginExecutor
	case partial.Source == task.SourceGoal && partial.GoalBinding != nil:
		return task.OriginGoalResolver
	case partial.Source == task.SourceGoal:
		return task.OriginGoalSource
	case partial.Source == task.SourceAutonomous:
		return task.OriginCognition
	default:
		return task.OriginAPI
	}
}

func hasTags(tags []string, want ...string) bool {
	set := make(map[string]bool, len(tags))
	for _, tg := range tags {
		set[strings.ToLower(tg)] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// metadataAllowlist is the set of caller-supplied metadata keys that
// survive the rebuild. Everything else is dropped.
var metadataAllowlist = map[string]bool{
	"goalKey":        true,
	"subtaskKey":     true,
	"taskProvenance": true,
	"origin":         true,
	"requirement":    true,
	"solver":         true,
	"goalBinding":    true,
	"blockedReason":  true,
	"blockedAt":      true,
	"failureCode":    true,
	"failureError":   true,
}

// projectMetadata copies allowlisted extra metadata into the envelope and
// drops the rest. The typed fields already carry the structured values;
// this handles the string-keyed leftovers from older callers.
func (p *Pipeline) projectMetadata(t *task.Task, partial *task.Partial) {
	if partial.Provenance != nil {
		t.Metadata.Provenance = partial.Provenance
	}
	if partial.Solver != nil {
		t.Metadata.Solver = mergeSolver(t.Metadata.Solver, partial.Solver)
	}

	for key, val := range partial.ExtraMeta {
		if !metadataAllowlist[key] {
			if p.opts.DebugDropLog {
				p.log.Debug("dropping metadata key %q on %s", key, t.ID)
			}
			continue
		}
		switch key {
		case "goalKey":
			if s, ok := val.(string); ok && t.Metadata.GoalKey == "" {
				t.Metadata.GoalKey = s
			}
		case "subtaskKey":
			if s, ok := val.(string); ok && t.Metadata.SubtaskKey == "" {
				t.Metadata.SubtaskKey = s
			}
		case "blockedReason":
			if s, ok := val.(string); ok && t.Metadata.BlockedReason == "" {
				t.Metadata.BlockedReason = s
			}
		case "blockedAt":
			if n, ok := val.(int64); ok && t.Metadata.BlockedAt == 0 {
				t.Metadata.BlockedAt = n
			}
		case "failureCode":
			if s, ok := val.(string); ok {
				t.Metadata.FailureCode = s
			}
		case "failureError":
			if s, ok := val.(string); ok {
				t.Metadata.FailureError = s
			}
		case "origin":
			// Origin is stamped exactly once by the pipeline; a caller
			// supplied envelope never overwrites it.
			p.log.Warn("origin overwrite attempt on %s dropped", t.ID)
			p.store.Emit(store.Event{
				Type:      store.EventTaskLifecycle,
				Lifecycle: store.LifecycleOriginOverwrite,
				TaskID:    t.ID,
			})
		}
	}
}

// mergeSolver deep-merges caller solver metadata over the generated one.
// The namespace is treated generically; no key-by-key filtering.
func mergeSolver(base, override *task.SolverMeta) *task.SolverMeta {
	if base == nil {
		return override
	}
	out := *base
	if override.RigG != nil {
		out.RigG = override.RigG
	}
	if override.RigGReplan != nil {
		out.RigGReplan = override.RigGReplan
	}
	if override.ReplanAttempts > 0 {
		out.ReplanAttempts = override.ReplanAttempts
	}
	if override.PlanID != "" {
		out.PlanID = override.PlanID
	}
	if override.RigGChecked {
		out.RigGChecked = true
	}
	if len(override.EpisodeHashes) > 0 {
		if out.EpisodeHashes == nil {
			out.EpisodeHashes = map[string]string{}
		}
		for k, v := range override.EpisodeHashes {
			out.EpisodeHashes[k] = v
		}
	}
	if len(override.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		for k, v := range override.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// finalize enforces the persistence invariants: origin present, blockedAt
// accompanies blockedReason using the metadata clock, anchored bindings
// carry at least one alias.
func (p *Pipeline) finalize(t *task.Task) error {
	if t.Metadata.Origin == nil {
		p.store.Emit(store.Event{
			Type:      store.EventTaskLifecycle,
			Lifecycle: store.LifecycleFinalizeViolation,
			TaskID:    t.ID,
			Reason:    "origin_missing",
		})
		if p.opts.StrictFinalize {
			return fmt.Errorf("task %s finalized without origin", t.ID)
		}
	}

	if t.Metadata.BlockedReason != "" && t.Metadata.BlockedAt == 0 {
		// Backfill from the metadata clock, never a fresh timestamp, to
		// preserve causal ordering with the update that caused the block.
		t.Metadata.BlockedAt = t.Metadata.UpdatedAt
	}

	if gb := t.Metadata.GoalBinding; gb != nil && gb.Anchors != nil &&
		gb.Anchors.SiteSignature != "" && len(gb.GoalKeyAliases) == 0 {
		// No "anchored without alias" state: promote the current key.
		gb.GoalKeyAliases = []string{gb.GoalKey}
	}
	return nil
}

// categoryKey is the cooldown identity for an intent: requirement-shaped
// when available, title-shaped otherwise.
func (p *Pipeline) categoryKey(partial *task.Partial) string {
	req := partial.Requirement
	if req == nil {
		req = task.ResolveRequirement(partial.Type, partial.Title, partial.Parameters)
	}
	if req != nil && req.Item != "" {
		return fmt.Sprintf("%s:%s:%d", req.Kind, req.Item, req.Quantity)
	}
	// Canonicalized parameters keep the fallback key stable across callers
	// that build the same intent with different map ordering.
	key := strings.ToLower(strings.TrimSpace(partial.Type + ":" + partial.Title))
	if len(partial.Parameters) > 0 {
		key += ":" + task.Canonicalize(partial.Parameters)
	}
	return key
}

// RegisterFailure classifies a task failure and opens the cooldown for its
// category.
func (p *Pipeline) RegisterFailure(t *task.Task, toolReasonCode string) dedupe.Classification {
	fc := dedupe.FailureContext{
		ToolReasonCode: toolReasonCode,
		BlockedReason:  t.Metadata.BlockedReason,
		NoStepsReason:  t.Metadata.NoStepsReason,
	}
	key := p.categoryKey(&task.Partial{
		Title:       t.Title,
		Type:        t.Type,
		Parameters:  t.Parameters,
		Requirement: t.Metadata.Requirement,
	})
	return p.registry.RegisterFailure(key, fc)
}
