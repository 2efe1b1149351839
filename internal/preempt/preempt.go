// Package preempt grants bounded execution budgets to tasks an external
// scheduler wants to displace. Exhaustion yields a hold witness instead of
// a failure: a preempted task is held, never failed.
package preempt

import (
	"sync"
	"time"
)

// Exhaustion identifies which budget ran out.
type Exhaustion string

const (
	ExhaustedNone  Exhaustion = ""
	ExhaustedSteps Exhaustion = "steps_exhausted"
	ExhaustedTime  Exhaustion = "time_exhausted"
	ExhaustedBoth  Exhaustion = "both_exhausted"
)

// Budget bounds how much work a preempted task may still do.
type Budget struct {
	MaxSteps  int
	MaxTimeMs int64
}

// DefaultBudget is the per-task grant.
var DefaultBudget = Budget{MaxSteps: 3, MaxTimeMs: 5000}

// HoldWitness captures where execution stopped so the goal binding can
// resume from the same cursor.
type HoldWitness struct {
	TaskID       string     `json:"taskId"`
	LastStepID   string     `json:"lastStepId"`
	ModuleCursor string     `json:"moduleCursor,omitempty"`
	Exhaustion   Exhaustion `json:"exhaustion"`
	GrantedAt    time.Time  `json:"grantedAt"`
}

type grant struct {
	budget     Budget
	stepsUsed  int
	grantedAt  time.Time
	lastStepID string
	cursor     string
}

// Coordinator tracks budget consumption per preempted task.
type Coordinator struct {
	mu     sync.Mutex
	grants map[string]*grant
	now    func() time.Time
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{grants: make(map[string]*grant), now: time.Now}
}

// SetClock overrides the time source for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Preempt grants a budget to a task. A second grant resets consumption.
func (c *Coordinator) Preempt(taskID string, budget Budget) {
	if budget.MaxSteps <= 0 {
		budget = DefaultBudget
	}
	c.mu.Lock()
	c.grants[taskID] = &grant{budget: budget, grantedAt: c.now()}
	c.mu.Unlock()
}

// Consume records one step of work under the grant and returns the witness
// when a budget is exhausted. A nil witness means execution may continue.
func (c *Coordinator) Consume(taskID, stepID, moduleCursor string) *HoldWitness {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[taskID]
	if !ok {
		return nil
	}
	g.stepsUsed++
	g.lastStepID = stepID
	g.cursor = moduleCursor

	stepsOut := g.stepsUsed >= g.budget.MaxSteps
	timeOut := c.now().Sub(g.grantedAt).Milliseconds() >= g.budget.MaxTimeMs

	var ex Exhaustion
	switch {
	case stepsOut && timeOut:
		ex = ExhaustedBoth
	case stepsOut:
		ex = ExhaustedSteps
	case timeOut:
		ex = ExhaustedTime
	default:
		return nil
	}

	delete(c.grants, taskID)
	return &HoldWitness{
		TaskID:       taskID,
		LastStepID:   g.lastStepID,
		ModuleCursor: g.cursor,
		Exhaustion:   ex,
		GrantedAt:    g.grantedAt,
	}
}

// Release drops a grant without a witness (the task completed or the
// scheduler withdrew the preemption).
func (c *Coordinator) Release(taskID string) {
	c.mu.Lock()
	delete(c.grants, taskID)
	c.mu.Unlock()
}
