// Package dedupe gates re-ingestion of recently seen or recently failed
// intents. It keeps two disjoint mechanisms: a bounded LRU of reduction
// digests and tiered-TTL cooldowns keyed by failure classification.
package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"botmind/internal/logging"
)

// Classification tiers and their cooldown TTLs.
type Classification string

const (
	ClassTransient   Classification = "transient"
	ClassDurable     Classification = "durable"
	ClassNonsensical Classification = "nonsensical"
)

// TTL returns the cooldown duration for a classification.
func (c Classification) TTL() time.Duration {
	switch c {
	case ClassTransient:
		return 5 * time.Second
	case ClassNonsensical:
		return 120 * time.Second
	default:
		return 30 * time.Second
	}
}

// FailureContext carries the classification inputs off a failed task.
type FailureContext struct {
	ToolReasonCode string // toolDiagnostics.reason_code, highest precedence
	BlockedReason  string
	NoStepsReason  string
}

// reasonCodeClasses classifies executor tool diagnostics.
var reasonCodeClasses = map[string]Classification{
	"no_mcdata":           ClassTransient,
	"no_recipe_available": ClassTransient,
	"craft_timeout":       ClassTransient,
	"invalid_recipe_id":   ClassDurable,
	"unknown_item":        ClassDurable,
}

// blockedReasonClasses classifies the blocked-reason registry. Parametric
// reasons (deterministic-failure:*, budget-exhausted:*) match by prefix.
var blockedReasonClasses = map[string]Classification{
	"blocked_world_context_unavailable":     ClassTransient,
	"blocked_inventory_context_unavailable": ClassTransient,
	"blocked_invalid_ir_bundle":             ClassDurable,
	"blocked_missing_digest":                ClassDurable,
	"expansion_retries_exhausted":           ClassNonsensical,
	"max_retries_exceeded":                  ClassNonsensical,
	"no-executable-plan":                    ClassDurable,
	"advisory_action":                       ClassNonsensical,
	"rig_e_solver_unimplemented":            ClassTransient,
	"rig_e_no_plan_found":                   ClassTransient,
	"rig_e_ontology_gap":                    ClassDurable,
	"rig_g_replan_exhausted":                ClassNonsensical,
}

var blockedReasonPrefixes = []struct {
	prefix string
	class  Classification
}{
	{"blocked_", ClassTransient}, // remaining blocked_*_context_unavailable family
	{"deterministic-failure:", ClassDurable},
	{"budget-exhausted:", ClassNonsensical},
}

// noStepsClasses classifies the step-derivation outcome.
var noStepsClasses = map[string]Classification{
	"solver-unsolved": ClassTransient,
	"solver-error":    ClassTransient,
	"unplannable":     ClassDurable,
	"no-requirement":  ClassDurable,
	"advisory-skip":   ClassNonsensical,
}

// Classify resolves a failure context to a tier. Precedence is strict:
// tool diagnostics, then blocked reason, then no-steps reason, then durable.
func Classify(fc FailureContext) Classification {
	if fc.ToolReasonCode != "" {
		if c, ok := reasonCodeClasses[fc.ToolReasonCode]; ok {
			return c
		}
	}
	if fc.BlockedReason != "" {
		if c, ok := blockedReasonClasses[fc.BlockedReason]; ok {
			return c
		}
		for _, p := range blockedReasonPrefixes {
			if strings.HasPrefix(fc.BlockedReason, p.prefix) {
				if p.prefix == "blocked_" && !strings.HasSuffix(fc.BlockedReason, "_context_unavailable") {
					continue
				}
				return p.class
			}
		}
	}
	if fc.NoStepsReason != "" {
		if c, ok := noStepsClasses[fc.NoStepsReason]; ok {
			return c
		}
	}
	return ClassDurable
}

// KnownBlockedReasons lists the blocked-reason registry for the startup
// coverage self-check: every reason the pipeline or verifier can set must
// classify.
var KnownBlockedReasons = []string{
	"blocked_world_context_unavailable",
	"blocked_inventory_context_unavailable",
	"blocked_invalid_ir_bundle",
	"blocked_missing_digest",
	"expansion_retries_exhausted",
	"max_retries_exceeded",
	"deterministic-failure:postcondition_not_met",
	"budget-exhausted:steps",
	"no-executable-plan",
	"advisory_action",
	"rig_e_solver_unimplemented",
	"rig_e_ontology_gap",
	"rig_e_no_plan_found",
	"rig_g_replan_exhausted",
}

// VerifyCoverage confirms every registered blocked reason resolves through
// the classification table (explicit entry or parametric prefix), so a new
// blocked reason cannot silently fall through to the default tier. Returns
// the uncovered reasons; the startup self-check treats a non-empty result
// as a configuration bug.
func VerifyCoverage() []string {
	var uncovered []string
	for _, reason := range KnownBlockedReasons {
		if _, ok := blockedReasonClasses[reason]; ok {
			continue
		}
		covered := false
		for _, p := range blockedReasonPrefixes {
			if strings.HasPrefix(reason, p.prefix) {
				covered = true
				break
			}
		}
		if !covered {
			uncovered = append(uncovered, reason)
		}
	}
	return uncovered
}

type cooldownEntry struct {
	class     Classification
	expiresAt time.Time
}

type digestEntry struct {
	key string
}

// Metrics is an observable snapshot of registry state.
type Metrics struct {
	Size                 int                    `json:"size"`
	DigestWindowSize     int                    `json:"digestWindowSize"`
	HitsByClassification map[Classification]int `json:"hitsByClassification"`
}

// Registry holds the digest window and the category cooldowns. It lives on
// the core for the process lifetime; tests construct fresh instances.
type Registry struct {
	mu        sync.Mutex
	cooldowns map[string]cooldownEntry
	hits      map[Classification]int

	digestCap   int
	digestOrder *list.List               // front = most recent
	digests     map[string]*list.Element // key -> order element

	now func() time.Time
	log *logging.Logger
}

// NewRegistry creates a registry with the given digest-window capacity
// (default 500 when <= 0).
func NewRegistry(digestCap int) *Registry {
	if digestCap <= 0 {
		digestCap = 500
	}
	return &Registry{
		cooldowns:   make(map[string]cooldownEntry),
		hits:        make(map[Classification]int),
		digestCap:   digestCap,
		digestOrder: list.New(),
		digests:     make(map[string]*list.Element),
		now:         time.Now,
		log:         logging.Get(logging.CategoryDedupe),
	}
}

// SetClock overrides the time source for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// RegisterFailure classifies a failure and records a cooldown for its
// category key. Returns the classification applied.
func (r *Registry) RegisterFailure(categoryKey string, fc FailureContext) Classification {
	class := Classify(fc)
	r.mu.Lock()
	r.cooldowns[categoryKey] = cooldownEntry{
		class:     class,
		expiresAt: r.now().Add(class.TTL()),
	}
	r.mu.Unlock()
	r.log.Info("cooldown %s for %q (ttl %s)", class, categoryKey, class.TTL())
	return class
}

// InCooldown reports whether a category key is still cooling down, and the
// classification that gated it. Expired entries are pruned on read.
func (r *Registry) InCooldown(categoryKey string) (Classification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cooldowns[categoryKey]
	if !ok {
		return "", false
	}
	if !r.now().Before(e.expiresAt) {
		delete(r.cooldowns, categoryKey)
		return "", false
	}
	r.hits[e.class]++
	return e.class, true
}

// SeenDigest records a dedupe key in the LRU window and reports whether it
// was already present.
func (r *Registry) SeenDigest(key string) bool {
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.digests[key]; ok {
		r.digestOrder.MoveToFront(el)
		return true
	}
	el := r.digestOrder.PushFront(digestEntry{key: key})
	r.digests[key] = el
	for r.digestOrder.Len() > r.digestCap {
		oldest := r.digestOrder.Back()
		r.digestOrder.Remove(oldest)
		delete(r.digests, oldest.Value.(digestEntry).key)
	}
	return false
}

// Snapshot returns observable metrics.
func (r *Registry) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	hits := make(map[Classification]int, len(r.hits))
	for k, v := range r.hits {
		hits[k] = v
	}
	return Metrics{
		Size:                 len(r.cooldowns),
		DigestWindowSize:     len(r.digests),
		HitsByClassification: hits,
	}
}
