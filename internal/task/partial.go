package task

import "strconv"

// Partial is the source-specific input handed to the ingestion pipeline.
// Everything is optional; the pipeline normalizes, stamps provenance, and
// projects only allowlisted metadata into the persisted task.
type Partial struct {
	ID          string
	Title       string
	Description string
	Type        string
	Source      Source

	// Priority and Urgency accept heterogeneous inputs: numbers pass
	// through, the strings low/medium/high map to fixed points.
	Priority any
	Urgency  any

	Parameters map[string]any
	Tags       []string
	Steps      []Step

	ParentTaskID  string
	ParentGoalKey string

	// Seed metadata. Only allowlisted fields survive the rebuild.
	GoalBinding   *GoalBinding
	Provenance    *Provenance
	Solver        *SolverMeta
	Requirement   *Requirement
	ExtraMeta     map[string]any // unrecognized keys; dropped with a debug log
	NoStepsReason string
}

// DedupeKey returns the Sterling digest dedupe key, or "" when the partial
// carries no reduction artifacts. Format "<schemaVersion>:<digest>" is a
// cross-process convention and treated as opaque by lookups.
func (p *Partial) DedupeKey() string {
	if p.Provenance == nil || p.Provenance.CommittedDigest == "" {
		return ""
	}
	return DedupeKey(p.Provenance.SchemaVersion, p.Provenance.CommittedDigest)
}

// DedupeKey formats the digest-window key for a reduction artifact.
func DedupeKey(schemaVersion int, digest string) string {
	if digest == "" {
		return ""
	}
	if schemaVersion <= 0 {
		schemaVersion = 1
	}
	return strconv.Itoa(schemaVersion) + ":" + digest
}
