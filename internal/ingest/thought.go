package ingest

import (
	"context"
	"strings"
	"time"

	"botmind/internal/logging"
	"botmind/internal/store"
	"botmind/internal/task"
)

// Thought is one actionable item from the cognitive stream.
type Thought struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Type          string         `json:"type"`
	TaskType      string         `json:"taskType,omitempty"`
	Priority      any            `json:"priority,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	SchemaVersion int            `json:"schemaVersion,omitempty"`
	Digest        string         `json:"committedIrDigest,omitempty"`
}

// ThoughtStream polls the cognitive thought service. A failed poll returns
// an empty list; acks are fire-and-forget and absorbed by the outbox.
type ThoughtStream interface {
	GetActionable(ctx context.Context) ([]Thought, error)
	Ack(ctx context.Context, ids []string) error
}

// ThoughtConverter turns actionable thoughts into ingestion partials.
type ThoughtConverter struct {
	stream   ThoughtStream
	pipeline *Pipeline
	store    *store.Store
	interval time.Duration
	strict   bool // strictConvertEligibility
	log      *logging.Logger

	outbox []string // ack ids that failed to send
}

// NewThoughtConverter wires the converter. interval <= 0 defaults to 5s.
func NewThoughtConverter(stream ThoughtStream, p *Pipeline, st *store.Store, interval time.Duration, strict bool) *ThoughtConverter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ThoughtConverter{
		stream:   stream,
		pipeline: p,
		store:    st,
		interval: interval,
		strict:   strict,
		log:      logging.Get(logging.CategoryThought),
	}
}

// Run polls until the context is cancelled.
func (c *ThoughtConverter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Poll fetches actionable thoughts, converts them, and acks what was
// consumed (including any ids left over from earlier failed acks).
func (c *ThoughtConverter) Poll(ctx context.Context) {
	thoughts, err := c.stream.GetActionable(ctx)
	if err != nil {
		c.log.Warn("thought poll failed: %v", err)
		return
	}

	acked := c.outbox
	c.outbox = nil
	for _, th := range thoughts {
		if c.Convert(th) {
			acked = append(acked, th.ID)
		}
	}
	if len(acked) == 0 {
		return
	}
	if err := c.stream.Ack(ctx, acked); err != nil {
		// Keep the ids; the next poll retries the ack.
		c.log.Warn("ack of %d thoughts failed: %v", len(acked), err)
		c.outbox = acked
	}
}

// Convert runs one thought through the pipeline. Returns true when the
// thought was consumed (created, deduped, or deliberately dropped).
func (c *ThoughtConverter) Convert(th Thought) bool {
	if strings.TrimSpace(th.Content) == "" {
		return true // nothing to do; consume it
	}
	if c.strict && th.TaskType == "" {
		c.log.Debug("thought %s has no task type; skipping under strict eligibility", th.ID)
		return false
	}

	partial := &task.Partial{
		Title:      th.Content,
		Type:       th.TaskType,
		Source:     task.SourceAutonomous,
		Priority:   th.Priority,
		Parameters: th.Parameters,
		Tags:       []string{"cognitive", "autonomous"},
	}
	if th.Digest != "" {
		partial.Provenance = &task.Provenance{
			SchemaVersion:   th.SchemaVersion,
			CommittedDigest: th.Digest,
		}
	}

	res, err := c.pipeline.AddTask(partial)
	if err != nil {
		c.log.Warn("thought %s failed ingestion: %v", th.ID, err)
		return false
	}
	if res.Decision == DecisionCreated && res.Task != nil {
		c.store.Emit(store.Event{
			Type:   store.EventThoughtConverted,
			TaskID: res.Task.ID,
			Title:  res.Task.Title,
			Reason: th.ID,
		})
	}
	c.log.Info("thought %s -> %s", th.ID, res.Decision)
	return true
}
