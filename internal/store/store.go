// Package store holds the authoritative in-memory task map, the progress
// index, and the bounded history ring. The store is the single mutation
// point for task state; callers never hold aliased references to stored
// tasks (Get returns clones).
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"botmind/internal/logging"
	"botmind/internal/task"
)

// Progress is the derived per-task progress record.
type Progress struct {
	TaskID         string        `json:"taskId"`
	Status         task.Status   `json:"status"`
	Progress       float64       `json:"progress"`
	CurrentStep    int           `json:"currentStep"`
	TotalSteps     int           `json:"totalSteps"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	ActualDuration time.Duration `json:"actualDuration,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Statistics is a point-in-time snapshot of store contents.
type Statistics struct {
	Total             int                 `json:"total"`
	ByStatus          map[task.Status]int `json:"byStatus"`
	BySource          map[task.Source]int `json:"bySource"`
	HistorySize       int                 `json:"historySize"`
	AvgCompletionTime time.Duration       `json:"avgCompletionTime"`
}

// PutOptions tunes a single Put call.
type PutOptions struct {
	// AllowUnfinalized suppresses the missing-origin warning. Used only for
	// the skeleton handoff inside the ingestion pipeline.
	AllowUnfinalized bool
	// CallSite labels strict-mode warnings.
	CallSite string
}

// Store owns the id->task map, the progress index, and the history ring.
type Store struct {
	mu sync.RWMutex

	tasks    map[string]*task.Task
	progress map[string]*Progress
	history  []*task.Task // terminal tasks, oldest first
	maxHist  int
	strict   bool

	subsMu sync.RWMutex
	subs   []chan Event
}

// New creates an empty store. maxHistory <= 0 uses the default of 1000.
func New(maxHistory int, strictFinalize bool) *Store {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Store{
		tasks:    make(map[string]*task.Task),
		progress: make(map[string]*Progress),
		maxHist:  maxHistory,
		strict:   strictFinalize,
	}
}

// Subscribe returns a channel of store events. The channel is buffered;
// a slow consumer drops events rather than blocking mutation.
func (s *Store) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Emit publishes an event to all subscribers without blocking.
func (s *Store) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the core.
		}
	}
}

// Put upserts a task and refreshes its progress record.
func (s *Store) Put(t *task.Task, opts *PutOptions) {
	s.mu.Lock()
	_, existed := s.tasks[t.ID]
	if !existed && t.Metadata.Origin == nil && (opts == nil || !opts.AllowUnfinalized) {
		site := ""
		if opts != nil {
			site = opts.CallSite
		}
		logging.Store("put of unfinalized task %s (call site %s)", t.ID, site)
		if s.strict {
			s.mu.Unlock()
			s.Emit(Event{
				Type:      EventTaskLifecycle,
				Lifecycle: LifecycleStrictPutWarning,
				TaskID:    t.ID,
				Reason:    site,
			})
			s.mu.Lock()
		}
	}
	s.tasks[t.ID] = t.Clone()
	s.refreshProgressLocked(t)
	s.mu.Unlock()

	if existed {
		s.Emit(Event{Type: EventTaskUpdated, TaskID: t.ID, Title: t.Title})
	} else {
		s.Emit(Event{Type: EventTaskAdded, TaskID: t.ID, Title: t.Title, TaskType: t.Type, Source: string(t.Source)})
	}
}

// Get returns a clone of the task, or nil when absent.
func (s *Store) Get(id string) *task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tasks[id]; ok {
		return t.Clone()
	}
	return nil
}

// Mutate applies fn to the live task under the store lock and refreshes the
// progress index. Returns false when the id is unknown. This is the only
// sanctioned in-place write path; everything above it goes through the
// status machine.
func (s *Store) Mutate(id string, fn func(*task.Task)) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(t)
	t.Metadata.UpdatedAt = task.NowMillis()
	s.refreshProgressLocked(t)
	s.mu.Unlock()

	s.Emit(Event{Type: EventTaskUpdated, TaskID: id})
	return true
}

// MutateChecked applies fn to the live task under the store lock; fn may
// reject the mutation by returning false, in which case nothing is stamped
// and no event fires. This is the path for mutations whose legality depends
// on the task's current state: the decision and the write happen under one
// lock, so a concurrent writer cannot invalidate the check.
func (s *Store) MutateChecked(id string, fn func(*task.Task) bool) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if !fn(t) {
		s.mu.Unlock()
		return false
	}
	t.Metadata.UpdatedAt = task.NowMillis()
	s.refreshProgressLocked(t)
	s.mu.Unlock()

	s.Emit(Event{Type: EventTaskUpdated, TaskID: id})
	return true
}

// Delete removes a task and its progress record.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		delete(s.progress, id)
	}
	s.mu.Unlock()
	if ok {
		s.Emit(Event{Type: EventTaskRemoved, TaskID: id})
	}
	return ok
}

// List returns clones of all live tasks, optionally filtered.
func (s *Store) List(filter func(*task.Task) bool) []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter == nil || filter(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Active returns tasks in an open (non-terminal, non-unplannable) status.
func (s *Store) Active() []*task.Task {
	return s.List(func(t *task.Task) bool {
		return t.Status == task.StatusActive || t.Status == task.StatusPending ||
			t.Status == task.StatusPendingPlanning
	})
}

// GetProgress returns the progress record for a task, or nil.
func (s *Store) GetProgress(id string) *Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.progress[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// History returns up to limit terminal tasks, most recent first.
func (s *Store) History(limit int) []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*task.Task, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i].Clone())
	}
	return out
}

// Statistics computes a snapshot of store contents.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Statistics{
		Total:       len(s.tasks),
		ByStatus:    make(map[task.Status]int),
		BySource:    make(map[task.Source]int),
		HistorySize: len(s.history),
	}
	for _, t := range s.tasks {
		st.ByStatus[t.Status]++
		st.BySource[t.Source]++
	}
	var total time.Duration
	var completed int
	for _, t := range s.history {
		if t.Status == task.StatusCompleted && t.StartedAt != nil && t.CompletedAt != nil {
			total += t.CompletedAt.Sub(*t.StartedAt)
			completed++
		}
	}
	if completed > 0 {
		st.AvgCompletionTime = total / time.Duration(completed)
	}
	return st
}

// CleanupCompleted moves terminal tasks into the history ring and truncates
// the ring to maxHistory. Returns the number of tasks retired.
func (s *Store) CleanupCompleted() int {
	s.mu.Lock()
	var retired []string
	for id, t := range s.tasks {
		if t.Status.IsTerminal() {
			s.history = append(s.history, t)
			delete(s.tasks, id)
			delete(s.progress, id)
			retired = append(retired, id)
		}
	}
	if len(s.history) > s.maxHist {
		s.history = s.history[len(s.history)-s.maxHist:]
	}
	s.mu.Unlock()

	for _, id := range retired {
		s.Emit(Event{Type: EventTaskRemoved, TaskID: id, Reason: "retired_to_history"})
	}
	return len(retired)
}

func (s *Store) refreshProgressLocked(t *task.Task) {
	p, ok := s.progress[t.ID]
	if !ok {
		p = &Progress{TaskID: t.ID}
		s.progress[t.ID] = p
	}
	p.Status = t.Status
	p.Progress = t.Progress
	p.CurrentStep = t.CurrentStepIndex()
	p.TotalSteps = len(t.Steps)
	p.StartedAt = t.StartedAt
	p.CompletedAt = t.CompletedAt
	if t.StartedAt != nil && t.CompletedAt != nil {
		p.ActualDuration = t.CompletedAt.Sub(*t.StartedAt)
	}
	p.UpdatedAt = time.Now()
}

// openForDedup reports whether a task should suppress an equivalent incoming
// partial.
func openForDedup(t *task.Task) bool {
	switch t.Status {
	case task.StatusPending, task.StatusPendingPlanning, task.StatusActive:
		return true
	}
	return false
}

// FindSimilar is the dedup probe run before ingestion. First match wins:
// exact title, then title word-overlap within the same type+source, then
// requirement equivalence.
func (s *Store) FindSimilar(p *task.Partial) *task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	title := strings.TrimSpace(strings.ToLower(p.Title))
	for _, t := range s.tasks {
		if openForDedup(t) && strings.TrimSpace(strings.ToLower(t.Title)) == title && title != "" {
			return t.Clone()
		}
	}

	for _, t := range s.tasks {
		if !openForDedup(t) || t.Type != p.Type || t.Source != p.Source {
			continue
		}
		if wordOverlap(title, strings.ToLower(t.Title)) >= 0.7 {
			return t.Clone()
		}
	}

	incoming := p.Requirement
	if incoming == nil {
		incoming = task.ResolveRequirement(p.Type, p.Title, p.Parameters)
	}
	if incoming != nil {
		for _, t := range s.tasks {
			if !openForDedup(t) {
				continue
			}
			req := t.Metadata.Requirement
			if req == nil {
				req = task.ResolveRequirement(t.Type, t.Title, t.Parameters)
			}
			if incoming.Equivalent(req) {
				return t.Clone()
			}
		}
	}
	return nil
}

// FindBySterlingDedupeKey searches live tasks and the history ring for a
// task carrying the given reduction digest key. Terminal tasks still
// suppress recent digests.
func (s *Store) FindBySterlingDedupeKey(key string) *task.Task {
	if key == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if provenanceKey(t) == key {
			return t.Clone()
		}
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if provenanceKey(s.history[i]) == key {
			return s.history[i].Clone()
		}
	}
	return nil
}

func provenanceKey(t *task.Task) string {
	if t.Metadata.Provenance == nil {
		return ""
	}
	return task.DedupeKey(t.Metadata.Provenance.SchemaVersion, t.Metadata.Provenance.CommittedDigest)
}

// wordOverlap returns |intersection| / |smaller distinct word set|.
func wordOverlap(a, b string) float64 {
	sa := wordSet(a)
	sb := wordSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	shared := 0
	for w := range sa {
		if sb[w] {
			shared++
		}
	}
	denom := len(sa)
	if len(sb) < denom {
		denom = len(sb)
	}
	return float64(shared) / float64(denom)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
