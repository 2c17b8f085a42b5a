package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit is used when List is called without a positive limit
const DefaultListLimit = 50

// Registry is the single source of truth for task records. Records are
// never reused; they stay until evicted by a retention policy.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
	newID   func() string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// Create inserts a running record and returns it
func (r *Registry) Create(task, userID string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &Record{
		ID:        r.newID(),
		Status:    StatusRunning,
		Task:      task,
		UserID:    userID,
		StartedAt: r.now(),
	}
	r.records[rec.ID] = rec
	return rec.clone()
}

// Get returns the record for id
func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.clone(), nil
}

// Update applies fn to the record for id under the registry lock. The
// caller is responsible for keeping the status invariants.
func (r *Registry) Update(id string, fn func(*Record)) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(rec)
	return rec.clone(), nil
}

// List returns records newest first, truncated to limit. A negative limit
// means DefaultListLimit; zero yields an empty list.
func (r *Registry) List(limit int) []Record {
	if limit < 0 {
		limit = DefaultListLimit
	}

	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	r.mu.RUnlock()

	// Zero StartedAt sorts as the earliest possible time.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Counts returns the number of records per status
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts
}

// Active returns the number of records that are not terminal
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if !rec.Status.Terminal() {
			n++
		}
	}
	return n
}

// Evict removes terminal records completed before the cut-off
func (r *Registry) Evict(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.records {
		if rec.Status.Terminal() && rec.CompletedAt != nil && rec.CompletedAt.Before(before) {
			delete(r.records, id)
			n++
		}
	}
	return n
}

// Pause labels a running task as paused. Execution is not suspended.
func (r *Registry) Pause(id string) (Record, error) {
	return r.transition(id, func(rec *Record) error {
		switch rec.Status {
		case StatusRunning, StatusPaused:
			rec.Status = StatusPaused
			return nil
		}
		return fmt.Errorf("%w: cannot pause a %s task", ErrInvalidTransition, rec.Status)
	})
}

// Resume labels a paused task as running again
func (r *Registry) Resume(id string) (Record, error) {
	return r.transition(id, func(rec *Record) error {
		switch rec.Status {
		case StatusRunning, StatusPaused:
			rec.Status = StatusRunning
			return nil
		}
		return fmt.Errorf("%w: cannot resume a %s task", ErrInvalidTransition, rec.Status)
	})
}

// Stop labels a task as stopped and sets its completion time. The in-flight
// execution keeps running until it ends on its own.
func (r *Registry) Stop(id string) (Record, error) {
	return r.transition(id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return fmt.Errorf("%w: cannot stop a %s task", ErrInvalidTransition, rec.Status)
		}
		now := r.now()
		rec.Status = StatusStopped
		rec.CompletedAt = &now
		return nil
	})
}

// Finish records a successful run. A task already in a terminal state,
// such as one stopped while running, keeps that state.
func (r *Registry) Finish(id string, out Outcome) (Record, error) {
	return r.transition(id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return fmt.Errorf("%w: task already %s", ErrInvalidTransition, rec.Status)
		}
		now := r.now()
		steps := len(out.Actions)
		rec.Status = StatusFinished
		rec.CompletedAt = &now
		rec.Output = out.Output
		rec.Answer = out.Answer
		rec.Error = ""
		rec.URLsVisited = append([]string(nil), out.URLs...)
		rec.Actions = append([]string(nil), out.Actions...)
		rec.Steps = &steps
		return nil
	})
}

// Fail records a failed run with the error text
func (r *Registry) Fail(id string, cause error) (Record, error) {
	return r.transition(id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return fmt.Errorf("%w: task already %s", ErrInvalidTransition, rec.Status)
		}
		now := r.now()
		rec.Status = StatusFailed
		rec.CompletedAt = &now
		rec.Output = ""
		rec.Error = errorText(cause)
		return nil
	})
}

func (r *Registry) transition(id string, fn func(*Record) error) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(rec); err != nil {
		return rec.clone(), err
	}
	return rec.clone(), nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
