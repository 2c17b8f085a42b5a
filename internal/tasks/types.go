package tasks

import (
	"errors"
	"time"
)

// Status is the reported state of a task
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// Terminal reports whether no further transitions are allowed from s
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusStopped:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned for unknown task ids
	ErrNotFound = errors.New("task not found")
	// ErrInvalidInput is returned when a task request is malformed
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record represents one automation run
type Record struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Task        string     `json:"task"`
	UserID      string     `json:"user_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      string     `json:"output,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	Error       string     `json:"error,omitempty"`
	URLsVisited []string   `json:"urls_visited,omitempty"`
	Actions     []string   `json:"actions,omitempty"`
	Steps       *int       `json:"steps,omitempty"`
}

// clone returns a deep copy so callers never share slices with the registry
func (r *Record) clone() Record {
	out := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.Steps != nil {
		n := *r.Steps
		out.Steps = &n
	}
	out.URLsVisited = append([]string(nil), r.URLsVisited...)
	out.Actions = append([]string(nil), r.Actions...)
	return out
}

// Outcome is the successful result of a run
type Outcome struct {
	Output  string
	Answer  string
	URLs    []string
	Actions []string
}
