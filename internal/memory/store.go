// Package memory derives long-term user preferences from finished tasks and
// keeps one insight set per user.
package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a user has no insight set yet
var ErrNotFound = errors.New("no memories for user")

// Record is the insight set of one user
type Record struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Memories []string `json:"memories"`
}

// Store persists insight sets
type Store interface {
	FindByUser(ctx context.Context, userID string) (*Record, error)
	Insert(ctx context.Context, userID string) (*Record, error)
	Update(ctx context.Context, userID string, memories []string) error
	Close() error
}

// Merge appends every entry of add that is not already in existing,
// keeping the existing order first
func Merge(existing, add []string) []string {
	out := append([]string(nil), existing...)
	seen := make(map[string]struct{}, len(out)+len(add))
	for _, m := range out {
		seen[m] = struct{}{}
	}
	for _, m := range add {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
