// Package browser provides the per-task browser sessions automation runs
// drive. A session is never shared between tasks.
package browser

import "context"

// Default limits
const (
	DefaultTimeout   = 30000.0 // milliseconds
	DefaultMaxLength = 4000
)

// Page is the subset of page operations the automation agent needs
type Page interface {
	Goto(url string) error
	Click(selector string) error
	Fill(selector, value string) error
	Press(selector, key string) error
	URL() string
	Title() (string, error)
	// Text returns the visible text of the page, truncated to maxLen runes.
	Text(maxLen int) (string, error)
}

// Session is a page owned by exactly one task
type Session interface {
	Page
	Close() error
}

// Provider opens sessions
type Provider interface {
	// Open acquires a dedicated session for taskID.
	Open(ctx context.Context, taskID string) (Session, error)
	// Mode names the provider for status reporting.
	Mode() string
	// Close releases provider-wide resources.
	Close() error
}
