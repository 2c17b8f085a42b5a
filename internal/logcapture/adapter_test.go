package logcapture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingPublisher struct {
	mu      sync.Mutex
	entries map[string][]string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{entries: make(map[string][]string)}
}

func (p *recordingPublisher) Publish(taskID, entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[taskID] = append(p.entries[taskID], entry)
}

func (p *recordingPublisher) get(taskID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.entries[taskID]...)
}

func TestExtractGoal(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
		ok      bool
	}{
		{"no marker", "ℹ Something happened", "", false},
		{"next goal", "🎯 Next goal: Search for founders", "Search for founders", true},
		{"ansi wrapped", "\x1b[34m🎯 Next goal: Open the pricing page\x1b[0m", "Open the pricing page", true},
		{"bare ansi brackets", "[34m🎯 Next goal: Click login[0m", "Click login", true},
		{"no next prefix", "🎯 Goal: Read the article", "Read the article", true},
		{"lowercase label", "🎯 next goal: scroll down", "scroll down", true},
		{"upper case label", "🎯 NEXT GOAL: Submit", "Submit", true},
		{"no colon", "🎯 Goal Fill the form", "Fill the form", true},
		{"trailing whitespace", "🎯 Next goal:   Trim me   ", "Trim me", true},
		{"marker without label", "🎯 Eval: Success", "", false},
		{"empty goal", "🎯 Next goal:   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractGoal(tt.message)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdapter_Handle(t *testing.T) {
	pub := newRecordingPublisher()
	a := NewAdapter("task-1", pub)

	a.Handle("ℹ Something happened")
	assert.Empty(t, pub.get("task-1"))

	a.Handle("🎯 Next goal: Search for founders")
	assert.Equal(t, []string{"Search for founders"}, pub.get("task-1"))
}

func TestFormatGoalRoundTrip(t *testing.T) {
	goal, ok := ExtractGoal(FormatGoal("Compare prices"))
	assert.True(t, ok)
	assert.Equal(t, "Compare prices", goal)
}
