package logcapture

import (
	"regexp"
	"strings"
)

// GoalMarker prefixes every goal milestone the agent logs
const GoalMarker = "🎯"

var (
	ansiPattern = regexp.MustCompile(`\x1b?\[[0-9;]*m`)
	goalPattern = regexp.MustCompile(`🎯\s*(?i:next\s+)?(?i:goal):?\s*(.+)`)
)

// Publisher receives extracted progress lines
type Publisher interface {
	Publish(taskID, entry string)
}

// Adapter is the per-task sink that keeps only goal milestones
type Adapter struct {
	taskID string
	pub    Publisher
}

// NewAdapter creates an adapter publishing to pub under taskID
func NewAdapter(taskID string, pub Publisher) *Adapter {
	return &Adapter{taskID: taskID, pub: pub}
}

// Handle implements Sink
func (a *Adapter) Handle(message string) {
	if goal, ok := ExtractGoal(message); ok {
		a.pub.Publish(a.taskID, goal)
	}
}

// ExtractGoal returns the goal text of a log message, or false if the message
// is not a goal milestone.
func ExtractGoal(message string) (string, bool) {
	if !strings.Contains(message, GoalMarker) {
		return "", false
	}

	clean := ansiPattern.ReplaceAllString(message, "")
	m := goalPattern.FindStringSubmatch(clean)
	if m == nil {
		return "", false
	}

	goal := strings.TrimSpace(m[1])
	if goal == "" {
		return "", false
	}
	return goal, true
}

// FormatGoal renders a goal the way ExtractGoal expects to find it
func FormatGoal(goal string) string {
	return GoalMarker + " Next goal: " + goal
}
