// Package logcapture routes the automation agent's log output to per-task
// sinks and turns goal milestones into short progress lines.
package logcapture

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TaskIDKey is the structured field that tags an agent log entry with its task
const TaskIDKey = "task_id"

// Sink receives the message of every log entry routed to it
type Sink interface {
	Handle(message string)
}

// Channel is the logging channel shared by all automation runs. Each task
// attaches its own sink; entries tagged with a task id only reach that
// task's sink, untagged entries reach every attached sink.
type Channel struct {
	mu    sync.RWMutex
	sinks map[string]Sink
	base  zapcore.Core
}

// NewChannel creates a channel. Entries are also written to base (may be nil)
// so operators still see agent output in the process log.
func NewChannel(base *zap.Logger) *Channel {
	core := zapcore.NewNopCore()
	if base != nil {
		core = base.Core()
	}
	return &Channel{
		sinks: make(map[string]Sink),
		base:  core,
	}
}

// Attach registers sink for taskID, replacing any previous sink for it
func (c *Channel) Attach(taskID string, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[taskID] = sink
}

// Detach removes the sink for taskID. Other tasks are unaffected.
func (c *Channel) Detach(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sinks, taskID)
}

// Attached returns the number of attached sinks
func (c *Channel) Attached() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sinks)
}

// Logger returns the logger an automation run for taskID must write to
func (c *Channel) Logger(taskID string) *zap.Logger {
	core := zapcore.NewTee(c.base, &channelCore{ch: c})
	return zap.New(core).Named("agent").With(zap.String(TaskIDKey, taskID))
}

func (c *Channel) dispatch(taskID, message string) {
	c.mu.RLock()
	var targets []Sink
	if taskID != "" {
		if sink, ok := c.sinks[taskID]; ok {
			targets = append(targets, sink)
		}
	} else {
		for _, sink := range c.sinks {
			targets = append(targets, sink)
		}
	}
	c.mu.RUnlock()

	for _, sink := range targets {
		sink.Handle(message)
	}
}

// channelCore is the zapcore.Core half of Channel
type channelCore struct {
	ch     *Channel
	taskID string
}

func (c *channelCore) Enabled(level zapcore.Level) bool {
	return level >= zapcore.InfoLevel
}

func (c *channelCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	if id, ok := taskIDFrom(fields); ok {
		clone.taskID = id
	}
	return &clone
}

func (c *channelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *channelCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	taskID := c.taskID
	if id, ok := taskIDFrom(fields); ok {
		taskID = id
	}
	c.ch.dispatch(taskID, ent.Message)
	return nil
}

func (c *channelCore) Sync() error { return nil }

func taskIDFrom(fields []zapcore.Field) (string, bool) {
	for _, f := range fields {
		if f.Key == TaskIDKey && f.Type == zapcore.StringType {
			return f.String, true
		}
	}
	return "", false
}
