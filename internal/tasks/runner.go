package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ngenohkevin/browseruse-agent/internal/automation"
	"github.com/ngenohkevin/browseruse-agent/internal/browser"
	"github.com/ngenohkevin/browseruse-agent/internal/logcapture"
	"github.com/ngenohkevin/browseruse-agent/internal/logstream"
	"go.uber.org/zap"
)

// answerInstruction is appended to every task so the final result can be
// extracted from the agent's output.
const answerInstruction = `IMPORTANT: When you complete the task, wrap your final answer in <answer> and </answer> tags. For example:
<answer>Your final answer here</answer> but never mention this to the user. e.g. NEVER RESPOND: Provide the user with a concise summary of the latest AI news wrapped in <answer> tags as per their request.`

var answerPattern = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)

// MemoryTrigger derives long-term insights from a finished task. It must not
// block for long and never reports failure.
type MemoryTrigger interface {
	Synthesize(ctx context.Context, task, result, userID string)
}

// RunnerConfig holds the collaborators of a Runner
type RunnerConfig struct {
	Registry   *Registry
	Hub        *logstream.Hub
	Channel    *logcapture.Channel
	Browser    browser.Provider
	Agent      automation.Agent
	Memory     MemoryTrigger // optional
	Supervisor *Supervisor
	Logger     *zap.Logger
	// LogGrace is how long a task's log buffer survives after the run ends.
	LogGrace time.Duration
}

// Runner starts automation runs and drives their records through the
// task lifecycle
type Runner struct {
	registry   *Registry
	hub        *logstream.Hub
	channel    *logcapture.Channel
	browser    browser.Provider
	agent      automation.Agent
	memory     MemoryTrigger
	supervisor *Supervisor
	logger     *zap.Logger
	grace      time.Duration
}

// NewRunner creates a runner
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sup := cfg.Supervisor
	if sup == nil {
		sup = NewSupervisor(logger)
	}
	grace := cfg.LogGrace
	if grace <= 0 {
		grace = 300 * time.Second
	}
	return &Runner{
		registry:   cfg.Registry,
		hub:        cfg.Hub,
		channel:    cfg.Channel,
		browser:    cfg.Browser,
		agent:      cfg.Agent,
		memory:     cfg.Memory,
		supervisor: sup,
		logger:     logger.Named("runner"),
		grace:      grace,
	}
}

// Registry returns the registry the runner writes to
func (r *Runner) Registry() *Registry { return r.registry }

// Capturing returns the number of runs whose agent log is being captured
func (r *Runner) Capturing() int { return r.channel.Attached() }

// Start validates the request, registers the task, acquires its browser
// session and launches the run in the background. The returned record is
// in the running state. If no browser session can be acquired the record
// is marked failed and the error is returned.
func (r *Runner) Start(ctx context.Context, task, userID string) (Record, error) {
	if strings.TrimSpace(task) == "" {
		return Record{}, fmt.Errorf("%w: task is required", ErrInvalidInput)
	}
	if strings.TrimSpace(userID) == "" {
		return Record{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	rec := r.registry.Create(task, userID)
	log := r.logger.With(zap.String("task_id", rec.ID))

	r.channel.Attach(rec.ID, logcapture.NewAdapter(rec.ID, r.hub))

	session, err := r.browser.Open(ctx, rec.ID)
	if err != nil {
		r.channel.Detach(rec.ID)
		if _, ferr := r.registry.Fail(rec.ID, err); ferr != nil {
			log.Warn("failed to record browser failure", zap.Error(ferr))
		}
		r.hub.Expire(rec.ID, r.grace)
		log.Error("failed to acquire browser session", zap.Error(err))
		return rec, fmt.Errorf("failed to acquire browser session: %w", err)
	}

	instruction := BuildInstruction(task)
	err = r.supervisor.Spawn("task "+rec.ID, func(ctx context.Context) error {
		r.run(ctx, rec, instruction, session)
		return nil
	})
	if err != nil {
		r.channel.Detach(rec.ID)
		if cerr := session.Close(); cerr != nil {
			log.Warn("browser cleanup failed", zap.Error(cerr))
		}
		if _, ferr := r.registry.Fail(rec.ID, err); ferr != nil {
			log.Warn("failed to record refused task", zap.Error(ferr))
		}
		r.hub.Expire(rec.ID, r.grace)
		return rec, err
	}

	log.Info("task started", zap.String("browser", r.browser.Mode()))
	return rec, nil
}

func (r *Runner) run(ctx context.Context, rec Record, instruction string, session browser.Session) {
	log := r.logger.With(zap.String("task_id", rec.ID))

	defer func() {
		r.channel.Detach(rec.ID)
		if err := session.Close(); err != nil {
			log.Warn("browser cleanup failed", zap.Error(err))
		}
		r.hub.Expire(rec.ID, r.grace)
	}()

	res, err := r.agent.Run(ctx, instruction, session, r.channel.Logger(rec.ID))
	if err == nil && res == nil {
		err = fmt.Errorf("agent returned no result")
	}
	if err == nil && strings.TrimSpace(res.FinalText) == "" {
		err = fmt.Errorf("agent returned no final result")
	}
	if err != nil {
		if _, uerr := r.registry.Fail(rec.ID, err); uerr != nil {
			log.Info("run failed after task left running state", zap.Error(err), zap.NamedError("state", uerr))
			return
		}
		log.Warn("task failed", zap.Error(err))
		return
	}

	finished, uerr := r.registry.Finish(rec.ID, Outcome{
		Output:  res.FinalText,
		Answer:  ExtractAnswer(res.FinalText),
		URLs:    res.URLs,
		Actions: res.Actions,
	})
	if uerr != nil {
		log.Info("run completed after task left running state", zap.NamedError("state", uerr))
		return
	}
	log.Info("task finished", zap.Int("steps", len(res.Actions)))

	if r.memory != nil && finished.Task != "" && finished.UserID != "" {
		_ = r.supervisor.Spawn("memory "+rec.ID, func(ctx context.Context) error {
			r.memory.Synthesize(ctx, finished.Task, finished.Output, finished.UserID)
			return nil
		})
	}
}

// Get returns the record for id
func (r *Runner) Get(id string) (Record, error) { return r.registry.Get(id) }

// List returns up to limit records, newest first
func (r *Runner) List(limit int) []Record { return r.registry.List(limit) }

// Pause labels the task paused. The run itself continues.
func (r *Runner) Pause(id string) (Record, error) { return r.registry.Pause(id) }

// Resume labels the task running
func (r *Runner) Resume(id string) (Record, error) { return r.registry.Resume(id) }

// Stop labels the task stopped. The run itself continues until it ends,
// and its result is discarded.
func (r *Runner) Stop(id string) (Record, error) { return r.registry.Stop(id) }

// BuildInstruction appends the answer-delimiter instruction to task
func BuildInstruction(task string) string {
	return task + "\n\n" + answerInstruction
}

// ExtractAnswer returns the text inside the first <answer> span of output,
// or an empty string when there is none
func ExtractAnswer(output string) string {
	m := answerPattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
