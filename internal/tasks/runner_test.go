package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ngenohkevin/browseruse-agent/internal/automation"
	"github.com/ngenohkevin/browseruse-agent/internal/browser"
	"github.com/ngenohkevin/browseruse-agent/internal/logcapture"
	"github.com/ngenohkevin/browseruse-agent/internal/logstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSession struct {
	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (s *stubSession) Goto(string) error           { return nil }
func (s *stubSession) Click(string) error          { return nil }
func (s *stubSession) Fill(string, string) error   { return nil }
func (s *stubSession) Press(string, string) error  { return nil }
func (s *stubSession) URL() string                 { return "about:blank" }
func (s *stubSession) Title() (string, error)      { return "", nil }
func (s *stubSession) Text(int) (string, error)    { return "", nil }
func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}
func (s *stubSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubProvider struct {
	mu       sync.Mutex
	sessions map[string]*stubSession
	openErr  error
	closeErr error
}

func newStubProvider() *stubProvider {
	return &stubProvider{sessions: make(map[string]*stubSession)}
}

func (p *stubProvider) Open(_ context.Context, taskID string) (browser.Session, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &stubSession{closeErr: p.closeErr}
	p.sessions[taskID] = s
	return s, nil
}
func (p *stubProvider) Mode() string { return "stub" }
func (p *stubProvider) Close() error { return nil }

func (p *stubProvider) session(taskID string) *stubSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[taskID]
}

// scriptedAgent logs the given goals and then waits for release before
// returning its result
type scriptedAgent struct {
	goals   []string
	result  *automation.Result
	err     error
	release chan struct{}

	mu          sync.Mutex
	instruction string
}

func (a *scriptedAgent) Run(ctx context.Context, instruction string, _ browser.Page, logger *zap.Logger) (*automation.Result, error) {
	a.mu.Lock()
	a.instruction = instruction
	a.mu.Unlock()

	logger.Info("ℹ Starting task")
	for _, g := range a.goals {
		logger.Info(logcapture.FormatGoal(g))
	}
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.result, a.err
}

func (a *scriptedAgent) seenInstruction() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instruction
}

type recordingMemory struct {
	mu    sync.Mutex
	calls [][3]string
}

func (m *recordingMemory) Synthesize(_ context.Context, task, result, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, [3]string{task, result, userID})
}

func (m *recordingMemory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type runnerFixture struct {
	runner   *Runner
	registry *Registry
	hub      *logstream.Hub
	channel  *logcapture.Channel
	provider *stubProvider
	memory   *recordingMemory
	sup      *Supervisor
}

func newFixture(agent automation.Agent) *runnerFixture {
	f := &runnerFixture{
		registry: NewRegistry(),
		hub:      logstream.NewHub(logstream.Options{ReplayDelay: time.Millisecond}),
		channel:  logcapture.NewChannel(zap.NewNop()),
		provider: newStubProvider(),
		memory:   &recordingMemory{},
		sup:      NewSupervisor(zap.NewNop()),
	}
	f.runner = NewRunner(RunnerConfig{
		Registry:   f.registry,
		Hub:        f.hub,
		Channel:    f.channel,
		Browser:    f.provider,
		Agent:      agent,
		Memory:     f.memory,
		Supervisor: f.sup,
		LogGrace:   time.Hour,
	})
	return f
}

func (f *runnerFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Wait(ctx))
}

func TestRunner_StartValidation(t *testing.T) {
	f := newFixture(&scriptedAgent{})

	_, err := f.runner.Start(context.Background(), "   ", "u1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.runner.Start(context.Background(), "find founders", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, 0, f.registry.Len())
}

func TestRunner_Success(t *testing.T) {
	agent := &scriptedAgent{
		goals: []string{"Open the site", "Read the team page"},
		result: &automation.Result{
			FinalText: "The founders are <answer>Alice and Bob</answer>",
			URLs:      []string{"https://example.com", "https://example.com/team"},
			Actions:   []string{"navigate", "click", "done"},
		},
		release: make(chan struct{}),
	}
	f := newFixture(agent)

	rec, err := f.runner.Start(context.Background(), "find founders", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 1, f.channel.Attached())

	assert.Eventually(t, func() bool {
		return len(f.hub.Entries(rec.ID)) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Open the site", "Read the team page"}, f.hub.Entries(rec.ID))

	close(agent.release)
	f.wait(t)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, "Alice and Bob", got.Answer)
	assert.Equal(t, []string{"https://example.com", "https://example.com/team"}, got.URLsVisited)
	require.NotNil(t, got.Steps)
	assert.Equal(t, 3, *got.Steps)
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, 0, f.channel.Attached())
	assert.True(t, f.provider.session(rec.ID).isClosed())
	assert.Contains(t, agent.seenInstruction(), "find founders\n\nIMPORTANT: When you complete the task")

	require.Equal(t, 1, f.memory.count())
	assert.Equal(t, [3]string{"find founders", "The founders are <answer>Alice and Bob</answer>", "u1"}, f.memory.calls[0])
}

func TestRunner_Failure(t *testing.T) {
	f := newFixture(&scriptedAgent{err: errors.New("navigation timeout")})

	rec, err := f.runner.Start(context.Background(), "find founders", "u1")
	require.NoError(t, err)
	f.wait(t)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "navigation timeout", got.Error)
	assert.Empty(t, got.Output)
	assert.Equal(t, 0, f.memory.count())
	assert.True(t, f.provider.session(rec.ID).isClosed())
}

func TestRunner_BlankResultFails(t *testing.T) {
	f := newFixture(&scriptedAgent{result: &automation.Result{FinalText: "  ", Actions: []string{"done"}}})

	rec, err := f.runner.Start(context.Background(), "find founders", "u1")
	require.NoError(t, err)
	f.wait(t)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Empty(t, got.Output)
	assert.Equal(t, "agent returned no final result", got.Error)
	assert.Equal(t, 0, f.memory.count())
}

func TestRunner_StartAfterShutdown(t *testing.T) {
	f := newFixture(&scriptedAgent{result: &automation.Result{FinalText: "ok"}})
	require.NoError(t, f.sup.Shutdown(context.Background()))

	rec, err := f.runner.Start(context.Background(), "find founders", "u1")
	require.ErrorIs(t, err, ErrShuttingDown)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ErrShuttingDown.Error(), got.Error)
	assert.True(t, f.provider.session(rec.ID).isClosed())
	assert.Equal(t, 0, f.channel.Attached())
}

func TestRunner_CleanupFailureIgnored(t *testing.T) {
	f := newFixture(&scriptedAgent{result: &automation.Result{FinalText: "ok"}})
	f.provider.closeErr = errors.New("browser already gone")

	rec, err := f.runner.Start(context.Background(), "t", "u1")
	require.NoError(t, err)
	f.wait(t)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
}

func TestRunner_BrowserUnavailable(t *testing.T) {
	f := newFixture(&scriptedAgent{})
	f.provider.openErr = errors.New("connection refused")

	rec, err := f.runner.Start(context.Background(), "t", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	got, gerr := f.registry.Get(rec.ID)
	require.NoError(t, gerr)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 0, f.channel.Attached())
}

func TestRunner_StopDuringRunIsSticky(t *testing.T) {
	agent := &scriptedAgent{
		result:  &automation.Result{FinalText: "late result", Actions: []string{"done"}},
		release: make(chan struct{}),
	}
	f := newFixture(agent)

	rec, err := f.runner.Start(context.Background(), "t", "u1")
	require.NoError(t, err)

	stopped, err := f.runner.Stop(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)

	close(agent.release)
	f.wait(t)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Empty(t, got.Output)
	assert.Equal(t, 0, f.memory.count())
	assert.True(t, f.provider.session(rec.ID).isClosed())
}

func TestRunner_PauseResumeAreLabels(t *testing.T) {
	agent := &scriptedAgent{
		result:  &automation.Result{FinalText: "ok"},
		release: make(chan struct{}),
	}
	f := newFixture(agent)

	rec, err := f.runner.Start(context.Background(), "t", "u1")
	require.NoError(t, err)

	paused, err := f.runner.Pause(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	resumed, err := f.runner.Resume(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)

	close(agent.release)
	f.wait(t)

	_, err = f.runner.Pause(rec.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRunner_ConcurrentTasksIsolated(t *testing.T) {
	release := make(chan struct{})
	a := &scriptedAgent{goals: []string{"goal A"}, result: &automation.Result{FinalText: "a"}, release: release}
	f := newFixture(a)

	r1, err := f.runner.Start(context.Background(), "first", "u1")
	require.NoError(t, err)
	r2, err := f.runner.Start(context.Background(), "second", "u2")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.hub.Entries(r1.ID)) == 1 && len(f.hub.Entries(r2.ID)) == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	f.wait(t)

	assert.Equal(t, []string{"goal A"}, f.hub.Entries(r1.ID))
	assert.Equal(t, []string{"goal A"}, f.hub.Entries(r2.ID))
	assert.NotSame(t, f.provider.session(r1.ID), f.provider.session(r2.ID))
}

func TestExtractAnswer(t *testing.T) {
	assert.Equal(t, "42", ExtractAnswer("The result is <answer> 42 </answer>."))
	assert.Equal(t, "line one\nline two", ExtractAnswer("<answer>line one\nline two</answer>"))
	assert.Equal(t, "", ExtractAnswer("no tags"))
}
