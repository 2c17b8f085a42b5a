// Package automation runs a natural-language task against a browser page.
//
// The loop is deliberately small: observe the page, ask the model for the
// next step, log the step's goal and perform it. Progress is reported only
// through the logger handed to Run, which is how goal lines reach the task
// log stream.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ngenohkevin/browseruse-agent/internal/browser"
	"github.com/ngenohkevin/browseruse-agent/internal/llm"
	"github.com/ngenohkevin/browseruse-agent/internal/logcapture"
	"go.uber.org/zap"
)

// Actions the model may choose
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionFill     = "fill"
	ActionPress    = "press"
	ActionDone     = "done"
)

const (
	defaultMaxSteps = 25
	// consecutive unusable model replies before the run is abandoned
	maxParseFailures = 3
	// consecutive failed page actions before the run is abandoned
	maxActionFailures = 5
)

var (
	// ErrMaxSteps is returned when the model never declares the task done
	ErrMaxSteps = errors.New("maximum steps reached without completing the task")
	// ErrBadReplies is returned after repeated unusable model replies
	ErrBadReplies = errors.New("model returned no usable step")
	// ErrNoModel is returned by agents built without a language model
	ErrNoModel = errors.New("no language model configured (set OPENAI_API_KEY)")
)

// Result is the history of a completed run
type Result struct {
	FinalText string
	URLs      []string
	Actions   []string
}

// Agent runs one instruction against one page
type Agent interface {
	Run(ctx context.Context, instruction string, page browser.Page, logger *zap.Logger) (*Result, error)
}

type unavailable struct{}

// Unavailable returns an Agent whose runs fail with ErrNoModel
func Unavailable() Agent { return unavailable{} }

func (unavailable) Run(context.Context, string, browser.Page, *zap.Logger) (*Result, error) {
	return nil, ErrNoModel
}

// Step is the model's decision for one iteration
type Step struct {
	NextGoal string `json:"next_goal"`
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
	Text     string `json:"text,omitempty"`
}

// LLMAgent is an Agent driven by a chat-completions model
type LLMAgent struct {
	completer llm.Completer
	maxSteps  int
	pageChars int
}

// NewLLMAgent creates an agent that gives up after maxSteps steps
func NewLLMAgent(completer llm.Completer, maxSteps int) *LLMAgent {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &LLMAgent{
		completer: completer,
		maxSteps:  maxSteps,
		pageChars: browser.DefaultMaxLength,
	}
}

// Run implements Agent
func (a *LLMAgent) Run(ctx context.Context, instruction string, page browser.Page, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	result := &Result{}
	var history []string
	parseFailures := 0
	actionFailures := 0
	lastError := ""

	for step := 1; step <= a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Info(fmt.Sprintf("📍 Step %d", step))

		prompt, err := a.observe(page, instruction, history, lastError)
		if err != nil {
			return nil, fmt.Errorf("failed to read page: %w", err)
		}

		reply, err := a.completer.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("model request failed: %w", err)
		}

		next, err := ParseStep(reply)
		if err != nil {
			parseFailures++
			logger.Warn("could not parse model reply", zap.Error(err), zap.Int("attempt", parseFailures))
			if parseFailures >= maxParseFailures {
				return nil, fmt.Errorf("%w: %v", ErrBadReplies, err)
			}
			lastError = "Your previous reply was not valid JSON for a step: " + err.Error()
			continue
		}
		parseFailures = 0

		if next.NextGoal != "" {
			logger.Info(logcapture.FormatGoal(next.NextGoal))
		}

		if next.Action == ActionDone {
			result.Actions = append(result.Actions, ActionDone)
			result.FinalText = next.Text
			logger.Info("✅ Task completed")
			return result, nil
		}

		if err := perform(page, next); err != nil {
			actionFailures++
			logger.Warn("action failed", zap.String("action", next.Action), zap.Error(err))
			if actionFailures >= maxActionFailures {
				return nil, fmt.Errorf("%d consecutive actions failed, last: %w", actionFailures, err)
			}
			lastError = fmt.Sprintf("Action %s failed: %v", next.Action, err)
			history = append(history, fmt.Sprintf("%s (failed)", describe(next)))
			continue
		}
		actionFailures = 0
		lastError = ""

		result.Actions = append(result.Actions, next.Action)
		history = append(history, describe(next))
		if url := page.URL(); url != "" && !contains(result.URLs, url) {
			result.URLs = append(result.URLs, url)
		}
	}

	return nil, ErrMaxSteps
}

func (a *LLMAgent) observe(page browser.Page, instruction string, history []string, lastError string) (string, error) {
	title, err := page.Title()
	if err != nil {
		return "", err
	}
	text, err := page.Text(a.pageChars)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", instruction)
	fmt.Fprintf(&b, "Current URL: %s\nTitle: %s\n\n", page.URL(), title)
	fmt.Fprintf(&b, "Visible text:\n%s\n\n", text)
	if len(history) > 0 {
		b.WriteString("Previous steps:\n")
		for i, h := range history {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
		}
		b.WriteString("\n")
	}
	if lastError != "" {
		fmt.Fprintf(&b, "Error: %s\n\n", lastError)
	}
	b.WriteString("Reply with the next step as JSON.")
	return b.String(), nil
}

func perform(page browser.Page, s *Step) error {
	switch s.Action {
	case ActionNavigate:
		if s.URL == "" {
			return errors.New("navigate requires url")
		}
		return page.Goto(s.URL)
	case ActionClick:
		if s.Selector == "" {
			return errors.New("click requires selector")
		}
		return page.Click(s.Selector)
	case ActionFill:
		if s.Selector == "" {
			return errors.New("fill requires selector")
		}
		return page.Fill(s.Selector, s.Value)
	case ActionPress:
		if s.Key == "" {
			return errors.New("press requires key")
		}
		return page.Press(s.Selector, s.Key)
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
}

// ParseStep decodes a model reply, tolerating a surrounding code fence
func ParseStep(reply string) (*Step, error) {
	raw := StripFence(reply)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var s Step
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("invalid step JSON: %w", err)
	}
	s.Action = strings.ToLower(strings.TrimSpace(s.Action))
	s.NextGoal = strings.TrimSpace(s.NextGoal)
	if s.Action == "" {
		return nil, errors.New("step has no action")
	}
	if s.Action == ActionDone && strings.TrimSpace(s.Text) == "" {
		return nil, errors.New("done step has no text")
	}
	return &s, nil
}

// StripFence removes a markdown code fence around text, if present
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func describe(s *Step) string {
	switch s.Action {
	case ActionNavigate:
		return fmt.Sprintf("navigate to %s", s.URL)
	case ActionClick:
		return fmt.Sprintf("click %s", s.Selector)
	case ActionFill:
		return fmt.Sprintf("fill %s with %q", s.Selector, s.Value)
	case ActionPress:
		return fmt.Sprintf("press %s on %s", s.Key, s.Selector)
	}
	return s.Action
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
