package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ngenohkevin/browseruse-agent/internal/llm"
	"go.uber.org/zap"
)

const (
	resultPreviewChars = 500
	synthesisTimeout   = 2 * time.Minute
)

const promptTemplate = `Analyze this user interaction and extract any useful personalization insights or preferences.
Only generate memories if there are genuine, useful insights about the user's behavior, preferences, or interests.
Don't create memories for generic or obvious actions.

User Prompt: %q
Task Result: %q

Instructions:
- Look for user preferences, interests, habits, or patterns
- Examples: "User prefers news from specific sources", "User likes detailed technical explanations", "User frequently researches specific topics"
- Only include genuinely useful insights
- If no useful insights can be found, return an empty list
- Keep insights concise but meaningful
- Focus on long-term user preferences rather than one-off actions

Return ONLY a JSON array of memory strings, or an empty array [] if no useful insights:`

// Synthesizer turns a finished task into durable user insights
type Synthesizer struct {
	completer llm.Completer
	store     Store
	logger    *zap.Logger
	// serialises read-merge-write so concurrent tasks of one user never
	// overwrite each other's insights
	mergeMu sync.Mutex
}

// NewSynthesizer creates a synthesizer writing to store
func NewSynthesizer(completer llm.Completer, store Store, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		completer: completer,
		store:     store,
		logger:    logger.Named("memory"),
	}
}

// Synthesize asks the model for insights about the interaction and merges
// them into the user's set. Failures are logged, never returned.
func (s *Synthesizer) Synthesize(ctx context.Context, task, result, userID string) {
	if s.completer == nil || s.store == nil || task == "" || userID == "" {
		return
	}
	log := s.logger.With(zap.String("user_id", userID))

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	reply, err := s.completer.Complete(ctx, "", BuildPrompt(task, result))
	if err != nil {
		log.Warn("memory generation failed", zap.Error(err))
		return
	}

	insights, err := ParseInsights(reply)
	if err != nil {
		log.Warn("failed to parse memory response", zap.String("response", reply), zap.Error(err))
		return
	}
	if len(insights) == 0 {
		log.Debug("no useful insights")
		return
	}

	added, err := s.merge(ctx, userID, insights)
	if err != nil {
		log.Warn("failed to store memories", zap.Error(err))
		return
	}
	log.Info("stored memories", zap.Int("added", added))
}

func (s *Synthesizer) merge(ctx context.Context, userID string, insights []string) (int, error) {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	rec, err := s.store.FindByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		rec, err = s.store.Insert(ctx, userID)
	}
	if err != nil {
		return 0, err
	}

	merged := Merge(rec.Memories, insights)
	added := len(merged) - len(rec.Memories)
	if added == 0 {
		return 0, nil
	}
	if err := s.store.Update(ctx, userID, merged); err != nil {
		return 0, err
	}
	return added, nil
}

// BuildPrompt renders the insight prompt for one interaction
func BuildPrompt(task, result string) string {
	preview := result
	if r := []rune(preview); len(r) > resultPreviewChars {
		preview = string(r[:resultPreviewChars])
	}
	return fmt.Sprintf(promptTemplate, task, preview+"...")
}

// ParseInsights decodes a JSON array of strings from a model reply. Blank
// and non-string entries are dropped.
func ParseInsights(reply string) ([]string, error) {
	raw := stripFence(reply)

	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}

	var out []string
	for _, item := range items {
		if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}
