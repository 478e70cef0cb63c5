package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/state"
)

// Stage 2 asks an external judge to score each candidate against a compact
// summary of the conversation. Candidates are judged concurrently with a
// bounded worker count; one failure fails the whole stage and the caller
// falls back to metadata-only ranking.

const (
	maxStoryExcerpt     = 800
	maxMonologueExcerpt = 200
)

// ContextSummary renders the session state into the judge's conversation
// context block. Deterministic for a given state.
func ContextSummary(s *state.ConversationState) string {
	topics := state.ActiveTopics(s)
	concepts := activeConceptLabels(s)

	var b strings.Builder
	fmt.Fprintf(&b, "Current Topics: %s\n", orNone(strings.Join(topics, ", ")))
	fmt.Fprintf(&b, "Dominant Theme: %s\n", orNone(s.Flow.DominantTheme))
	fmt.Fprintf(&b, "Recent User Intents: %s\n", orNone(strings.Join(s.RecentIntents(3), ", ")))
	fmt.Fprintf(&b, "Key Concepts: %s\n", orNone(strings.Join(concepts, ", ")))
	fmt.Fprintf(&b, "Conversation Maturity: %s", s.Maturity())
	return b.String()
}

// StorySummary renders one story and its analysis into the judge's story
// block. Long fields are excerpted to keep the prompt bounded.
func StorySummary(c *Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story Content: %s\n\n", excerpt(c.Story.Content, maxStoryExcerpt))
	b.WriteString("Analysis:\n")
	m := c.Story.Metadata
	if m == nil {
		b.WriteString("- Not available")
		return b.String()
	}
	fmt.Fprintf(&b, "- Trigger: %s\n", orNone(m.TriggerDescription))
	fmt.Fprintf(&b, "- Emotions: %s\n", orNone(strings.Join(m.Emotions, ", ")))
	fmt.Fprintf(&b, "- Internal Thought: %s\n", orNone(excerpt(m.InternalMonologue, maxMonologueExcerpt)))
	fmt.Fprintf(&b, "- Violated Value: %s", orNone(m.ViolatedValue))
	return b.String()
}

// scoreSemantic fills in SemanticScore for every candidate, or returns an
// error leaving the scores unspecified. Judges run concurrently, bounded
// by the configured worker count.
func (e *Engine) scoreSemantic(ctx context.Context, s *state.ConversationState, candidates []Candidate) error {
	contextSummary := ContextSummary(s)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.JudgeConcurrency)
	for i := range candidates {
		g.Go(func() error {
			prompt := llm.RelevancePrompt(contextSummary, StorySummary(&candidates[i]))
			resp, err := e.LLM.Complete(gctx, prompt)
			if err != nil {
				return fmt.Errorf("judge story %s: %w", candidates[i].Story.ID, err)
			}
			score, err := parseJudgeScore(resp.Content)
			if err != nil {
				return fmt.Errorf("judge story %s: %w", candidates[i].Story.ID, err)
			}
			candidates[i].SemanticScore = score
			return nil
		})
	}
	return g.Wait()
}

// parseJudgeScore reads the leading number from a judge response and clamps
// it to the 0-10 scale. Anything without a leading number is an error.
func parseJudgeScore(content string) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty judge response")
	}
	token := strings.TrimRight(fields[0], ".,:;!")
	score, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable judge response %q", fields[0])
	}
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score, nil
}

// excerpt truncates to at most max bytes, backing off to a rune boundary
// so a multi-byte character is never split.
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
