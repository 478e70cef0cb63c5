package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/state"
)

// turnExtraction mirrors the JSON object the extraction prompt asks for.
type turnExtraction struct {
	Topics   []string `json:"topics"`
	Concepts []string `json:"concepts"`
	Intent   string   `json:"intent"`
}

var knownIntents = func() map[string]bool {
	m := make(map[string]bool, len(llm.Intents))
	for _, intent := range llm.Intents {
		m[intent] = true
	}
	return m
}()

// ExtractTurn analyzes one raw user message into the topics, concepts, and
// intent that drive the state update. Unknown intents collapse to
// general_conversation rather than polluting the intent history.
func (e *Engine) ExtractTurn(ctx context.Context, message string) (state.TurnInput, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return state.TurnInput{}, fmt.Errorf("extract turn: empty message")
	}
	if e.LLM == nil {
		return state.TurnInput{}, fmt.Errorf("extract turn: no llm client configured")
	}

	resp, err := e.LLM.Complete(ctx, llm.ExtractionPrompt(message))
	if err != nil {
		return state.TurnInput{}, fmt.Errorf("extract turn: %w", err)
	}

	ex, err := parseExtractionResponse(resp.Content)
	if err != nil {
		return state.TurnInput{}, fmt.Errorf("extract turn: %w", err)
	}

	intent := strings.TrimSpace(ex.Intent)
	if !knownIntents[intent] {
		intent = "general_conversation"
	}

	in := state.TurnInput{
		Topics:   ex.Topics,
		Concepts: ex.Concepts,
	}
	if intent != "" {
		in.Intents = []string{intent}
	}
	return in, nil
}

// parseExtractionResponse extracts the JSON object from the LLM response.
// The response might contain markdown code fences or other wrapper text.
func parseExtractionResponse(content string) (*turnExtraction, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	content = strings.TrimSpace(content)

	// Find the JSON object
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var ex turnExtraction
	if err := json.Unmarshal([]byte(content[start:end+1]), &ex); err != nil {
		return nil, fmt.Errorf("unmarshal extraction: %w", err)
	}

	return &ex, nil
}
