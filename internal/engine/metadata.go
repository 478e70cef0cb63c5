package engine

import (
	"sort"
	"strings"

	"github.com/talefold/talefold/internal/state"
	"github.com/talefold/talefold/internal/store"
)

// Stage 1 scores stories against the session state with cheap string
// matching over the structured metadata. No external calls.

// metadataFilterThreshold is how much alignment a story needs to survive
// the pre-filter. When nothing clears it, every story goes to Stage 2.
const metadataFilterThreshold = 0.5

var negativeAffect = map[string]bool{
	"frustrated": true,
	"angry":      true,
	"stressed":   true,
}

// Candidate is one story flowing through the pipeline with its
// accumulated stage scores.
type Candidate struct {
	Story         store.Story
	MetadataScore float64
	SemanticScore float64
}

// ScoreMetadata computes the Stage 1 alignment score for one story.
// Stories with no analysis metadata always score zero.
func ScoreMetadata(s *state.ConversationState, story *store.Story) float64 {
	m := story.Metadata
	if m == nil {
		return 0
	}

	topics := ActiveTopicsLower(s)
	concepts := activeConceptLabels(s)
	score := 0.0

	// Work pressure topics line up with social or stressor triggers.
	if m.TriggerCategory == "Social Interaction" || m.TriggerCategory == "Stressor" {
		for _, topic := range topics {
			if strings.Contains(topic, "work") {
				score += 1.5
				break
			}
		}
	}

	// Advice-seeking while the story carries negative affect.
	if s.LatestIntent() == "seek_advice" {
		for _, emotion := range m.Emotions {
			if negativeAffect[strings.ToLower(emotion)] {
				score += 2.0
				break
			}
		}
	}

	// Concept overlap with the violated value, weighted by analysis
	// confidence.
	if m.ViolatedValue != "" && m.Confidence > 0 {
		violated := strings.ToLower(m.ViolatedValue)
		for _, concept := range concepts {
			if strings.Contains(violated, concept) {
				score += float64(m.Confidence) * 0.5
			}
		}
	}

	// Topic words appearing in the trigger description.
	if m.TriggerDescription != "" {
		desc := strings.ToLower(m.TriggerDescription)
		for _, topic := range topics {
			if topicMatchesText(topic, desc) {
				score += 2.0
			}
		}
	}

	// Concepts echoed in the internal monologue.
	if m.InternalMonologue != "" {
		monologue := strings.ToLower(m.InternalMonologue)
		for _, concept := range concepts {
			if strings.Contains(monologue, concept) {
				score += 1.0
			}
		}
	}

	return score
}

// FilterByMetadata scores the corpus and keeps the stories that clear the
// pre-filter threshold. An empty cut falls back to the full corpus so a
// cold session still reaches the semantic judge.
func FilterByMetadata(s *state.ConversationState, corpus []store.Story) []Candidate {
	all := make([]Candidate, len(corpus))
	var kept []Candidate
	for i := range corpus {
		all[i] = Candidate{
			Story:         corpus[i],
			MetadataScore: ScoreMetadata(s, &corpus[i]),
		}
		if all[i].MetadataScore > metadataFilterThreshold {
			kept = append(kept, all[i])
		}
	}
	if len(kept) == 0 {
		return all
	}
	return kept
}

// ActiveTopicsLower returns the non-decayed topics lowercased for matching.
func ActiveTopicsLower(s *state.ConversationState) []string {
	topics := state.ActiveTopics(s)
	for i, t := range topics {
		topics[i] = strings.ToLower(t)
	}
	return topics
}

// activeConceptLabels returns the non-decayed concept labels, lowercased
// and sorted for deterministic scoring and prompts.
func activeConceptLabels(s *state.ConversationState) []string {
	active := state.ActiveConcepts(s)
	labels := make([]string, 0, len(active))
	for label := range active {
		labels = append(labels, strings.ToLower(label))
	}
	sort.Strings(labels)
	return labels
}

// topicMatchesText reports whether any word of a multi-word topic label
// appears in the text. Single-character words are too noisy to count.
func topicMatchesText(topic, text string) bool {
	for _, word := range strings.Fields(topic) {
		if len(word) > 1 && strings.Contains(text, word) {
			return true
		}
	}
	return false
}
