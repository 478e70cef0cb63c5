package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Caps on the rolling context windows. Older entries are evicted, never the
// raw story history.
const (
	maxTopics  = 5
	maxIntents = 5
)

// Input validation limits for a single turn.
const (
	maxLabelLen   = 200
	maxTurnLabels = 20
)

// ConceptMention tracks how often and when a concept has come up.
type ConceptMention struct {
	Count     int `json:"count"`
	FirstTurn int `json:"first_mentioned_turn"`
	LastTurn  int `json:"last_mentioned_turn"`
}

// StoryUsage records one telling of a story. The history is append-only;
// repetition penalties need the full record for the life of the session.
type StoryUsage struct {
	StoryID    string `json:"story_id"`
	ToldAtTurn int    `json:"told_at_turn"`
}

// ConversationFlow tracks the dominant theme and how stable it has been.
type ConversationFlow struct {
	DominantTheme      string `json:"dominant_theme"`
	ThemeStability     int    `json:"theme_stability_count"`
	LastTopicShiftTurn int    `json:"last_topic_shift_turn"`
}

// DecayConfig holds the per-session forgetting thresholds. Immutable after
// session creation unless explicitly reconfigured.
type DecayConfig struct {
	TopicDecayThreshold        int     `json:"topic_decay_threshold"`
	ConceptDecayThreshold      int     `json:"concept_decay_threshold"`
	StoryRepetitionPenaltyBase float64 `json:"story_repetition_penalty_base"`
}

// DefaultDecayConfig returns the standard forgetting thresholds.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		TopicDecayThreshold:        3,
		ConceptDecayThreshold:      5,
		StoryRepetitionPenaltyBase: 2.0,
	}
}

// ConversationState is the short-term memory for one session key.
// CurrentTopics is kept most-recent-first; index 0 is the dominant theme
// candidate.
type ConversationState struct {
	SessionID         string                     `json:"session_id"`
	SessionKey        string                     `json:"session_key"`
	TurnCount         int                        `json:"turn_count"`
	CurrentTopics     []string                   `json:"current_topics"`
	IntentHistory     []string                   `json:"user_intent_history"`
	MentionedConcepts map[string]*ConceptMention `json:"mentioned_concepts"`
	StoryHistory      []StoryUsage               `json:"retrieved_story_history"`
	Flow              ConversationFlow           `json:"conversation_flow"`
	Decay             DecayConfig                `json:"context_decay"`
	UpdatedAt         time.Time                  `json:"last_updated_timestamp"`
}

// New creates a fresh state for a session key.
func New(sessionKey string, cfg DecayConfig) *ConversationState {
	return &ConversationState{
		SessionID:         uuid.NewString(),
		SessionKey:        sessionKey,
		MentionedConcepts: make(map[string]*ConceptMention),
		Decay:             cfg,
		UpdatedAt:         time.Now().UTC(),
	}
}

// TurnInput carries one turn's extraction results into UpdateTurn.
type TurnInput struct {
	Topics   []string `json:"topics"`
	Intents  []string `json:"intents"`
	Concepts []string `json:"concepts"`
}

// validate rejects malformed extraction input before any state is touched.
func (in TurnInput) validate() error {
	for name, labels := range map[string][]string{
		"topics": in.Topics, "intents": in.Intents, "concepts": in.Concepts,
	} {
		if len(labels) > maxTurnLabels {
			return fmt.Errorf("%s: %d labels exceeds limit of %d", name, len(labels), maxTurnLabels)
		}
		for _, l := range labels {
			if len(l) > maxLabelLen {
				return fmt.Errorf("%s: label %q exceeds %d chars", name, l[:40]+"...", maxLabelLen)
			}
		}
	}
	return nil
}

// clean trims whitespace and drops empty labels, preserving order.
func clean(labels []string) []string {
	out := labels[:0:0]
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// applyTurn mutates the state with one turn of extraction results, in the
// fixed order: turn counter, topics, intents, concepts, flow, decay.
// The caller holds the session lock.
func (s *ConversationState) applyTurn(in TurnInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	topics := clean(in.Topics)
	intents := clean(in.Intents)
	concepts := clean(in.Concepts)

	s.TurnCount++

	// Merge topics most-recent-first: each new topic moves to the front,
	// so the last topic of the turn ends up on top.
	for _, topic := range topics {
		merged := []string{topic}
		for _, t := range s.CurrentTopics {
			if !strings.EqualFold(t, topic) {
				merged = append(merged, t)
			}
		}
		s.CurrentTopics = merged
	}
	if len(s.CurrentTopics) > maxTopics {
		s.CurrentTopics = s.CurrentTopics[:maxTopics]
	}

	// Intent history is a ring: append, drop oldest past the cap.
	s.IntentHistory = append(s.IntentHistory, intents...)
	if n := len(s.IntentHistory); n > maxIntents {
		s.IntentHistory = s.IntentHistory[n-maxIntents:]
	}

	for _, concept := range concepts {
		if m, ok := s.MentionedConcepts[concept]; ok {
			m.Count++
			m.LastTurn = s.TurnCount
		} else {
			s.MentionedConcepts[concept] = &ConceptMention{
				Count:     1,
				FirstTurn: s.TurnCount,
				LastTurn:  s.TurnCount,
			}
		}
	}

	// Flow is only refreshed on turns that produced topics; a topic-less
	// turn neither stabilizes nor shifts the theme.
	if len(topics) > 0 {
		top := s.CurrentTopics[0]
		if s.Flow.DominantTheme == top {
			s.Flow.ThemeStability++
		} else {
			s.Flow.DominantTheme = top
			s.Flow.ThemeStability = 1
			s.Flow.LastTopicShiftTurn = s.TurnCount
		}
	}

	DecayPass(s)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// recordUsage appends story tellings at the current turn. Duplicate IDs
// within a single call are recorded once.
func (s *ConversationState) recordUsage(storyIDs []string) {
	seen := make(map[string]bool, len(storyIDs))
	for _, id := range storyIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		s.StoryHistory = append(s.StoryHistory, StoryUsage{
			StoryID:    id,
			ToldAtTurn: s.TurnCount,
		})
	}
	s.UpdatedAt = time.Now().UTC()
}

// LastToldTurn returns the turn a story was most recently told, or -1 if never.
func (s *ConversationState) LastToldTurn(storyID string) int {
	for i := len(s.StoryHistory) - 1; i >= 0; i-- {
		if s.StoryHistory[i].StoryID == storyID {
			return s.StoryHistory[i].ToldAtTurn
		}
	}
	return -1
}

// Maturity labels the conversation "new" until it has enough turns to have
// settled, then "established".
func (s *ConversationState) Maturity() string {
	if s.TurnCount > 5 {
		return "established"
	}
	return "new"
}

// RecentIntents returns up to the n most recent intents, oldest first.
func (s *ConversationState) RecentIntents(n int) []string {
	if len(s.IntentHistory) <= n {
		return append([]string(nil), s.IntentHistory...)
	}
	return append([]string(nil), s.IntentHistory[len(s.IntentHistory)-n:]...)
}

// LatestIntent returns the most recent intent, or "" before the first turn.
func (s *ConversationState) LatestIntent() string {
	if len(s.IntentHistory) == 0 {
		return ""
	}
	return s.IntentHistory[len(s.IntentHistory)-1]
}

// Clone returns a deep copy safe to use outside the store's locks.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.CurrentTopics = append([]string(nil), s.CurrentTopics...)
	c.IntentHistory = append([]string(nil), s.IntentHistory...)
	c.StoryHistory = append([]StoryUsage(nil), s.StoryHistory...)
	c.MentionedConcepts = make(map[string]*ConceptMention, len(s.MentionedConcepts))
	for k, v := range s.MentionedConcepts {
		m := *v
		c.MentionedConcepts[k] = &m
	}
	return &c
}
