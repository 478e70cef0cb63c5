package state

// Context decay keeps the working set honest: concepts that stopped coming
// up are pruned, topics go stale when the theme hasn't been refreshed.
// Story history is exempt — repetition penalties need the full record.

// DecayPass prunes concepts whose last mention is older than the concept
// decay threshold. Runs as the final step of every turn update.
func DecayPass(s *ConversationState) {
	for concept, m := range s.MentionedConcepts {
		if s.TurnCount-m.LastTurn > s.Decay.ConceptDecayThreshold {
			delete(s.MentionedConcepts, concept)
		}
	}
}

// themeRefreshTurn derives the last turn the dominant theme was confirmed.
// Stability counts once per theme-confirming turn starting at the shift
// turn, so no extra bookkeeping field is needed.
func themeRefreshTurn(s *ConversationState) int {
	if s.Flow.ThemeStability == 0 {
		return 0
	}
	return s.Flow.LastTopicShiftTurn + s.Flow.ThemeStability - 1
}

// TopicsDecayed reports whether the active-topic view has gone stale: the
// theme has not been refreshed for more than the topic decay threshold.
func TopicsDecayed(s *ConversationState) bool {
	if len(s.CurrentTopics) == 0 {
		return false
	}
	return s.TurnCount-themeRefreshTurn(s) > s.Decay.TopicDecayThreshold
}

// ActiveTopics returns the current topics, most-recent-first, or nil once
// they have decayed. The raw list stays on the state for audit.
func ActiveTopics(s *ConversationState) []string {
	if TopicsDecayed(s) {
		return nil
	}
	return append([]string(nil), s.CurrentTopics...)
}

// ActiveConcepts returns the concepts that have not decayed, keyed by label.
// After a DecayPass this is every stored concept; the check matters for
// deserialized or externally built states.
func ActiveConcepts(s *ConversationState) map[string]ConceptMention {
	out := make(map[string]ConceptMention, len(s.MentionedConcepts))
	for label, m := range s.MentionedConcepts {
		if s.TurnCount-m.LastTurn > s.Decay.ConceptDecayThreshold {
			continue
		}
		out[label] = *m
	}
	return out
}
