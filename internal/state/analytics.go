package state

// Read-only views over a state snapshot. Nothing here mutates.

// UsageStats summarizes story usage for a session.
type UsageStats struct {
	TotalTold      int     `json:"total_told"`
	UniqueTold     int     `json:"unique_told"`
	RepetitionRate float64 `json:"repetition_rate"`
	AverageGap     float64 `json:"average_gap"`
}

// Usage derives story-usage statistics from the full telling history.
// RepetitionRate is the share of tellings that were repeats; AverageGap is
// the mean turn distance between consecutive tellings of the same story,
// zero when nothing has repeated.
func Usage(s *ConversationState) UsageStats {
	stats := UsageStats{TotalTold: len(s.StoryHistory)}
	if stats.TotalTold == 0 {
		return stats
	}

	lastTold := make(map[string]int)
	gapSum, gapCount := 0, 0
	for _, u := range s.StoryHistory {
		if prev, ok := lastTold[u.StoryID]; ok {
			gapSum += u.ToldAtTurn - prev
			gapCount++
		}
		lastTold[u.StoryID] = u.ToldAtTurn
	}

	stats.UniqueTold = len(lastTold)
	stats.RepetitionRate = float64(stats.TotalTold-stats.UniqueTold) / float64(stats.TotalTold)
	if gapCount > 0 {
		stats.AverageGap = float64(gapSum) / float64(gapCount)
	}
	return stats
}

// Summary is the introspection view of a session.
type Summary struct {
	SessionID      string   `json:"session_id"`
	SessionKey     string   `json:"session_key"`
	TurnCount      int      `json:"turn_count"`
	CurrentTopics  []string `json:"current_topics"`
	ActiveTopics   []string `json:"active_topics"`
	DominantTheme  string   `json:"dominant_theme"`
	ThemeStability int      `json:"theme_stability_count"`
	StoriesTold    int      `json:"stories_told_count"`
	KeyConcepts    int      `json:"key_concepts_count"`
	Maturity       string   `json:"conversation_maturity"`
}

// Summarize builds the introspection summary for a snapshot.
func Summarize(s *ConversationState) Summary {
	return Summary{
		SessionID:      s.SessionID,
		SessionKey:     s.SessionKey,
		TurnCount:      s.TurnCount,
		CurrentTopics:  append([]string(nil), s.CurrentTopics...),
		ActiveTopics:   ActiveTopics(s),
		DominantTheme:  s.Flow.DominantTheme,
		ThemeStability: s.Flow.ThemeStability,
		StoriesTold:    len(s.StoryHistory),
		KeyConcepts:    len(s.MentionedConcepts),
		Maturity:       s.Maturity(),
	}
}
