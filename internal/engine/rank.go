package engine

import (
	"sort"

	"github.com/talefold/talefold/internal/config"
	"github.com/talefold/talefold/internal/state"
	"github.com/talefold/talefold/internal/store"
)

// Stage 3 combines the stage scores, applies the repetition penalty and
// confidence bonus, drops everything at or below the relevance floor, and
// ranks what is left.

// ScoreBreakdown records every component that went into a final score, for
// explainability in API responses and logs.
type ScoreBreakdown struct {
	StoryID              string  `json:"story_id"`
	MetadataScore        float64 `json:"metadata_score"`
	SemanticScore        float64 `json:"semantic_score"`
	BaseScore            float64 `json:"base_score"`
	RepetitionMultiplier float64 `json:"repetition_multiplier"`
	ConfidenceBonus      float64 `json:"confidence_bonus"`
	FinalScore           float64 `json:"final_score"`
}

// ScoredStory pairs a selected story with its full score breakdown.
type ScoredStory struct {
	Story     store.Story    `json:"story"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// Selection is the outcome of one full pipeline run. Degraded is set when
// the semantic judge was unavailable and ranking used metadata alone.
type Selection struct {
	Stories    []ScoredStory `json:"stories"`
	Candidates int           `json:"candidates"`
	Degraded   bool          `json:"degraded"`
}

// RepetitionMultiplier returns the penalty divisor for retelling a story,
// tiered by how many turns ago it was last told. Never-told stories and
// tellings more than ten turns back carry no penalty.
func RepetitionMultiplier(s *state.ConversationState, storyID string) float64 {
	last := s.LastToldTurn(storyID)
	if last < 0 {
		return 1.0
	}
	gap := s.TurnCount - last
	base := s.Decay.StoryRepetitionPenaltyBase
	switch {
	case gap <= 2:
		return base * 1.5
	case gap <= 5:
		return base
	case gap <= 10:
		return base * 0.75
	default:
		return 1.0
	}
}

// Rank applies Stage 3 to the scored candidates and returns the top
// stories. Ordering is deterministic: final score descending, ties broken
// by story ID.
func Rank(s *state.ConversationState, candidates []Candidate, limit int, degraded bool, cfg config.EngineConfig) *Selection {
	mw, sw := cfg.MetadataWeight, cfg.SemanticWeight
	if degraded {
		mw, sw = 1.0, 0.0
	}

	scored := make([]ScoredStory, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		b := ScoreBreakdown{
			StoryID:              c.Story.ID,
			MetadataScore:        c.MetadataScore,
			SemanticScore:        c.SemanticScore,
			RepetitionMultiplier: RepetitionMultiplier(s, c.Story.ID),
		}
		b.BaseScore = mw*b.MetadataScore + sw*b.SemanticScore
		if m := c.Story.Metadata; m != nil && m.Confidence > 0 {
			b.ConfidenceBonus = 0.1 * float64(m.Confidence)
		}
		b.FinalScore = b.BaseScore/b.RepetitionMultiplier + b.ConfidenceBonus
		if b.FinalScore <= cfg.MinRelevance {
			continue
		}
		scored = append(scored, ScoredStory{Story: c.Story, Breakdown: b})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Breakdown.FinalScore != scored[j].Breakdown.FinalScore {
			return scored[i].Breakdown.FinalScore > scored[j].Breakdown.FinalScore
		}
		return scored[i].Story.ID < scored[j].Story.ID
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	return &Selection{
		Stories:    scored,
		Candidates: len(candidates),
		Degraded:   degraded,
	}
}
