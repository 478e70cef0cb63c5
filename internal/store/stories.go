package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Story is one pre-authored narrative snippet. Metadata is produced by an
// external extraction pipeline and may be absent; this package never
// writes analysis fields except through UpsertAnalysis.
type Story struct {
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Summary  string         `json:"summary,omitempty"`
	Metadata *StoryMetadata `json:"analysis,omitempty"`
}

// StoryMetadata is the structured psychological analysis of a story.
// Confidence is 1-5; zero means not analyzed.
type StoryMetadata struct {
	TriggerTitle       string   `json:"trigger_title,omitempty"`
	TriggerDescription string   `json:"trigger_description,omitempty"`
	TriggerCategory    string   `json:"trigger_category,omitempty"`
	Emotions           []string `json:"emotions,omitempty"`
	InternalMonologue  string   `json:"internal_monologue,omitempty"`
	ViolatedValue      string   `json:"violated_value,omitempty"`
	ValueReasoning     string   `json:"value_reasoning,omitempty"`
	Confidence         int      `json:"confidence_score,omitempty"`
}

// UpsertStory inserts or replaces a story record (content only; analysis
// is managed separately).
func (db *DB) UpsertStory(s *Story) error {
	if s.ID == "" {
		return fmt.Errorf("upsert story: empty id")
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO stories (id, title, content, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, s.ID, s.Title, s.Content, s.Summary, now, now)
	if err != nil {
		return fmt.Errorf("upsert story %s: %w", s.ID, err)
	}
	return nil
}

// UpsertAnalysis attaches structured metadata to a story.
func (db *DB) UpsertAnalysis(storyID string, m *StoryMetadata) error {
	emotions, err := json.Marshal(m.Emotions)
	if err != nil {
		return fmt.Errorf("marshal emotions: %w", err)
	}
	var confidence any
	if m.Confidence > 0 {
		confidence = m.Confidence
	}
	_, err = db.Exec(`
		INSERT INTO story_analyses
			(story_id, trigger_title, trigger_description, trigger_category,
			 emotions, internal_monologue, violated_value, value_reasoning, confidence_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(story_id) DO UPDATE SET
			trigger_title = excluded.trigger_title,
			trigger_description = excluded.trigger_description,
			trigger_category = excluded.trigger_category,
			emotions = excluded.emotions,
			internal_monologue = excluded.internal_monologue,
			violated_value = excluded.violated_value,
			value_reasoning = excluded.value_reasoning,
			confidence_score = excluded.confidence_score
	`, storyID, m.TriggerTitle, m.TriggerDescription, m.TriggerCategory,
		string(emotions), m.InternalMonologue, m.ViolatedValue, m.ValueReasoning, confidence)
	if err != nil {
		return fmt.Errorf("upsert analysis %s: %w", storyID, err)
	}
	return nil
}

// GetStory returns one story with its metadata, or nil if not found.
func (db *DB) GetStory(id string) (*Story, error) {
	stories, err := db.queryStories("WHERE s.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(stories) == 0 {
		return nil, nil
	}
	return &stories[0], nil
}

// ListStories returns the whole corpus with metadata joined in, ordered by
// story id for deterministic downstream ranking.
func (db *DB) ListStories() ([]Story, error) {
	return db.queryStories("")
}

func (db *DB) queryStories(where string, args ...any) ([]Story, error) {
	rows, err := db.Query(`
		SELECT s.id, s.title, s.content, s.summary,
		       a.trigger_title, a.trigger_description, a.trigger_category,
		       a.emotions, a.internal_monologue, a.violated_value,
		       a.value_reasoning, a.confidence_score
		FROM stories s
		LEFT JOIN story_analyses a ON a.story_id = s.id
		`+where+`
		ORDER BY s.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var stories []Story
	for rows.Next() {
		var s Story
		var title, summary sql.NullString
		var trigTitle, trigDesc, trigCat, emotions, monologue, value, reasoning sql.NullString
		var confidence sql.NullInt64

		if err := rows.Scan(&s.ID, &title, &s.Content, &summary,
			&trigTitle, &trigDesc, &trigCat, &emotions, &monologue,
			&value, &reasoning, &confidence); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		s.Title = title.String
		s.Summary = summary.String

		// A story with no analysis row has nil metadata; scorers treat
		// that as zero contribution, not an error.
		if trigTitle.Valid || trigDesc.Valid || trigCat.Valid || emotions.Valid ||
			monologue.Valid || value.Valid || confidence.Valid {
			m := &StoryMetadata{
				TriggerTitle:       trigTitle.String,
				TriggerDescription: trigDesc.String,
				TriggerCategory:    trigCat.String,
				InternalMonologue:  monologue.String,
				ViolatedValue:      value.String,
				ValueReasoning:     reasoning.String,
				Confidence:         int(confidence.Int64),
			}
			if emotions.Valid && emotions.String != "" {
				if err := json.Unmarshal([]byte(emotions.String), &m.Emotions); err != nil {
					return nil, fmt.Errorf("decode emotions for %s: %w", s.ID, err)
				}
			}
			s.Metadata = m
		}
		stories = append(stories, s)
	}
	return stories, rows.Err()
}

// CountStories returns the corpus size.
func (db *DB) CountStories() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM stories").Scan(&n)
	return n, err
}
