package state

import (
	"encoding/json"
	"fmt"
)

// Snapshots travel as JSON so external checkpoint stores can inspect them.
// The field names match the state document the original system persisted.

// Serialize encodes a state snapshot.
func Serialize(s *ConversationState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	return data, nil
}

// Deserialize decodes and sanity-checks a snapshot.
func Deserialize(data []byte) (*ConversationState, error) {
	var s ConversationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("deserialize state: %w", err)
	}
	if s.TurnCount < 0 {
		return nil, fmt.Errorf("deserialize state: negative turn_count %d", s.TurnCount)
	}
	for label, m := range s.MentionedConcepts {
		if m.LastTurn > s.TurnCount {
			return nil, fmt.Errorf("deserialize state: concept %q last_turn %d beyond turn_count %d",
				label, m.LastTurn, s.TurnCount)
		}
	}
	if s.MentionedConcepts == nil {
		s.MentionedConcepts = make(map[string]*ConceptMention)
	}
	return &s, nil
}
