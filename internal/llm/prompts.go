package llm

import "fmt"

// Intents is the closed vocabulary the extraction prompt asks for.
var Intents = []string{
	"request_story",
	"ask_opinion",
	"seek_advice",
	"ask_clarification_question",
	"share_experience",
	"general_conversation",
	"express_emotion",
	"ask_question",
}

// ExtractionPrompt generates the prompt for analyzing one user message into
// topics, concepts, and intent.
func ExtractionPrompt(message string) string {
	return fmt.Sprintf(`You are an expert conversation analyst. Analyze the user's message to extract the main topics, key concepts, and intent.

MESSAGE:
"%s"

Extract:
- topics: 1-3 main topics, 2-4 words each
- concepts: key concepts, names, or ideas mentioned
- intent: single label for what the user wants, chosen from:
  request_story, ask_opinion, seek_advice, ask_clarification_question,
  share_experience, general_conversation, express_emotion, ask_question

Rules:
- Topics are short noun phrases, lowercase
- Concepts are single words or short names
- Return ONLY a JSON object, no other text

Return a JSON object:
{"topics": ["..."], "concepts": ["..."], "intent": "..."}`, message)
}

// RelevancePrompt generates the judge prompt scoring one story against the
// current conversation context on a 0-10 scale.
func RelevancePrompt(contextSummary, storySummary string) string {
	return fmt.Sprintf(`You are an expert at determining story relevance for conversations.
You will be given a conversation context and a story with its psychological analysis.
Score how relevant this story is to the current conversation context on a scale of 0-10.

Consider:
1. Topic alignment between conversation and story
2. Emotional resonance with current conversation tone
3. Value alignment and psychological relevance
4. Appropriateness for current user intent
5. Potential to advance or enrich the conversation

CONVERSATION CONTEXT:
%s

STORY WITH ANALYSIS:
%s

Respond with just a number between 0-10 followed by a brief explanation.`, contextSummary, storySummary)
}
