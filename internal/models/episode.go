package models

import "time"

// Emotion tags the overall emotional tone of an episode.
type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNegative Emotion = "negative"
	EmotionMixed    Emotion = "mixed"
	EmotionNeutral  Emotion = "neutral"
)

// Episode is a durable summary of a significant conversation span.
// Member turns are contiguous and belong to a single conversation.
type Episode struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ThreadID       *string   `json:"thread_id,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	Topic          string    `json:"topic"`
	Summary        string    `json:"summary"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Importance     float64   `json:"importance"`
	Emotion        Emotion   `json:"emotion"`
	TurnIDs        []string  `json:"turn_ids"`
	Tags           []string  `json:"tags,omitempty"`
	Archived       bool      `json:"archived,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
	AccessCount  int       `json:"access_count,omitempty"`
}
