// Package models defines data structures for the gryag memory core.
package models

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Media describes one media attachment on a turn.
// Media bodies live with the transport layer; only descriptors are stored.
type Media struct {
	Kind string `json:"kind"` // "photo", "audio", "video", "document"
	Mime string `json:"mime"`
	URI  string `json:"uri,omitempty"`
}

// Turn is one immutable message in a conversation. Corrections are new
// turns; rows are pruned only by an external retention policy.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ThreadID       *string   `json:"thread_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Media          []Media   `json:"media,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	ReplyToID      *string   `json:"reply_to_id,omitempty"`

	// Addressed marks turns explicitly directed at the assistant
	// (mention, reply, or command). Search boosts these.
	Addressed bool `json:"addressed,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	AccessCount int       `json:"access_count,omitempty"`
}
