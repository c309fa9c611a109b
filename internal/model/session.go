package model

import (
	"time"
)

// ChatSession is a saved, named conversation in the remote store.
type ChatSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count,omitempty"`
}

// SaveSessionRequest persists an unsaved conversation as a new session.
// Messages must be the committed subset only: assistant messages with a
// non-empty answer plus their paired user messages.
type SaveSessionRequest struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// SubmitRequest is the API payload for submitting a question.
type SubmitRequest struct {
	Content string `json:"content"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	TurnID    string    `json:"turn_id"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSnapshot is the view-layer state of the active conversation.
type ConversationSnapshot struct {
	SessionID    string              `json:"session_id,omitempty"`
	Messages     []Message           `json:"messages"`
	TurnState    string              `json:"turn_state"`
	LiveEntities *IdentifiedEntities `json:"live_entities,omitempty"`
	LiveRoute    string              `json:"live_route,omitempty"`
}
