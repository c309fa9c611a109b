// Package cache keeps the unsaved conversation durable across reloads.
//
// The cache is a derived, best-effort mirror of the orchestrator's in-memory
// message list: it is overwritten wholesale on every write (snapshot, not a
// log) and deleted when the conversation becomes a saved session, when a new
// conversation starts, or on logout.
package cache

import (
	"context"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// ConversationCache stores one unsaved-conversation snapshot per user.
type ConversationCache interface {
	// Get returns the cached snapshot for a user. A corrupt payload is
	// reported as a miss, never as an error.
	Get(ctx context.Context, userID string) ([]model.Message, bool, error)

	// Put overwrites the user's snapshot.
	Put(ctx context.Context, userID string, msgs []model.Message) error

	// Clear deletes the user's snapshot. Clearing an absent key is not an
	// error.
	Clear(ctx context.Context, userID string) error
}
