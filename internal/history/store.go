// Package history is the client side of the remote conversation store.
//
// The store is authoritative for saved sessions only. It is read wholesale
// when a session is opened and written wholesale when the user persists the
// current conversation; this service never updates it incrementally.
package history

import (
	"context"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// Store loads and saves conversation history.
type Store interface {
	// Load returns the full history of a saved session. Records may arrive
	// in any order; callers sort before display.
	Load(ctx context.Context, userID, sessionID string) ([]model.Message, error)

	// Save persists a batch of committed messages as a new session and
	// returns its descriptor.
	Save(ctx context.Context, userID string, req *model.SaveSessionRequest) (*model.ChatSession, error)
}
