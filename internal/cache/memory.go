package cache

import (
	"context"
	"sync"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// MemoryCache is an in-memory ConversationCache for tests and single-node
// setups without Redis.
type MemoryCache struct {
	mu        sync.RWMutex
	snapshots map[string][]model.Message
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snapshots: make(map[string][]model.Message)}
}

// Get returns the cached snapshot for a user.
func (c *MemoryCache) Get(ctx context.Context, userID string) ([]model.Message, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs, ok := c.snapshots[userID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, true, nil
}

// Put overwrites the user's snapshot.
func (c *MemoryCache) Put(ctx context.Context, userID string, msgs []model.Message) error {
	snapshot := make([]model.Message, len(msgs))
	copy(snapshot, msgs)

	c.mu.Lock()
	c.snapshots[userID] = snapshot
	c.mu.Unlock()
	return nil
}

// Clear deletes the user's snapshot.
func (c *MemoryCache) Clear(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.snapshots, userID)
	c.mu.Unlock()
	return nil
}
