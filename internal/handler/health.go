package handler

import (
	"net/http"

	"github.com/xiquet-ai/casteller-assistant/internal/cache"
	natsclient "github.com/xiquet-ai/casteller-assistant/internal/nats"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	redisCache *cache.RedisCache
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. Either dependency may be nil
// when the deployment runs without it.
func NewHealthHandler(redisCache *cache.RedisCache, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		redisCache: redisCache,
		natsClient: natsClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.redisCache != nil {
		if err := h.redisCache.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "Redis not reachable",
			})
			return
		}
	}

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
