package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/events"
	"github.com/xiquet-ai/casteller-assistant/internal/middleware"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
	"github.com/xiquet-ai/casteller-assistant/pkg/metrics"
)

// EventsHandler streams turn lifecycle events over SSE.
type EventsHandler struct {
	bus    *events.Bus
	logger *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus *events.Bus, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: log,
	}
}

// Stream handles GET /api/v1/chat/events
//
// The client learns about the in-flight turn here: an entities event as soon
// as the fast path discloses them, then turn_committed or turn_failed with
// the finalized message.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ch, cancel := h.bus.Subscribe(userID)
	defer cancel()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"user_id": userID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("user_id", userID))
			return

		case ev := <-ch:
			if err := sendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				h.logger.Warn("failed to write SSE event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{
				"timestamp": time.Now().UTC(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
