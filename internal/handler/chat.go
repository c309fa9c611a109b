// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/middleware"
	"github.com/xiquet-ai/casteller-assistant/internal/model"
	"github.com/xiquet-ai/casteller-assistant/internal/orchestrator"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
)

// ChatHandler handles conversation endpoints.
type ChatHandler struct {
	manager *orchestrator.Manager
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(manager *orchestrator.Manager, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		manager: manager,
		logger:  log,
	}
}

func (h *ChatHandler) orchestrator(r *http.Request) *orchestrator.Orchestrator {
	userID := middleware.GetUserID(r.Context())
	orch := h.manager.ForUser(userID)
	// Restore an unsaved conversation on first touch. No-op once populated.
	if err := orch.Bootstrap(r.Context()); err != nil {
		h.logger.Warn("conversation restore failed", zap.String("user_id", userID), zap.Error(err))
	}
	return orch
}

// Submit handles POST /api/v1/chat
//
// The question is accepted as a background job; the resolved answer arrives
// later through the snapshot and the event stream.
func (h *ChatHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateQuestion(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orch := h.orchestrator(r)
	turn, err := orch.Submit(r.Context(), req.Content)
	switch {
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		writeError(w, http.StatusConflict, "another question is already being answered")
		return
	case errors.Is(err, orchestrator.ErrConversationReset):
		writeError(w, http.StatusConflict, "conversation was reset")
		return
	case err != nil:
		h.logger.Error("question submission failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not reach the answer backend")
		return
	}

	writeJSON(w, http.StatusAccepted, &model.SubmitResponse{
		TurnID:    turn.ID,
		JobID:     turn.JobID,
		Timestamp: time.Now().UTC(),
	})
}

// Messages handles GET /api/v1/chat/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	orch := h.orchestrator(r)
	writeJSON(w, http.StatusOK, orch.Snapshot())
}

// New handles POST /api/v1/chat/new
func (h *ChatHandler) New(w http.ResponseWriter, r *http.Request) {
	orch := h.orchestrator(r)
	if err := orch.NewConversation(r.Context()); err != nil {
		h.logger.Error("failed to start a new conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start a new conversation")
		return
	}
	writeJSON(w, http.StatusOK, orch.Snapshot())
}

// Open handles POST /api/v1/chat/open/{sessionID}
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orch := h.orchestrator(r)
	if err := orch.OpenSession(r.Context(), sessionID); err != nil {
		h.logger.Warn("failed to open session", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, orch.Snapshot())
}
