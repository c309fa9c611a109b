package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/middleware"
	"github.com/xiquet-ai/casteller-assistant/internal/orchestrator"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
)

// SessionHandler handles saved-session endpoints.
type SessionHandler struct {
	manager *orchestrator.Manager
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *orchestrator.Manager, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  log,
	}
}

type saveRequest struct {
	Title string `json:"title"`
}

// Save handles POST /api/v1/sessions/save
//
// The committed exchanges of the active unsaved conversation are persisted
// under the given title; the conversation then continues under the new
// session id.
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orch := h.manager.ForUser(userID)
	session, err := orch.Save(r.Context(), req.Title)
	switch {
	case errors.Is(err, orchestrator.ErrNothingToSave):
		writeError(w, http.StatusBadRequest, "no completed exchanges to save")
		return
	case err != nil:
		h.logger.Error("failed to save session", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}
