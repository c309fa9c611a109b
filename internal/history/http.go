package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// HTTPStore talks to the remote conversation store over REST.
type HTTPStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPStore creates a store client against the given base URL.
func NewHTTPStore(baseURL, apiKey string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads GET /api/chat/history?session_id=...
func (s *HTTPStore) Load(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	u := s.baseURL + "/api/chat/history?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req, userID)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("history load returned %d: %s", resp.StatusCode, string(data))
	}

	var msgs []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode session history: %w", err)
	}
	return msgs, nil
}

// Save issues POST /api/sessions/save.
func (s *HTTPStore) Save(ctx context.Context, userID string, saveReq *model.SaveSessionRequest) (*model.ChatSession, error) {
	body, err := json.Marshal(saveReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal save request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/sessions/save", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	s.setHeaders(req, userID)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("session save returned %d: %s", resp.StatusCode, string(data))
	}

	var session model.ChatSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode saved session: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("store returned empty session id")
	}
	return &session, nil
}

func (s *HTTPStore) setHeaders(req *http.Request, userID string) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
}
