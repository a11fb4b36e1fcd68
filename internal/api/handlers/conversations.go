package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tangde15/easyrag/internal/api"
	"github.com/tangde15/easyrag/internal/domain"
)

// ConversationMemory is the session history surface exposed over HTTP.
type ConversationMemory interface {
	All(ctx context.Context) (map[string][]domain.ConversationTurn, error)
	Recent(ctx context.Context, sessionID string, k int) ([]domain.ConversationTurn, error)
	Delete(ctx context.Context, sessionID string) (int64, error)
}

type ConversationHandler struct {
	memory ConversationMemory
}

func NewConversationHandler(memory ConversationMemory) *ConversationHandler {
	return &ConversationHandler{memory: memory}
}

type TurnResponse struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
	AIMessage   string `json:"ai_message"`
	CreatedAt   string `json:"created_at"`
}

func turnToResponse(t domain.ConversationTurn) TurnResponse {
	return TurnResponse{
		ID:          t.ID,
		SessionID:   t.SessionID,
		UserMessage: t.UserMessage,
		AIMessage:   t.AIMessage,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// All lists every session with its turns, oldest first within a session.
func (h *ConversationHandler) All(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.memory.All(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make(map[string][]TurnResponse, len(sessions))
	for sessionID, turns := range sessions {
		items := make([]TurnResponse, len(turns))
		for i, t := range turns {
			items[i] = turnToResponse(t)
		}
		out[sessionID] = items
	}
	api.Success(w, http.StatusOK, out)
}

// Get returns the full history of one session. An unknown session is an
// empty history, not an error.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	turns, err := h.memory.Recent(r.Context(), req.SessionID, 0)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]TurnResponse, len(turns))
	for i, t := range turns {
		items[i] = turnToResponse(t)
	}
	api.Success(w, http.StatusOK, items)
}

// Delete removes one session's history and reports how many turns went.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	deleted, err := h.memory.Delete(r.Context(), req.SessionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
