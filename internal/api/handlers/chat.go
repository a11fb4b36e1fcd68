package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/tangde15/easyrag/internal/api"
	"github.com/tangde15/easyrag/internal/service"
)

// ChatStreamer starts one answer stream per question.
type ChatStreamer interface {
	Ask(ctx context.Context, sessionID, message string) (*service.Stream, string)
}

type ChatHandler struct {
	chat ChatStreamer
}

func NewChatHandler(chat ChatStreamer) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// Chat answers one question as a newline-delimited JSON stream. The
// response is committed with status 200 before generation starts, so
// failures mid-stream surface inside the stream, not as an HTTP status.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	stream, sessionID := h.chat.Ask(r.Context(), req.SessionID, req.Question)

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := stream.Run(r.Context(), w); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("chat handler: stream for session %s ended with error: %v", sessionID, err)
	}
}
