package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangde15/easyrag/internal/domain"
)

type fakeConversationMemory struct {
	sessions map[string][]domain.ConversationTurn
	deleted  int64
	fail     bool
}

func (f *fakeConversationMemory) All(ctx context.Context) (map[string][]domain.ConversationTurn, error) {
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	return f.sessions, nil
}

func (f *fakeConversationMemory) Recent(ctx context.Context, sessionID string, k int) ([]domain.ConversationTurn, error) {
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	return f.sessions[sessionID], nil
}

func (f *fakeConversationMemory) Delete(ctx context.Context, sessionID string) (int64, error) {
	if f.fail {
		return 0, errors.New("store unavailable")
	}
	return f.deleted, nil
}

func TestConversationHandler_All(t *testing.T) {
	memory := &fakeConversationMemory{sessions: map[string][]domain.ConversationTurn{
		"s1": {{ID: "t1", SessionID: "s1", UserMessage: "q", AIMessage: "a", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}},
		"s2": {},
	}}
	handler := NewConversationHandler(memory)

	w := httptest.NewRecorder()
	handler.All(w, httptest.NewRequest(http.MethodGet, "/api/conversations/all", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string][]TurnResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Len(t, resp.Data["s1"], 1)
	assert.Equal(t, "q", resp.Data["s1"][0].UserMessage)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.Data["s1"][0].CreatedAt)
}

func TestConversationHandler_Get(t *testing.T) {
	memory := &fakeConversationMemory{sessions: map[string][]domain.ConversationTurn{
		"s1": {
			{ID: "t1", SessionID: "s1", UserMessage: "first", AIMessage: "a1"},
			{ID: "t2", SessionID: "s1", UserMessage: "second", AIMessage: "a2"},
		},
	}}
	handler := NewConversationHandler(memory)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/get",
		strings.NewReader(`{"session_id":"s1"}`))
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []TurnResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "first", resp.Data[0].UserMessage)
	assert.Equal(t, "second", resp.Data[1].UserMessage)
}

func TestConversationHandler_Get_UnknownSessionIsEmpty(t *testing.T) {
	handler := NewConversationHandler(&fakeConversationMemory{sessions: map[string][]domain.ConversationTurn{}})

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/get",
		strings.NewReader(`{"session_id":"missing"}`))
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestConversationHandler_Get_MissingSessionID(t *testing.T) {
	handler := NewConversationHandler(&fakeConversationMemory{})

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/get",
		strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationHandler_Delete(t *testing.T) {
	handler := NewConversationHandler(&fakeConversationMemory{deleted: 3})

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/delete",
		strings.NewReader(`{"session_id":"s1"}`))
	w := httptest.NewRecorder()
	handler.Delete(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":3`)
}

func TestConversationHandler_All_StoreFailure(t *testing.T) {
	handler := NewConversationHandler(&fakeConversationMemory{fail: true})

	w := httptest.NewRecorder()
	handler.All(w, httptest.NewRequest(http.MethodGet, "/api/conversations/all", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
