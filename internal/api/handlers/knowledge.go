package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/tangde15/easyrag/internal/api"
	"github.com/tangde15/easyrag/internal/service"
)

// MaxUploadBytes caps one uploaded document at 20 MB.
const MaxUploadBytes int64 = 20 * 1024 * 1024

// IngestRunner turns uploaded documents into indexed knowledge.
type IngestRunner interface {
	Ingest(ctx context.Context, content, source string) (*service.IngestResult, error)
	DeleteSource(ctx context.Context, source string) (int64, error)
}

type KnowledgeHandler struct {
	ingest IngestRunner
}

func NewKnowledgeHandler(ingest IngestRunner) *KnowledgeHandler {
	return &KnowledgeHandler{ingest: ingest}
}

// Upload ingests one plain-text document sent as multipart form data
// under the "file" field. Only .txt and .md files are accepted.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > MaxUploadBytes {
		api.Error(w, http.StatusRequestEntityTooLarge, "file exceeds 20MB limit")
		return
	}

	name := filepath.Base(header.Filename)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
	default:
		api.Error(w, http.StatusBadRequest, "only .txt and .md files are supported")
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(content)) > MaxUploadBytes {
		api.Error(w, http.StatusRequestEntityTooLarge, "file exceeds 20MB limit")
		return
	}

	result, err := h.ingest.Ingest(r.Context(), string(content), name)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, result)
}

type DeleteSourceRequest struct {
	Source string `json:"source"`
}

// DeleteSource removes every chunk ingested from one source file.
func (h *KnowledgeHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	var req DeleteSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	deleted, err := h.ingest.DeleteSource(r.Context(), req.Source)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
