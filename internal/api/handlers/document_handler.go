package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/chat_engine"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

// multipartOverhead is the room left for form boundaries and headers.
const multipartOverhead = 1 << 20

// DocumentService is the document surface the handlers need.
type DocumentService interface {
	UploadAndCreate(ctx context.Context, ownerID, filename, contentType string, size int64, data io.Reader) (*models.Document, error)
	Get(ctx context.Context, id, ownerID string) (*models.Document, error)
	List(ctx context.Context, ownerID string) ([]models.Document, error)
	Reprocess(ctx context.Context, id, ownerID string) (*models.Document, error)
	Delete(ctx context.Context, id, ownerID string) error
	Ask(ctx context.Context, id, ownerID, question string) (*chat_engine.Answer, error)
	History(ctx context.Context, id, ownerID string) ([]models.ChatTurn, error)
}

type DocumentHandler struct {
	docs      DocumentService
	maxUpload int64
	log       *zap.Logger
}

func NewDocumentHandler(docs DocumentService, maxUpload int64, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxUpload: maxUpload, log: logger.OrNop(log)}
}

// UploadDocument stores the file and returns the uploading record. Ingestion
// continues in the background.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	limit := h.maxUpload + multipartOverhead
	if r.ContentLength > limit {
		writeError(w, h.log, core.Errorf(core.KindFileTooLarge, "upload", "request of %d bytes exceeds %d", r.ContentLength, limit))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.log, core.Errorf(core.KindFileTooLarge, "upload", "request exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeMessage(w, http.StatusBadRequest, "invalid_file", "invalid file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid_file", "invalid file")
		return
	}
	defer file.Close()

	doc, err := h.docs.UploadAndCreate(r.Context(), owner, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	docs, err := h.docs.List(r.Context(), owner)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Reprocess(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	turns, err := h.docs.History(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}
