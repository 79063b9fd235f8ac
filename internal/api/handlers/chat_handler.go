package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/logger"
)

type ChatHandler struct {
	docs DocumentService
	log  *zap.Logger
}

func NewChatHandler(docs DocumentService, log *zap.Logger) *ChatHandler {
	return &ChatHandler{docs: docs, log: logger.OrNop(log)}
}

type ChatRequest struct {
	DocumentID string `json:"document_id" validate:"required"`
	Query      string `json:"query" validate:"required,max=4000"`
}

// QueryDocument answers a question grounded in the document's indexed chunks.
func (h *ChatHandler) QueryDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	answer, err := h.docs.Ask(r.Context(), req.DocumentID, owner, req.Query)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
