package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appMiddleware "github.com/markdave123-py/docchat/internal/api/middlewares"
	"github.com/markdave123-py/docchat/internal/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

// writeError maps a tagged error to its HTTP status and user-facing message.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeMessage(w, status, string(kind), core.UserMessage(err))
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindUnsupportedFormat, core.KindEmptyFile:
		return http.StatusBadRequest
	case core.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindDocumentNotReady, core.KindIngestionInProgress:
		return http.StatusConflict
	case core.KindExtractionFailed, core.KindEmptyContent:
		return http.StatusUnprocessableEntity
	case core.KindEmbedding, core.KindVectorStore, core.KindGeneration, core.KindStorage:
		return http.StatusBadGateway
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes and validates a JSON request body. It writes the 400
// response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := appMiddleware.UserIDFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized", "user_id not found in context")
	}
	return id, ok
}
