package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/copilot/internal/conversation"
	"github.com/kalambet/copilot/internal/document"
	"github.com/kalambet/copilot/internal/ingest"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeConversationError maps engine errors onto HTTP statuses. A NoContext
// refusal keeps its failure kind as the error type so clients can tell it
// apart from a malformed request.
func writeConversationError(w http.ResponseWriter, err error) {
	var fail *conversation.Failure
	switch {
	case errors.As(err, &fail):
		httpError(w, http.StatusUnprocessableEntity, string(fail.Kind), "%s", fail.Message)
	case errors.Is(err, conversation.ErrBusy):
		httpError(w, http.StatusConflict, "busy", "%v", err)
	case errors.Is(err, conversation.ErrNoImaginationThread):
		httpError(w, http.StatusConflict, "no_imagination_thread", "%v", err)
	case errors.Is(err, conversation.ErrMessageNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, conversation.ErrEmptyQuestion),
		errors.Is(err, conversation.ErrNotEditable),
		errors.Is(err, conversation.ErrNotEscalatable):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnsupported):
		httpError(w, http.StatusUnsupportedMediaType, "unsupported_file", "%v", err)
	case errors.Is(err, ingest.ErrTooLarge):
		httpError(w, http.StatusRequestEntityTooLarge, "file_too_large", "%v", err)
	case errors.Is(err, ingest.ErrEmpty):
		httpError(w, http.StatusUnprocessableEntity, "empty_document", "%v", err)
	case errors.Is(err, document.ErrInvalidName):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusUnprocessableEntity, "extraction_failed", "%v", err)
	}
}
