package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/copilot/internal/conversation"
)

type questionRequest struct {
	Question string `json:"question"`
}

type editRequest struct {
	Content string `json:"content"`
}

type escalationRequest struct {
	Question           string `json:"question"`
	MessageID          int64  `json:"messageId"`
	WithPrimaryHistory bool   `json:"withPrimaryHistory"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func threadParam(w http.ResponseWriter, r *http.Request) (conversation.ThreadKind, bool) {
	kind, err := conversation.ParseThreadKind(chi.URLParam(r, "thread"))
	if err != nil {
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
		return "", false
	}
	return kind, true
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := threadParam(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, deps.Conversation.Thread(kind))
	}
}

func handleResetThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Conversation.Reset()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleSubmitPrimary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		turn, err := deps.Conversation.SubmitPrimary(r.Context(), req.Question)
		if err != nil {
			writeConversationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}

func handleSubmitImagination(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		turn, err := deps.Conversation.SubmitImaginationFollowup(r.Context(), req.Question)
		if err != nil {
			writeConversationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}

func handleEditMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := threadParam(w, r)
		if !ok {
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message id must be a positive integer")
			return
		}

		var req editRequest
		if !decodeBody(w, r, &req) {
			return
		}
		turn, err := deps.Conversation.EditAndResubmit(r.Context(), kind, id, req.Content)
		if err != nil {
			writeConversationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}

// handleEscalate opens a new imagination thread, either from an explicit
// question or from the question behind a primary-thread message.
func handleEscalate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req escalationRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var (
			turn conversation.Turn
			err  error
		)
		switch {
		case req.MessageID > 0 && req.Question != "":
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provide either question or messageId, not both")
			return
		case req.MessageID > 0:
			turn, err = deps.Conversation.EscalateFrom(r.Context(), req.MessageID)
		default:
			turn, err = deps.Conversation.Escalate(r.Context(), req.Question, req.WithPrimaryHistory)
		}
		if err != nil {
			writeConversationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}
