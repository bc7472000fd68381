package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/copilot/internal/conversation"
	"github.com/kalambet/copilot/internal/document"
	"github.com/kalambet/copilot/internal/gateway"
	"github.com/kalambet/copilot/internal/ingest"
	"github.com/kalambet/copilot/internal/session"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadBodySize  = 64 << 20 // 64MB across all files of one upload
	maxUploadMemory    = 16 << 20
)

// Documents is the document collection the API manages.
type Documents interface {
	Add(doc document.Document) error
	Remove(name string) error
	List() ([]document.Document, error)
	Resolve(scope document.Scope) (document.Scope, error)
}

// Parser turns uploaded files into documents.
type Parser interface {
	ParseAll(ctx context.Context, files []ingest.File) ([]document.Document, error)
}

// Conversation is the subset of conversation.Engine served over the API.
type Conversation interface {
	SubmitPrimary(ctx context.Context, question string) (conversation.Turn, error)
	SubmitImaginationFollowup(ctx context.Context, question string) (conversation.Turn, error)
	EditAndResubmit(ctx context.Context, kind conversation.ThreadKind, id int64, content string) (conversation.Turn, error)
	Escalate(ctx context.Context, question string, withPrimaryHistory bool) (conversation.Turn, error)
	EscalateFrom(ctx context.Context, id int64) (conversation.Turn, error)
	Thread(kind conversation.ThreadKind) conversation.Thread
	Reset()
}

// CredentialValidator checks a model credential with the provider.
type CredentialValidator interface {
	ValidateCredential(ctx context.Context, credential string) error
}

type Deps struct {
	Documents    Documents
	Parser       Parser
	Session      *session.Context
	Conversation Conversation
	Validator    CredentialValidator
	Backend      string // reported by GET /session
	Token        string
	Logger       *slog.Logger
}

// NewHandler returns the local HTTP API. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUploadDocuments(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Delete("/documents/{name}", handleDeleteDocument(deps))

		r.Get("/session", handleGetSession(deps))
		r.Patch("/session", handlePatchSession(deps))
		r.Put("/session/credential", handlePutCredential(deps))
		r.Post("/session/credential/validate", handleValidateCredential(deps))

		r.Delete("/threads", handleResetThreads(deps))
		r.Get("/threads/{thread}", handleGetThread(deps))
		r.Post("/threads/primary/messages", handleSubmitPrimary(deps))
		r.Post("/threads/imagination/messages", handleSubmitImagination(deps))
		r.Put("/threads/{thread}/messages/{id}", handleEditMessage(deps))
		r.Post("/escalations", handleEscalate(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// DocumentSummary describes a stored document without its text.
type DocumentSummary struct {
	Name      string `json:"name"`
	Format    string `json:"format,omitempty"`
	SizeBytes int64  `json:"sizeBytes"`
	Chars     int    `json:"chars"`
}

func summarize(d document.Document) DocumentSummary {
	return DocumentSummary{Name: d.Name, Format: d.Format, SizeBytes: d.SizeBytes, Chars: len([]rune(d.Content))}
}

func handleUploadDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart upload: %v", err)
			return
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one file field is required")
			return
		}

		files := make([]ingest.File, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading %s: %v", fh.Filename, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading %s: %v", fh.Filename, err)
				return
			}
			files = append(files, ingest.File{Name: fh.Filename, Data: data})
		}

		docs, err := deps.Parser.ParseAll(r.Context(), files)
		if err != nil {
			writeIngestError(w, err)
			return
		}

		out := make([]DocumentSummary, 0, len(docs))
		for _, d := range docs {
			if err := deps.Documents.Add(d); err != nil {
				writeIngestError(w, err)
				return
			}
			out = append(out, summarize(d))
		}

		deps.Logger.Info("documents uploaded", "count", len(out))
		writeJSON(w, http.StatusCreated, out)
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Documents.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]DocumentSummary, 0, len(docs))
		for _, d := range docs {
			out = append(out, summarize(d))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}

		err := deps.Documents.Remove(name)
		if errors.Is(err, document.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document %q not found", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// SessionView is the public view of the session. The credential itself is
// never returned.
type SessionView struct {
	Scope          document.Scope `json:"scope"`
	EffectiveScope document.Scope `json:"effectiveScope"`
	Model          string         `json:"model"`
	Backend        string         `json:"backend,omitempty"`
	CredentialSet  bool           `json:"credentialSet"`
}

func sessionView(deps Deps) (SessionView, error) {
	snap := deps.Session.Snapshot()
	effective, err := deps.Documents.Resolve(snap.Scope)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{
		Scope:          snap.Scope,
		EffectiveScope: effective,
		Model:          snap.Model,
		Backend:        deps.Backend,
		CredentialSet:  snap.Credential != "",
	}, nil
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := sessionView(deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type patchSessionRequest struct {
	Scope *string `json:"scope"`
	Model *string `json:"model"`
}

func handlePatchSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req patchSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Scope != nil {
			scope := document.Scope(strings.TrimSpace(*req.Scope))
			if scope != "" && scope != document.ScopeAll {
				resolved, err := deps.Documents.Resolve(scope)
				if err != nil {
					httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve scope: %v", err)
					return
				}
				if resolved != scope {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "no document named %q", scope)
					return
				}
			}
			deps.Session.SetScope(scope)
		}
		if req.Model != nil {
			model := strings.TrimSpace(*req.Model)
			if model == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "model must not be empty")
				return
			}
			deps.Session.SetModel(model)
		}

		view, err := sessionView(deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read session: %v", err)
			return
		}
		deps.Logger.Debug("session updated", "session", deps.Session.Snapshot().String())
		writeJSON(w, http.StatusOK, view)
	}
}

type credentialRequest struct {
	Credential string `json:"credential"`
}

func handlePutCredential(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req credentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
			return
		}

		deps.Session.SetCredential(strings.TrimSpace(req.Credential))
		writeJSON(w, http.StatusOK, map[string]bool{"credentialSet": deps.Session.HasCredential()})
	}
}

// ValidationResult reports whether the provider accepted a credential.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

func handleValidateCredential(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req credentialRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
				return
			}
		}
		cred := strings.TrimSpace(req.Credential)
		if cred == "" {
			cred = deps.Session.Credential()
		}

		err := deps.Validator.ValidateCredential(r.Context(), cred)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, ValidationResult{Valid: true})
		case gateway.IsKind(err, gateway.AuthenticationFailed):
			writeJSON(w, http.StatusOK, ValidationResult{Valid: false, Message: err.Error()})
		default:
			httpError(w, http.StatusBadGateway, "api_error", "could not validate credential: %v", err)
		}
	}
}
