// Package document holds the documents uploaded during a session and
// resolves which of them form the context for a question.
package document

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/copilot/internal/storage"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidName = errors.New("invalid document name")
)

// ScopeAll selects every uploaded document.
const ScopeAll Scope = "all"

// Scope is either ScopeAll or the name of a single document.
type Scope string

// Document is an uploaded file reduced to its extracted text.
type Document struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	Format    string `json:"format,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Store persists documents for the session.
type Store interface {
	SaveDocument(doc storage.Document) error
	DeleteDocument(name string) error
	ListDocuments() ([]storage.Document, error)
}

// Library is the session's document collection.
type Library struct {
	store  Store
	logger *slog.Logger
}

func NewLibrary(store Store, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{store: store, logger: logger}
}

// Add stores doc, replacing any document with the same name.
func (l *Library) Add(doc Document) error {
	name := strings.TrimSpace(doc.Name)
	if name == "" || Scope(name) == ScopeAll {
		return fmt.Errorf("%w: %q", ErrInvalidName, doc.Name)
	}
	if err := l.store.SaveDocument(storage.Document{
		Name:      name,
		Content:   doc.Content,
		Format:    doc.Format,
		SizeBytes: doc.SizeBytes,
	}); err != nil {
		return fmt.Errorf("saving document %q: %w", name, err)
	}
	l.logger.Debug("document added", "name", name, "chars", len(doc.Content))
	return nil
}

// Remove deletes the named document.
func (l *Library) Remove(name string) error {
	if err := l.store.DeleteDocument(name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return fmt.Errorf("deleting document %q: %w", name, err)
	}
	l.logger.Debug("document removed", "name", name)
	return nil
}

// List returns every document in upload order.
func (l *Library) List() ([]Document, error) {
	rows, err := l.store.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, Document{
			Name:      r.Name,
			Content:   r.Content,
			Format:    r.Format,
			SizeBytes: r.SizeBytes,
		})
	}
	return docs, nil
}

// ListForScope returns the documents selected by scope. A scope naming a
// document that no longer exists falls back to all documents.
func (l *Library) ListForScope(scope Scope) ([]Document, error) {
	docs, err := l.List()
	if err != nil {
		return nil, err
	}
	if scope == ScopeAll || scope == "" {
		return docs, nil
	}
	for _, d := range docs {
		if d.Name == string(scope) {
			return []Document{d}, nil
		}
	}
	l.logger.Debug("scoped document missing, using all documents", "scope", string(scope))
	return docs, nil
}

// Resolve reports the scope ListForScope would effectively apply.
func (l *Library) Resolve(scope Scope) (Scope, error) {
	if scope == ScopeAll || scope == "" {
		return ScopeAll, nil
	}
	docs, err := l.List()
	if err != nil {
		return "", err
	}
	for _, d := range docs {
		if d.Name == string(scope) {
			return scope, nil
		}
	}
	return ScopeAll, nil
}
