// Package session holds the mutable per-session settings: the document
// scope, the model credential and the model selection.
package session

import (
	"fmt"
	"sync"

	"github.com/kalambet/copilot/internal/document"
)

// Snapshot is a point-in-time copy of a Context. A submission reads one
// snapshot and is unaffected by later changes.
type Snapshot struct {
	Scope      document.Scope
	Credential string
	Model      string
}

// String redacts the credential.
func (s Snapshot) String() string {
	cred := "unset"
	if s.Credential != "" {
		cred = "set"
	}
	return fmt.Sprintf("scope=%s model=%s credential=%s", s.Scope, s.Model, cred)
}

// GoString keeps %#v from printing the credential.
func (s Snapshot) GoString() string { return "session.Snapshot{" + s.String() + "}" }

// Context is safe for concurrent use.
type Context struct {
	mu         sync.RWMutex
	scope      document.Scope
	credential string
	model      string
}

// New returns a Context scoped to all documents.
func New(credential, model string) *Context {
	return &Context{scope: document.ScopeAll, credential: credential, model: model}
}

func (c *Context) SetScope(scope document.Scope) {
	if scope == "" {
		scope = document.ScopeAll
	}
	c.mu.Lock()
	c.scope = scope
	c.mu.Unlock()
}

func (c *Context) SetCredential(credential string) {
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
}

func (c *Context) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Context) Scope() document.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}

func (c *Context) Credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

func (c *Context) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// HasCredential reports whether a credential is set without exposing it.
func (c *Context) HasCredential() bool {
	return c.Credential() != ""
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{Scope: c.scope, Credential: c.credential, Model: c.model}
}
