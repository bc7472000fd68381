// Package gateway performs single model calls against a contract: it renders
// the prompt, makes exactly one outbound request through a Backend, and
// validates the reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/copilot/internal/contract"
	"github.com/kalambet/copilot/internal/session"
)

// Request is what a Backend sends upstream.
type Request struct {
	Model      string
	Credential string
	Prompt     contract.Prompt
	Schema     *contract.Schema
}

// Backend talks to one model provider. Implementations must not retry and
// must classify failures with *Error where they can.
type Backend interface {
	Name() string
	// Generate returns the raw text of the model's reply.
	Generate(ctx context.Context, req Request) (string, error)
	// ValidateCredential checks credential without generating anything.
	ValidateCredential(ctx context.Context, credential string) error
}

// Gateway is safe for concurrent use.
type Gateway struct {
	backend      Backend
	defaultModel string
	timeout      time.Duration
	logger       *slog.Logger
}

// New creates a Gateway. defaultModel is used when a session has none;
// timeout <= 0 disables the per-call deadline.
func New(backend Backend, defaultModel string, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{backend: backend, defaultModel: defaultModel, timeout: timeout, logger: logger}
}

// Backend returns the name of the configured backend.
func (g *Gateway) Backend() string { return g.backend.Name() }

// DefaultModel returns the model used when a session has none selected.
func (g *Gateway) DefaultModel() string { return g.defaultModel }

// Grounded asks for an answer grounded only in in.Documents.
func (g *Gateway) Grounded(ctx context.Context, in contract.GroundedInput, snap session.Snapshot) (contract.GroundedOutput, error) {
	prompt, err := contract.RenderGrounded(in)
	if err != nil {
		return contract.GroundedOutput{}, fmt.Errorf("building grounded request: %w", err)
	}
	raw, err := g.invoke(ctx, prompt, snap)
	if err != nil {
		return contract.GroundedOutput{}, err
	}
	out, err := contract.DecodeGrounded(raw)
	if err != nil {
		g.logger.Warn("model reply rejected", "contract", prompt.Kind, "version", prompt.Version, "error", err)
		return contract.GroundedOutput{}, NewError(ContractViolation, "model reply does not match the grounded answer format", err)
	}
	return out, nil
}

// OpenKnowledge asks for an answer from general knowledge.
func (g *Gateway) OpenKnowledge(ctx context.Context, in contract.OpenKnowledgeInput, snap session.Snapshot) (contract.OpenKnowledgeOutput, error) {
	prompt, err := contract.RenderOpenKnowledge(in)
	if err != nil {
		return contract.OpenKnowledgeOutput{}, fmt.Errorf("building open knowledge request: %w", err)
	}
	raw, err := g.invoke(ctx, prompt, snap)
	if err != nil {
		return contract.OpenKnowledgeOutput{}, err
	}
	out, err := contract.DecodeOpenKnowledge(raw)
	if err != nil {
		g.logger.Warn("model reply rejected", "contract", prompt.Kind, "version", prompt.Version, "error", err)
		return contract.OpenKnowledgeOutput{}, NewError(ContractViolation, "model reply does not match the open knowledge answer format", err)
	}
	return out, nil
}

// ValidateCredential checks a credential with the backend.
func (g *Gateway) ValidateCredential(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return NewError(AuthenticationFailed, "no credential provided", nil)
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	err := g.backend.ValidateCredential(ctx, credential)
	if err != nil {
		err = classify(ctx, err)
		g.logger.Info("credential validation failed", "backend", g.backend.Name(), "kind", kindString(err))
	}
	return err
}

func (g *Gateway) invoke(ctx context.Context, prompt contract.Prompt, snap session.Snapshot) (string, error) {
	if strings.TrimSpace(snap.Credential) == "" {
		return "", NewError(AuthenticationFailed, "no credential configured for this session", nil)
	}
	model := snap.Model
	if model == "" {
		model = g.defaultModel
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	raw, err := g.backend.Generate(ctx, Request{
		Model:      model,
		Credential: snap.Credential,
		Prompt:     prompt,
		Schema:     contract.SchemaFor(prompt.Kind),
	})
	attrs := []any{
		"backend", g.backend.Name(),
		"model", model,
		"contract", prompt.Kind,
		"version", prompt.Version,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		err = classify(ctx, err)
		g.logger.Warn("model call failed", append(attrs, "kind", kindString(err), "error", err)...)
		return "", err
	}
	g.logger.Info("model call", append(attrs, "reply_chars", len(raw))...)
	return raw, nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// classify maps any backend error onto an *Error. Deadlines and
// cancellations are transport failures.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(TransportFailed, "model call timed out", err)
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	if errors.Is(err, context.Canceled) {
		return NewError(TransportFailed, "model call canceled", err)
	}
	return NewError(TransportFailed, "model call failed", err)
}

func kindString(err error) string {
	k, _ := KindOf(err)
	return string(k)
}
