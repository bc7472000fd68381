package main

import (
	"fmt"
	"log/slog"

	"github.com/kalambet/copilot/internal/composer"
	"github.com/kalambet/copilot/internal/config"
	"github.com/kalambet/copilot/internal/conversation"
	"github.com/kalambet/copilot/internal/document"
	"github.com/kalambet/copilot/internal/gateway"
	"github.com/kalambet/copilot/internal/gateway/gemini"
	"github.com/kalambet/copilot/internal/gateway/openrouter"
	"github.com/kalambet/copilot/internal/ingest"
	"github.com/kalambet/copilot/internal/session"
	"github.com/kalambet/copilot/internal/storage"
)

// app is one assistant session: its documents, settings and threads.
type app struct {
	store   *storage.Store
	library *document.Library
	parser  *ingest.Parser
	session *session.Context
	gateway *gateway.Gateway
	engine  *conversation.Engine
}

func newBackend(cfg config.Config) (gateway.Backend, error) {
	switch cfg.Model.Backend {
	case config.BackendGemini:
		return gemini.NewClient(cfg.Gemini.BaseURL), nil
	case config.BackendOpenRouter:
		return openrouter.NewClient(cfg.OpenRouter.BaseURL), nil
	}
	return nil, fmt.Errorf("unknown model backend %q", cfg.Model.Backend)
}

// newApp wires a session from cfg. convGateway replaces the model gateway
// used by the conversation engine when non-nil.
func newApp(cfg config.Config, logger *slog.Logger, convGateway conversation.Gateway) (*app, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	a := &app{
		store:   store,
		library: document.NewLibrary(store, logger),
		parser:  ingest.NewParser(int64(cfg.Ingest.MaxFileBytes), logger),
		session: session.New(cfg.Credential(), cfg.Model.Name),
		gateway: gateway.New(backend, cfg.Model.Name, cfg.GatewayTimeout(), logger),
	}
	if convGateway == nil {
		convGateway = a.gateway
	}
	comp := composer.New(cfg.Composer.MaxContextTokens, logger)
	a.engine = conversation.New(convGateway, a.library, a.session, comp, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
