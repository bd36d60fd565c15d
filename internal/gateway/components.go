// ABOUTME: Builds the conversation stack from configuration
// ABOUTME: Store, assistant backend, scorer, tool registry, poller, orchestrator and WhatsApp channel

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/salesgenio/lead-gateway/internal/assistant"
	"github.com/salesgenio/lead-gateway/internal/config"
	"github.com/salesgenio/lead-gateway/internal/dedupe"
	"github.com/salesgenio/lead-gateway/internal/format"
	"github.com/salesgenio/lead-gateway/internal/orchestrator"
	"github.com/salesgenio/lead-gateway/internal/qualify"
	"github.com/salesgenio/lead-gateway/internal/run"
	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
	"github.com/salesgenio/lead-gateway/internal/whatsapp"
)

// initStore opens the SQLite store. LEAD_GATEWAY_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LEAD_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newBackend creates the thread/run backend selected by openai.backend.
func newBackend(cfg *config.Config, logger *slog.Logger) (orchestrator.Backend, error) {
	if cfg.OpenAI.Backend == config.BackendFake {
		logger.Warn("using in-memory fake assistant backend - replies echo the contact")
		return assistant.NewFake(), nil
	}
	backend, err := assistant.NewOpenAI(assistant.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		AssistantID:    cfg.OpenAI.AssistantID,
		Instructions:   cfg.OpenAI.Instructions,
		RequestTimeout: cfg.OpenAI.RequestTimeout,
		MaxRetries:     cfg.OpenAI.MaxRetries,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating assistant backend: %w", err)
	}
	return backend, nil
}

// newScorer creates the qualification scorer. The classifier is only wired
// when talking to the real API; otherwise keywords are used.
func newScorer(cfg *config.Config, logger *slog.Logger) (*qualify.Scorer, error) {
	mode, err := qualify.ParseMode(cfg.Qualification.Mode)
	if err != nil {
		return nil, err
	}

	var classifier qualify.Classifier
	if mode == qualify.ModeClassifier && cfg.OpenAI.Backend == config.BackendOpenAI {
		c, err := assistant.NewClassifier(assistant.ClassifierConfig{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.OpenAI.ClassifierModel,
			RequestTimeout: cfg.OpenAI.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("creating classifier: %w", err)
		}
		classifier = c
	}

	return qualify.NewScorer(qualify.ScorerConfig{
		Classifier: classifier,
		Mode:       mode,
		Timeout:    cfg.Qualification.Timeout,
		Logger:     logger,
	}), nil
}

// newToolRegistry registers every built-in tool not listed in tools.disabled.
func newToolRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(tools.RegistryConfig{
		Logger:  logger,
		Timeout: cfg.Tools.Timeout,
	})

	var enabled []tools.Tool
	for _, t := range tools.Builtins() {
		name := t.Definition().Name
		if slices.Contains(cfg.Tools.Disabled, name) {
			logger.Info("tool disabled by config", "tool", name)
			continue
		}
		enabled = append(enabled, t)
	}
	if err := registry.Register(enabled...); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return registry, nil
}

// newOrchestrator assembles the turn pipeline around backend and s.
func newOrchestrator(cfg *config.Config, backend orchestrator.Backend, s store.Store, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	scorer, err := newScorer(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := newToolRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	preamble, err := orchestrator.NewTemplatePreamble(s, cfg.Orchestrator.Preambles)
	if err != nil {
		return nil, fmt.Errorf("loading preambles: %w", err)
	}

	poller := run.NewPoller(run.PollerConfig{
		Backend:              backend,
		Logger:               logger,
		InitialInterval:      cfg.Orchestrator.PollInitialInterval,
		MaxInterval:          cfg.Orchestrator.PollMaxInterval,
		Multiplier:           cfg.Orchestrator.PollMultiplier,
		Timeout:              cfg.Orchestrator.RunTimeout,
		MaxConsecutiveErrors: cfg.Orchestrator.MaxConsecutiveErrors,
		ReplyScanLimit:       cfg.Orchestrator.ReplyScanLimit,
	})

	return orchestrator.New(orchestrator.Config{
		Backend:     backend,
		Store:       s,
		Scorer:      scorer,
		Tools:       registry,
		Poller:      poller,
		Preamble:    preamble,
		Logger:      logger,
		TurnTimeout: cfg.Orchestrator.TurnTimeout,
	})
}

// newWebhook creates the WhatsApp client and webhook handler. Background
// processing is bounded by base.
func newWebhook(base context.Context, cfg *config.Config, s store.Store, turns whatsapp.TurnRunner, logger *slog.Logger) (*whatsapp.Webhook, error) {
	wa := cfg.WhatsApp
	client, err := whatsapp.NewClient(whatsapp.ClientConfig{
		APIBase:       wa.APIBase,
		AccessToken:   wa.AccessToken,
		PhoneNumberID: wa.PhoneNumberID,
		RatePerSecond: wa.RatePerSecond,
		Burst:         wa.Burst,
		Timeout:       wa.RequestTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating whatsapp client: %w", err)
	}

	return whatsapp.NewWebhook(whatsapp.WebhookConfig{
		VerifyToken: wa.VerifyToken,
		AppSecret:   wa.AppSecret,
		Directory:   s,
		Catalog:     s,
		Turns:       turns,
		Sender:      client,
		Dedupe:      dedupe.NewWindow(wa.DedupeTTL, wa.DedupeSize),
		MarkRead:    wa.MarkRead,
		Format:      format.WhatsApp,
		Logger:      logger,
		BaseContext: base,
	})
}
