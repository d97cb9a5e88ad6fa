package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PayPipe/internal/api"
	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/flow"
	"github.com/BTreeMap/PayPipe/internal/genai"
	"github.com/BTreeMap/PayPipe/internal/router"
	"github.com/BTreeMap/PayPipe/internal/store"
	"github.com/BTreeMap/PayPipe/internal/validate"
	"github.com/BTreeMap/PayPipe/internal/whatsapp"
)

// app bundles the transport-independent conversation core.
type app struct {
	backend store.Backend
	router  *router.Router
}

func (a *app) Close() error {
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

func buildStoreOptions(cfg Config) []store.Option {
	var opts []store.Option
	if cfg.DedupWindow > 0 {
		opts = append(opts, store.WithDedupWindow(cfg.DedupWindow))
	}
	return opts
}

func buildGenAIOptions(cfg Config) []genai.Option {
	var opts []genai.Option
	if cfg.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(cfg.OpenAIKey))
	}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	if cfg.ClassifierTimeout > 0 {
		opts = append(opts, genai.WithTimeout(cfg.ClassifierTimeout))
	}
	return opts
}

func buildFinanceOptions(cfg Config) []finance.Option {
	var opts []finance.Option
	if cfg.FinanceBaseURL != "" {
		opts = append(opts, finance.WithBaseURL(cfg.FinanceBaseURL))
	}
	if cfg.FinanceAPIKey != "" {
		opts = append(opts, finance.WithAPIKey(cfg.FinanceAPIKey))
	}
	if cfg.FinanceTimeout > 0 {
		opts = append(opts, finance.WithTimeout(cfg.FinanceTimeout))
	}
	return opts
}

func buildWhatsAppOptions(cfg Config) []whatsapp.Option {
	var opts []whatsapp.Option
	if cfg.WhatsmeowDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(cfg.WhatsmeowDSN))
	}
	if cfg.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(cfg.QROutput))
	}
	if cfg.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func buildAPIOptions(cfg Config) []api.Option {
	opts := []api.Option{api.WithAddr(cfg.APIAddr)}
	if cfg.CloudVerifyToken != "" {
		opts = append(opts, api.WithVerifyToken(cfg.CloudVerifyToken))
	}
	if cfg.CloudAppSecret != "" {
		opts = append(opts, api.WithAppSecret(cfg.CloudAppSecret))
	}
	if cfg.EnableTestEndpoint {
		opts = append(opts, api.WithTestEndpoint())
	}
	return opts
}

// newClassifier returns nil when no OpenAI key is configured; the router and
// validators then run on keywords and deterministic checks only.
func newClassifier(cfg Config) (validate.Classifier, error) {
	client, err := genai.NewClient(buildGenAIOptions(cfg)...)
	if errors.Is(err, genai.ErrNoAPIKey) {
		slog.Warn("newClassifier: OPENAI_API_KEY not set, classification disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	return client, nil
}

// buildApp opens the store and wires validators, flows and the router.
// fin overrides the finance client when non-nil.
func buildApp(cfg Config, classifier validate.Classifier, fin flow.FinanceAPI) (*app, error) {
	backend, err := store.Open(cfg.DatabaseURL, buildStoreOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var regOpts []validate.Option
	var routerOpts []router.Option
	if classifier != nil {
		regOpts = append(regOpts, validate.WithClassifier(classifier))
		routerOpts = append(routerOpts, router.WithClassifier(classifier))
	}
	if cfg.ClassifierTimeout > 0 {
		regOpts = append(regOpts, validate.WithClassifierTimeout(cfg.ClassifierTimeout))
		routerOpts = append(routerOpts, router.WithClassifierTimeout(cfg.ClassifierTimeout))
	}
	reg := validate.NewRegistry(regOpts...)
	routerOpts = append(routerOpts, router.WithValidators(reg))

	defs, err := flow.DefaultDefinitions(reg)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load flow definitions: %w", err)
	}
	if fin == nil {
		if cfg.FinanceBaseURL == "" {
			slog.Warn("buildApp: FINANCE_API_URL not set, account and payment calls will fail")
		}
		fin = finance.NewClient(buildFinanceOptions(cfg)...)
	}
	sm := flow.NewStoreBasedStateManager(backend)
	engines, err := flow.NewEngines(defs, sm, reg, fin)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to build flow engines: %w", err)
	}

	slog.Debug("buildApp: conversation core ready", "flows", len(engines), "classifier", classifier != nil)
	return &app{backend: backend, router: router.New(sm, engines, defs, routerOpts...)}, nil
}
