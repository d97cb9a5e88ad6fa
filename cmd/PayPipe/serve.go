package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/PayPipe/internal/api"
	"github.com/BTreeMap/PayPipe/internal/lockfile"
	"github.com/BTreeMap/PayPipe/internal/messaging"
	"github.com/BTreeMap/PayPipe/internal/scheduler"
	"github.com/BTreeMap/PayPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PayPipe/internal/whatsapp"
	"github.com/spf13/cobra"
)

// transport is the outbound service plus whatever the HTTP server needs to
// accept its inbound traffic.
type transport struct {
	service  messaging.Service
	listener messaging.Listener // set for whatsmeow only
	apiOpts  []api.Option
	close    func()
}

func buildCloudTransport(cfg Config) (*transport, error) {
	mode, err := messaging.ParseSendMode(cfg.SendMode)
	if err != nil {
		return nil, err
	}
	opts := []messaging.CloudAPIOption{
		messaging.WithPhoneNumberID(cfg.CloudPhoneNumberID),
		messaging.WithAccessToken(cfg.CloudAccessToken),
		messaging.WithSendMode(mode),
	}
	if cfg.CloudGraphURL != "" {
		opts = append(opts, messaging.WithGraphBaseURL(cfg.CloudGraphURL))
	}
	if cfg.CloudTemplateName != "" {
		opts = append(opts, messaging.WithTemplate(cfg.CloudTemplateName, cfg.CloudTemplateLanguage))
	}
	svc, err := messaging.NewCloudAPIService(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud API transport: %w", err)
	}
	if cfg.CloudAppSecret == "" {
		slog.Warn("buildCloudTransport: WHATSAPP_APP_SECRET not set, webhook signatures are not checked")
	}
	return &transport{
		service: svc,
		apiOpts: []api.Option{api.WithSendModeControl(svc)},
		close:   func() {},
	}, nil
}

func buildTwilioTransport(cfg Config) (*transport, error) {
	client, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio transport: %w", err)
	}
	t := &transport{service: messaging.NewTwilioService(client), close: func() {}}
	if cfg.TwilioWebhookURL != "" {
		v := twiliowhatsapp.NewSignatureValidator(cfg.TwilioAuthToken)
		t.apiOpts = append(t.apiOpts, api.WithTwilioSignature(v, cfg.TwilioWebhookURL))
	} else {
		slog.Warn("buildTwilioTransport: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
	}
	return t, nil
}

func buildWhatsmeowTransport(ctx context.Context, cfg Config) (*transport, error) {
	client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create whatsmeow transport: %w", err)
	}
	svc := messaging.NewWhatsAppService(client)
	return &transport{service: svc, listener: svc, close: client.Disconnect}, nil
}

func buildTransport(ctx context.Context, cfg Config) (*transport, error) {
	switch cfg.Transport {
	case TransportTwilio:
		return buildTwilioTransport(cfg)
	case TransportWhatsmeow:
		return buildWhatsmeowTransport(ctx, cfg)
	default:
		return buildCloudTransport(cfg)
	}
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and conversation engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			initializeLogger(cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg Config) error {
	if err := ensureStateDir(cfg); err != nil {
		return err
	}
	if cfg.usesStateDir() {
		lock, err := lockfile.AcquireLock(cfg.StateDir, "serve")
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	core, err := buildApp(cfg, classifier, nil)
	if err != nil {
		return err
	}
	defer core.Close()

	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer tr.close()
	if err := tr.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer tr.service.Stop()

	handler := messaging.NewResponseHandler(core.router, tr.service, core.backend)
	if tr.listener != nil {
		handler.Start(ctx, tr.listener)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddPurgeJob(cfg.PurgeSchedule, core.backend, scheduler.DefaultPurgeTimeout); err != nil {
		return fmt.Errorf("failed to schedule purge job: %w", err)
	}

	apiOpts := append(buildAPIOptions(cfg), tr.apiOpts...)
	server := api.NewServer(handler, core.router, apiOpts...)
	slog.Info("runServe: PayPipe started", "transport", cfg.Transport, "addr", cfg.APIAddr)
	if err := server.Run(ctx); err != nil {
		return err
	}
	slog.Info("runServe: PayPipe exited")
	return nil
}
