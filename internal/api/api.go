package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PayPipe/internal/messaging"
	"github.com/BTreeMap/PayPipe/internal/twiliowhatsapp"
	"github.com/gorilla/mux"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// MaxWebhookBytes caps an inbound webhook body.
	MaxWebhookBytes = 1 << 20
)

// SendModeController reads and changes the outbound send mode.
type SendModeController interface {
	Mode() messaging.SendMode
	SetMode(m messaging.SendMode) error
}

// Opts configures the HTTP server.
type Opts struct {
	Addr            string
	VerifyToken     string // Cloud API webhook verification token
	AppSecret       string // Cloud API app secret for X-Hub-Signature-256
	TwilioValidator *twiliowhatsapp.SignatureValidator
	TwilioPublicURL string // URL Twilio posts to, as signed
	SendMode        SendModeController
	TestEndpoint    bool
	ShutdownTimeout time.Duration
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token echoed during Cloud API webhook verification.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAppSecret enables X-Hub-Signature-256 checks on POST /webhook.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// WithTwilioSignature enables X-Twilio-Signature checks. publicURL is the
// externally visible URL of /twilio/webhook.
func WithTwilioSignature(v *twiliowhatsapp.SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioValidator = v
		o.TwilioPublicURL = publicURL
	}
}

// WithSendModeControl exposes GET/PUT /config/send-mode.
func WithSendModeControl(c SendModeController) Option {
	return func(o *Opts) { o.SendMode = c }
}

// WithTestEndpoint enables POST /test/message, which returns the reply
// instead of sending it.
func WithTestEndpoint() Option {
	return func(o *Opts) { o.TestEndpoint = true }
}

// Server serves the webhooks and admin endpoints.
type Server struct {
	opts    Opts
	handler *messaging.ResponseHandler
	replier messaging.Replier
	router  *mux.Router
}

// NewServer creates the server and registers its routes.
func NewServer(handler *messaging.ResponseHandler, replier messaging.Replier, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{opts: cfg, handler: handler, replier: replier, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.verifyWebhookHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.cloudWebhookHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/twilio/webhook", s.twilioWebhookHandler).Methods(http.MethodPost)
	if s.opts.SendMode != nil {
		s.router.HandleFunc("/config/send-mode", s.getSendModeHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/config/send-mode", s.putSendModeHandler).Methods(http.MethodPut)
	}
	if s.opts.TestEndpoint {
		s.router.HandleFunc("/test/message", s.testMessageHandler).Methods(http.MethodPost)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
