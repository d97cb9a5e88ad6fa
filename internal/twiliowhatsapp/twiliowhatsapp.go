// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DefaultMediaTimeout bounds a media download.
const DefaultMediaTimeout = 30 * time.Second

var ErrMediaTooLarge = errors.New("media exceeds size limit")

// Sender sends WhatsApp messages through Twilio.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	FetchMedia(ctx context.Context, url string, limit int64) ([]byte, error)
}

// Opts holds Twilio credentials and the sending number.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // "whatsapp:+1234567890"
	HTTPClient *http.Client
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used for webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithHTTPClient sets the HTTP client used for media downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
	sid       string
	token     string
	http      *http.Client
}

var _ Sender = (*Client)(nil)

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultMediaTimeout}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:    client,
		fromWhats: cfg.FromWhats,
		sid:       cfg.AccountSID,
		token:     cfg.AuthToken,
		http:      cfg.HTTPClient,
	}, nil
}

// SendMessage sends a WhatsApp text using the Twilio Messages API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Debug("Client.SendMessage: sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// FetchMedia downloads an inbound attachment (MediaUrl0). Twilio media URLs
// require the account credentials.
func (c *Client) FetchMedia(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(c.sid, c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}
	return readLimited(resp.Body, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrMediaTooLarge
	}
	return data, nil
}

// SignatureValidator checks X-Twilio-Signature on inbound webhooks.
type SignatureValidator struct {
	rv twilioClient.RequestValidator
}

// NewSignatureValidator creates a validator for the given auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{rv: twilioClient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full request URL and form parameters.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	return v.rv.Validate(url, params, signature)
}

// MockClient records sent messages and serves canned media.
type MockClient struct {
	SentMessages []SentMessage
	Media        map[string][]byte
	SendErr      error
}

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{Media: map[string][]byte{}}
}

func (m *MockClient) SendMessage(_ context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) FetchMedia(_ context.Context, url string, limit int64) ([]byte, error) {
	data, ok := m.Media[url]
	if !ok {
		return nil, fmt.Errorf("no media at %s", url)
	}
	if int64(len(data)) > limit {
		return nil, ErrMediaTooLarge
	}
	return data, nil
}
