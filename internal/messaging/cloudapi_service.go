package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
)

const (
	// DefaultGraphBaseURL is the WhatsApp Cloud API endpoint.
	DefaultGraphBaseURL = "https://graph.facebook.com/v21.0"
	// DefaultCloudAPITimeout bounds one Graph API call.
	DefaultCloudAPITimeout = 15 * time.Second
)

// SendMode selects how outbound replies are delivered.
type SendMode string

const (
	SendModeText     SendMode = "text"
	SendModeTemplate SendMode = "template"
)

// ParseSendMode validates a send mode name.
func ParseSendMode(s string) (SendMode, error) {
	switch m := SendMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SendModeText, SendModeTemplate:
		return m, nil
	}
	return "", fmt.Errorf("unknown send mode %q (want text or template)", s)
}

// CloudAPIOpts configures the Cloud API transport.
type CloudAPIOpts struct {
	BaseURL          string
	PhoneNumberID    string
	AccessToken      string
	TemplateName     string
	TemplateLanguage string
	Mode             SendMode
	HTTPClient       *http.Client
}

// CloudAPIOption configures a CloudAPIService.
type CloudAPIOption func(*CloudAPIOpts)

// WithGraphBaseURL overrides DefaultGraphBaseURL.
func WithGraphBaseURL(u string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = strings.TrimRight(u, "/") }
}

// WithPhoneNumberID sets the sending business phone number id.
func WithPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.AccessToken = token }
}

// WithTemplate sets the template used in template send mode. Its body must
// take a single text parameter.
func WithTemplate(name, language string) CloudAPIOption {
	return func(o *CloudAPIOpts) {
		o.TemplateName = name
		o.TemplateLanguage = language
	}
}

// WithSendMode sets the initial send mode.
func WithSendMode(m SendMode) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.Mode = m }
}

// WithCloudHTTPClient sets the HTTP client.
func WithCloudHTTPClient(c *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = c }
}

// CloudAPIService sends through the WhatsApp Business Cloud API. It owns the
// process-wide send mode.
type CloudAPIService struct {
	cfg  CloudAPIOpts
	http *http.Client

	mu   sync.RWMutex
	mode SendMode
}

var (
	_ Service         = (*CloudAPIService)(nil)
	_ DocumentFetcher = (*CloudAPIService)(nil)
)

// NewCloudAPIService creates the transport.
func NewCloudAPIService(opts ...CloudAPIOption) (*CloudAPIService, error) {
	cfg := CloudAPIOpts{
		BaseURL:          DefaultGraphBaseURL,
		TemplateLanguage: "en_US",
		Mode:             SendModeText,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("phone number id and access token must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultCloudAPITimeout}
	}
	s := &CloudAPIService{cfg: cfg, http: cfg.HTTPClient}
	if err := s.SetMode(cfg.Mode); err != nil {
		return nil, err
	}
	return s, nil
}

// Mode returns the current send mode.
func (s *CloudAPIService) Mode() SendMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the send mode. Template mode needs a configured template.
func (s *CloudAPIService) SetMode(m SendMode) error {
	if _, err := ParseSendMode(string(m)); err != nil {
		return err
	}
	if m == SendModeTemplate && s.cfg.TemplateName == "" {
		return fmt.Errorf("template send mode requires a template name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != m {
		slog.Info("CloudAPIService.SetMode: send mode changed", "from", s.mode, "to", m)
	}
	s.mode = m
	return nil
}

func (s *CloudAPIService) Start(context.Context) error { return nil }

func (s *CloudAPIService) Stop() error { return nil }

type textBody struct {
	Body string `json:"body"`
}

type templateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []templateParam `json:"parameters"`
}

type templateBody struct {
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Components []templateComponent `json:"components"`
}

type outboundMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
}

func (s *CloudAPIService) buildMessage(to, body string) outboundMessage {
	out := outboundMessage{MessagingProduct: "whatsapp", To: strings.TrimPrefix(to, "+")}
	if s.Mode() == SendModeTemplate {
		tpl := &templateBody{Name: s.cfg.TemplateName}
		tpl.Language.Code = s.cfg.TemplateLanguage
		tpl.Components = []templateComponent{{Type: "body", Parameters: []templateParam{{Type: "text", Text: body}}}}
		out.Type = "template"
		out.Template = tpl
		return out
	}
	out.Type = "text"
	out.Text = &textBody{Body: body}
	return out
}

// SendMessage posts a reply in the current send mode.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	payload, err := json.Marshal(s.buildMessage(to, body))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", s.cfg.BaseURL, s.cfg.PhoneNumberID)
	resp, err := s.do(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	resp.Body.Close()
	slog.Debug("CloudAPIService.SendMessage: sent", "to", to, "mode", s.Mode(), "body_length", len(body))
	return nil
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// FetchDocument resolves doc.MediaID to a download URL and downloads it.
func (s *CloudAPIService) FetchDocument(ctx context.Context, doc *models.Document) error {
	if doc.MediaID == "" {
		return fmt.Errorf("document has no media id")
	}
	resp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", s.cfg.BaseURL, doc.MediaID), nil)
	if err != nil {
		return fmt.Errorf("failed to resolve media %s: %w", doc.MediaID, err)
	}
	var info mediaInfo
	err = json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to decode media info: %w", err)
	}
	if info.FileSize > MaxDocumentBytes {
		return fmt.Errorf("media %s is %d bytes, limit is %d", doc.MediaID, info.FileSize, MaxDocumentBytes)
	}

	resp, err = s.do(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to download media %s: %w", doc.MediaID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read media %s: %w", doc.MediaID, err)
	}
	doc.Data = data
	if doc.MimeType == "" {
		doc.MimeType = info.MimeType
	}
	return nil
}

func (s *CloudAPIService) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("graph api status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
