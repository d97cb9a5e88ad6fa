package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through the HTTP webhook.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	mu      sync.RWMutex
	stopped bool
}

var (
	_ Service         = (*TwilioService)(nil)
	_ DocumentFetcher = (*TwilioService)(nil)
)

// NewTwilioService wraps a real Twilio client or a mock.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

func (s *TwilioService) Start(context.Context) error { return nil }

// Stop rejects further sends.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendMessage sends a text via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := CanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// FetchDocument downloads a Twilio media URL stored in doc.MediaID.
func (s *TwilioService) FetchDocument(ctx context.Context, doc *models.Document) error {
	data, err := s.client.FetchMedia(ctx, doc.MediaID, MaxDocumentBytes)
	if err != nil {
		return err
	}
	doc.Data = data
	return nil
}

// ParseTwilioForm converts an inbound Twilio webhook form to a message.
// The first attachment, if any, becomes the document.
func ParseTwilioForm(form url.Values) (*models.Message, error) {
	msg := &models.Message{
		ID:   form.Get("MessageSid"),
		From: form.Get("From"),
		Body: form.Get("Body"),
		Time: time.Now().Unix(),
	}
	if msg.ID == "" {
		msg.ID = form.Get("SmsMessageSid")
	}
	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		msg.Document = &models.Document{
			MediaID:  form.Get("MediaUrl0"),
			MimeType: form.Get("MediaContentType0"),
		}
	}
	if msg.From == "" || (msg.Body == "" && msg.Document == nil) {
		return nil, fmt.Errorf("twilio webhook missing From or content")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
