// Package messaging connects WhatsApp transports to the router: it turns
// provider payloads into models.Message values and sends replies back.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of inbound message channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send.
	DefaultChannelTimeout = 1 * time.Second
	// MaxDocumentBytes caps a downloaded attachment.
	MaxDocumentBytes = 10 << 20
)

var (
	ErrServiceStopped = errors.New("messaging service stopped")
	ErrSendFailed     = errors.New("failed to send reply")
)

var nonDigits = regexp.MustCompile(`\D`)

// Service is a pluggable WhatsApp transport.
type Service interface {
	// SendMessage sends a text reply to a canonical "+digits" recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop releases resources.
	Stop() error
}

// Listener is a Service that delivers inbound messages on a channel
// instead of through a webhook.
type Listener interface {
	Service
	Messages() <-chan *models.Message
}

// DocumentFetcher downloads the bytes of an inbound attachment.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, doc *models.Document) error
}

// CanonicalizeRecipient reduces a phone number or provider address
// ("whatsapp:+1 555...") to "+digits".
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := nonDigits.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}
	return "+" + digits, nil
}
