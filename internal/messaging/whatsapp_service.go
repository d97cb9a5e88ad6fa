package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

// waClient is the whatsmeow-backed client surface the service needs.
type waClient interface {
	whatsapp.Sender
	AddEventHandler(fn func(evt any))
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// WhatsAppService implements Listener on a linked WhatsApp Web device.
type WhatsAppService struct {
	client   whatsapp.Sender
	events   waClient
	messages chan *models.Message
	ctx      context.Context

	mu      sync.Mutex
	stopped bool
}

var _ Listener = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client. Inbound events are only available when
// client is a full whatsmeow client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:   client,
		messages: make(chan *models.Message, DefaultChannelBufferSize),
		ctx:      context.Background(),
	}
	if full, ok := client.(waClient); ok {
		s.events = full
	} else {
		slog.Debug("WhatsAppService created without event support (likely mock)")
	}
	return s
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.ctx = ctx
	if s.events != nil {
		s.events.AddEventHandler(func(evt any) {
			if m, ok := evt.(*events.Message); ok {
				s.handleIncoming(m)
			}
		})
		slog.Debug("WhatsAppService.Start: event handler registered")
	}
	return nil
}

// Stop closes the message channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.messages)
	}
	return nil
}

func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	return s.client.SendMessage(ctx, to, body)
}

func (s *WhatsAppService) Messages() <-chan *models.Message {
	return s.messages
}

func (s *WhatsAppService) handleIncoming(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	msg := s.convert(evt)
	if msg == nil {
		slog.Debug("WhatsAppService.handleIncoming: ignoring unsupported message", "from", evt.Info.Sender.User)
		return
	}
	s.emit(msg)
}

func (s *WhatsAppService) convert(evt *events.Message) *models.Message {
	if evt.Message == nil {
		return nil
	}
	msg := &models.Message{
		ID:   string(evt.Info.ID),
		From: "+" + evt.Info.Sender.User,
		Time: evt.Info.Timestamp.Unix(),
	}
	m := evt.Message
	switch {
	case m.GetConversation() != "":
		msg.Body = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		msg.Body = m.GetExtendedTextMessage().GetText()
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		msg.Body = doc.GetCaption()
		msg.Document = s.download(doc, doc.GetFileName(), doc.GetMimetype())
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		msg.Body = img.GetCaption()
		msg.Document = s.download(img, "", img.GetMimetype())
	default:
		return nil
	}
	return msg
}

// download fetches the attachment eagerly; whatsmeow media keys live on the event.
func (s *WhatsAppService) download(m whatsmeow.DownloadableMessage, filename, mime string) *models.Document {
	doc := &models.Document{Filename: filename, MimeType: mime}
	if s.events == nil {
		return doc
	}
	if sized, ok := m.(interface{ GetFileLength() uint64 }); ok && sized.GetFileLength() > MaxDocumentBytes {
		slog.Warn("WhatsAppService.download: attachment too large", "bytes", sized.GetFileLength())
		return doc
	}
	data, err := s.events.Download(s.ctx, m)
	if err != nil {
		slog.Error("WhatsAppService.download: failed", "error", err)
		return doc
	}
	doc.Data = data
	return doc
}

func (s *WhatsAppService) emit(msg *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService.emit: message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.emit: channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
