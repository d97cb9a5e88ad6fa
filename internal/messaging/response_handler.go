package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/store"
)

// Replier produces the reply for one inbound message.
type Replier interface {
	Handle(ctx context.Context, msg *models.Message) (string, error)
}

// Result describes what ProcessMessage did.
type Result struct {
	Duplicate bool
	Reply     string
}

// ResponseHandler runs one inbound message through dedup, the router and the
// transport. A message is marked processed only after its reply was sent.
type ResponseHandler struct {
	replier Replier
	service Service
	dedup   store.DedupRepo
}

// NewResponseHandler creates a handler. dedup may be nil to disable deduplication.
func NewResponseHandler(replier Replier, service Service, dedup store.DedupRepo) *ResponseHandler {
	return &ResponseHandler{replier: replier, service: service, dedup: dedup}
}

// ProcessMessage handles one inbound message. A send failure is returned
// wrapped in ErrSendFailed so webhook callers can ask for redelivery.
func (rh *ResponseHandler) ProcessMessage(ctx context.Context, msg *models.Message) (Result, error) {
	from, err := CanonicalizeRecipient(msg.From)
	if err != nil {
		return Result{}, fmt.Errorf("invalid sender: %w", err)
	}
	msg.From = from
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}

	if rh.dedup != nil {
		seen, err := rh.dedup.IsProcessed(ctx, msg.ID)
		if err != nil {
			slog.Warn("ResponseHandler.ProcessMessage: dedup lookup failed, processing anyway", "error", err, "messageID", msg.ID)
		} else if seen {
			slog.Info("ResponseHandler.ProcessMessage: duplicate delivery ignored", "messageID", msg.ID, "from", from)
			return Result{Duplicate: true}, nil
		}
	}

	if msg.HasDocument() && len(msg.Document.Data) == 0 {
		if fetcher, ok := rh.service.(DocumentFetcher); ok {
			if err := fetcher.FetchDocument(ctx, msg.Document); err != nil {
				// The flow engine answers a document without data with a re-upload prompt.
				slog.Error("ResponseHandler.ProcessMessage: document download failed", "error", err, "messageID", msg.ID)
			}
		}
	}

	reply, err := rh.replier.Handle(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to handle message %s: %w", msg.ID, err)
	}
	if reply == "" {
		slog.Debug("ResponseHandler.ProcessMessage: nothing to send", "messageID", msg.ID)
	} else if err := rh.service.SendMessage(ctx, from, reply); err != nil {
		slog.Error("ResponseHandler.ProcessMessage: send failed", "error", err, "to", from, "messageID", msg.ID)
		return Result{Reply: reply}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if rh.dedup != nil {
		if err := rh.dedup.MarkProcessed(ctx, msg.ID, from); err != nil {
			slog.Warn("ResponseHandler.ProcessMessage: failed to mark processed", "error", err, "messageID", msg.ID)
		}
	}
	slog.Info("ResponseHandler.ProcessMessage: replied", "from", from, "messageID", msg.ID)
	return Result{Reply: reply}, nil
}

// Start consumes a Listener's channel until ctx is done or the channel closes.
func (rh *ResponseHandler) Start(ctx context.Context, l Listener) {
	slog.Info("ResponseHandler.Start: processing inbound messages")
	go func() {
		defer slog.Info("ResponseHandler.Start: stopped")
		for {
			select {
			case msg, ok := <-l.Messages():
				if !ok {
					return
				}
				if _, err := rh.ProcessMessage(ctx, msg); err != nil {
					slog.Error("ResponseHandler.Start: failed to process message", "error", err, "messageID", msg.ID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
