package store

import "context"

// DedupRepo records which inbound messages were fully handled.
//
// A message is marked processed only after its reply was sent, so a delivery
// that failed to send is handled again when the provider redelivers it.
type DedupRepo interface {
	// IsProcessed reports whether messageID was marked processed within the dedup window.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed records messageID as handled for the sender.
	MarkProcessed(ctx context.Context, messageID, senderID string) error
}
