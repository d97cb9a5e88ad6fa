package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id FROM inbound_dedup WHERE message_id = $1 AND processed_at > $2`,
		messageID, s.now().Add(-s.window).UnixMilli(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID, senderID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, sender_id, processed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO UPDATE SET processed_at = EXCLUDED.processed_at`,
		messageID, senderID, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
