package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nhle/inbox-triage/internal/model"
)

const messageColumns = `id, external_id, sender, subject, received_at, body,
	attachment_text, attachment_count, ingested_at`

// InsertMessage inserts msg unless a message with the same external ID
// exists. Generates a UUID if ID is empty.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	if strings.TrimSpace(msg.ExternalID) == "" {
		return false, fmt.Errorf("message external_id must not be empty")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.IngestedAt.IsZero() {
		msg.IngestedAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		msg.ID, msg.ExternalID, msg.Sender, msg.Subject, msg.ReceivedAt.UTC(), msg.Body,
		msg.AttachmentText, msg.AttachmentCount, msg.IngestedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", msg.ExternalID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert of message %s: %w", msg.ExternalID, err)
	}
	return n > 0, nil
}

// MessageExists reports whether a message with externalID is stored.
func (s *SQLiteStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE external_id = ?", externalID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", externalID, err)
	}
	return count > 0, nil
}

// GetMessage retrieves a single message by its ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.GetContext(ctx, &msg,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, notFound(err))
	}
	return &msg, nil
}

// GetMessageByExternalID retrieves a single message by its provider ID.
func (s *SQLiteStore) GetMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.GetContext(ctx, &msg,
		"SELECT "+messageColumns+" FROM messages WHERE external_id = ?", externalID)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", externalID, notFound(err))
	}
	return &msg, nil
}

// ListMessages retrieves messages matching filter, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if filter.Since != nil {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		conditions = append(conditions, "received_at <= ?")
		args = append(args, filter.Until.UTC())
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, "(sender LIKE ? OR subject LIKE ?)")
		q := "%" + *filter.Query + "%"
		args = append(args, q, q)
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return msgs, nil
}

// ListUnclassified returns messages without any category assignment,
// oldest first.
func (s *SQLiteStore) ListUnclassified(ctx context.Context, limit int) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages m
		WHERE NOT EXISTS (
			SELECT 1 FROM category_assignments a WHERE a.message_id = m.id
		)
		ORDER BY received_at ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query); err != nil {
		return nil, fmt.Errorf("querying unclassified messages: %w", err)
	}
	return msgs, nil
}

// PurgeMessage deletes a message and, through cascading foreign keys, its
// assignments, action records and reviews. It is an administrative operation.
func (s *SQLiteStore) PurgeMessage(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("purging message %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("purging message %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("purging message %s: %w", id, ErrNotFound)
	}
	return nil
}
