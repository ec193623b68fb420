package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/inbox-triage/internal/model"
)

const assignmentColumns = `id, message_id, category, subcategory, confidence,
	reasoning, agent, fallback, created_at`

// latestAssignmentsQuery selects the newest assignment per message.
const latestAssignmentsQuery = `
	SELECT ` + assignmentColumns + ` FROM (
		SELECT a.*, ROW_NUMBER() OVER (
			PARTITION BY message_id ORDER BY created_at DESC, rowid DESC
		) AS rn
		FROM category_assignments a
	) WHERE rn = 1`

// AppendAssignment appends a new assignment for a message. Existing
// assignments are never modified.
func (s *SQLiteStore) AppendAssignment(ctx context.Context, a *model.CategoryAssignment) error {
	if a.MessageID == "" {
		return fmt.Errorf("assignment message_id must not be empty")
	}

	unlock := s.locks.Lock(a.MessageID)
	defer unlock()

	return s.insertAssignment(ctx, s.db, a)
}

// insertAssignment writes a using ext, which may be the database or an
// open transaction. The caller holds the message lock.
func (s *SQLiteStore) insertAssignment(ctx context.Context, ext sqlx.ExtContext, a *model.CategoryAssignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	_, err := ext.ExecContext(ctx, `
		INSERT INTO category_assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, a.Category, a.Subcategory, a.Confidence,
		a.Reasoning, a.Agent, boolToInt(a.Fallback), a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending assignment for message %s: %w", a.MessageID, err)
	}
	return nil
}

// GetAssignment retrieves a single assignment by ID.
func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*model.CategoryAssignment, error) {
	var a model.CategoryAssignment
	err := s.db.GetContext(ctx, &a,
		"SELECT "+assignmentColumns+" FROM category_assignments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting assignment %s: %w", id, notFound(err))
	}
	return &a, nil
}

// LatestAssignment returns the authoritative assignment for a message, or
// ErrNotFound if the message is unclassified.
func (s *SQLiteStore) LatestAssignment(ctx context.Context, messageID string) (*model.CategoryAssignment, error) {
	return latestAssignment(ctx, s.db, messageID)
}

func latestAssignment(ctx context.Context, q sqlx.QueryerContext, messageID string) (*model.CategoryAssignment, error) {
	var a model.CategoryAssignment
	err := sqlx.GetContext(ctx, q, &a, `
		SELECT `+assignmentColumns+` FROM category_assignments
		WHERE message_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, messageID)
	if err != nil {
		return nil, fmt.Errorf("getting latest assignment for %s: %w", messageID, notFound(err))
	}
	return &a, nil
}

// AssignmentHistory returns every assignment for a message, oldest first.
func (s *SQLiteStore) AssignmentHistory(ctx context.Context, messageID string) ([]model.CategoryAssignment, error) {
	var history []model.CategoryAssignment
	err := s.db.SelectContext(ctx, &history, `
		SELECT `+assignmentColumns+` FROM category_assignments
		WHERE message_id = ?
		ORDER BY created_at ASC, rowid ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying assignment history for %s: %w", messageID, err)
	}
	return history, nil
}
