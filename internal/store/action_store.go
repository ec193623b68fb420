package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/inbox-triage/internal/model"
)

const actionColumns = `id, message_id, assignment_id, category, subcategory,
	action, payload, summary, success, error, handler, outcome, created_at`

// RecordAction appends an action record for the assignment it was run
// against. Generates a UUID if ID is empty.
func (s *SQLiteStore) RecordAction(ctx context.Context, r *model.ActionRecord) error {
	if r.MessageID == "" || r.AssignmentID == "" {
		return fmt.Errorf("action record needs message_id and assignment_id")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Payload == "" {
		r.Payload = "{}"
	}

	unlock := s.locks.Lock(r.MessageID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_records (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MessageID, r.AssignmentID, r.Category, r.Subcategory,
		r.Action, r.Payload, r.Summary, boolToInt(r.Success), r.Error,
		r.Handler, string(r.Outcome), r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording action for message %s: %w", r.MessageID, err)
	}
	return nil
}

// ListPendingActions returns messages whose latest assignment has no action
// record yet, including messages re-categorized after an earlier action.
func (s *SQLiteStore) ListPendingActions(ctx context.Context, limit int) ([]model.PendingAction, error) {
	query := `
		SELECT ` + assignmentColumns + ` FROM (` + latestAssignmentsQuery + `) la
		WHERE NOT EXISTS (
			SELECT 1 FROM action_records r WHERE r.assignment_id = la.id
		)
		ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var assignments []model.CategoryAssignment
	if err := s.db.SelectContext(ctx, &assignments, query); err != nil {
		return nil, fmt.Errorf("querying pending actions: %w", err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.MessageID)
	}
	msgs, err := s.messagesByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	pending := make([]model.PendingAction, 0, len(assignments))
	for _, a := range assignments {
		msg, ok := msgs[a.MessageID]
		if !ok {
			continue
		}
		pending = append(pending, model.PendingAction{Message: msg, Assignment: a})
	}
	return pending, nil
}

// ActionsForMessage returns every action record of a message, oldest first,
// including superseded ones.
func (s *SQLiteStore) ActionsForMessage(ctx context.Context, messageID string) ([]model.ActionRecord, error) {
	var records []model.ActionRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT `+actionColumns+` FROM action_records
		WHERE message_id = ?
		ORDER BY created_at ASC, rowid ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying actions for %s: %w", messageID, err)
	}
	return records, nil
}

// messagesByID loads the given messages keyed by ID.
func (s *SQLiteStore) messagesByID(ctx context.Context, ids []string) (map[string]model.Message, error) {
	out := make(map[string]model.Message, len(ids))
	err := selectIn(ctx, s.db,
		"SELECT "+messageColumns+" FROM messages WHERE id IN (?)",
		ids,
		func(m model.Message) { out[m.ID] = m },
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	return out, nil
}
