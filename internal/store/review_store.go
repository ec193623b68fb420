package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/inbox-triage/internal/model"
)

const reviewColumns = `id, assignment_id, message_id, original_category,
	original_subcategory, approved, corrected_category, corrected_subcategory,
	human_reasoning, reviewer, created_at`

// ApplyReview records a human review of an assignment. When correction is
// non-nil it is appended as the message's new latest assignment in the same
// transaction, so either both rows are written or neither is.
//
// The reviewed assignment must still be the latest for its message and must
// not already have a review.
func (s *SQLiteStore) ApplyReview(
	ctx context.Context,
	r *model.ReviewRecord,
	correction *model.CategoryAssignment,
) error {
	if r.AssignmentID == "" || r.MessageID == "" {
		return fmt.Errorf("review needs assignment_id and message_id")
	}
	if !r.Approved && correction == nil {
		return fmt.Errorf("review of %s rejects the assignment without a correction", r.AssignmentID)
	}

	unlock := s.locks.Lock(r.MessageID)
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	latest, err := latestAssignment(ctx, tx, r.MessageID)
	if err != nil {
		return fmt.Errorf("applying review: %w", err)
	}
	if latest.ID != r.AssignmentID {
		return fmt.Errorf("reviewing %s: %w", r.AssignmentID, ErrStaleAssignment)
	}

	var existing int
	err = tx.GetContext(ctx, &existing,
		"SELECT COUNT(*) FROM review_records WHERE assignment_id = ?", r.AssignmentID)
	if err != nil {
		return fmt.Errorf("checking existing review: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("reviewing %s: %w", r.AssignmentID, ErrAlreadyReviewed)
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.OriginalCategory = latest.Category
	r.OriginalSubcategory = latest.Subcategory

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_records (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AssignmentID, r.MessageID, r.OriginalCategory,
		r.OriginalSubcategory, boolToInt(r.Approved), r.CorrectedCategory,
		r.CorrectedSubcategory, r.HumanReasoning, r.Reviewer, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting review for %s: %w", r.AssignmentID, err)
	}

	if correction != nil {
		correction.MessageID = r.MessageID
		if correction.CreatedAt.IsZero() || !correction.CreatedAt.After(latest.CreatedAt) {
			correction.CreatedAt = s.now()
		}
		if err := s.insertAssignment(ctx, tx, correction); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReviewForAssignment returns the review of an assignment, or ErrNotFound.
func (s *SQLiteStore) ReviewForAssignment(ctx context.Context, assignmentID string) (*model.ReviewRecord, error) {
	var r model.ReviewRecord
	err := s.db.GetContext(ctx, &r,
		"SELECT "+reviewColumns+" FROM review_records WHERE assignment_id = ?", assignmentID)
	if err != nil {
		return nil, fmt.Errorf("getting review for %s: %w", assignmentID, notFound(err))
	}
	return &r, nil
}

// ApprovedExamples returns recent human-confirmed labelings for pair: reviews
// that approved the pair and corrections that moved a message to it.
func (s *SQLiteStore) ApprovedExamples(ctx context.Context, pair model.Pair, limit int) ([]model.ReviewExample, error) {
	if limit <= 0 {
		limit = 5
	}

	var examples []model.ReviewExample
	err := s.db.SelectContext(ctx, &examples, `
		SELECT r.message_id, m.sender, m.subject, r.human_reasoning
		FROM review_records r
		JOIN messages m ON m.id = r.message_id
		WHERE (r.approved = 1 AND r.original_category = ? AND r.original_subcategory = ?)
		   OR (r.approved = 0 AND r.corrected_category = ? AND r.corrected_subcategory = ?)
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ?`,
		pair.Category, pair.Subcategory, pair.Category, pair.Subcategory, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying examples for %s: %w", pair, err)
	}
	return examples, nil
}

// IsReviewConflict reports whether err means the review cannot be applied
// because of the current state of the assignment history.
func IsReviewConflict(err error) bool {
	return errors.Is(err, ErrAlreadyReviewed) || errors.Is(err, ErrStaleAssignment)
}
