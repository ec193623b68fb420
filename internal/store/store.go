package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/inbox-triage/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReviewed is returned when an assignment already has a review.
	ErrAlreadyReviewed = errors.New("assignment already reviewed")

	// ErrStaleAssignment is returned when a review targets an assignment that
	// is no longer the latest for its message.
	ErrStaleAssignment = errors.New("assignment is not the latest for its message")
)

// MessageFilter controls filtering and pagination for message queries.
type MessageFilter struct {
	Since *time.Time // received_at >= Since
	Until *time.Time // received_at <= Until
	Query *string    // search sender + subject
	Limit int
}

// OverviewFilter selects messages for review export and summaries.
type OverviewFilter struct {
	Since *time.Time
	Until *time.Time

	// Pair restricts to messages whose latest assignment has this pair.
	Pair *model.Pair

	// Unreviewed keeps only messages whose latest assignment has no review.
	Unreviewed bool

	// Classified drops messages without any assignment.
	Classified bool

	Limit int
}

// Stats holds row counts per table.
type Stats struct {
	Messages     int `db:"messages" json:"messages"`
	Assignments  int `db:"assignments" json:"assignments"`
	Actions      int `db:"actions" json:"actions"`
	Reviews      int `db:"reviews" json:"reviews"`
	Unclassified int `db:"unclassified" json:"unclassified"`
}

// Store defines the persistence interface for messages, category
// assignments, action records and review records.
type Store interface {
	// === Messages ===

	// InsertMessage stores msg unless its external ID already exists.
	// It reports whether a row was written.
	InsertMessage(ctx context.Context, msg *model.Message) (bool, error)
	MessageExists(ctx context.Context, externalID string) (bool, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)
	ListUnclassified(ctx context.Context, limit int) ([]model.Message, error)
	PurgeMessage(ctx context.Context, id string) error

	// === Category assignments ===

	AppendAssignment(ctx context.Context, a *model.CategoryAssignment) error
	GetAssignment(ctx context.Context, id string) (*model.CategoryAssignment, error)
	LatestAssignment(ctx context.Context, messageID string) (*model.CategoryAssignment, error)
	AssignmentHistory(ctx context.Context, messageID string) ([]model.CategoryAssignment, error)

	// === Action records ===

	RecordAction(ctx context.Context, r *model.ActionRecord) error
	ListPendingActions(ctx context.Context, limit int) ([]model.PendingAction, error)
	ActionsForMessage(ctx context.Context, messageID string) ([]model.ActionRecord, error)

	// === Reviews ===

	// ApplyReview writes r and, when correction is non-nil, appends it as a
	// new assignment. Both writes happen in one transaction.
	ApplyReview(ctx context.Context, r *model.ReviewRecord, correction *model.CategoryAssignment) error
	ReviewForAssignment(ctx context.Context, assignmentID string) (*model.ReviewRecord, error)
	ApprovedExamples(ctx context.Context, pair model.Pair, limit int) ([]model.ReviewExample, error)

	// === Reporting ===

	ListOverviews(ctx context.Context, filter OverviewFilter) ([]model.MessageOverview, error)
	Stats(ctx context.Context) (*Stats, error)
}
