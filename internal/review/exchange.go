package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// DefaultReviewer is recorded when no reviewer name is configured.
const DefaultReviewer = "reviewer"

// ExportFilter selects the messages to export.
type ExportFilter struct {
	Since *time.Time
	Until *time.Time
	Pair  *model.Pair

	// IncludeReviewed also exports messages whose latest assignment already
	// has a review. Such entries are marked Reviewed and import as
	// AlreadyReviewed if edited.
	IncludeReviewed bool

	Limit int
}

// Rejection explains why an entry was not applied.
type Rejection struct {
	Index     int    `json:"index"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Applied         int `json:"applied"`
	Approved        int `json:"approved"`
	Corrected       int `json:"corrected"`
	Unedited        int `json:"unedited"`
	RejectedInvalid int `json:"rejected_invalid"`
	AlreadyReviewed int `json:"already_reviewed"`
	Failed          int `json:"failed"`

	Rejections []Rejection `json:"rejections,omitempty"`
}

// Options configures an Exchange.
type Options struct {
	Reviewer string
	Logger   *zap.Logger
	Now      func() time.Time
}

// Exchange moves review documents in and out of the store.
type Exchange struct {
	store    store.Store
	taxonomy *model.Taxonomy
	reviewer string
	logger   *zap.Logger
	now      func() time.Time
}

// NewExchange creates an exchange.
func NewExchange(st store.Store, tax *model.Taxonomy, opts Options) *Exchange {
	e := &Exchange{
		store:    st,
		taxonomy: tax,
		reviewer: opts.Reviewer,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if e.reviewer == "" {
		e.reviewer = DefaultReviewer
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ExportPending builds a document of classified messages whose latest
// assignment has not been reviewed, newest first.
func (e *Exchange) ExportPending(ctx context.Context, filter ExportFilter) (*Document, error) {
	overviews, err := e.store.ListOverviews(ctx, store.OverviewFilter{
		Since:      filter.Since,
		Until:      filter.Until,
		Pair:       filter.Pair,
		Unreviewed: !filter.IncludeReviewed,
		Classified: true,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting messages for review: %w", err)
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading store stats: %w", err)
	}

	doc := &Document{
		Metadata: Metadata{
			ExportDate:    e.now().UTC(),
			TotalMessages: stats.Messages,
			Categorized:   stats.Messages - stats.Unclassified,
		},
		Entries: make([]Entry, 0, len(overviews)),
	}

	for _, o := range overviews {
		a := o.Assignment
		entry := Entry{
			MessageID:           o.Message.ID,
			ExternalID:          o.Message.ExternalID,
			AssignmentID:        a.ID,
			Sender:              o.Message.Sender,
			Subject:             o.Message.Subject,
			Date:                o.Message.ReceivedAt.UTC(),
			OriginalCategory:    a.Category,
			OriginalSubcategory: a.Subcategory,
			Confidence:          a.Confidence,
			Reasoning:           a.Reasoning,
			Fallback:            a.Fallback,
			Reviewed:            o.Review != nil,
		}
		if o.Action != nil {
			entry.ActionSummary = o.Action.Summary
		}
		if !entry.Reviewed {
			doc.Metadata.PendingReview++
		}
		doc.Entries = append(doc.Entries, entry)
	}

	e.logger.Info("exported review document",
		zap.Int("entries", len(doc.Entries)),
		zap.Int("pending", doc.Metadata.PendingReview),
	)
	return doc, nil
}

// ImportReviews applies the filled-in entries of doc. Entries nobody edited
// are skipped. Invalid entries are rejected with a reason and write nothing.
// Each applied entry is one transaction, so a failure never leaves part of
// an entry behind.
func (e *Exchange) ImportReviews(ctx context.Context, doc *Document) (ImportResult, error) {
	var res ImportResult
	if doc == nil {
		return res, nil
	}

	for i, entry := range doc.Entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if entry.Review.Untouched() {
			res.Unedited++
			continue
		}

		reject := func(reason string) {
			res.RejectedInvalid++
			res.Rejections = append(res.Rejections, Rejection{Index: i, MessageID: entry.MessageID, Reason: reason})
			e.logger.Warn("rejected review entry",
				zap.Int("index", i),
				zap.String("message_id", entry.MessageID),
				zap.String("reason", reason),
			)
		}

		record, correction, reason, err := e.prepare(ctx, entry)
		if err != nil {
			return res, err
		}
		if reason != "" {
			reject(reason)
			continue
		}

		err = e.store.ApplyReview(ctx, record, correction)
		switch {
		case err == nil:
			res.Applied++
			if record.Approved {
				res.Approved++
			} else {
				res.Corrected++
			}
		case errors.Is(err, store.ErrAlreadyReviewed):
			res.AlreadyReviewed++
		case errors.Is(err, store.ErrStaleAssignment):
			reject("assignment was superseded by a newer categorization; export again")
		default:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			res.Rejections = append(res.Rejections, Rejection{Index: i, MessageID: entry.MessageID, Reason: err.Error()})
			e.logger.Error("applying review", zap.String("message_id", entry.MessageID), zap.Error(err))
		}
	}

	e.logger.Info("imported reviews",
		zap.Int("applied", res.Applied),
		zap.Int("unedited", res.Unedited),
		zap.Int("rejected_invalid", res.RejectedInvalid),
		zap.Int("already_reviewed", res.AlreadyReviewed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// prepare validates entry against the store and the taxonomy. A non-empty
// reason rejects the entry; err is reserved for store failures.
func (e *Exchange) prepare(ctx context.Context, entry Entry) (*model.ReviewRecord, *model.CategoryAssignment, string, error) {
	f := entry.Review
	if f.Approved == nil {
		return nil, nil, "approved must be true or false", nil
	}
	if entry.AssignmentID == "" || entry.MessageID == "" {
		return nil, nil, "entry has no email_id or assignment_id", nil
	}

	a, err := e.store.GetAssignment(ctx, entry.AssignmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, "unknown assignment " + entry.AssignmentID, nil
	}
	if err != nil {
		return nil, nil, "", err
	}
	if a.MessageID != entry.MessageID {
		return nil, nil, "assignment does not belong to the referenced message", nil
	}

	corrected := model.Pair{Category: value(f.CorrectedCategory), Subcategory: value(f.CorrectedSubcategory)}
	hasCorrection := corrected.Category != "" || corrected.Subcategory != ""

	record := &model.ReviewRecord{
		AssignmentID:   a.ID,
		MessageID:      a.MessageID,
		Approved:       *f.Approved,
		HumanReasoning: value(f.HumanReasoning),
		Reviewer:       e.reviewer,
	}

	if *f.Approved {
		if hasCorrection && corrected != a.Pair() {
			return nil, nil, "approved entry carries a different corrected pair", nil
		}
		return record, nil, "", nil
	}

	switch {
	case corrected.Category == "" || corrected.Subcategory == "":
		return nil, nil, "rejected entry needs corrected_category and corrected_subcategory", nil
	case !e.taxonomy.Allows(corrected):
		return nil, nil, fmt.Sprintf("corrected pair %s is not a valid combination", corrected), nil
	case corrected == a.Pair():
		return nil, nil, "corrected pair equals the original pair; approve instead", nil
	}

	record.CorrectedCategory = &corrected.Category
	record.CorrectedSubcategory = &corrected.Subcategory

	reasoning := record.HumanReasoning
	if reasoning == "" {
		reasoning = "corrected by " + e.reviewer
	}
	correction := &model.CategoryAssignment{
		MessageID:   a.MessageID,
		Category:    corrected.Category,
		Subcategory: corrected.Subcategory,
		Confidence:  1,
		Reasoning:   reasoning,
		Agent:       model.AgentHuman,
	}
	return record, correction, "", nil
}
