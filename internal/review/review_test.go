package review

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
	"github.com/nhle/inbox-triage/internal/testutil"
)

var (
	advertising = model.Pair{Category: "Other", Subcategory: "Advertising"}
	rest        = model.Pair{Category: "Other", Subcategory: "Rest"}
	jobSearch   = model.Pair{Category: "Review", Subcategory: "Job search"}
)

var exportTime = time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.SQLiteStore
	ex    *Exchange
	ad    *model.Message
	job   *model.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := testutil.NewTestStore(t)
	f := &fixture{
		store: st,
		ex: NewExchange(st, testutil.Taxonomy(t), Options{
			Reviewer: "alex",
			Logger:   zaptest.NewLogger(t),
			Now:      func() time.Time { return exportTime },
		}),
		ad:  testutil.InsertMessage(t, st, testutil.NewMessage(1, "deals@shop.example", "Sale", "discount")),
		job: testutil.InsertMessage(t, st, testutil.NewMessage(2, "hr@ework.se", "Role", "Program Manager")),
	}
	testutil.InsertMessage(t, st, testutil.NewMessage(3, "x@y.example", "Unclassified", "later"))

	testutil.Assign(t, st, f.ad.ID, advertising, "stub")
	testutil.Assign(t, st, f.job.ID, jobSearch, "stub")
	return f
}

func ptr[T any](v T) *T { return &v }

func TestExportPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ex.ExportPending(ctx, ExportFilter{})
	require.NoError(t, err)

	want := Metadata{ExportDate: exportTime, TotalMessages: 3, Categorized: 2, PendingReview: 2}
	if diff := cmp.Diff(want, doc.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, doc.Entries, 2)
	// Newest first.
	assert.Equal(t, f.job.ID, doc.Entries[0].MessageID)
	assert.Equal(t, "Review", doc.Entries[0].OriginalCategory)
	assert.True(t, doc.Entries[0].Review.Untouched())

	doc, err = f.ex.ExportPending(ctx, ExportFilter{Pair: &advertising})
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, f.ad.ExternalID, doc.Entries[0].ExternalID)
}

func TestRoundTripIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"review.json", "review.yaml"} {
		t.Run(name, func(t *testing.T) {
			doc, err := f.ex.ExportPending(ctx, ExportFilter{})
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteFile(path, doc))
			read, err := ReadFile(path)
			require.NoError(t, err)

			res, err := f.ex.ImportReviews(ctx, read)
			require.NoError(t, err)
			assert.Equal(t, ImportResult{Unedited: 2}, res)

			stats, err := f.store.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.Reviews)
			assert.Equal(t, 2, stats.Assignments)
		})
	}
}

func TestImportApprovalAndCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ex.ExportPending(ctx, ExportFilter{})
	require.NoError(t, err)

	for i := range doc.Entries {
		switch doc.Entries[i].MessageID {
		case f.ad.ID:
			doc.Entries[i].Review = Fields{Approved: ptr(true), HumanReasoning: ptr("obvious promo")}
		case f.job.ID:
			doc.Entries[i].Review = Fields{
				Approved:             ptr(false),
				CorrectedCategory:    ptr("Other"),
				CorrectedSubcategory: ptr(" Rest "),
				HumanReasoning:       ptr("mass mailing"),
			}
		}
	}

	res, err := f.ex.ImportReviews(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Applied: 2, Approved: 1, Corrected: 1}, res)

	latest, err := f.store.LatestAssignment(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, rest, latest.Pair())
	assert.Equal(t, model.AgentHuman, latest.Agent)
	assert.Equal(t, "mass mailing", latest.Reasoning)

	history, err := f.store.AssignmentHistory(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	review, err := f.store.ReviewForAssignment(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "alex", review.Reviewer)
	assert.Equal(t, rest, review.ConfirmedPair())

	examples, err := f.store.ApprovedExamples(ctx, advertising, 5)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, "obvious promo", examples[0].HumanReasoning)

	// Importing the same edited document again changes nothing.
	res, err = f.ex.ImportReviews(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlreadyReviewed)
	assert.Equal(t, 1, res.RejectedInvalid, "the corrected entry now points at a superseded assignment")
	assert.Zero(t, res.Applied)

	// The corrected message is pending review again under its new assignment.
	doc, err = f.ex.ExportPending(ctx, ExportFilter{})
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, latest.ID, doc.Entries[0].AssignmentID)
}

func TestImportRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, err := f.ex.ExportPending(ctx, ExportFilter{Pair: &advertising})
	require.NoError(t, err)
	require.Len(t, base.Entries, 1)
	entry := base.Entries[0]

	tests := []struct {
		name   string
		edit   func(e *Entry)
		reason string
	}{
		{
			name:   "reasoning without decision",
			edit:   func(e *Entry) { e.Review.HumanReasoning = ptr("hmm") },
			reason: "approved must be",
		},
		{
			name:   "rejection without correction",
			edit:   func(e *Entry) { e.Review.Approved = ptr(false) },
			reason: "needs corrected_category",
		},
		{
			name: "cross product pair",
			edit: func(e *Entry) {
				e.Review = Fields{Approved: ptr(false), CorrectedCategory: ptr("Reading"), CorrectedSubcategory: ptr("Rest")}
			},
			reason: "not a valid combination",
		},
		{
			name: "approval with different pair",
			edit: func(e *Entry) {
				e.Review = Fields{Approved: ptr(true), CorrectedCategory: ptr("Other"), CorrectedSubcategory: ptr("Rest")}
			},
			reason: "different corrected pair",
		},
		{
			name: "correction to same pair",
			edit: func(e *Entry) {
				e.Review = Fields{Approved: ptr(false), CorrectedCategory: ptr("Other"), CorrectedSubcategory: ptr("Advertising")}
			},
			reason: "approve instead",
		},
		{
			name: "unknown assignment",
			edit: func(e *Entry) {
				e.AssignmentID = "missing"
				e.Review.Approved = ptr(true)
			},
			reason: "unknown assignment",
		},
		{
			name: "assignment of another message",
			edit: func(e *Entry) {
				e.MessageID = f.job.ID
				e.Review.Approved = ptr(true)
			},
			reason: "does not belong",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entry
			tt.edit(&e)

			res, err := f.ex.ImportReviews(ctx, &Document{Entries: []Entry{e}})
			require.NoError(t, err)
			assert.Equal(t, 1, res.RejectedInvalid)
			assert.Zero(t, res.Applied)
			require.Len(t, res.Rejections, 1)
			assert.Contains(t, res.Rejections[0].Reason, tt.reason)
		})
	}

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Reviews)
	assert.Equal(t, 2, stats.Assignments)
}

func TestImportStaleEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ex.ExportPending(ctx, ExportFilter{Pair: &advertising})
	require.NoError(t, err)

	// Re-categorized after the export.
	testutil.Assign(t, f.store, f.ad.ID, rest, "stub")

	doc.Entries[0].Review.Approved = ptr(true)
	res, err := f.ex.ImportReviews(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RejectedInvalid)
	assert.Contains(t, res.Rejections[0].Reason, "superseded")
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a/b.YML"))
	assert.Equal(t, FormatYAML, FormatFor("b.yaml"))
	assert.Equal(t, FormatJSON, FormatFor("b.json"))
	assert.Equal(t, FormatJSON, FormatFor("b"))
}

func TestEncodeKeepsNullReviewFields(t *testing.T) {
	doc := &Document{Entries: []Entry{{MessageID: "m1", AssignmentID: "a1"}}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc, FormatJSON))
	assert.Contains(t, buf.String(), `"approved": null`)
	assert.Contains(t, buf.String(), `"human_reasoning": null`)

	decoded, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)
	assert.True(t, decoded.Entries[0].Review.Untouched())
}

func TestEntryDecisionHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ex.ExportPending(ctx, ExportFilter{})
	require.NoError(t, err)

	for i := range doc.Entries {
		e := &doc.Entries[i]
		switch e.MessageID {
		case f.ad.ID:
			e.Approve("  ")
			assert.Nil(t, e.Review.HumanReasoning)
			assert.Equal(t, advertising, e.OriginalPair())
		case f.job.ID:
			e.Correct(rest, "")
		}
	}

	res, err := f.ex.ImportReviews(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Applied: 2, Approved: 1, Corrected: 1}, res)

	latest, err := f.store.LatestAssignment(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrected by alex", latest.Reasoning)
}
