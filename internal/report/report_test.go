package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/testutil"
)

var generated = time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Report {
	t.Helper()

	st := testutil.NewTestStore(t)
	ctx := context.Background()

	ad := testutil.InsertMessage(t, st, testutil.NewMessage(1, "deals@shop.example", "Sale | today", "discount"))
	job := testutil.InsertMessage(t, st, testutil.NewMessage(2, "hr@ework.se", "Role", "Program Manager"))
	misc := testutil.InsertMessage(t, st, testutil.NewMessage(3, "a@b.example", "Hello", "hi"))
	news := testutil.InsertMessage(t, st, testutil.NewMessage(4, "n@paper.example", "Digest", "weekly"))
	testutil.InsertMessage(t, st, testutil.NewMessage(5, "x@y.example", "Pending", "later"))

	adA := testutil.Assign(t, st, ad.ID, model.Pair{Category: "Other", Subcategory: "Advertising"}, "stub")
	jobA := testutil.Assign(t, st, job.ID, model.Pair{Category: "Review", Subcategory: "Job search"}, "stub")
	newsA := testutil.Assign(t, st, news.ID, model.Pair{Category: "Reading", Subcategory: "Newsletters"}, "stub")

	fb := &model.CategoryAssignment{
		MessageID: misc.ID, Category: "Other", Subcategory: "Rest",
		Confidence: 0.1, Reasoning: "fallback", Agent: "stub", Fallback: true,
	}
	require.NoError(t, st.AppendAssignment(ctx, fb))

	failure := "upstream unavailable"
	noHandler := "no handler registered for Reading/Newsletters"
	for _, rec := range []*model.ActionRecord{
		{MessageID: ad.ID, AssignmentID: adA.ID, Action: "advertising_analysis", Summary: "ad", Success: true, Outcome: model.OutcomeSuccess},
		{MessageID: job.ID, AssignmentID: jobA.ID, Action: "job_review", Error: &failure, Outcome: model.OutcomeFailed},
		{MessageID: news.ID, AssignmentID: newsA.ID, Action: "none", Error: &noHandler, Outcome: model.OutcomeNoHandler},
	} {
		require.NoError(t, st.RecordAction(ctx, rec))
	}
	require.NoError(t, st.ApplyReview(ctx, &model.ReviewRecord{
		AssignmentID: adA.ID, MessageID: ad.ID, Approved: true, Reviewer: "alex",
	}, nil))

	r, err := Build(ctx, st, Options{Now: func() time.Time { return generated }})
	require.NoError(t, err)
	return r
}

func TestBuild(t *testing.T) {
	r := seeded(t)

	want := Totals{
		Messages:         5,
		Classified:       4,
		Unclassified:     1,
		Fallbacks:        1,
		ActionsSucceeded: 1,
		ActionsFailed:    1,
		NoHandler:        1,
		PendingActions:   1,
		Reviewed:         1,
	}
	if diff := cmp.Diff(want, r.Totals); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, map[string]int{
		"Other/Advertising":   1,
		"Other/Rest":          1,
		"Reading/Newsletters": 1,
		"Review/Job search":   1,
	}, r.Counts())
	assert.Equal(t, "Other/Advertising", r.Pairs[0].Pair().String())
	assert.InDelta(t, 33.33, r.SuccessRate, 0.01)

	// Only failed actions with an error are listed.
	require.Len(t, r.Errors, 2)
	assert.ElementsMatch(t, []string{"Reading/Newsletters", "Review/Job search"},
		[]string{r.Errors[0].Pair, r.Errors[1].Pair})

	require.Len(t, r.Rows, 5)
	assert.Equal(t, "Pending", r.Rows[0].Subject)
	assert.Equal(t, model.StateUnclassified, r.Rows[0].State)
	assert.Equal(t, "2025-03-10 09:05", r.Rows[0].Timestamp)
}

func TestBuildLimitKeepsTotals(t *testing.T) {
	st := testutil.NewTestStore(t)
	for i := 0; i < 4; i++ {
		testutil.InsertMessage(t, st, testutil.NewMessage(i, "a@b.example", "m", "b"))
	}

	r, err := Build(context.Background(), st, Options{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, r.Rows, 2)
	assert.Equal(t, 4, r.Totals.Messages)
	assert.Zero(t, r.SuccessRate)
}

func TestRenderers(t *testing.T) {
	r := seeded(t)

	text := Text(r)
	assert.Contains(t, text, "Inbox summary")
	assert.Contains(t, text, "Job search")
	assert.Contains(t, text, "upstream unavailable")

	md := Markdown(r)
	assert.True(t, strings.HasPrefix(md, "# Inbox summary"))
	assert.Contains(t, md, "| Other | Advertising | 1 |")
	assert.Contains(t, md, `Sale \| today`)
	assert.Contains(t, md, "**Success rate:** 33.3%")

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r))
	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, r.Totals, decoded.Totals)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"text": FormatText, "MD": FormatMarkdown, "json": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}
