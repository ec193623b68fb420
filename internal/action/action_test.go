package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var (
	advertising = model.Pair{Category: "Other", Subcategory: "Advertising"}
	rest        = model.Pair{Category: "Other", Subcategory: "Rest"}
	jobSearch   = model.Pair{Category: "Review", Subcategory: "Job search"}
	newsletters = model.Pair{Category: "Reading", Subcategory: "Newsletters"}
)

func TestSenderDomain(t *testing.T) {
	tests := map[string]string{
		"news@Shop.Example":           "shop.example",
		"Shop <deals@shop.example>":   "shop.example",
		`"A, B" <a@mail.example.org>`: "mail.example.org",
		"no address":                  "",
		"":                            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SenderDomain(in), in)
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry(testutil.Taxonomy(t), nil)
	require.NoError(t, err)
	assert.Equal(t, []model.Pair{advertising, rest, jobSearch}, reg.Pairs())

	_, name, ok := reg.Lookup(advertising)
	require.True(t, ok)
	assert.Equal(t, "advertising", name)

	_, _, ok = reg.Lookup(newsletters)
	assert.False(t, ok)

	assert.Error(t, reg.Register(rest, "again", HandlerFunc(Rest)))
}

func TestAdvertisingHandler(t *testing.T) {
	tax := testutil.Taxonomy(t)
	cfg, _ := tax.Lookup(advertising)

	in := Input{
		Message: model.Message{
			Sender:  "Shop <deals@shop.example>",
			Subject: "Spring SALE",
			Body:    "Get a discount today. Unsubscribe below.",
		},
		Assignment: model.CategoryAssignment{Reasoning: "promotional"},
		Config:     cfg,
		Examples: []model.ReviewExample{
			{Sender: "news@shop.example"},
			{Sender: "someone@elsewhere.example"},
		},
	}

	res, err := Advertising(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "advertising_analysis", res.Action)

	report := res.Payload.(AdvertisingReport)
	assert.Equal(t, []string{"discount", "sale", "unsubscribe"}, report.KeyIndicators)
	assert.Equal(t, "shop.example", report.SenderDomain)
	assert.Equal(t, 1, report.ConfirmedBefore)
	assert.Contains(t, report.CategorizationReasoning, "promotional")
}

func TestRestHandler(t *testing.T) {
	long := strings.Repeat("word ", 100)
	in := Input{
		Message:    model.Message{Sender: "a@b.example", Subject: "Misc", Body: long},
		Assignment: model.CategoryAssignment{Fallback: true, Reasoning: "fallback"},
	}

	res, err := Rest(context.Background(), in)
	require.NoError(t, err)

	report := res.Payload.(RestReport)
	assert.LessOrEqual(t, len([]rune(report.Summary)), previewRunes+1)
	assert.True(t, strings.HasSuffix(report.Summary, "…"))
	assert.Contains(t, report.SuggestedAction, "classifier answer was rejected")
	assert.Equal(t, "a@b.example: Misc", res.Summary)
}

func TestJobSearchHandler(t *testing.T) {
	tax := testutil.Taxonomy(t)
	cfg, _ := tax.Lookup(jobSearch)

	tests := []struct {
		name     string
		body     string
		examples []model.ReviewExample
		want     JobSearchReport
	}{
		{
			name: "company and role",
			body: "Ework is looking for an IT Project manager. Interview next week.",
			want: JobSearchReport{
				CompaniesMentioned: []string{"Ework"},
				RolesIdentified:    []string{"IT Project manager"},
				DomainsMentioned:   []string{"interview"},
				InterestLevel:      InterestHigh,
				RecommendedAction:  RecommendApply,
			},
		},
		{
			name: "role only",
			body: "We need a Change Manager.",
			want: JobSearchReport{
				CompaniesMentioned: []string{},
				RolesIdentified:    []string{"Change Manager"},
				DomainsMentioned:   []string{},
				InterestLevel:      InterestMedium,
				RecommendedAction:  RecommendResearch,
			},
		},
		{
			name:     "role from a confirmed recruiter",
			body:     "We need a Change Manager.",
			examples: []model.ReviewExample{{Sender: "other@recruit.example"}},
			want: JobSearchReport{
				CompaniesMentioned: []string{},
				RolesIdentified:    []string{"Change Manager"},
				DomainsMentioned:   []string{},
				InterestLevel:      InterestHigh,
				RecommendedAction:  RecommendApply,
			},
		},
		{
			name: "nothing targeted",
			body: "Generic hiring newsletter.",
			want: JobSearchReport{
				CompaniesMentioned: []string{},
				RolesIdentified:    []string{},
				DomainsMentioned:   []string{"hiring"},
				InterestLevel:      InterestLow,
				RecommendedAction:  RecommendMonitor,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				Message:  model.Message{Sender: "hr@recruit.example", Subject: "Opening", Body: tt.body},
				Config:   cfg,
				Examples: tt.examples,
			}
			res, err := JobSearch(context.Background(), in)
			require.NoError(t, err)

			got := res.Payload.(JobSearchReport)
			got.Summary = ""
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("JobSearch() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouteAndExecute(t *testing.T) {
	st := testutil.NewTestStore(t)
	tax := testutil.Taxonomy(t)

	reg := NewRegistry()
	require.NoError(t, reg.Register(advertising, "advertising", HandlerFunc(Advertising)))
	require.NoError(t, reg.Register(rest, "broken", HandlerFunc(func(context.Context, Input) (*Result, error) {
		return nil, errors.New("upstream unavailable")
	})))
	require.NoError(t, reg.Register(jobSearch, "panicky", HandlerFunc(func(context.Context, Input) (*Result, error) {
		panic("boom")
	})))

	r := NewRouter(st, tax, reg, Options{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	tests := []struct {
		name    string
		pair    model.Pair
		outcome model.ActionOutcome
		errText string
	}{
		{"success", advertising, model.OutcomeSuccess, ""},
		{"handler error", rest, model.OutcomeFailed, "upstream unavailable"},
		{"handler panic", jobSearch, model.OutcomeFailed, "panicked"},
		{"no handler", newsletters, model.OutcomeNoHandler, "no handler"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testutil.InsertMessage(t, st, testutil.NewMessage(i, "x@y.example", "Sale", "big discount"))
			a := testutil.Assign(t, st, msg.ID, tt.pair, "stub")

			rec, err := r.RouteAndExecute(ctx, *msg, *a)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, rec.Outcome)
			assert.Equal(t, tt.outcome == model.OutcomeSuccess, rec.Success)
			assert.Equal(t, a.ID, rec.AssignmentID)

			if tt.errText == "" {
				assert.Nil(t, rec.Error)
				var payload map[string]any
				require.NoError(t, json.Unmarshal([]byte(rec.Payload), &payload))
				assert.Contains(t, payload, "key_indicators")
			} else {
				require.NotNil(t, rec.Error)
				assert.Contains(t, *rec.Error, tt.errText)
			}

			stored, err := st.ActionsForMessage(ctx, msg.ID)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, rec.ID, stored[0].ID)
		})
	}
}

func TestRunPending(t *testing.T) {
	st := testutil.NewTestStore(t)
	tax := testutil.Taxonomy(t)
	ctx := context.Background()

	ad := testutil.InsertMessage(t, st, testutil.NewMessage(1, "deals@shop.example", "Sale", "discount"))
	job := testutil.InsertMessage(t, st, testutil.NewMessage(2, "hr@ework.se", "Role", "Ework seeks a Program Manager"))
	news := testutil.InsertMessage(t, st, testutil.NewMessage(3, "news@paper.example", "Digest", "weekly"))
	testutil.InsertMessage(t, st, testutil.NewMessage(4, "a@b.example", "Unclassified", "nothing yet"))

	testutil.Assign(t, st, ad.ID, advertising, "stub")
	testutil.Assign(t, st, job.ID, jobSearch, "stub")
	testutil.Assign(t, st, news.ID, newsletters, "stub")

	reg, err := DefaultRegistry(tax, nil)
	require.NoError(t, err)
	r := NewRouter(st, tax, reg, Options{Workers: 2, Logger: zaptest.NewLogger(t)})

	counts, err := r.RunPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 3, Succeeded: 2, NoHandler: 1}, counts)

	// Nothing is pending until a message is re-categorized; no-handler
	// records are not retried.
	counts, err = r.RunPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	testutil.Assign(t, st, ad.ID, rest, "human")
	counts, err = r.RunPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Succeeded: 1}, counts)

	records, err := st.ActionsForMessage(ctx, ad.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "advertising", records[0].Handler)
	assert.Equal(t, "rest", records[1].Handler)
}
