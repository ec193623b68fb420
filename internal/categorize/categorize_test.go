package categorize

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/inbox-triage/internal/classify"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stubClassifier answers per subject, falling back to a default answer.
type stubClassifier struct {
	mu      sync.Mutex
	answers map[string]*classify.Result
	errs    map[string]error
	calls   int
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Classify(_ context.Context, req classify.Request) (*classify.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[req.Subject]; err != nil {
		return nil, err
	}
	if res, ok := s.answers[req.Subject]; ok {
		r := *res
		return &r, nil
	}
	return &classify.Result{Category: "Other", Subcategory: "Rest", Confidence: 0.6, Reasoning: "default"}, nil
}

func TestCategorizeValidPair(t *testing.T) {
	st := testutil.NewTestStore(t)
	msg := testutil.InsertMessage(t, st, testutil.NewMessage(1, "hr@ework.se", "Interview", "Role at Ework"))

	stub := &stubClassifier{answers: map[string]*classify.Result{
		"Interview": {Category: "Review", Subcategory: "Job search", Confidence: 0.85, Reasoning: "recruiter"},
	}}
	c := New(st, testutil.Taxonomy(t), stub, Options{Logger: zaptest.NewLogger(t)})

	a, err := c.Categorize(context.Background(), *msg)
	require.NoError(t, err)
	assert.Equal(t, model.Pair{Category: "Review", Subcategory: "Job search"}, a.Pair())
	assert.Equal(t, 0.85, a.Confidence)
	assert.Equal(t, "stub", a.Agent)
	assert.False(t, a.Fallback)

	latest, err := st.LatestAssignment(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, latest.ID)
}

func TestCategorizeFallback(t *testing.T) {
	tests := []struct {
		name string
		pair model.Pair
	}{
		// Both names exist, but only as parts of other pairs.
		{"cross product", model.Pair{Category: "Reading", Subcategory: "Rest"}},
		{"unknown category", model.Pair{Category: "Spam", Subcategory: "Advertising"}},
		{"empty answer", model.Pair{}},
		{"case mismatch", model.Pair{Category: "other", Subcategory: "advertising"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewTestStore(t)
			msg := testutil.InsertMessage(t, st, testutil.NewMessage(1, "a@b.com", "Hello", "body"))

			stub := &stubClassifier{answers: map[string]*classify.Result{
				"Hello": {Category: tt.pair.Category, Subcategory: tt.pair.Subcategory, Confidence: 0.99, Reasoning: "sure"},
			}}
			c := New(st, testutil.Taxonomy(t), stub, Options{Logger: zaptest.NewLogger(t)})

			a, err := c.Categorize(context.Background(), *msg)
			require.NoError(t, err)
			assert.Equal(t, model.Pair{Category: "Other", Subcategory: "Rest"}, a.Pair())
			assert.Equal(t, model.DefaultFallbackConfidence, a.Confidence)
			assert.True(t, a.Fallback)
			assert.Contains(t, a.Reasoning, tt.pair.String())
			assert.NotContains(t, a.Reasoning, "sure")

			stored, err := st.LatestAssignment(context.Background(), msg.ID)
			require.NoError(t, err)
			assert.True(t, stored.Fallback)
		})
	}
}

func TestCategorizeClampsConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"above one", 1.5, 1},
		{"negative", -0.2, 0},
		{"nan", math.NaN(), 0},
		{"in range", 0.4, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewTestStore(t)
			testutil.InsertMessage(t, st, testutil.NewMessage(1, "deals@shop.com", "Sale", "body"))

			stub := &stubClassifier{answers: map[string]*classify.Result{
				"Sale": {Category: "Other", Subcategory: "Advertising", Confidence: tt.in, Reasoning: "promo"},
			}}
			c := New(st, testutil.Taxonomy(t), stub, Options{Logger: zaptest.NewLogger(t)})

			counts, err := c.CategorizePending(context.Background(), 0)
			require.NoError(t, err)
			assert.Equal(t, Counts{Processed: 1, Classified: 1}, counts)

			pending, err := st.ListUnclassified(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, pending)

			counts, err = c.CategorizePending(context.Background(), 0)
			require.NoError(t, err)
			assert.Zero(t, counts.Processed)
		})
	}

	c := New(nil, testutil.Taxonomy(t), &stubClassifier{}, Options{})
	a := c.validate("m1", &classify.Result{Category: "Other", Subcategory: "Advertising", Confidence: 7})
	assert.Equal(t, 1.0, a.Confidence)
}

func TestCategorizeClassifierErrorLeavesUnclassified(t *testing.T) {
	st := testutil.NewTestStore(t)
	msg := testutil.InsertMessage(t, st, testutil.NewMessage(1, "a@b.com", "Boom", "body"))

	stub := &stubClassifier{errs: map[string]error{"Boom": errors.New("backend down")}}
	c := New(st, testutil.Taxonomy(t), stub, Options{Logger: zaptest.NewLogger(t)})

	_, err := c.Categorize(context.Background(), *msg)
	require.Error(t, err)

	pending, err := st.ListUnclassified(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)
}

func TestCategorizePending(t *testing.T) {
	st := testutil.NewTestStore(t)
	for i, subject := range []string{"Sale", "Interview", "Boom", "Weird", "Plain"} {
		testutil.InsertMessage(t, st, testutil.NewMessage(i, "a@b.com", subject, "body"))
	}

	stub := &stubClassifier{
		answers: map[string]*classify.Result{
			"Sale":      {Category: "Other", Subcategory: "Advertising", Confidence: 0.9},
			"Interview": {Category: "Review", Subcategory: "Job search", Confidence: 0.8},
			"Weird":     {Category: "Reading", Subcategory: "Rest", Confidence: 0.7},
		},
		errs: map[string]error{"Boom": errors.New("timeout")},
	}
	c := New(st, testutil.Taxonomy(t), stub, Options{Workers: 3, Logger: zaptest.NewLogger(t)})

	counts, err := c.CategorizePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 5, Classified: 3, Fallback: 1, Failed: 1}, counts)

	// Only the failed message is picked up again.
	counts, err = c.CategorizePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Failed: 1}, counts)
}

func TestRecategorizeAppends(t *testing.T) {
	st := testutil.NewTestStore(t)
	msg := testutil.InsertMessage(t, st, testutil.NewMessage(1, "a@b.com", "Sale", "body"))

	stub := &stubClassifier{answers: map[string]*classify.Result{
		"Sale": {Category: "Other", Subcategory: "Advertising", Confidence: 0.9},
	}}
	c := New(st, testutil.Taxonomy(t), stub, Options{Logger: zaptest.NewLogger(t)})

	_, err := c.CategorizeMessages(context.Background(), []model.Message{*msg})
	require.NoError(t, err)
	_, err = c.CategorizeMessages(context.Background(), []model.Message{*msg})
	require.NoError(t, err)

	history, err := st.AssignmentHistory(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCategorizeCancelled(t *testing.T) {
	st := testutil.NewTestStore(t)
	testutil.InsertMessage(t, st, testutil.NewMessage(1, "a@b.com", "Sale", "body"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(st, testutil.Taxonomy(t), &stubClassifier{}, Options{})
	_, err := c.CategorizePending(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeywordEndToEnd(t *testing.T) {
	st := testutil.NewTestStore(t)
	ad := testutil.InsertMessage(t, st, testutil.NewMessage(1, "shop@store.com", "Spring sale", "50% off everything. Unsubscribe."))
	other := testutil.InsertMessage(t, st, testutil.NewMessage(2, "friend@mail.com", "Lunch", "See you at noon"))

	c := New(st, testutil.Taxonomy(t), classify.NewKeyword(), Options{Logger: zaptest.NewLogger(t)})
	counts, err := c.CategorizePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 2, Classified: 1, Fallback: 1}, counts)

	a, err := st.LatestAssignment(context.Background(), ad.ID)
	require.NoError(t, err)
	assert.Equal(t, "Advertising", a.Subcategory)
	assert.Equal(t, "keyword", a.Agent)

	a, err = st.LatestAssignment(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rest", a.Subcategory)
	assert.True(t, a.Fallback)
}
