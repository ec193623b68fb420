package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/inbox-triage/internal/classify"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/testutil"
)

// claudeServer answers the Messages API with the reply whose key appears in
// the system prompt, and keeps the prompts it saw.
type claudeServer struct {
	mu      sync.Mutex
	replies map[string]string
	systems []string
	users   []string
}

func (c *claudeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		System   string `json:"system"`
		Messages []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.systems = append(c.systems, req.System)
	if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
		c.users = append(c.users, req.Messages[0].Content[0].Text)
	}
	reply := "no idea"
	for key, text := range c.replies {
		if strings.Contains(req.System, key) {
			reply = text
		}
	}
	c.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": reply}},
		"stop_reason": "end_turn",
	})
}

func newClaude(t *testing.T, replies map[string]string) (*claudeServer, classify.Completer) {
	t.Helper()

	cs := &claudeServer{replies: replies}
	srv := httptest.NewServer(cs)
	t.Cleanup(srv.Close)
	return cs, classify.NewAnthropic("k", "claude-test", 0,
		classify.WithAnthropicURL(srv.URL), classify.WithHTTPClient(srv.Client()))
}

func TestDefaultRegistryWithLanguageModel(t *testing.T) {
	_, llm := newClaude(t, nil)

	reg, err := DefaultRegistry(testutil.Taxonomy(t), llm)
	require.NoError(t, err)
	assert.Equal(t, []model.Pair{advertising, rest, jobSearch}, reg.Pairs())

	for pair, want := range map[model.Pair]string{
		advertising: "advertising_agent",
		rest:        "rest_agent",
		jobSearch:   "job_search_agent",
	} {
		h, name, ok := reg.Lookup(pair)
		require.True(t, ok, pair)
		assert.Equal(t, want, name)
		assert.IsType(t, &Agent{}, h)
	}
}

func TestAgentsProduceReports(t *testing.T) {
	cs, llm := newClaude(t, map[string]string{
		"ADVERTISING": "```json\n" + `{"categorization_reasoning":"Spring sale with discount codes.","key_indicators":["50% off","unsubscribe"],"sender_analysis":"Retailer newsletter."}` + "\n```",
		"REST":        `{"summary":"Lunch plans for Friday.","reasoning":"Personal note.","suggested_action":"Reply when convenient."}`,
		"JOB SEARCH":  `{"companies_mentioned":["Ework"],"roles_identified":["IT Project manager"],"domains_mentioned":null,"interest_level":"high","summary":"Ework offers a PM assignment.","recommended_action":"apply"}`,
	})
	tax := testutil.Taxonomy(t)
	ctx := context.Background()

	adCfg, _ := tax.Lookup(advertising)
	res, err := NewAdvertisingAgent(llm).Execute(ctx, Input{
		Message:    model.Message{Sender: "Shop <deals@shop.example>", Subject: "Spring sale", Body: "50% off"},
		Assignment: model.CategoryAssignment{Category: "Other", Subcategory: "Advertising", Confidence: 0.9},
		Config:     adCfg,
		Examples: []model.ReviewExample{
			{Sender: "promo@shop.example", Subject: "Winter sale", HumanReasoning: "always ads"},
			{Sender: "news@other.example", Subject: "Deals"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "advertising_analysis", res.Action)
	ad := res.Payload.(AdvertisingReport)
	assert.Equal(t, []string{"50% off", "unsubscribe"}, ad.KeyIndicators)
	assert.Equal(t, "shop.example", ad.SenderDomain)
	assert.Equal(t, 1, ad.ConfirmedBefore)
	assert.Equal(t, "Advertising from Shop <deals@shop.example> (2 indicators)", res.Summary)

	res, err = NewRestAgent(llm).Execute(ctx, Input{
		Message:    model.Message{Sender: "kim@home.example", Subject: "Lunch", Body: "Friday?"},
		Assignment: model.CategoryAssignment{Category: "Other", Subcategory: "Rest"},
	})
	require.NoError(t, err)
	restReport := res.Payload.(RestReport)
	assert.Equal(t, "Lunch plans for Friday.", restReport.Summary)
	assert.Equal(t, "Lunch", restReport.Subject)
	assert.Equal(t, "Reply when convenient.", restReport.SuggestedAction)

	jobCfg, _ := tax.Lookup(jobSearch)
	res, err = NewJobSearchAgent(llm).Execute(ctx, Input{
		Message:    model.Message{Sender: "hr@ework.se", Subject: "Assignment", Body: "IT Project manager"},
		Assignment: model.CategoryAssignment{Category: "Review", Subcategory: "Job search"},
		Config:     jobCfg,
	})
	require.NoError(t, err)
	job := res.Payload.(JobSearchReport)
	assert.Equal(t, InterestHigh, job.InterestLevel)
	assert.Equal(t, RecommendApply, job.RecommendedAction)
	assert.Equal(t, []string{}, job.DomainsMentioned)
	assert.Equal(t, "High interest: Apply", res.Summary)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.Len(t, cs.systems, 3)

	// Approved reviews are passed as examples.
	assert.Contains(t, cs.systems[0], "REVIEWED EXAMPLES")
	assert.Contains(t, cs.systems[0], "From: promo@shop.example | Subject: Winter sale | Reviewer: always ads | same sender domain")
	assert.Contains(t, cs.systems[0], "From: news@other.example | Subject: Deals\n")
	assert.NotContains(t, cs.systems[1], "REVIEWED EXAMPLES")

	assert.Contains(t, cs.systems[2], "Target companies:")
	assert.Contains(t, cs.users[0], "Subject: Spring sale")
	assert.Contains(t, cs.users[0], "Category: Other/Advertising (confidence 0.90)")
}

func TestAgentRejectsIncompleteAnswer(t *testing.T) {
	_, llm := newClaude(t, map[string]string{
		"REST": `{"reasoning":"no summary given"}`,
	})

	_, err := NewRestAgent(llm).Execute(context.Background(), Input{
		Message:    model.Message{Sender: "a@b.example", Subject: "Hi"},
		Assignment: model.CategoryAssignment{Category: "Other", Subcategory: "Rest"},
	})
	assert.ErrorIs(t, err, classify.ErrInvalidResponse)
	assert.ErrorContains(t, err, "rest_agent")
}

func TestRouterRecordsAgentOutcome(t *testing.T) {
	_, llm := newClaude(t, map[string]string{
		"ADVERTISING": `{"categorization_reasoning":"Promotional.","key_indicators":[],"sender_analysis":"Shop."}`,
		"REST":        "I cannot help with that.",
	})

	st := testutil.NewTestStore(t)
	tax := testutil.Taxonomy(t)
	reg, err := DefaultRegistry(tax, llm)
	require.NoError(t, err)
	r := NewRouter(st, tax, reg, Options{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	ad := testutil.InsertMessage(t, st, testutil.NewMessage(1, "deals@shop.example", "Sale", "discount"))
	other := testutil.InsertMessage(t, st, testutil.NewMessage(2, "a@b.example", "Hello", "hi"))
	testutil.Assign(t, st, ad.ID, advertising, "stub")
	testutil.Assign(t, st, other.ID, rest, "stub")

	counts, err := r.RunPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 2, Succeeded: 1, Failed: 1}, counts)

	records, err := st.ActionsForMessage(ctx, ad.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "advertising_agent", records[0].Handler)
	assert.Contains(t, records[0].Payload, "Promotional.")

	records, err = st.ActionsForMessage(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeFailed, records[0].Outcome)
	require.NotNil(t, records[0].Error)
	assert.Contains(t, *records[0].Error, "no JSON object")
}
