// Package report builds read-only summaries of the pipeline state.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// TimeLayout formats message timestamps in reports.
const TimeLayout = "2006-01-02 15:04"

const defaultMaxErrors = 10

// Totals are aggregate counts over the reported messages.
type Totals struct {
	Messages         int `json:"messages"`
	Classified       int `json:"classified"`
	Unclassified     int `json:"unclassified"`
	Fallbacks        int `json:"fallbacks"`
	ActionsSucceeded int `json:"actions_succeeded"`
	ActionsFailed    int `json:"actions_failed"`
	NoHandler        int `json:"no_handler"`
	PendingActions   int `json:"pending_actions"`
	Reviewed         int `json:"reviewed"`
}

// PairCount is the number of messages whose latest assignment has a pair.
type PairCount struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Count       int    `json:"count"`
}

// Pair returns the counted pair.
func (p PairCount) Pair() model.Pair {
	return model.Pair{Category: p.Category, Subcategory: p.Subcategory}
}

// Row is one message line.
type Row struct {
	MessageID   string             `json:"message_id"`
	Sender      string             `json:"sender"`
	Subject     string             `json:"subject"`
	ReceivedAt  time.Time          `json:"received_at"`
	Timestamp   string             `json:"timestamp"`
	Category    string             `json:"category,omitempty"`
	Subcategory string             `json:"subcategory,omitempty"`
	Confidence  float64            `json:"confidence"`
	Fallback    bool               `json:"fallback"`
	State       model.MessageState `json:"state"`
	Action      string             `json:"action,omitempty"`
	Reviewed    bool               `json:"reviewed"`
}

// ErrorItem is a failed action.
type ErrorItem struct {
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	Pair      string    `json:"pair"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// Report is a summary of the store state for a time window.
type Report struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`

	Totals Totals `json:"totals"`

	// SuccessRate is the percentage of actioned messages whose action
	// succeeded. Zero when nothing was actioned.
	SuccessRate float64 `json:"success_rate"`

	Pairs  []PairCount `json:"pairs"`
	Rows   []Row       `json:"rows"`
	Errors []ErrorItem `json:"errors,omitempty"`
}

// Counts returns the per-pair counts keyed by "category/subcategory".
func (r *Report) Counts() map[string]int {
	out := make(map[string]int, len(r.Pairs))
	for _, p := range r.Pairs {
		out[p.Pair().String()] = p.Count
	}
	return out
}

// Options selects what to report.
type Options struct {
	Since *time.Time
	Until *time.Time

	// Limit caps the message rows. Totals always cover the whole window.
	Limit int

	// MaxErrors caps the error list. Defaults to 10.
	MaxErrors int

	// Location formats timestamps. Defaults to UTC.
	Location *time.Location

	Now func() time.Time
}

// Build reads the store and assembles a report. It never writes.
func Build(ctx context.Context, st store.Store, opts Options) (*Report, error) {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	overviews, err := st.ListOverviews(ctx, store.OverviewFilter{Since: opts.Since, Until: opts.Until})
	if err != nil {
		return nil, fmt.Errorf("loading messages for report: %w", err)
	}

	r := &Report{
		GeneratedAt: opts.Now().UTC(),
		Since:       opts.Since,
		Until:       opts.Until,
		Pairs:       []PairCount{},
		Rows:        []Row{},
	}

	pairs := make(map[model.Pair]int)
	for _, o := range overviews {
		r.Totals.Messages++
		tally(&r.Totals, o)

		if a := o.Assignment; a != nil {
			pairs[a.Pair()]++
		}
		if o.Action != nil && !o.Action.Success && o.Action.Error != nil {
			r.Errors = append(r.Errors, ErrorItem{
				MessageID: o.Message.ID,
				Subject:   o.Message.Subject,
				Pair:      o.Assignment.Pair().String(),
				Error:     *o.Action.Error,
				At:        o.Action.CreatedAt,
			})
		}
		if opts.Limit <= 0 || len(r.Rows) < opts.Limit {
			r.Rows = append(r.Rows, row(o, opts.Location))
		}
	}

	for p, n := range pairs {
		r.Pairs = append(r.Pairs, PairCount{Category: p.Category, Subcategory: p.Subcategory, Count: n})
	}
	sort.Slice(r.Pairs, func(i, j int) bool {
		return r.Pairs[i].Pair().String() < r.Pairs[j].Pair().String()
	})

	sort.SliceStable(r.Errors, func(i, j int) bool { return r.Errors[i].At.After(r.Errors[j].At) })
	if len(r.Errors) > opts.MaxErrors {
		r.Errors = r.Errors[:opts.MaxErrors]
	}

	actioned := r.Totals.ActionsSucceeded + r.Totals.ActionsFailed + r.Totals.NoHandler
	if actioned > 0 {
		r.SuccessRate = float64(r.Totals.ActionsSucceeded) / float64(actioned) * 100
	}
	return r, nil
}

func tally(t *Totals, o model.MessageOverview) {
	if o.Assignment == nil {
		t.Unclassified++
		return
	}
	t.Classified++
	if o.Assignment.Fallback {
		t.Fallbacks++
	}
	if o.Review != nil {
		t.Reviewed++
	}

	switch o.State() {
	case model.StateClassified:
		t.PendingActions++
	case model.StateActioned:
		t.ActionsSucceeded++
	case model.StateActionFailed:
		t.ActionsFailed++
	case model.StateNoHandler:
		t.NoHandler++
	}
}

func row(o model.MessageOverview, loc *time.Location) Row {
	r := Row{
		MessageID:  o.Message.ID,
		Sender:     o.Message.Sender,
		Subject:    o.Message.Subject,
		ReceivedAt: o.Message.ReceivedAt,
		Timestamp:  o.Message.ReceivedAt.In(loc).Format(TimeLayout),
		State:      o.State(),
		Reviewed:   o.Review != nil,
	}
	if a := o.Assignment; a != nil {
		r.Category = a.Category
		r.Subcategory = a.Subcategory
		r.Confidence = a.Confidence
		r.Fallback = a.Fallback
	}
	if o.Action != nil {
		r.Action = o.Action.Summary
	}
	return r
}
