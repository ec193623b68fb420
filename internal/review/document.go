// Package review exports assignments for human review and imports the
// reviewer's decisions back into the store.
package review

import (
	"strings"
	"time"

	"github.com/nhle/inbox-triage/internal/model"
)

// Document is the portable review file. Export and import share it, so an
// unedited export imports as a no-op.
type Document struct {
	Metadata Metadata `json:"export_metadata" yaml:"export_metadata"`
	Entries  []Entry  `json:"emails" yaml:"emails"`
}

// Metadata describes an export.
type Metadata struct {
	ExportDate    time.Time `json:"export_date" yaml:"export_date"`
	TotalMessages int       `json:"total_emails" yaml:"total_emails"`
	Categorized   int       `json:"categorized_emails" yaml:"categorized_emails"`
	PendingReview int       `json:"pending_review" yaml:"pending_review"`
}

// Entry is one message under review.
type Entry struct {
	MessageID    string `json:"email_id" yaml:"email_id"`
	ExternalID   string `json:"external_id" yaml:"external_id"`
	AssignmentID string `json:"assignment_id" yaml:"assignment_id"`

	Sender  string    `json:"sender" yaml:"sender"`
	Subject string    `json:"subject" yaml:"subject"`
	Date    time.Time `json:"date" yaml:"date"`

	OriginalCategory    string  `json:"original_category" yaml:"original_category"`
	OriginalSubcategory string  `json:"original_subcategory" yaml:"original_subcategory"`
	Confidence          float64 `json:"confidence" yaml:"confidence"`
	Reasoning           string  `json:"reasoning" yaml:"reasoning"`
	Fallback            bool    `json:"fallback" yaml:"fallback"`
	ActionSummary       string  `json:"action_summary" yaml:"action_summary"`

	// Reviewed is set when the export includes already reviewed messages.
	Reviewed bool `json:"reviewed,omitempty" yaml:"reviewed,omitempty"`

	Review Fields `json:"review_fields" yaml:"review_fields"`
}

// Fields are the reviewer-editable values. Null means "not filled in".
type Fields struct {
	Approved             *bool   `json:"approved" yaml:"approved"`
	CorrectedCategory    *string `json:"corrected_category" yaml:"corrected_category"`
	CorrectedSubcategory *string `json:"corrected_subcategory" yaml:"corrected_subcategory"`
	HumanReasoning       *string `json:"human_reasoning" yaml:"human_reasoning"`
}

// Untouched reports whether no field was filled in.
func (f Fields) Untouched() bool {
	return f.Approved == nil &&
		blank(f.CorrectedCategory) &&
		blank(f.CorrectedSubcategory) &&
		blank(f.HumanReasoning)
}

// Approve marks the original assignment as correct.
func (e *Entry) Approve(reasoning string) {
	approved := true
	e.Review = Fields{Approved: &approved, HumanReasoning: optional(reasoning)}
}

// Correct rejects the original assignment in favor of p.
func (e *Entry) Correct(p model.Pair, reasoning string) {
	approved := false
	e.Review = Fields{
		Approved:             &approved,
		CorrectedCategory:    &p.Category,
		CorrectedSubcategory: &p.Subcategory,
		HumanReasoning:       optional(reasoning),
	}
}

// OriginalPair is the pair under review.
func (e *Entry) OriginalPair() model.Pair {
	return model.Pair{Category: e.OriginalCategory, Subcategory: e.OriginalSubcategory}
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
