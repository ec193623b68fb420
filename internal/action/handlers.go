package action

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/nhle/inbox-triage/internal/textract"
)

const previewRunes = 200

// AdvertisingReport is the payload of the advertising handler.
type AdvertisingReport struct {
	CategorizationReasoning string   `json:"categorization_reasoning"`
	KeyIndicators           []string `json:"key_indicators"`
	SenderAnalysis          string   `json:"sender_analysis"`
	SenderDomain            string   `json:"sender_domain,omitempty"`
	ConfirmedBefore         int      `json:"confirmed_before"`
}

// Advertising explains why a message is advertising: which configured
// indicators it carries and what is known about the sender.
func Advertising(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToLower(in.Message.Subject + "\n" + in.Content())
	indicators := matchAll(text, in.Config.Keywords)

	domain := SenderDomain(in.Message.Sender)
	confirmed := len(in.SameSenderExamples())

	var analysis string
	switch {
	case domain == "":
		analysis = "Sender address could not be parsed."
	case confirmed > 0:
		analysis = fmt.Sprintf("%s has been confirmed as an advertiser in %d earlier review(s).", domain, confirmed)
	default:
		analysis = fmt.Sprintf("Marketing mail from %s.", domain)
	}

	reasoning := in.Assignment.Reasoning
	if len(indicators) > 0 {
		reasoning = fmt.Sprintf("Contains advertising indicators: %s. %s", strings.Join(indicators, ", "), reasoning)
	}

	report := AdvertisingReport{
		CategorizationReasoning: strings.TrimSpace(reasoning),
		KeyIndicators:           indicators,
		SenderAnalysis:          analysis,
		SenderDomain:            domain,
		ConfirmedBefore:         confirmed,
	}
	return &Result{
		Action:  "advertising_analysis",
		Summary: fmt.Sprintf("Advertising from %s (%d indicators)", displaySender(in.Message.Sender), len(indicators)),
		Payload: report,
	}, nil
}

// RestReport is the payload of the rest handler.
type RestReport struct {
	Sender          string `json:"sender"`
	Subject         string `json:"subject"`
	Summary         string `json:"summary"`
	Reasoning       string `json:"reasoning"`
	SuggestedAction string `json:"suggested_action"`
}

// Rest summarizes a message that fits no specific subcategory and suggests
// manual handling.
func Rest(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := preview(textract.Normalize(in.Content()), previewRunes)

	action := "Read and file manually."
	switch {
	case in.Assignment.Fallback:
		action = "Check the label; the classifier answer was rejected."
	case strings.TrimSpace(in.Message.Body) == "":
		action = "Archive; the message has no text."
	}

	report := RestReport{
		Sender:          in.Message.Sender,
		Subject:         in.Message.Subject,
		Summary:         summary,
		Reasoning:       in.Assignment.Reasoning,
		SuggestedAction: action,
	}
	return &Result{
		Action:  "summarize",
		Summary: fmt.Sprintf("%s: %s", displaySender(in.Message.Sender), in.Message.Subject),
		Payload: report,
	}, nil
}

// Interest levels and recommendations of the job search handler.
const (
	InterestHigh   = "High"
	InterestMedium = "Medium"
	InterestLow    = "Low"

	RecommendApply    = "Apply"
	RecommendResearch = "Research"
	RecommendMonitor  = "Monitor"
	RecommendIgnore   = "Ignore"
)

// JobSearchReport is the payload of the job search handler.
type JobSearchReport struct {
	CompaniesMentioned []string `json:"companies_mentioned"`
	RolesIdentified    []string `json:"roles_identified"`
	DomainsMentioned   []string `json:"domains_mentioned"`
	InterestLevel      string   `json:"interest_level"`
	Summary            string   `json:"summary"`
	RecommendedAction  string   `json:"recommended_action"`
}

// JobSearch matches the target companies and roles from the pair's entity
// lists and rates the opportunity.
func JobSearch(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToLower(in.Message.Subject + "\n" + in.Content())

	report := JobSearchReport{
		CompaniesMentioned: matchAll(text, in.Config.Entities["companies"]),
		RolesIdentified:    matchAll(text, in.Config.Entities["roles"]),
		DomainsMentioned:   matchAll(text, in.Config.Keywords),
	}

	score := 0
	if len(report.CompaniesMentioned) > 0 {
		score++
	}
	if len(report.RolesIdentified) > 0 {
		score++
	}
	// A recruiter the reviewer already confirmed counts as a strong signal.
	if len(in.SameSenderExamples()) > 0 {
		score++
	}

	switch {
	case score >= 2:
		report.InterestLevel, report.RecommendedAction = InterestHigh, RecommendApply
	case score == 1:
		report.InterestLevel, report.RecommendedAction = InterestMedium, RecommendResearch
	default:
		report.InterestLevel, report.RecommendedAction = InterestLow, RecommendMonitor
	}

	var parts []string
	if len(report.RolesIdentified) > 0 {
		parts = append(parts, strings.Join(report.RolesIdentified, ", "))
	}
	if len(report.CompaniesMentioned) > 0 {
		parts = append(parts, "at "+strings.Join(report.CompaniesMentioned, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, "no target company or role")
	}
	report.Summary = fmt.Sprintf("%s (%s)", strings.Join(parts, " "), in.Message.Subject)

	return &Result{
		Action:  "job_review",
		Summary: fmt.Sprintf("%s interest: %s", report.InterestLevel, report.RecommendedAction),
		Payload: report,
	}, nil
}

// matchAll returns the values found in lowered text, sorted and unique.
func matchAll(text string, values []string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		if strings.Contains(text, strings.ToLower(v)) {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}

func displaySender(sender string) string {
	if sender == "" {
		return "unknown sender"
	}
	return sender
}
