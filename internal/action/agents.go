package action

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nhle/inbox-triage/internal/classify"
)

// agentSpec is the prompt and answer contract of one language model agent.
type agentSpec struct {
	name       string
	task       string
	action     string
	background []string
	steps      []string
	output     []string
	answer     string
	build      func(text string, in Input) (*Result, error)
}

// Agent is a Handler that asks a language model for the pair's report.
// Approved reviews for the pair are part of the prompt as examples.
type Agent struct {
	spec agentSpec
	llm  classify.Completer
}

// NewAdvertisingAgent explains why a message is advertising.
func NewAdvertisingAgent(llm classify.Completer) *Agent {
	return &Agent{llm: llm, spec: agentSpec{
		name:   "advertising_agent",
		task:   "ADVERTISING EMAIL ANALYSIS",
		action: "Summarize the reasoning behind the categorization of this email.",
		background: []string{
			"You are an expert email analysis assistant specializing in advertising email categorization.",
			"The email was already categorized as advertising; explain that categorization in detail.",
		},
		steps: []string{
			"Read the sender, subject and content carefully.",
			"Identify the specific advertising elements and patterns.",
			"Analyze the sender and their advertising intent.",
			"List the key indicators that confirm this is advertising.",
		},
		output: []string{
			"categorization_reasoning: why this is advertising, two or three sentences",
			"key_indicators: short phrases found in the email",
			"sender_analysis: one sentence about the sender",
		},
		answer: `{"categorization_reasoning": "...", "key_indicators": ["..."], "sender_analysis": "..."}`,
		build:  buildAdvertising,
	}}
}

// NewRestAgent summarizes a message that fits no specific subcategory.
func NewRestAgent(llm classify.Completer) *Agent {
	return &Agent{llm: llm, spec: agentSpec{
		name:   "rest_agent",
		task:   "REST CATEGORY EMAIL ANALYSIS",
		action: "Summarize sender, subject and content in one or two sentences and explain why the email did not fit any other category.",
		background: []string{
			"You are an expert email analysis assistant specializing in uncategorized email processing.",
			"Summarize emails that do not fit a specific category and say why.",
		},
		steps: []string{
			"Read the sender, subject and content carefully.",
			"Write a one or two sentence summary of the content.",
			"Explain why the email does not fit the other categories.",
			"Suggest how the reader should handle it.",
		},
		output: []string{
			"summary: one or two sentences",
			"reasoning: why no other category fits",
			"suggested_action: a short imperative sentence",
		},
		answer: `{"summary": "...", "reasoning": "...", "suggested_action": "..."}`,
		build:  buildRest,
	}}
}

// NewJobSearchAgent rates a job related message against the target
// companies and roles.
func NewJobSearchAgent(llm classify.Completer) *Agent {
	return &Agent{llm: llm, spec: agentSpec{
		name:   "job_search_agent",
		task:   "JOB SEARCH EMAIL ANALYSIS",
		action: "Identify roles and companies of interest and summarize them for human review.",
		background: []string{
			"You are an expert job opportunity analysis assistant.",
			"Look for target companies, roles and domains and assess the opportunity.",
		},
		steps: []string{
			"Read the sender, subject and content carefully.",
			"Identify target companies and roles, using the exact names from the email.",
			"Identify the relevant domains or areas.",
			"Assess the interest level against the targets.",
			"Recommend what to do next.",
		},
		output: []string{
			"companies_mentioned, roles_identified, domains_mentioned: lists, empty when none",
			"interest_level: High, Medium or Low",
			"summary: a brief summary for human review",
			"recommended_action: Apply, Research, Monitor or Ignore",
		},
		answer: `{"companies_mentioned": [], "roles_identified": [], "domains_mentioned": [], "interest_level": "Low", "summary": "...", "recommended_action": "Monitor"}`,
		build:  buildJobSearch,
	}}
}

// Name returns the handler name used in the registry.
func (a *Agent) Name() string { return a.spec.name }

// Execute implements Handler.
func (a *Agent) Execute(ctx context.Context, in Input) (*Result, error) {
	text, err := a.llm.Complete(ctx, classify.Prompt{
		System: a.systemPrompt(in),
		User:   a.userPrompt(in),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.spec.name, err)
	}
	res, err := a.spec.build(text, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.spec.name, err)
	}
	return res, nil
}

func (a *Agent) systemPrompt(in Input) string {
	var sb strings.Builder

	for _, line := range a.spec.background {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	action := in.Config.Action
	if action == "" {
		action = a.spec.action
	}
	fmt.Fprintf(&sb, "\n%s\n\nAction: %s\n", a.spec.task, action)
	if in.Config.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", in.Config.Description)
	}
	if len(in.Config.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(in.Config.Keywords, ", "))
	}
	names := make([]string, 0, len(in.Config.Entities))
	for name := range in.Config.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "Target %s: %s\n", name, strings.Join(in.Config.Entities[name], ", "))
	}

	if len(in.Examples) > 0 {
		domain := SenderDomain(in.Message.Sender)
		sb.WriteString("\nREVIEWED EXAMPLES\nA human reviewer confirmed that these emails belong to ")
		sb.WriteString(in.Assignment.Pair().String())
		sb.WriteString(". Follow their judgment.\n")
		for _, ex := range in.Examples {
			fmt.Fprintf(&sb, "- From: %s | Subject: %s", ex.Sender, ex.Subject)
			if ex.HumanReasoning != "" {
				fmt.Fprintf(&sb, " | Reviewer: %s", ex.HumanReasoning)
			}
			if domain != "" && SenderDomain(ex.Sender) == domain {
				sb.WriteString(" | same sender domain")
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nSteps:\n")
	for i, step := range a.spec.steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	sb.WriteString("\nFields:\n")
	for _, line := range a.spec.output {
		fmt.Fprintf(&sb, "- %s\n", line)
	}
	sb.WriteString("\nAnswer with a single JSON object and nothing else:\n")
	sb.WriteString(a.spec.answer)
	return sb.String()
}

func (a *Agent) userPrompt(in Input) string {
	req := classify.NewRequest(in.Message, nil, classify.DefaultContentLimit)
	return fmt.Sprintf("Sender: %s\nSubject: %s\nCategory: %s (confidence %.2f)\nCategorization reasoning: %s\n\nContent:\n%s",
		req.Sender, req.Subject, in.Assignment.Pair(), in.Assignment.Confidence, in.Assignment.Reasoning, req.Content)
}

func buildAdvertising(text string, in Input) (*Result, error) {
	var answer struct {
		CategorizationReasoning string   `json:"categorization_reasoning"`
		KeyIndicators           []string `json:"key_indicators"`
		SenderAnalysis          string   `json:"sender_analysis"`
	}
	if err := classify.DecodeJSON(text, &answer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(answer.CategorizationReasoning) == "" {
		return nil, fmt.Errorf("%w: missing categorization_reasoning", classify.ErrInvalidResponse)
	}

	report := AdvertisingReport{
		CategorizationReasoning: strings.TrimSpace(answer.CategorizationReasoning),
		KeyIndicators:           nonNil(answer.KeyIndicators),
		SenderAnalysis:          strings.TrimSpace(answer.SenderAnalysis),
		SenderDomain:            SenderDomain(in.Message.Sender),
		ConfirmedBefore:         len(in.SameSenderExamples()),
	}
	return &Result{
		Action:  "advertising_analysis",
		Summary: fmt.Sprintf("Advertising from %s (%d indicators)", displaySender(in.Message.Sender), len(report.KeyIndicators)),
		Payload: report,
	}, nil
}

func buildRest(text string, in Input) (*Result, error) {
	var answer struct {
		Summary         string `json:"summary"`
		Reasoning       string `json:"reasoning"`
		SuggestedAction string `json:"suggested_action"`
	}
	if err := classify.DecodeJSON(text, &answer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(answer.Summary) == "" {
		return nil, fmt.Errorf("%w: missing summary", classify.ErrInvalidResponse)
	}

	report := RestReport{
		Sender:          in.Message.Sender,
		Subject:         in.Message.Subject,
		Summary:         strings.TrimSpace(answer.Summary),
		Reasoning:       strings.TrimSpace(answer.Reasoning),
		SuggestedAction: strings.TrimSpace(answer.SuggestedAction),
	}
	return &Result{
		Action:  "summarize",
		Summary: fmt.Sprintf("%s: %s", displaySender(in.Message.Sender), in.Message.Subject),
		Payload: report,
	}, nil
}

func buildJobSearch(text string, _ Input) (*Result, error) {
	var report JobSearchReport
	if err := classify.DecodeJSON(text, &report); err != nil {
		return nil, err
	}
	if strings.TrimSpace(report.Summary) == "" {
		return nil, fmt.Errorf("%w: missing summary", classify.ErrInvalidResponse)
	}

	report.CompaniesMentioned = nonNil(report.CompaniesMentioned)
	report.RolesIdentified = nonNil(report.RolesIdentified)
	report.DomainsMentioned = nonNil(report.DomainsMentioned)
	report.Summary = strings.TrimSpace(report.Summary)
	report.InterestLevel = oneOf(report.InterestLevel, InterestLow, InterestHigh, InterestMedium, InterestLow)
	report.RecommendedAction = oneOf(report.RecommendedAction, RecommendMonitor,
		RecommendApply, RecommendResearch, RecommendMonitor, RecommendIgnore)

	return &Result{
		Action:  "job_review",
		Summary: fmt.Sprintf("%s interest: %s", report.InterestLevel, report.RecommendedAction),
		Payload: report,
	}, nil
}

// oneOf returns the allowed value matching v case-insensitively, or def.
func oneOf(v, def string, allowed ...string) string {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a
		}
	}
	return def
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
