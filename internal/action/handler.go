// Package action routes categorized messages to the handler registered for
// their (category, subcategory) pair and records the outcome.
package action

import (
	"context"
	"strings"

	"github.com/nhle/inbox-triage/internal/model"
)

// Input is everything a handler may use.
type Input struct {
	Message    model.Message
	Assignment model.CategoryAssignment

	// Config is the pair's supporting configuration: keywords, entity lists
	// and the action description.
	Config model.SubcategoryConfig

	// Examples are human-approved labelings for the same pair, newest first.
	Examples []model.ReviewExample
}

// Content returns the body followed by any attachment text.
func (in Input) Content() string {
	if in.Message.AttachmentText == nil || *in.Message.AttachmentText == "" {
		return in.Message.Body
	}
	return in.Message.Body + "\n\n" + *in.Message.AttachmentText
}

// SameSenderExamples returns the examples whose sender shares the message's
// sender domain.
func (in Input) SameSenderExamples() []model.ReviewExample {
	domain := SenderDomain(in.Message.Sender)
	if domain == "" {
		return nil
	}
	var out []model.ReviewExample
	for _, ex := range in.Examples {
		if SenderDomain(ex.Sender) == domain {
			out = append(out, ex)
		}
	}
	return out
}

// Result is a handler's output.
type Result struct {
	// Action names what was done, e.g. "advertising_analysis".
	Action string

	// Summary is a one-line human readable outcome.
	Summary string

	// Payload is marshaled to JSON and stored on the action record.
	Payload any
}

// Handler executes the action for one pair.
type Handler interface {
	Execute(ctx context.Context, in Input) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in Input) (*Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, in Input) (*Result, error) {
	return f(ctx, in)
}

// SenderDomain extracts the lowercased domain of an address such as
// "Shop <news@shop.example>".
func SenderDomain(sender string) string {
	s := sender
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = s[i+1:]
		if j := strings.Index(s, ">"); j >= 0 {
			s = s[:j]
		}
	}
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s[at+1:]))
}
