// Package classify provides the classification capability used by the
// categorizer: prompt construction, response parsing and the backends that
// produce a (category, subcategory, confidence, reasoning) answer.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nhle/inbox-triage/internal/model"
)

// DefaultContentLimit caps the runes of message content sent to a backend.
const DefaultContentLimit = 3000

// attachmentMarker separates the body from attachment text in the content.
const attachmentMarker = "--- ATTACHMENT CONTENT ---"

// ErrInvalidResponse is returned when a backend answer cannot be parsed.
var ErrInvalidResponse = errors.New("invalid classifier response")

// Request is one classification call.
type Request struct {
	Sender   string
	Subject  string
	Content  string
	Taxonomy *model.Taxonomy
}

// Result is a backend's answer. The pair is not validated here.
type Result struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// Pair returns the answered pair.
func (r Result) Pair() model.Pair {
	return model.Pair{Category: r.Category, Subcategory: r.Subcategory}
}

// Classifier labels a message with a taxonomy pair.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Result, error)

	// Name identifies the agent recorded on assignments.
	Name() string
}

// NewRequest builds a request for msg. Attachment text follows the body
// after a marker line, and the combined content is cut to limit runes.
func NewRequest(msg model.Message, tax *model.Taxonomy, limit int) Request {
	if limit <= 0 {
		limit = DefaultContentLimit
	}

	content := msg.Body
	if msg.AttachmentText != nil && *msg.AttachmentText != "" {
		content += "\n\n" + attachmentMarker + "\n" + *msg.AttachmentText
	}

	return Request{
		Sender:   msg.Sender,
		Subject:  msg.Subject,
		Content:  truncateRunes(content, limit),
		Taxonomy: tax,
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// StatusError is a non-success HTTP answer from a backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the call may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
