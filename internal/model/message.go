package model

import "time"

// Message is one ingested email. Messages are written once by the
// ingestion controller and never mutated afterwards.
type Message struct {
	// ID is the system-assigned surrogate key.
	ID string `db:"id" json:"id"`

	// ExternalID is the provider-assigned identifier, unique per mailbox.
	ExternalID string `db:"external_id" json:"external_id"`

	Sender     string    `db:"sender" json:"sender"`
	Subject    string    `db:"subject" json:"subject"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`

	// Body is the normalized plain-text body.
	Body string `db:"body" json:"body"`

	// AttachmentText holds text extracted from attachments, if any were
	// extractable.
	AttachmentText  *string   `db:"attachment_text" json:"attachment_text,omitempty"`
	AttachmentCount int       `db:"attachment_count" json:"attachment_count"`
	IngestedAt      time.Time `db:"ingested_at" json:"ingested_at"`
}

// AgentHuman identifies assignments created from reviewer corrections.
const AgentHuman = "human"

// CategoryAssignment labels a Message. Assignments are append-only; the most
// recent one for a message is authoritative.
type CategoryAssignment struct {
	ID          string    `db:"id" json:"id"`
	MessageID   string    `db:"message_id" json:"message_id"`
	Category    string    `db:"category" json:"category"`
	Subcategory string    `db:"subcategory" json:"subcategory"`
	Confidence  float64   `db:"confidence" json:"confidence"`
	Reasoning   string    `db:"reasoning" json:"reasoning"`
	Agent       string    `db:"agent" json:"agent"`
	Fallback    bool      `db:"fallback" json:"fallback"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Pair returns the assignment's taxon pair.
func (a CategoryAssignment) Pair() Pair {
	return Pair{Category: a.Category, Subcategory: a.Subcategory}
}

// ActionOutcome is the result state of an action record.
type ActionOutcome string

const (
	OutcomeSuccess   ActionOutcome = "success"
	OutcomeFailed    ActionOutcome = "failed"
	OutcomeNoHandler ActionOutcome = "no_handler"
)

// ActionRecord is the outcome of running a category handler for a specific
// assignment. A record is superseded, never deleted, once a newer assignment
// exists for its message.
type ActionRecord struct {
	ID           string        `db:"id" json:"id"`
	MessageID    string        `db:"message_id" json:"message_id"`
	AssignmentID string        `db:"assignment_id" json:"assignment_id"`
	Category     string        `db:"category" json:"category"`
	Subcategory  string        `db:"subcategory" json:"subcategory"`
	Action       string        `db:"action" json:"action"`
	Payload      string        `db:"payload" json:"payload"`
	Summary      string        `db:"summary" json:"summary"`
	Success      bool          `db:"success" json:"success"`
	Error        *string       `db:"error" json:"error,omitempty"`
	Handler      string        `db:"handler" json:"handler"`
	Outcome      ActionOutcome `db:"outcome" json:"outcome"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// ReviewRecord is a human judgment on one CategoryAssignment.
type ReviewRecord struct {
	ID                   string    `db:"id" json:"id"`
	AssignmentID         string    `db:"assignment_id" json:"assignment_id"`
	MessageID            string    `db:"message_id" json:"message_id"`
	OriginalCategory     string    `db:"original_category" json:"original_category"`
	OriginalSubcategory  string    `db:"original_subcategory" json:"original_subcategory"`
	Approved             bool      `db:"approved" json:"approved"`
	CorrectedCategory    *string   `db:"corrected_category" json:"corrected_category,omitempty"`
	CorrectedSubcategory *string   `db:"corrected_subcategory" json:"corrected_subcategory,omitempty"`
	HumanReasoning       string    `db:"human_reasoning" json:"human_reasoning"`
	Reviewer             string    `db:"reviewer" json:"reviewer"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// ConfirmedPair returns the pair the reviewer settled on.
func (r ReviewRecord) ConfirmedPair() Pair {
	if r.Approved || r.CorrectedCategory == nil || r.CorrectedSubcategory == nil {
		return Pair{Category: r.OriginalCategory, Subcategory: r.OriginalSubcategory}
	}
	return Pair{Category: *r.CorrectedCategory, Subcategory: *r.CorrectedSubcategory}
}

// ReviewExample is a human-confirmed labeling used as guidance by handlers.
type ReviewExample struct {
	MessageID      string `db:"message_id"`
	Sender         string `db:"sender"`
	Subject        string `db:"subject"`
	HumanReasoning string `db:"human_reasoning"`
}

// MessageState is the derived pipeline state of a message.
type MessageState string

const (
	StateUnclassified MessageState = "unclassified"
	StateClassified   MessageState = "classified"
	StateActioned     MessageState = "actioned"
	StateActionFailed MessageState = "action_failed"
	StateNoHandler    MessageState = "no_handler"
)

// MessageOverview joins a message with its latest assignment, the action run
// for that assignment, and the review of that assignment, if any.
type MessageOverview struct {
	Message    Message
	Assignment *CategoryAssignment
	Action     *ActionRecord
	Review     *ReviewRecord
}

// State derives the message's lifecycle state.
func (o MessageOverview) State() MessageState {
	switch {
	case o.Assignment == nil:
		return StateUnclassified
	case o.Action == nil:
		return StateClassified
	case o.Action.Outcome == OutcomeNoHandler:
		return StateNoHandler
	case o.Action.Success:
		return StateActioned
	default:
		return StateActionFailed
	}
}

// PendingAction is a message whose latest assignment has not been actioned.
type PendingAction struct {
	Message    Message
	Assignment CategoryAssignment
}
