package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AuthError indicates that authentication has failed or expired for a
// mailbox. It is returned when the provider rejects the credentials.
type AuthError struct {
	Provider Provider
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Provider identifies the kind of mailbox integration.
type Provider string

const (
	ProviderIMAP  Provider = "imap"
	ProviderGmail Provider = "gmail"
)

// ErrInvalidWindow is returned for windows whose bounds are reversed or
// that set neither a range nor a lookback.
var ErrInvalidWindow = errors.New("invalid ingestion window")

// Window selects messages by received time. Either From/To or LookbackDays
// is set; a lookback ends now.
type Window struct {
	From         time.Time
	To           time.Time
	LookbackDays int
}

// Lookback returns a window covering the last days days.
func Lookback(days int) Window {
	return Window{LookbackDays: days}
}

// Range returns a closed window from..to.
func Range(from, to time.Time) Window {
	return Window{From: from, To: to}
}

// Resolve returns the concrete [from, to] bounds of w relative to now.
func (w Window) Resolve(now time.Time) (time.Time, time.Time, error) {
	if w.LookbackDays > 0 {
		if !w.From.IsZero() || !w.To.IsZero() {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: both range and lookback set", ErrInvalidWindow)
		}
		return now.AddDate(0, 0, -w.LookbackDays), now, nil
	}
	if w.From.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: no start", ErrInvalidWindow)
	}
	to := w.To
	if to.IsZero() {
		to = now
	}
	if to.Before(w.From) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is before %s",
			ErrInvalidWindow, to.Format(time.RFC3339), w.From.Format(time.RFC3339))
	}
	return w.From, to, nil
}

// Attachment references one attachment of a raw message. Content may be
// nil when the mailbox fetches attachments lazily through AttachmentText.
type Attachment struct {
	// ID is the provider reference used to fetch the content lazily.
	ID       string
	Filename string
	MIMEType string
	Size     int64
	Content  []byte
}

// RawMessage is a message as delivered by a mailbox, before normalization.
type RawMessage struct {
	ExternalID  string
	Sender      string
	Subject     string
	ReceivedAt  time.Time
	TextBody    string
	HTMLBody    string
	Attachments []Attachment

	// Err is set when the mailbox could list the message but failed to
	// fetch or parse it. Such messages are counted as failures.
	Err error
}

// Mailbox is the mail collaborator used by ingestion.
type Mailbox interface {
	// Provider returns the mailbox provider identifier.
	Provider() Provider

	// ListMessages returns the messages received within the resolved window.
	// Per-message failures are reported in RawMessage.Err; a returned error
	// means the listing itself failed.
	ListMessages(ctx context.Context, from, to time.Time) ([]RawMessage, error)

	// AttachmentText returns the extracted text of an attachment.
	AttachmentText(ctx context.Context, msg RawMessage, att Attachment) (string, error)

	// Close releases the connection.
	Close() error
}
