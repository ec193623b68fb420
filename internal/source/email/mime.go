package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/inbox-triage/internal/source"
)

// maxAttachmentSize caps the attachment bytes kept in memory per part.
const maxAttachmentSize = 10 << 20

// ParsedMessage holds the decoded content of an RFC 5322 message.
type ParsedMessage struct {
	MessageID   string
	From        string
	Subject     string
	Date        time.Time
	TextBody    string
	HTMLBody    string
	Attachments []source.Attachment
}

// ParseRaw parses a raw message with go-message and separates the
// text/plain body, the text/html body and attachment parts. Non-UTF-8
// charsets are decoded.
func ParseRaw(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedMessage{}

	h := mr.Header
	if id, err := h.MessageID(); err == nil {
		parsed.MessageID = normalizeMessageID(id)
	}
	if subject, err := h.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		parsed.Date = date
	}
	parsed.From = senderFromHeader(h)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsed, fmt.Errorf("reading part: %w", err)
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && parsed.TextBody == "":
				parsed.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && parsed.HTMLBody == "":
				parsed.HTMLBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()

			body, readErr := io.ReadAll(io.LimitReader(part.Body, maxAttachmentSize))
			if readErr != nil {
				continue
			}

			parsed.Attachments = append(parsed.Attachments, source.Attachment{
				ID:       fmt.Sprintf("part-%d", len(parsed.Attachments)),
				Filename: filename,
				MIMEType: contentType,
				Size:     int64(len(body)),
				Content:  body,
			})
		}
	}

	return parsed, nil
}

// senderFromHeader renders the first From address as "Name <addr>", or the
// bare address when there is no display name.
func senderFromHeader(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get("From"))
	}

	from := addrs[0]
	if from.Name != "" {
		return fmt.Sprintf("%s <%s>", from.Name, from.Address)
	}
	return from.Address
}

// normalizeMessageID returns id in its bracketed form, or "" when empty.
func normalizeMessageID(id string) string {
	id = strings.Trim(strings.TrimSpace(id), "<>")
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}
