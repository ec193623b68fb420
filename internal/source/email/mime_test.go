package email

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: Recruiter <hr@ework.se>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: =?UTF-8?Q?Interview_f=C3=B6r_IT_Project_manager?=\r\n" +
	"Date: Mon, 10 Mar 2025 09:30:00 +0100\r\n" +
	"Message-ID: <abc123@ework.se>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"We would like to invite you.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>We would like to <b>invite</b> you.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; name=\"role.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"role.txt\"\r\n" +
	"\r\n" +
	"Program Manager role description\r\n" +
	"--outer--\r\n"

func TestParseRaw(t *testing.T) {
	parsed, err := ParseRaw([]byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "<abc123@ework.se>", parsed.MessageID)
	assert.Equal(t, "Recruiter <hr@ework.se>", parsed.From)
	assert.Equal(t, "Interview för IT Project manager", parsed.Subject)
	assert.True(t, parsed.Date.Equal(time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)))
	assert.Contains(t, parsed.TextBody, "We would like to invite you.")
	assert.Contains(t, parsed.HTMLBody, "<b>invite</b>")

	require.Len(t, parsed.Attachments, 1)
	att := parsed.Attachments[0]
	assert.Equal(t, "role.txt", att.Filename)
	assert.Equal(t, "text/plain", att.MIMEType)
	assert.Contains(t, string(att.Content), "Program Manager")
	assert.Equal(t, int64(len(att.Content)), att.Size)
}

func TestParseRawSinglePart(t *testing.T) {
	raw := strings.Join([]string{
		"From: shop@store.com",
		"Subject: 50% off everything",
		"Content-Type: text/html",
		"",
		"<h1>Sale</h1>",
	}, "\r\n")

	parsed, err := ParseRaw([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "shop@store.com", parsed.From)
	assert.Empty(t, parsed.MessageID)
	assert.Contains(t, parsed.HTMLBody, "<h1>Sale</h1>")
	assert.Empty(t, parsed.Attachments)
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "<a@b>", normalizeMessageID("a@b"))
	assert.Equal(t, "<a@b>", normalizeMessageID(" <a@b> "))
	assert.Equal(t, "", normalizeMessageID("<>"))
}

func TestMessageFromBuffer(t *testing.T) {
	buf := &imapclient.FetchMessageBuffer{
		UID:          42,
		InternalDate: time.Date(2025, 3, 10, 8, 31, 0, 0, time.UTC),
		Envelope: &imap.Envelope{
			Subject: "Interview",
			From:    []imap.Address{{Name: "Recruiter", Mailbox: "hr", Host: "ework.se"}},
		},
	}

	t.Run("parses body and falls back to uid id", func(t *testing.T) {
		raw := messageFromBuffer(buf, []byte(multipartMessage), 7)
		require.NoError(t, raw.Err)
		assert.Equal(t, "imap:7:42", raw.ExternalID)
		assert.Equal(t, "Recruiter <hr@ework.se>", raw.Sender)
		assert.Equal(t, "Interview", raw.Subject)
		assert.True(t, raw.ReceivedAt.Equal(buf.InternalDate))
		assert.Len(t, raw.Attachments, 1)
	})

	t.Run("missing body is a per-message error", func(t *testing.T) {
		raw := messageFromBuffer(buf, nil, 7)
		assert.Error(t, raw.Err)
		assert.Equal(t, "imap:7:42", raw.ExternalID)
	})
}
