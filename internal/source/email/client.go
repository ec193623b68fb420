package email

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/textract"
)

// Config holds the IMAP connection settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	Mailbox     string
	MaxMessages int
}

// Mailbox reads messages from an IMAP folder using go-imap v2. Each
// ListMessages call opens its own session.
type Mailbox struct {
	cfg    Config
	logger *zap.Logger
}

var _ source.Mailbox = (*Mailbox)(nil)

// NewMailbox creates an IMAP mailbox. No connection is made until
// ListMessages is called.
func NewMailbox(cfg Config, logger *zap.Logger) *Mailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{cfg: cfg, logger: logger}
}

// Provider implements source.Mailbox.
func (m *Mailbox) Provider() source.Provider { return source.ProviderIMAP }

// Close implements source.Mailbox. Sessions are closed per call.
func (m *Mailbox) Close() error { return nil }

// connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (m *Mailbox) connect() (*imapclient.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var client *imapclient.Client
	var err error

	if m.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Provider: source.ProviderIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				m.cfg.Username, err,
			),
		}
	}

	return client, nil
}

// ListMessages searches the configured folder for messages received in
// [from, to] and fetches their full content. IMAP date search has day
// granularity, so results are filtered again by the parsed timestamp.
func (m *Mailbox) ListMessages(ctx context.Context, from, to time.Time) ([]source.RawMessage, error) {
	client, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	// The client has no context support; closing the connection unblocks
	// any pending command.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	selected, err := client.Select(m.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", m.cfg.Mailbox, err)
	}

	criteria := &imap.SearchCriteria{
		Since:  from,
		Before: to.AddDate(0, 0, 1),
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	// Keep the most recent when capped.
	if m.cfg.MaxMessages > 0 && len(uids) > m.cfg.MaxMessages {
		uids = uids[len(uids)-m.cfg.MaxMessages:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var out []source.RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			m.logger.Warn("collecting IMAP message", zap.Uint32("seq", msg.SeqNum), zap.Error(err))
			continue
		}

		raw := messageFromBuffer(buf, buf.FindBodySection(bodySection), selected.UIDValidity)
		if raw.Err == nil && (raw.ReceivedAt.Before(from) || raw.ReceivedAt.After(to)) {
			continue
		}
		out = append(out, raw)
	}

	if err := fetchCmd.Close(); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("fetching messages: %w", err)
	}

	m.logger.Debug("listed IMAP messages",
		zap.String("mailbox", m.cfg.Mailbox),
		zap.Int("searched", len(uids)),
		zap.Int("in_window", len(out)),
	)
	return out, nil
}

// AttachmentText implements source.Mailbox. IMAP attachments are fetched
// with the message, so only extraction is needed.
func (m *Mailbox) AttachmentText(_ context.Context, _ source.RawMessage, att source.Attachment) (string, error) {
	return textract.Extract(att.MIMEType, att.Filename, att.Content)
}

// messageFromBuffer converts a fetched message into a RawMessage. The
// Message-ID header is the external ID; messages without one fall back to
// the folder's UID validity and the UID.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer, body []byte, uidValidity uint32) source.RawMessage {
	raw := source.RawMessage{
		ExternalID: fmt.Sprintf("imap:%d:%d", uidValidity, buf.UID),
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		if id := normalizeMessageID(buf.Envelope.MessageID); id != "" {
			raw.ExternalID = id
		}
		raw.Subject = buf.Envelope.Subject
		if !buf.Envelope.Date.IsZero() {
			raw.ReceivedAt = buf.Envelope.Date
		}
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				raw.Sender = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				raw.Sender = from.Addr()
			}
		}
	}

	if body == nil {
		raw.Err = fmt.Errorf("message UID %d has no body", buf.UID)
		return raw
	}

	parsed, err := ParseRaw(body)
	if err != nil {
		raw.Err = fmt.Errorf("parsing message UID %d: %w", buf.UID, err)
		return raw
	}
	applyParsed(&raw, parsed)
	return raw
}

// applyParsed fills fields from the parsed MIME content, keeping envelope
// values where they exist.
func applyParsed(raw *source.RawMessage, parsed *ParsedMessage) {
	raw.TextBody = parsed.TextBody
	raw.HTMLBody = parsed.HTMLBody
	raw.Attachments = parsed.Attachments

	if raw.Subject == "" {
		raw.Subject = parsed.Subject
	}
	if raw.Sender == "" {
		raw.Sender = parsed.From
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = parsed.Date
	}
}
