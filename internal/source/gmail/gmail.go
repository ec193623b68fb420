// Package gmail reads messages through the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/source/email"
	"github.com/nhle/inbox-triage/internal/textract"
)

const (
	// See https://developers.google.com/gmail/api/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsPerMessagesList = 1

	quotaUnitsPerSecond = 250
	rateLimitBurst      = quotaUnitsPerSecond

	user = "me"
)

// Config holds the Gmail mailbox settings.
type Config struct {
	ClientID     string
	ClientSecret string

	// Query is an extra Gmail search expression, e.g. "in:inbox -is:chat".
	Query       string
	MaxMessages int

	// RequestsPerSecond caps quota units per second. Zero uses 80% of the
	// per-user quota.
	RequestsPerSecond float64

	// Endpoint overrides the API base URL.
	Endpoint string
}

// Mailbox lists and fetches Gmail messages in raw RFC 5322 form.
type Mailbox struct {
	service *gmailapi.Service
	limiter *rate.Limiter
	query   string
	max     int
	logger  *zap.Logger
}

var _ source.Mailbox = (*Mailbox)(nil)

// OAuthConfig returns the OAuth2 client configuration for read-only access.
func OAuthConfig(cfg Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
	}
}

// NewMailbox creates a Gmail mailbox authorized by token. The token is
// refreshed by the oauth2 transport as needed.
func NewMailbox(ctx context.Context, cfg Config, token *oauth2.Token, logger *zap.Logger) (*Mailbox, error) {
	if token == nil {
		return nil, &source.AuthError{Provider: source.ProviderGmail, Message: "no OAuth token stored"}
	}
	client := OAuthConfig(cfg).Client(ctx, token)
	return New(ctx, client, cfg, logger)
}

// New creates a Gmail mailbox on top of an already authorized HTTP client.
func New(ctx context.Context, client *http.Client, cfg Config, logger *zap.Logger) (*Mailbox, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	perSecond := cfg.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = quotaUnitsPerSecond * 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Mailbox{
		service: svc,
		limiter: rate.NewLimiter(rate.Limit(perSecond), rateLimitBurst),
		query:   cfg.Query,
		max:     cfg.MaxMessages,
		logger:  logger,
	}, nil
}

// Provider implements source.Mailbox.
func (m *Mailbox) Provider() source.Provider { return source.ProviderGmail }

// Close implements source.Mailbox.
func (m *Mailbox) Close() error { return nil }

// ListMessages lists message IDs received in [from, to] and fetches each
// one in raw format. Fetch and parse failures are reported per message.
func (m *Mailbox) ListMessages(ctx context.Context, from, to time.Time) ([]source.RawMessage, error) {
	ids, err := m.listIDs(ctx, windowQuery(m.query, from, to))
	if err != nil {
		return nil, err
	}

	out := make([]source.RawMessage, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		raw, err := m.fetch(ctx, id)
		if err != nil {
			if source.IsAuthError(err) || errors.Is(err, context.Canceled) {
				return out, err
			}
			out = append(out, source.RawMessage{ExternalID: "gmail:" + id, Err: err})
			continue
		}
		if raw.ReceivedAt.Before(from) || raw.ReceivedAt.After(to) {
			continue
		}
		out = append(out, raw)
	}

	m.logger.Debug("listed Gmail messages", zap.Int("ids", len(ids)), zap.Int("in_window", len(out)))
	return out, nil
}

// AttachmentText implements source.Mailbox. Raw messages carry their
// attachments inline.
func (m *Mailbox) AttachmentText(_ context.Context, _ source.RawMessage, att source.Attachment) (string, error) {
	return textract.Extract(att.MIMEType, att.Filename, att.Content)
}

func (m *Mailbox) listIDs(ctx context.Context, query string) ([]string, error) {
	if err := m.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, err
	}

	var ids []string
	errStop := errors.New("stop")
	req := m.service.Users.Messages.List(user).Q(query).Context(ctx)
	err := req.Pages(ctx, func(page *gmailapi.ListMessagesResponse) error {
		for _, msg := range page.Messages {
			ids = append(ids, msg.Id)
			if m.max > 0 && len(ids) >= m.max {
				return errStop
			}
		}
		if page.NextPageToken != "" {
			return m.limiter.WaitN(ctx, quotaUnitsPerMessagesList)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("listing gmail messages: %w", apiError(err))
	}
	return ids, nil
}

func (m *Mailbox) fetch(ctx context.Context, id string) (source.RawMessage, error) {
	if err := m.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return source.RawMessage{}, err
	}

	msg, err := m.service.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return source.RawMessage{}, fmt.Errorf("getting message %s: %w", id, apiError(err))
	}

	data, err := decodeRaw(msg.Raw)
	if err != nil {
		return source.RawMessage{}, fmt.Errorf("decoding message %s: %w", id, err)
	}

	parsed, err := email.ParseRaw(data)
	if err != nil {
		return source.RawMessage{}, fmt.Errorf("parsing message %s: %w", id, err)
	}

	raw := source.RawMessage{
		ExternalID:  parsed.MessageID,
		Sender:      parsed.From,
		Subject:     parsed.Subject,
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		TextBody:    parsed.TextBody,
		HTMLBody:    parsed.HTMLBody,
		Attachments: parsed.Attachments,
	}
	if raw.ExternalID == "" {
		raw.ExternalID = "gmail:" + msg.Id
	}
	if msg.InternalDate == 0 {
		raw.ReceivedAt = parsed.Date
	}
	return raw, nil
}

// windowQuery appends epoch-second bounds to the base query. Gmail's
// before: is exclusive, so the upper bound is moved one second forward.
func windowQuery(base string, from, to time.Time) string {
	q := fmt.Sprintf("after:%d before:%d", from.Unix(), to.Unix()+1)
	if base = strings.TrimSpace(base); base != "" {
		q = base + " " + q
	}
	return q
}

// decodeRaw decodes the base64url payload, with or without padding.
func decodeRaw(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// apiError turns 401/403 responses and token refresh failures into
// source.AuthError.
func apiError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &source.AuthError{Provider: source.ProviderGmail, Message: rerr.Error()}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden {
			return &source.AuthError{Provider: source.ProviderGmail, Message: gerr.Message}
		}
	}
	return err
}
