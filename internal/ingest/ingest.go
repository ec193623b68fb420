// Package ingest pulls messages from a mailbox into the message store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
	"github.com/nhle/inbox-triage/internal/textract"
)

// Claimer hands out cross-process claims on external IDs.
type Claimer interface {
	Claim(ctx context.Context, externalID string) (bool, error)
	Release(ctx context.Context, externalID string) error
}

// Counts summarizes one ingestion run.
type Counts struct {
	Fetched          int `json:"fetched"`
	Inserted         int `json:"inserted"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Failed           int `json:"failed"`
}

// Options configures a Controller.
type Options struct {
	// Workers bounds concurrent message processing. Defaults to 4.
	Workers int

	// RequestsPerSecond paces mailbox calls. Zero disables pacing.
	RequestsPerSecond float64

	// Claims is optional.
	Claims Claimer

	Logger *zap.Logger
	Now    func() time.Time
}

// Controller runs ingestion passes.
type Controller struct {
	store   store.Store
	mailbox source.Mailbox
	claims  Claimer
	limiter *rate.Limiter
	workers int
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a controller reading from mailbox into st.
func New(st store.Store, mailbox source.Mailbox, opts Options) *Controller {
	c := &Controller{
		store:   st,
		mailbox: mailbox,
		claims:  opts.Claims,
		workers: opts.Workers,
		now:     opts.Now,
		logger:  opts.Logger,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if c.workers <= 0 {
		c.workers = 4
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeDuplicate
	outcomeFailed
)

// Ingest fetches every message in window and stores the new ones. Messages
// already stored are skipped without error. Per-message failures are logged
// and counted; only a failed listing, an invalid window or cancellation
// returns an error.
func (c *Controller) Ingest(ctx context.Context, window source.Window) (Counts, error) {
	var counts Counts

	from, to, err := window.Resolve(c.now())
	if err != nil {
		return counts, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return counts, err
	}
	raws, err := c.mailbox.ListMessages(ctx, from, to)
	if err != nil {
		return counts, fmt.Errorf("listing %s messages: %w", c.mailbox.Provider(), err)
	}
	counts.Fetched = len(raws)

	c.logger.Info("ingesting messages",
		zap.String("provider", string(c.mailbox.Provider())),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("fetched", len(raws)),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, raw := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			res := c.ingestOne(gctx, raw)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeInserted:
				counts.Inserted++
			case outcomeDuplicate:
				counts.SkippedDuplicate++
			case outcomeFailed:
				counts.Failed++
			}
			return nil
		})
	}
	err = g.Wait()

	c.logger.Info("ingestion finished",
		zap.Int("fetched", counts.Fetched),
		zap.Int("inserted", counts.Inserted),
		zap.Int("skipped_duplicate", counts.SkippedDuplicate),
		zap.Int("failed", counts.Failed),
	)
	return counts, err
}

func (c *Controller) ingestOne(ctx context.Context, raw source.RawMessage) outcome {
	log := c.logger.With(zap.String("external_id", raw.ExternalID))

	if raw.Err != nil {
		log.Warn("mailbox reported message failure", zap.Error(raw.Err))
		return outcomeFailed
	}
	if strings.TrimSpace(raw.ExternalID) == "" {
		log.Warn("message has no external id", zap.String("subject", raw.Subject))
		return outcomeFailed
	}
	if raw.ReceivedAt.IsZero() {
		log.Warn("message has no received time")
		return outcomeFailed
	}

	exists, err := c.store.MessageExists(ctx, raw.ExternalID)
	if err != nil {
		log.Error("checking existing message", zap.Error(err))
		return outcomeFailed
	}
	if exists {
		log.Debug("skipping stored message")
		return outcomeDuplicate
	}

	if c.claims != nil {
		claimed, err := c.claims.Claim(ctx, raw.ExternalID)
		switch {
		case err != nil:
			log.Warn("claim unavailable, continuing unclaimed", zap.Error(err))
		case !claimed:
			log.Debug("message claimed by another run")
			return outcomeDuplicate
		}
	}

	res := c.persist(ctx, raw, log)
	if res == outcomeFailed && c.claims != nil {
		// Let a later run retry without waiting for the TTL.
		if err := c.claims.Release(context.WithoutCancel(ctx), raw.ExternalID); err != nil {
			log.Warn("releasing claim", zap.Error(err))
		}
	}
	return res
}

func (c *Controller) persist(ctx context.Context, raw source.RawMessage, log *zap.Logger) outcome {
	msg := &model.Message{
		ExternalID:      raw.ExternalID,
		Sender:          strings.TrimSpace(raw.Sender),
		Subject:         textract.Normalize(raw.Subject),
		ReceivedAt:      raw.ReceivedAt.UTC(),
		Body:            textract.Body(raw.TextBody, raw.HTMLBody),
		AttachmentCount: len(raw.Attachments),
	}

	text, err := c.attachmentText(ctx, raw)
	if err != nil {
		log.Warn("extracting attachments", zap.Error(err))
		return outcomeFailed
	}
	if text != "" {
		msg.AttachmentText = &text
	}

	inserted, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		log.Error("storing message", zap.Error(err))
		return outcomeFailed
	}
	if !inserted {
		log.Debug("message stored concurrently")
		return outcomeDuplicate
	}

	log.Debug("stored message", zap.String("message_id", msg.ID))
	return outcomeInserted
}

// attachmentText extracts and joins the text of all attachments that carry
// any. Unsupported types are skipped.
func (c *Controller) attachmentText(ctx context.Context, raw source.RawMessage) (string, error) {
	var parts []string
	for _, att := range raw.Attachments {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		text, err := c.mailbox.AttachmentText(ctx, raw, att)
		if errors.Is(err, textract.ErrUnsupported) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("attachment %q: %w", att.Filename, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
