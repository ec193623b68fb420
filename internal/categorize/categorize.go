// Package categorize labels stored messages with a taxonomy pair.
package categorize

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/inbox-triage/internal/classify"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// Counts summarizes one categorization pass.
type Counts struct {
	Processed  int `json:"processed"`
	Classified int `json:"classified"`
	Fallback   int `json:"fallback"`
	Failed     int `json:"failed"`
}

func (c *Counts) add(a *model.CategoryAssignment, err error) {
	c.Processed++
	switch {
	case err != nil:
		c.Failed++
	case a.Fallback:
		c.Fallback++
	default:
		c.Classified++
	}
}

// Options configures a Categorizer.
type Options struct {
	// Workers bounds concurrent classifications. Defaults to 4.
	Workers int

	// ContentLimit caps the body runes sent to the classifier.
	ContentLimit int

	// BatchSize is the default number of unclassified messages taken per
	// pass. Defaults to 100.
	BatchSize int

	Logger *zap.Logger
}

// Categorizer classifies messages and appends the validated assignment.
type Categorizer struct {
	store      store.Store
	taxonomy   *model.Taxonomy
	classifier classify.Classifier
	opts       Options
	logger     *zap.Logger
}

// New creates a categorizer.
func New(st store.Store, tax *model.Taxonomy, c classify.Classifier, opts Options) *Categorizer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Categorizer{
		store:      st,
		taxonomy:   tax,
		classifier: c,
		opts:       opts,
		logger:     logger,
	}
}

// Categorize classifies msg and persists the result. A pair outside the
// taxonomy is replaced by the fallback pair; that is not an error. A
// classifier failure returns an error and writes nothing, so the message
// stays unclassified.
func (c *Categorizer) Categorize(ctx context.Context, msg model.Message) (*model.CategoryAssignment, error) {
	log := c.logger.With(zap.String("message_id", msg.ID))

	req := classify.NewRequest(msg, c.taxonomy, c.opts.ContentLimit)
	res, err := c.classifier.Classify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classifying message %s: %w", msg.ID, err)
	}

	a := c.validate(msg.ID, res)
	if a.Fallback {
		log.Warn("classifier answered a pair outside the taxonomy",
			zap.String("rejected", res.Pair().String()),
			zap.String("fallback", a.Pair().String()),
			zap.String("reasoning", res.Reasoning),
		)
	}

	if err := c.store.AppendAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("storing assignment for %s: %w", msg.ID, err)
	}

	log.Debug("categorized message",
		zap.String("pair", a.Pair().String()),
		zap.Float64("confidence", a.Confidence),
		zap.String("agent", a.Agent),
	)
	return a, nil
}

// validate turns a classifier answer into an assignment whose pair is
// always in the taxonomy and whose confidence is within [0, 1].
func (c *Categorizer) validate(messageID string, res *classify.Result) *model.CategoryAssignment {
	a := &model.CategoryAssignment{
		MessageID:   messageID,
		Category:    res.Category,
		Subcategory: res.Subcategory,
		Confidence:  clampConfidence(res.Confidence),
		Reasoning:   res.Reasoning,
		Agent:       c.classifier.Name(),
	}
	if c.taxonomy.Allows(res.Pair()) {
		return a
	}

	fb := c.taxonomy.Fallback()
	a.Category = fb.Category
	a.Subcategory = fb.Subcategory
	a.Confidence = c.taxonomy.FallbackConfidence()
	a.Fallback = true
	a.Reasoning = fmt.Sprintf("fallback: classifier answered %q which is not a valid combination", res.Pair().String())
	return a
}

func clampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// CategorizePending classifies up to limit unclassified messages, oldest
// first. Zero uses the configured batch size. Per-message failures are
// logged and counted; only cancellation or a failed listing returns an error.
func (c *Categorizer) CategorizePending(ctx context.Context, limit int) (Counts, error) {
	if limit <= 0 {
		limit = c.opts.BatchSize
	}
	msgs, err := c.store.ListUnclassified(ctx, limit)
	if err != nil {
		return Counts{}, fmt.Errorf("listing unclassified messages: %w", err)
	}
	return c.CategorizeMessages(ctx, msgs)
}

// CategorizeMessages classifies msgs regardless of their current state.
// Already classified messages get a new assignment appended.
func (c *Categorizer) CategorizeMessages(ctx context.Context, msgs []model.Message) (Counts, error) {
	var (
		counts Counts
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	for _, msg := range msgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			a, err := c.Categorize(gctx, msg)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("categorization failed",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}

			mu.Lock()
			counts.add(a, err)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	c.logger.Info("categorization finished",
		zap.String("agent", c.classifier.Name()),
		zap.Int("processed", counts.Processed),
		zap.Int("classified", counts.Classified),
		zap.Int("fallback", counts.Fallback),
		zap.Int("failed", counts.Failed),
	)
	return counts, err
}
