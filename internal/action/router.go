package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// ErrNoHandler is recorded when no handler is registered for a pair.
var ErrNoHandler = errors.New("no handler registered")

// Counts summarizes one routing pass.
type Counts struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	NoHandler int `json:"no_handler"`
}

// Options configures a Router.
type Options struct {
	// Workers bounds concurrent handler runs. Defaults to 4.
	Workers int

	// ExampleLimit caps the approved examples passed to handlers.
	// Defaults to 5; negative disables examples.
	ExampleLimit int

	// BatchSize is the default number of pending actions taken per pass.
	// Defaults to 100.
	BatchSize int

	Logger *zap.Logger
}

// Router dispatches messages to registered handlers.
type Router struct {
	store    store.Store
	taxonomy *model.Taxonomy
	registry *Registry
	opts     Options
	logger   *zap.Logger
}

// NewRouter creates a router.
func NewRouter(st store.Store, tax *model.Taxonomy, reg *Registry, opts Options) *Router {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ExampleLimit == 0 {
		opts.ExampleLimit = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: st, taxonomy: tax, registry: reg, opts: opts, logger: logger}
}

// RouteAndExecute runs the handler for the assignment's pair and records
// the outcome. A missing handler, a handler error or a handler panic
// produces a failed record, not an error; the error return is reserved for
// failing to persist the record.
func (r *Router) RouteAndExecute(ctx context.Context, msg model.Message, a model.CategoryAssignment) (*model.ActionRecord, error) {
	log := r.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("assignment_id", a.ID),
		zap.String("pair", a.Pair().String()),
	)

	rec := &model.ActionRecord{
		MessageID:    msg.ID,
		AssignmentID: a.ID,
		Category:     a.Category,
		Subcategory:  a.Subcategory,
	}

	h, name, ok := r.registry.Lookup(a.Pair())
	if !ok {
		log.Warn("no handler for pair")
		rec.Action = "none"
		rec.Outcome = model.OutcomeNoHandler
		rec.Summary = "No handler registered for " + a.Pair().String()
		setError(rec, fmt.Errorf("%w for %s", ErrNoHandler, a.Pair()))
		return rec, r.record(ctx, rec)
	}
	rec.Handler = name

	res, err := r.execute(ctx, h, r.input(ctx, msg, a, log))
	if err == nil {
		err = apply(rec, res)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("action failed", zap.String("handler", name), zap.Error(err))
		rec.Outcome = model.OutcomeFailed
		if rec.Action == "" {
			rec.Action = name
		}
		setError(rec, err)
		return rec, r.record(ctx, rec)
	}

	rec.Success = true
	rec.Outcome = model.OutcomeSuccess
	log.Debug("action succeeded", zap.String("handler", name), zap.String("summary", rec.Summary))
	return rec, r.record(ctx, rec)
}

func (r *Router) input(ctx context.Context, msg model.Message, a model.CategoryAssignment, log *zap.Logger) Input {
	in := Input{Message: msg, Assignment: a}
	if r.taxonomy != nil {
		in.Config, _ = r.taxonomy.Lookup(a.Pair())
	}
	if r.opts.ExampleLimit > 0 {
		examples, err := r.store.ApprovedExamples(ctx, a.Pair(), r.opts.ExampleLimit)
		if err != nil {
			log.Warn("loading review examples", zap.Error(err))
		}
		in.Examples = examples
	}
	return in
}

// execute runs h, turning a panic into an error.
func (r *Router) execute(ctx context.Context, h Handler, in Input) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			res, err = nil, fmt.Errorf("handler panicked: %v", p)
		}
	}()

	res, err = h.Execute(ctx, in)
	if err == nil && res == nil {
		err = errors.New("handler returned no result")
	}
	return res, err
}

func apply(rec *model.ActionRecord, res *Result) error {
	rec.Action = res.Action
	rec.Summary = res.Summary
	if res.Payload == nil {
		return nil
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return fmt.Errorf("encoding action payload: %w", err)
	}
	rec.Payload = string(payload)
	return nil
}

func setError(rec *model.ActionRecord, err error) {
	msg := err.Error()
	rec.Error = &msg
}

func (r *Router) record(ctx context.Context, rec *model.ActionRecord) error {
	if err := r.store.RecordAction(ctx, rec); err != nil {
		return fmt.Errorf("recording action: %w", err)
	}
	return nil
}

// RunPending routes every message whose latest assignment has no action
// record, up to limit (zero uses the batch size). Per-message outcomes are
// counted; only cancellation, a failed listing or a failed write returns an
// error.
func (r *Router) RunPending(ctx context.Context, limit int) (Counts, error) {
	if limit <= 0 {
		limit = r.opts.BatchSize
	}
	pending, err := r.store.ListPendingActions(ctx, limit)
	if err != nil {
		return Counts{}, fmt.Errorf("listing pending actions: %w", err)
	}

	var (
		counts Counts
		mu     sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, p := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := r.RouteAndExecute(gctx, p.Message, p.Assignment)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			counts.Processed++
			switch rec.Outcome {
			case model.OutcomeSuccess:
				counts.Succeeded++
			case model.OutcomeNoHandler:
				counts.NoHandler++
			default:
				counts.Failed++
			}
			return nil
		})
	}
	err = g.Wait()

	r.logger.Info("actions finished",
		zap.Int("processed", counts.Processed),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("failed", counts.Failed),
		zap.Int("no_handler", counts.NoHandler),
	)
	return counts, err
}
