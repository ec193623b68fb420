// Package pipeline runs the ingest, categorize and act phases in order and
// repeats them on an interval for the watch view.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/inbox-triage/internal/action"
	"github.com/nhle/inbox-triage/internal/categorize"
	"github.com/nhle/inbox-triage/internal/ingest"
	"github.com/nhle/inbox-triage/internal/report"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
)

// Phase names a pipeline step.
type Phase string

const (
	PhaseIngest     Phase = "ingest"
	PhaseCategorize Phase = "categorize"
	PhaseAct        Phase = "act"
	PhaseSummarize  Phase = "summarize"
)

// Phases lists the steps in execution order.
var Phases = []Phase{PhaseIngest, PhaseCategorize, PhaseAct, PhaseSummarize}

// Ingester pulls new messages into the store.
type Ingester interface {
	Ingest(ctx context.Context, window source.Window) (ingest.Counts, error)
}

// Categorizer labels unclassified messages.
type Categorizer interface {
	CategorizePending(ctx context.Context, limit int) (categorize.Counts, error)
}

// Actor runs handlers for pending assignments.
type Actor interface {
	RunPending(ctx context.Context, limit int) (action.Counts, error)
}

// PhaseError is a phase that failed without stopping the run.
type PhaseError struct {
	Phase Phase  `json:"phase"`
	Error string `json:"error"`
	Auth  bool   `json:"auth,omitempty"`
}

// RunResult collects the outcome of one run.
type RunResult struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Ingest     ingest.Counts     `json:"ingest"`
	Categorize categorize.Counts `json:"categorize"`
	Act        action.Counts     `json:"act"`
	Report     *report.Report    `json:"report,omitempty"`
	Errors     []PhaseError      `json:"errors,omitempty"`
}

// Failed reports whether any phase failed.
func (r *RunResult) Failed() bool {
	return len(r.Errors) > 0
}

// Runner wires the phases together. Ingester may be nil to process only
// what is already stored.
type Runner struct {
	Store       store.Store
	Ingester    Ingester
	Categorizer Categorizer
	Actor       Actor
	Logger      *zap.Logger
	Now         func() time.Time
}

// RunOptions configures one run.
type RunOptions struct {
	Window source.Window

	// Limit caps the messages per categorize and act phase. Zero uses the
	// phase default.
	Limit int

	// SkipIngest processes stored messages only.
	SkipIngest bool

	// Summary adds a report over Window to the result.
	Summary bool
}

// OnPhase is called when a phase starts and when it ends (err is nil on
// success).
type OnPhase func(phase Phase, done bool, err error)

// RunOnce runs every phase in order. A failing phase is recorded and later
// phases still run on what is already stored, so an unreachable mailbox
// does not block categorization. Only cancellation aborts the run.
func (r *Runner) RunOnce(ctx context.Context, opts RunOptions, onPhase OnPhase) (*RunResult, error) {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if onPhase == nil {
		onPhase = func(Phase, bool, error) {}
	}

	res := &RunResult{StartedAt: now().UTC()}

	step := func(phase Phase, fn func() error) error {
		onPhase(phase, false, nil)
		err := fn()
		onPhase(phase, true, err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("phase failed", zap.String("phase", string(phase)), zap.Error(err))
		res.Errors = append(res.Errors, PhaseError{
			Phase: phase,
			Error: err.Error(),
			Auth:  source.IsAuthError(err),
		})
		return nil
	}

	steps := []struct {
		phase Phase
		skip  bool
		fn    func() error
	}{
		{PhaseIngest, opts.SkipIngest || r.Ingester == nil, func() (err error) {
			res.Ingest, err = r.Ingester.Ingest(ctx, opts.Window)
			return err
		}},
		{PhaseCategorize, r.Categorizer == nil, func() (err error) {
			res.Categorize, err = r.Categorizer.CategorizePending(ctx, opts.Limit)
			return err
		}},
		{PhaseAct, r.Actor == nil, func() (err error) {
			res.Act, err = r.Actor.RunPending(ctx, opts.Limit)
			return err
		}},
		{PhaseSummarize, !opts.Summary || r.Store == nil, func() error {
			return r.summarize(ctx, opts.Window, res, now)
		}},
	}

	for _, s := range steps {
		if s.skip {
			continue
		}
		if err := step(s.phase, s.fn); err != nil {
			res.FinishedAt = now().UTC()
			return res, err
		}
	}

	res.FinishedAt = now().UTC()
	logger.Info("run finished",
		zap.Int("inserted", res.Ingest.Inserted),
		zap.Int("categorized", res.Categorize.Classified+res.Categorize.Fallback),
		zap.Int("actioned", res.Act.Processed),
		zap.Int("phase_errors", len(res.Errors)),
		zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (r *Runner) summarize(ctx context.Context, window source.Window, res *RunResult, now func() time.Time) error {
	opts := report.Options{Now: now}

	// An empty window reports everything.
	if window != (source.Window{}) {
		from, to, err := window.Resolve(now())
		if err != nil {
			return fmt.Errorf("resolving report window: %w", err)
		}
		opts.Since, opts.Until = &from, &to
	}

	rep, err := report.Build(ctx, r.Store, opts)
	if err != nil {
		return err
	}
	res.Report = rep
	return nil
}
