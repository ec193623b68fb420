package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

// PhaseState is the current state of a pipeline phase.
type PhaseState int

const (
	PhaseIdle PhaseState = iota
	PhaseRunning
	PhaseFailed
)

func (s PhaseState) String() string {
	switch s {
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// PhaseStatus holds the state of a single phase.
type PhaseStatus struct {
	Phase    Phase
	State    PhaseState
	LastDone time.Time
	Error    error
}

// RunResultMsg is a tea.Msg sent when a run completes.
type RunResultMsg struct {
	Result    *RunResult
	Error     error
	AuthError *AuthErrorMsg
}

// PhaseStatusMsg is a tea.Msg sent whenever a phase starts or ends.
type PhaseStatusMsg struct {
	Statuses []PhaseStatus
}

// AuthErrorMsg is a tea.Msg sent when the mailbox rejects the credentials.
type AuthErrorMsg struct {
	Message string
}

// defaultRunTimeout bounds a single run.
const defaultRunTimeout = 10 * time.Minute

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval between runs. Defaults to 5 minutes.
	Interval time.Duration

	// RunTimeout bounds each run. Defaults to 10 minutes.
	RunTimeout time.Duration

	// Run configures each run. A lookback window is re-resolved per run.
	Run RunOptions

	Logger *zap.Logger
}

// Poller repeats pipeline runs on an interval and streams results to the
// watch view.
type Poller struct {
	runner   *Runner
	opts     PollerOptions
	logger   *zap.Logger
	statuses map[Phase]*PhaseStatus
	resultCh chan RunResultMsg
	statusCh chan PhaseStatusMsg
	trigger  chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewPoller creates a poller around runner.
func NewPoller(runner *Runner, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Poller{
		runner:   runner,
		opts:     opts,
		logger:   logger,
		statuses: make(map[Phase]*PhaseStatus, len(Phases)),
		resultCh: make(chan RunResultMsg, 16),
		statusCh: make(chan PhaseStatusMsg, 64),
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, ph := range Phases {
		p.statuses[ph] = &PhaseStatus{Phase: ph}
	}
	return p
}

// Start launches the polling goroutine and returns a command that waits
// for the first result. It runs immediately, then once per interval.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return tea.Batch(p.WaitForResult(), p.WaitForStatus())
}

// Stop halts polling and waits for an in-flight run to observe it.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.done
}

// Refresh triggers an immediate run unless one is already queued.
func (p *Poller) Refresh() tea.Cmd {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Statuses returns the current phase statuses in execution order.
func (p *Poller) Statuses() []PhaseStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PhaseStatus, 0, len(Phases))
	for _, ph := range Phases {
		out = append(out, *p.statuses[ph])
	}
	return out
}

func (p *Poller) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.runOnce()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runOnce()
		case <-p.trigger:
			p.runOnce()
		}
	}
}

// runOnce performs one run and publishes its result.
func (p *Poller) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.RunTimeout)
	defer cancel()

	// Stop cancels an in-flight run.
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := p.runner.RunOnce(ctx, p.opts.Run, p.onPhase)

	msg := RunResultMsg{Result: res, Error: err}
	if res != nil {
		for _, pe := range res.Errors {
			if pe.Auth {
				msg.AuthError = &AuthErrorMsg{
					Message: fmt.Sprintf("mailbox authentication failed: %s. Run 'triage credentials set' and refresh.", pe.Error),
				}
				break
			}
		}
	}
	if err != nil {
		p.logger.Warn("run aborted", zap.Error(err))
	}
	p.sendResult(msg)
}

func (p *Poller) onPhase(phase Phase, done bool, err error) {
	p.mu.Lock()
	status, ok := p.statuses[phase]
	if ok {
		switch {
		case !done:
			status.State = PhaseRunning
			status.Error = nil
		case err != nil:
			status.State = PhaseFailed
			status.Error = err
		default:
			status.State = PhaseIdle
			status.Error = nil
			status.LastDone = time.Now()
		}
	}
	p.mu.Unlock()

	select {
	case p.statusCh <- PhaseStatusMsg{Statuses: p.Statuses()}:
	default:
		// Drop if the view is not keeping up; the next update supersedes it.
	}
}

// sendResult sends a RunResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg RunResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// WaitForResult returns a tea.Cmd that waits for the next run result.
// Call it again after handling a RunResultMsg to keep listening.
func (p *Poller) WaitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case result := <-p.resultCh:
			return result
		case <-p.done:
			return nil
		}
	}
}

// WaitForStatus returns a tea.Cmd that waits for the next phase update.
func (p *Poller) WaitForStatus() tea.Cmd {
	return func() tea.Msg {
		select {
		case status := <-p.statusCh:
			return status
		case <-p.done:
			return nil
		}
	}
}

// Results exposes the result stream for callers outside bubbletea.
func (p *Poller) Results() <-chan RunResultMsg {
	return p.resultCh
}
