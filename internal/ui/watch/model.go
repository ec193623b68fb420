// Package watch is the terminal view that reruns the pipeline on an interval
// and shows phase progress and the latest messages.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-triage/internal/keys"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/pipeline"
	"github.com/nhle/inbox-triage/internal/report"
	"github.com/nhle/inbox-triage/internal/theme"
)

// Poller is the background runner driving the view.
type Poller interface {
	Start() tea.Cmd
	Stop()
	Refresh() tea.Cmd
	WaitForResult() tea.Cmd
	WaitForStatus() tea.Cmd
	Statuses() []pipeline.PhaseStatus
}

// Loader builds the report shown below the phase line.
type Loader func(ctx context.Context) (*report.Report, error)

// Filter narrows the message list.
type Filter int

const (
	FilterAll Filter = iota
	FilterFallback
	FilterFailed
	FilterUnclassified
)

var filterNames = []string{"all", "fallback", "failed", "unclassified"}

func (f Filter) String() string { return filterNames[f] }

func (f Filter) match(r report.Row) bool {
	switch f {
	case FilterFallback:
		return r.Fallback
	case FilterFailed:
		return r.State == model.StateActionFailed
	case FilterUnclassified:
		return r.State == model.StateUnclassified
	default:
		return true
	}
}

type reportLoadedMsg struct {
	report *report.Report
	err    error
}

// Model is the watch view.
type Model struct {
	poller   Poller
	load     Loader
	keys     *keys.KeyMap
	help     help.Model
	spinner  spinner.Model
	layout   layout
	statuses []pipeline.PhaseStatus
	last     *pipeline.RunResult
	lastAt   time.Time
	report   *report.Report
	rows     []report.Row
	filter   Filter
	cursor   int
	offset   int
	showHelp bool
	authErr  string
	err      error
}

// New creates the watch view.
func New(p Poller, load Loader) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorYellow)

	return Model{
		poller:   p,
		load:     load,
		keys:     keys.DefaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		layout:   layout{width: 80, height: 24},
		statuses: p.Statuses(),
	}
}

// Init starts the poller, the spinner and the first report load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poller.Start(), m.spinner.Tick, m.loadReport())
}

func (m Model) loadReport() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rep, err := load(ctx)
		return reportLoadedMsg{report: rep, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = layout{width: msg.Width, height: msg.Height}
		m.help.Width = msg.Width
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pipeline.PhaseStatusMsg:
		m.statuses = msg.Statuses
		return m, m.poller.WaitForStatus()

	case pipeline.RunResultMsg:
		m.last = msg.Result
		m.lastAt = time.Now()
		m.err = msg.Error
		if msg.AuthError != nil {
			m.authErr = msg.AuthError.Message
		} else if msg.Error == nil {
			m.authErr = ""
		}
		m.statuses = m.poller.Statuses()
		return m, tea.Batch(m.poller.WaitForResult(), m.loadReport())

	case reportLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.report = msg.report
		m.applyFilter()
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.poller.Stop()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
	case key.Matches(msg, m.keys.Refresh):
		return m, m.poller.Refresh()
	case key.Matches(msg, m.keys.CycleFilter):
		m.filter = (m.filter + 1) % Filter(len(filterNames))
		m.cursor, m.offset = 0, 0
		m.applyFilter()
	case key.Matches(msg, m.keys.Down):
		m.cursor++
	case key.Matches(msg, m.keys.Up):
		m.cursor--
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = len(m.rows) - 1
	}
	m.clampCursor()
	return m, nil
}

func (m *Model) applyFilter() {
	m.rows = nil
	if m.report == nil {
		return
	}
	for _, r := range m.report.Rows {
		if m.filter.match(r) {
			m.rows = append(m.rows, r)
		}
	}
	m.clampCursor()
}

// listHeight is the number of message rows that fit on screen.
func (m Model) listHeight() int {
	// phase line, counts, totals, blank, column header
	return max(m.layout.contentHeight()-6, 1)
}

func (m *Model) clampCursor() {
	m.cursor = max(min(m.cursor, len(m.rows)-1), 0)
	h := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
}

// Running reports whether any phase is in progress.
func (m Model) Running() bool {
	for _, s := range m.statuses {
		if s.State == pipeline.PhaseRunning {
			return true
		}
	}
	return false
}

// View renders the view.
func (m Model) View() string {
	header := m.layout.header("Inbox triage", m.runStatus())

	var content string
	if m.showHelp {
		h := m.help
		h.ShowAll = true
		content = theme.BorderStyle.Width(max(m.layout.width-2, 10)).Render(h.View(m.keys))
	} else {
		content = m.body()
	}
	content = lipgloss.NewStyle().Height(m.layout.contentHeight()).Render(content)

	return m.layout.frame(header, content, m.layout.statusBar(m.help.ShortHelpView(m.keys.ShortHelp())))
}

func (m Model) runStatus() string {
	switch {
	case m.Running():
		return m.spinner.View() + " running"
	case m.lastAt.IsZero():
		return "waiting"
	default:
		return "last run " + m.lastAt.Format("15:04:05")
	}
}

func (m Model) body() string {
	var sb strings.Builder

	phases := make([]string, 0, len(m.statuses))
	for _, s := range m.statuses {
		state := s.State.String()
		if s.State == pipeline.PhaseIdle && !s.LastDone.IsZero() {
			state = "done"
		}
		phases = append(phases, theme.PhaseStyle(state).Render(fmt.Sprintf("%s: %s", s.Phase, state)))
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, phases...))
	sb.WriteString("\n")

	if m.last != nil {
		fmt.Fprintf(&sb, "inserted %d, duplicates %d, categorized %d (%d fallback), actions %d ok / %d failed / %d no handler\n",
			m.last.Ingest.Inserted, m.last.Ingest.SkippedDuplicate,
			m.last.Categorize.Classified+m.last.Categorize.Fallback, m.last.Categorize.Fallback,
			m.last.Act.Succeeded, m.last.Act.Failed, m.last.Act.NoHandler)
	} else {
		sb.WriteString(theme.HelpStyle.Render("no run finished yet"))
		sb.WriteString("\n")
	}

	switch {
	case m.authErr != "":
		sb.WriteString(theme.ErrorStyle.Render(m.authErr))
	case m.err != nil:
		sb.WriteString(theme.ErrorStyle.Render(m.err.Error()))
	case m.report != nil:
		t := m.report.Totals
		fmt.Fprintf(&sb, "%d messages, %d unclassified, %d pending actions, %.1f%% success",
			t.Messages, t.Unclassified, t.PendingActions, m.report.SuccessRate)
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "%s  %s\n",
		theme.TableHeaderStyle.Render(fmt.Sprintf("%-16s %-24s %-30s %-24s %-5s %s", "Received", "Sender", "Subject", "Pair", "Conf", "State")),
		theme.HelpStyle.Render("["+m.filter.String()+"]"))

	if len(m.rows) == 0 {
		sb.WriteString(theme.HelpStyle.Render("  no messages"))
		return sb.String()
	}

	end := min(m.offset+m.listHeight(), len(m.rows))
	for i := m.offset; i < end; i++ {
		sb.WriteString(m.renderRow(m.rows[i], i == m.cursor))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderRow(r report.Row, selected bool) string {
	pair := "-"
	conf := "-"
	if r.Category != "" {
		pair = r.Category + "/" + r.Subcategory
		conf = fmt.Sprintf("%.2f", r.Confidence)
	}
	line := fmt.Sprintf(" %-16s %-24s %-30s %-24s ",
		r.Timestamp, cut(r.Sender, 24), cut(r.Subject, 30), cut(pair, 24))
	line += theme.ConfidenceStyle(r.Confidence, r.Fallback).Render(fmt.Sprintf("%-5s", conf)) + " " +
		theme.StateStyle(string(r.State)).Render(string(r.State))

	if selected {
		return lipgloss.NewStyle().Reverse(true).Render(line)
	}
	return line
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
