package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/pipeline"
	"github.com/nhle/inbox-triage/internal/report"
)

type fakePoller struct {
	started, stopped, refreshed int
	statuses                    []pipeline.PhaseStatus
}

func (f *fakePoller) Start() tea.Cmd                   { f.started++; return nil }
func (f *fakePoller) Stop()                            { f.stopped++ }
func (f *fakePoller) Refresh() tea.Cmd                 { f.refreshed++; return nil }
func (f *fakePoller) WaitForResult() tea.Cmd           { return nil }
func (f *fakePoller) WaitForStatus() tea.Cmd           { return nil }
func (f *fakePoller) Statuses() []pipeline.PhaseStatus { return f.statuses }

func sampleReport() *report.Report {
	return &report.Report{
		Totals: report.Totals{Messages: 3, Unclassified: 1},
		Rows: []report.Row{
			{Subject: "Spring sale", Category: "Other", Subcategory: "Advertising", Confidence: 0.8, State: model.StateActioned},
			{Subject: "Lunch", Category: "Other", Subcategory: "Rest", Confidence: 0.1, Fallback: true, State: model.StateActionFailed},
			{Subject: "Pending", State: model.StateUnclassified},
		},
	}
}

func newModel(t *testing.T) (Model, *fakePoller) {
	t.Helper()
	p := &fakePoller{statuses: []pipeline.PhaseStatus{{Phase: pipeline.PhaseIngest}}}
	m := New(p, func(context.Context) (*report.Report, error) { return sampleReport(), nil })
	return m, p
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func keyMsg(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestLoadReportAndFilter(t *testing.T) {
	m, _ := newModel(t)

	msg := m.loadReport()()
	m = update(t, m, msg)
	assert.Len(t, m.rows, 3)
	assert.Contains(t, m.View(), "Spring sale")

	m = update(t, m, keyMsg("tab"))
	assert.Equal(t, FilterFallback, m.filter)
	require.Len(t, m.rows, 1)
	assert.Equal(t, "Lunch", m.rows[0].Subject)

	m = update(t, m, keyMsg("tab"))
	require.Len(t, m.rows, 1)
	assert.Equal(t, "Lunch", m.rows[0].Subject)

	m = update(t, m, keyMsg("tab"))
	require.Len(t, m.rows, 1)
	assert.Equal(t, "Pending", m.rows[0].Subject)

	m = update(t, m, keyMsg("tab"))
	assert.Equal(t, FilterAll, m.filter)
	assert.Len(t, m.rows, 3)
}

func TestCursorStaysInBounds(t *testing.T) {
	m, _ := newModel(t)
	m = update(t, m, m.loadReport()())

	m = update(t, m, keyMsg("k"))
	assert.Zero(t, m.cursor)

	for range 5 {
		m = update(t, m, keyMsg("j"))
	}
	assert.Equal(t, 2, m.cursor)

	m = update(t, m, keyMsg("g"))
	assert.Zero(t, m.cursor)
	m = update(t, m, keyMsg("G"))
	assert.Equal(t, 2, m.cursor)
}

func TestRunResultUpdatesState(t *testing.T) {
	m, p := newModel(t)
	p.statuses = []pipeline.PhaseStatus{{Phase: pipeline.PhaseIngest, State: pipeline.PhaseFailed}}

	m = update(t, m, pipeline.RunResultMsg{
		Result:    &pipeline.RunResult{},
		AuthError: &pipeline.AuthErrorMsg{Message: "mailbox authentication failed"},
	})
	assert.Equal(t, "mailbox authentication failed", m.authErr)
	assert.Contains(t, m.View(), "mailbox authentication failed")
	assert.Contains(t, m.View(), "ingest: failed")

	m = update(t, m, pipeline.RunResultMsg{Result: &pipeline.RunResult{}})
	assert.Empty(t, m.authErr)

	m = update(t, m, reportLoadedMsg{err: errors.New("database is locked")})
	assert.Contains(t, m.View(), "database is locked")
}

func TestKeysDrivePoller(t *testing.T) {
	m, p := newModel(t)

	m = update(t, m, keyMsg("r"))
	assert.Equal(t, 1, p.refreshed)

	m = update(t, m, keyMsg("?"))
	assert.True(t, m.showHelp)

	_, cmd := m.Update(keyMsg("q"))
	assert.Equal(t, 1, p.stopped)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestPhaseLine(t *testing.T) {
	m, _ := newModel(t)
	m = update(t, m, pipeline.PhaseStatusMsg{Statuses: []pipeline.PhaseStatus{
		{Phase: pipeline.PhaseIngest, State: pipeline.PhaseIdle, LastDone: time.Now()},
		{Phase: pipeline.PhaseCategorize, State: pipeline.PhaseRunning},
	}})
	assert.True(t, m.Running())

	view := m.View()
	assert.Contains(t, view, "ingest: done")
	assert.Contains(t, view, "categorize: running")
}
