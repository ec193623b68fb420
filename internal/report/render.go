package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/inbox-triage/internal/theme"
)

// Format is a report output format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatMarkdown, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, markdown or json)", s)
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// Text renders r with lipgloss tables for a terminal.
func Text(r *Report) string {
	var sb strings.Builder

	sb.WriteString(theme.HeaderStyle.Render("Inbox summary"))
	sb.WriteString("\n\n")

	t := r.Totals
	for _, kv := range [][2]string{
		{"Messages", strconv.Itoa(t.Messages)},
		{"Classified", fmt.Sprintf("%d (%d fallback)", t.Classified, t.Fallbacks)},
		{"Unclassified", strconv.Itoa(t.Unclassified)},
		{"Actions", fmt.Sprintf("%d ok, %d failed, %d no handler, %d pending",
			t.ActionsSucceeded, t.ActionsFailed, t.NoHandler, t.PendingActions)},
		{"Success rate", fmt.Sprintf("%.1f%%", r.SuccessRate)},
		{"Reviewed", strconv.Itoa(t.Reviewed)},
	} {
		sb.WriteString(theme.LabelStyle.Render(kv[0]))
		sb.WriteString(kv[1])
		sb.WriteString("\n")
	}

	if len(r.Pairs) > 0 {
		sb.WriteString("\n")
		pt := newTable("Category", "Subcategory", "Count")
		for _, p := range r.Pairs {
			pt.Row(p.Category, p.Subcategory, strconv.Itoa(p.Count))
		}
		sb.WriteString(pt.Render())
		sb.WriteString("\n")
	}

	if len(r.Rows) > 0 {
		sb.WriteString("\n")
		mt := newTable("Received", "Sender", "Category", "Subcategory", "Conf", "State")
		for _, row := range r.Rows {
			mt.Row(
				row.Timestamp,
				truncate(row.Sender, 32),
				row.Category,
				row.Subcategory,
				confidence(row),
				theme.StateStyle(string(row.State)).Render(string(row.State)),
			)
		}
		sb.WriteString(mt.Render())
		sb.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		sb.WriteString("\n")
		sb.WriteString(theme.ErrorStyle.Render(fmt.Sprintf("Errors (%d)", len(r.Errors))))
		sb.WriteString("\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "  %s  %s: %s\n", e.Pair, truncate(e.Subject, 40), e.Error)
		}
	}
	return sb.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.TableHeaderStyle
			}
			return theme.TableCellStyle
		})
}

func confidence(row Row) string {
	if row.Category == "" {
		return "-"
	}
	s := fmt.Sprintf("%.2f", row.Confidence)
	if row.Fallback {
		s += " fb"
	}
	return theme.ConfidenceStyle(row.Confidence, row.Fallback).Render(s)
}

// Markdown renders r as a markdown document.
func Markdown(r *Report) string {
	var sb strings.Builder
	t := r.Totals

	sb.WriteString("# Inbox summary\n\n")
	fmt.Fprintf(&sb, "_Generated %s_\n\n", r.GeneratedAt.Format(TimeLayout))

	sb.WriteString("## Totals\n\n")
	fmt.Fprintf(&sb, "- **Messages:** %d\n", t.Messages)
	fmt.Fprintf(&sb, "- **Classified:** %d (%d fallback)\n", t.Classified, t.Fallbacks)
	fmt.Fprintf(&sb, "- **Unclassified:** %d\n", t.Unclassified)
	fmt.Fprintf(&sb, "- **Actions:** %d succeeded, %d failed, %d without handler, %d pending\n",
		t.ActionsSucceeded, t.ActionsFailed, t.NoHandler, t.PendingActions)
	fmt.Fprintf(&sb, "- **Success rate:** %.1f%%\n", r.SuccessRate)
	fmt.Fprintf(&sb, "- **Reviewed:** %d\n\n", t.Reviewed)

	if len(r.Pairs) > 0 {
		sb.WriteString("## By category\n\n")
		sb.WriteString("| Category | Subcategory | Count |\n|---|---|---:|\n")
		for _, p := range r.Pairs {
			fmt.Fprintf(&sb, "| %s | %s | %d |\n", escape(p.Category), escape(p.Subcategory), p.Count)
		}
		sb.WriteString("\n")
	}

	if len(r.Rows) > 0 {
		sb.WriteString("## Messages\n\n")
		sb.WriteString("| Received | Sender | Subject | Category | Subcategory | State | Action |\n|---|---|---|---|---|---|---|\n")
		for _, row := range r.Rows {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s | %s |\n",
				row.Timestamp, escape(row.Sender), escape(truncate(row.Subject, 50)), escape(row.Category),
				escape(row.Subcategory), row.State, escape(truncate(row.Action, 60)))
		}
		sb.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		sb.WriteString("## Errors\n\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "- `%s` %s: %s\n", e.Pair, escape(e.Subject), escape(e.Error))
		}
	}
	return sb.String()
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
