package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/meszmate/inbox/internal/ingest"
)

// Row is one processed stanza
type Row struct {
	ID      string
	From    string
	Outcome ingest.Outcome
	Replies []string
	Err     error
}

// Report collects rows and renders them as a table with a summary line
type Report struct {
	Title  string
	rows   []Row
	counts map[ingest.Outcome]int
}

// New creates an empty report
func New(title string) *Report {
	return &Report{
		Title:  title,
		counts: make(map[ingest.Outcome]int),
	}
}

// Add appends a row
func (r *Report) Add(row Row) {
	r.rows = append(r.rows, row)
	r.counts[row.Outcome]++
}

// Rows returns the collected rows
func (r *Report) Rows() []Row {
	return r.rows
}

// Count returns how many rows ended with outcome
func (r *Report) Count(outcome ingest.Outcome) int {
	return r.counts[outcome]
}

func (s *Styles) outcome(o ingest.Outcome) lipgloss.Style {
	switch o {
	case ingest.OutcomeStored:
		return s.Stored
	case ingest.OutcomeHandled:
		return s.Handled
	case ingest.OutcomeDuplicate:
		return s.Duplicate
	case ingest.OutcomeError:
		return s.Failed
	default:
		return s.Ignored
	}
}

// Render draws the report with s
func (r *Report) Render(s *Styles) string {
	headers := []string{"#", "ID", "FROM", "OUTCOME", "REPLIES", "ERROR"}
	cells := make([][]string, 0, len(r.rows))
	for i, row := range r.rows {
		errText := ""
		if row.Err != nil {
			errText = row.Err.Error()
		}
		cells = append(cells, []string{
			fmt.Sprint(i + 1),
			orDash(row.ID),
			orDash(row.From),
			row.Outcome.String(),
			orDash(strings.Join(row.Replies, ",")),
			errText,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, line := range cells {
		for i, c := range line {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var lines []string
	lines = append(lines, s.Title.Render(r.Title), "")

	hdr := make([]string, len(headers))
	for i, h := range headers {
		hdr[i] = s.Header.Width(widths[i] + 2).Render(h)
	}
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, hdr...))

	for n, line := range cells {
		out := make([]string, len(line))
		for i, c := range line {
			style := s.Cell
			switch i {
			case 3:
				style = s.outcome(r.rows[n].Outcome)
			case 5:
				style = s.Failed
			case 0:
				style = s.Muted
			}
			out[i] = style.Width(widths[i] + 2).Render(c)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, out...))
	}

	lines = append(lines, "", s.Muted.Render(r.summary()))
	return s.Border.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (r *Report) summary() string {
	parts := []string{fmt.Sprintf("%d stanzas", len(r.rows))}
	for _, o := range []ingest.Outcome{ingest.OutcomeStored, ingest.OutcomeHandled, ingest.OutcomeDuplicate, ingest.OutcomeIgnored, ingest.OutcomeError} {
		if n := r.counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
