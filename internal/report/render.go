package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"statusdrift/internal/diff"
	"statusdrift/internal/lattice"
)

type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

type Renderer interface {
	Render(w io.Writer, r Report) error
}

func NewRenderer(format string) (Renderer, error) {
	switch Format(strings.ToLower(format)) {
	case "", FormatText:
		return textRenderer{}, nil
	case FormatJSON:
		return jsonRenderer{}, nil
	case FormatMarkdown, "md":
		return markdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q (want text, json or markdown)", format)
	}
}

type jsonRenderer struct{}

func (jsonRenderer) Render(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type textRenderer struct{}

func (textRenderer) Render(w io.Writer, r Report) error {
	lg := lipgloss.NewRenderer(w)
	heading := lg.NewStyle().Bold(true)

	var b strings.Builder
	title := "Import " + r.Source
	if r.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(&b, heading.Render(title))
	fmt.Fprintf(&b, "batch:    %s\n", r.BatchID)
	fmt.Fprintf(&b, "status:   %s\n", statusStyle(lg, r).Render(string(r.Status)))
	if r.FailureReason != "" {
		fmt.Fprintf(&b, "reason:   %s\n", r.FailureReason)
	}
	if !r.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "snapshot: %s\n", r.ObservedAt.Format(time.DateOnly))
	}
	fmt.Fprintln(&b)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	c := r.Counts
	fmt.Fprintf(tw, "total rows\t%d\n", c.Total)
	fmt.Fprintf(tw, "new\t%d\n", c.New)
	fmt.Fprintf(tw, "updated\t%d\n", c.Updated)
	fmt.Fprintf(tw, "unchanged\t%d\n", c.Unchanged)
	fmt.Fprintf(tw, "reverts\t%d\n", c.Reverts)
	fmt.Fprintf(tw, "bypasses\t%d\n", c.Bypasses)
	fmt.Fprintf(tw, "unknown\t%d\n", c.Unknown)
	fmt.Fprintf(tw, "duplicates\t%d\n", c.Duplicates)
	fmt.Fprintf(tw, "skipped\t%d\n", c.Errors)
	if err := tw.Flush(); err != nil {
		return err
	}

	writeChanges := func(label string, changes []diff.Change) error {
		if len(changes) == 0 {
			return nil
		}
		fmt.Fprintf(&b, "\n%s\n", heading.Render(fmt.Sprintf("%s (%d)", label, len(changes))))
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, ch := range changes {
			fmt.Fprintf(tw, "  %s\t%s\t%s -> %s\tdistance %d\tline %d\n",
				severityStyle(lg, ch.Transition.Severity).Render(strings.ToUpper(string(ch.Transition.Severity))),
				ch.BusinessID, from(ch), ch.To, ch.Transition.Distance, ch.Line)
		}
		return tw.Flush()
	}
	if err := writeChanges("Reverts", r.Reverts); err != nil {
		return err
	}
	if err := writeChanges("Bypasses", r.Bypasses); err != nil {
		return err
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\n%s\n", heading.Render(fmt.Sprintf("Skipped rows (%d)", c.Errors)))
		for _, g := range r.Errors {
			fmt.Fprintf(&b, "  %s: %d (lines %s)\n", g.Reason, g.Count, joinLines(g.Lines, g.Count))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func statusStyle(lg *lipgloss.Renderer, r Report) lipgloss.Style {
	if r.Completed() {
		return lg.NewStyle().Foreground(lipgloss.Color("42"))
	}
	return lg.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
}

func severityStyle(lg *lipgloss.Renderer, s lattice.Severity) lipgloss.Style {
	switch s {
	case lattice.SeverityCritical:
		return lg.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	case lattice.SeverityHigh:
		return lg.NewStyle().Foreground(lipgloss.Color("214"))
	case lattice.SeverityMedium:
		return lg.NewStyle().Foreground(lipgloss.Color("226"))
	default:
		return lg.NewStyle().Foreground(lipgloss.Color("42"))
	}
}

type markdownRenderer struct{}

func (markdownRenderer) Render(w io.Writer, r Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Status drift report: %s\n\n", escapeCell(r.Source))
	fmt.Fprintf(&b, "- Batch: `%s`\n", r.BatchID)
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	if r.DryRun {
		b.WriteString("- Dry run: nothing was committed\n")
	}
	if r.FailureReason != "" {
		fmt.Fprintf(&b, "- Failure: %s\n", escapeCell(r.FailureReason))
	}
	if !r.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "- Snapshot date: %s\n", r.ObservedAt.Format(time.DateOnly))
	}

	c := r.Counts
	b.WriteString("\n## Summary\n\n| Metric | Count |\n|---|---:|\n")
	for _, row := range []struct {
		label string
		n     int
	}{
		{"Total rows", c.Total}, {"New", c.New}, {"Updated", c.Updated}, {"Unchanged", c.Unchanged},
		{"Reverts", c.Reverts}, {"Bypasses", c.Bypasses}, {"Unknown", c.Unknown},
		{"Duplicates", c.Duplicates}, {"Skipped", c.Errors},
	} {
		fmt.Fprintf(&b, "| %s | %d |\n", row.label, row.n)
	}

	if c.Reverts+c.Bypasses > 0 {
		b.WriteString("\n## Severity\n\n| Severity | Reverts | Bypasses |\n|---|---:|---:|\n")
		for _, sc := range r.Severities {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", sc.Severity, sc.Reverts, sc.Bypasses)
		}
	}

	writeChanges := func(label string, changes []diff.Change) {
		if len(changes) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n| Business ID | From | To | Severity | Distance | Line |\n|---|---|---|---|---:|---:|\n", label)
		for _, ch := range changes {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %d |\n",
				escapeCell(ch.BusinessID), escapeCell(from(ch)), escapeCell(ch.To),
				ch.Transition.Severity, ch.Transition.Distance, ch.Line)
		}
	}
	writeChanges("Reverts", r.Reverts)
	writeChanges("Bypasses", r.Bypasses)

	if len(r.Errors) > 0 {
		b.WriteString("\n## Skipped rows\n\n| Reason | Rows | Lines |\n|---|---:|---|\n")
		for _, g := range r.Errors {
			fmt.Fprintf(&b, "| %s | %d | %s |\n", escapeCell(g.Reason), g.Count, joinLines(g.Lines, g.Count))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func from(ch diff.Change) string {
	if ch.From == nil {
		return "(new)"
	}
	if *ch.From == "" {
		return "(blank)"
	}
	return *ch.From
}

func joinLines(lines []int, total int) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprint(l)
	}
	out := strings.Join(parts, ", ")
	if total > len(lines) {
		out += fmt.Sprintf(", … %d more", total-len(lines))
	}
	return out
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
