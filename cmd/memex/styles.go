package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/memex/pkg/engine"
	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/validate"
)

// Step status glyphs convey meaning without relying on color alone.
const (
	glyphPassed  = "✓"
	glyphFailed  = "✗"
	glyphSkipped = "⏭"
	glyphWarning = "⚠"
	glyphPending = "○"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle    = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	skippedStyle = lipgloss.NewStyle().Faint(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// table writes rows as left-aligned columns. Widths are measured in
// terminal cells so wide glyphs and CJK names line up.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if cw := runewidth.StringWidth(cell); cw > widths[i] {
					widths[i] = cw
				}
			}
		}
	}
	line := func(cells []string, style *lipgloss.Style) {
		var b strings.Builder
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			padded := cell
			if i < len(cells)-1 {
				padded = runewidth.FillRight(cell, widths[i])
			}
			if style != nil {
				padded = style.Render(padded)
			}
			b.WriteString(padded)
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
	line(header, &headerStyle)
	for _, row := range rows {
		line(row, nil)
	}
}

// renderMarkdown converts markdown to styled terminal output, falling back
// to the raw input when rendering fails.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// policyMarkdown describes a definition as a markdown document.
func policyMarkdown(def *policy.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", def.Name, def.Description)

	if len(def.Variables) > 0 {
		b.WriteString("## Variables\n\n| name | type | required | default |\n|---|---|---|---|\n")
		for _, name := range sortedVariableNames(def) {
			spec := def.Variables[name]
			typ := string(spec.Type)
			if spec.Type == policy.TypeEnum {
				typ += " (" + strings.Join(spec.Enum, ", ") + ")"
			}
			dflt := ""
			if spec.Default != nil {
				dflt = fmt.Sprintf("`%v`", spec.Default)
			}
			fmt.Fprintf(&b, "| %s | %s | %v | %s |\n", name, typ, spec.Required, dflt)
		}
		b.WriteString("\n")
	}

	if len(def.Conditions) > 0 {
		b.WriteString("## Conditions\n\n")
		for _, c := range def.Conditions {
			fmt.Fprintf(&b, "- **%s**: `%s` on `%s`", c.ID, c.Check, c.Path)
			switch {
			case c.Section != "":
				fmt.Fprintf(&b, " section `%s`", c.Section)
			case c.Field != "":
				fmt.Fprintf(&b, " field `%s`", c.Field)
			case c.Expr != "":
				fmt.Fprintf(&b, " expr `%s`", c.Expr)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Steps\n\n")
	for i, s := range def.Steps {
		fmt.Fprintf(&b, "%d. **%s** `%s`", i+1, s.ID, s.Action)
		if s.When != "" {
			fmt.Fprintf(&b, " when `%s`", s.When)
		}
		if s.Description != "" {
			b.WriteString(": " + s.Description)
		}
		b.WriteString("\n")
	}
	if def.Output != nil && def.Output.Summary != "" {
		fmt.Fprintf(&b, "\n## Output\n\n%s\n", def.Output.Summary)
	}
	return b.String()
}

func printDiagnostics(w io.Writer, res *validate.Result) {
	for _, d := range res.Warnings {
		fmt.Fprintf(w, "  %s [%s] %s\n", warnStyle.Render(glyphWarning), d.Phase, d.Message)
		if d.Path != "" {
			fmt.Fprintf(w, "    at: %s\n", dimStyle.Render(d.Path))
		}
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "%s\n\n", failStyle.Render(fmt.Sprintf("Validation failed: %d error(s)", len(res.Errors))))
		for i, d := range res.Errors {
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, d.Phase, d.Message)
			if d.Path != "" {
				fmt.Fprintf(w, "     at: %s\n", dimStyle.Render(d.Path))
			}
		}
	}
}

func stepGlyph(status engine.Status) string {
	switch status {
	case engine.StatusSuccess:
		return okStyle.Render(glyphPassed)
	case engine.StatusFailed:
		return failStyle.Render(glyphFailed)
	case engine.StatusSkipped:
		return skippedStyle.Render(glyphSkipped)
	}
	return glyphPending
}

func printExecution(w io.Writer, res *engine.ExecutionResult) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(res.Policy), dimStyle.Render("run "+res.RunID))
	for _, s := range res.Steps {
		fmt.Fprintf(w, "  %s %s  %s\n", stepGlyph(s.Status), s.ID, dimStyle.Render(s.Message))
		if s.Preview != "" && s.Status == engine.StatusSuccess {
			for _, l := range strings.Split(s.Preview, "\n") {
				fmt.Fprintf(w, "      %s\n", dimStyle.Render(l))
			}
		}
	}
	fmt.Fprintln(w)
	switch {
	case res.Success:
		fmt.Fprintf(w, "%s %s\n", okStyle.Render(glyphPassed), res.Message)
	case res.Retryable:
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render(glyphWarning), res.Message)
	default:
		fmt.Fprintf(w, "%s %s\n", failStyle.Render(glyphFailed), res.Message)
	}
	if res.CommitHash != "" {
		fmt.Fprintf(w, "  commit %s (%d file(s))\n", res.CommitHash, len(res.FilesModified))
	}
	for _, e := range res.RollbackErrors {
		fmt.Fprintf(w, "  %s rollback: %s\n", failStyle.Render(glyphFailed), e)
	}
	if res.Output != "" {
		fmt.Fprintf(w, "\n%s\n", res.Output)
	}
}

func printPreview(w io.Writer, res *engine.PreviewResult) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(res.Policy), dimStyle.Render("preview"))
	for _, c := range res.ConditionResults {
		glyph := okStyle.Render(glyphPassed)
		if !c.Met {
			glyph = skippedStyle.Render(glyphFailed)
		}
		fmt.Fprintf(w, "  %s condition %s  %s\n", glyph, c.ID, dimStyle.Render(c.Reason))
	}
	for _, s := range res.Steps {
		if s.WillExecute {
			fmt.Fprintf(w, "  %s %s %s\n", glyphPending, s.ID, dimStyle.Render(string(s.Action)))
			continue
		}
		fmt.Fprintf(w, "  %s %s  %s\n", skippedStyle.Render(glyphSkipped), s.ID, dimStyle.Render(s.SkipReason))
	}
	if len(res.FilesAffected) > 0 {
		fmt.Fprintf(w, "\nfiles: %s\n", strings.Join(res.FilesAffected, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", res.Message)
	if res.Output != "" {
		fmt.Fprintf(w, "\n%s\n", res.Output)
	}
}
