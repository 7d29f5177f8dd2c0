package primitives

import (
	"context"
	"strings"

	"github.com/ormasoftchile/memex/pkg/vault"
)

// vault_add_to_section: path, section, content
// optional: position (end|start), create_section
func addToSection(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path", "section", "content"); !ok {
		return failf("missing required parameter %q", k)
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	section := p.String("section")
	lines := vault.Lines(n.Body)
	sec, found := vault.FindSection(lines, section)
	if !found {
		if create, _ := p.Bool("create_section"); !create {
			return failf("section %q not found in %s", section, n.Path)
		}
		lines, sec = appendSection(lines, section)
	}

	add := contentLines(p.String("content"))
	at := insertPoint(lines, sec, p.String("position"))
	lines = insertAt(lines, at, add)
	n.Body = vault.JoinLines(lines)
	if res, ok := writeNote(v, n); !ok {
		return res
	}

	out := succeed(n.Path, "added %d line(s) to section %q in %s", len(add), sec.Heading, n.Path)
	out.Preview = previewLines("+", add)
	out.Outputs = map[string]any{"section": sec.Heading, "lines_added": len(add), "created_section": !found}
	return out
}

// vault_remove_from_section: path, section, match
// optional: all
func removeFromSection(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path", "section", "match"); !ok {
		return failf("missing required parameter %q", k)
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	section, match := p.String("section"), p.String("match")
	all, _ := p.Bool("all")
	lines := vault.Lines(n.Body)
	sec, found := vault.FindSection(lines, section)
	if !found {
		return failf("section %q not found in %s", section, n.Path)
	}

	var removed []string
	kept := make([]string, 0, len(lines))
	kept = append(kept, lines[:sec.BodyStart]...)
	for _, line := range lines[sec.BodyStart:sec.End] {
		if strings.Contains(line, match) && (all || len(removed) == 0) {
			removed = append(removed, line)
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, lines[sec.End:]...)
	if len(removed) == 0 {
		return failf("no line matching %q in section %q of %s", match, section, n.Path)
	}

	n.Body = vault.JoinLines(kept)
	if res, ok := writeNote(v, n); !ok {
		return res
	}
	out := succeed(n.Path, "removed %d line(s) from section %q in %s", len(removed), sec.Heading, n.Path)
	out.Preview = previewLines("-", removed)
	out.Outputs = map[string]any{"section": sec.Heading, "lines_removed": len(removed)}
	return out
}

// vault_replace_in_section: path, section, and either find+replace or
// content (replaces the whole section body).
// optional: all
func replaceInSection(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path", "section"); !ok {
		return failf("missing required parameter %q", k)
	}
	find := p.String("find")
	_, hasContent := p["content"]
	if find == "" && !hasContent {
		return failf("vault_replace_in_section requires either find or content")
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	section := p.String("section")
	lines := vault.Lines(n.Body)
	sec, found := vault.FindSection(lines, section)
	if !found {
		return failf("section %q not found in %s", section, n.Path)
	}

	body := lines[sec.BodyStart:sec.End]
	var replaced []string
	var preview []string
	if find == "" {
		replaced = contentLines(p.String("content"))
		if sec.End < len(lines) {
			replaced = append(replaced, "")
		}
		preview = []string{previewLines("-", nonBlank(body)), previewLines("+", nonBlank(replaced))}
	} else {
		all, _ := p.Bool("all")
		repl := p.String("replace")
		count := 0
		replaced = make([]string, len(body))
		for i, line := range body {
			if strings.Contains(line, find) && (all || count == 0) {
				newLine := line
				if all {
					newLine = strings.ReplaceAll(line, find, repl)
				} else {
					newLine = strings.Replace(line, find, repl, 1)
				}
				preview = append(preview, "- "+line, "+ "+newLine)
				replaced[i] = newLine
				count++
				continue
			}
			replaced[i] = line
		}
		if count == 0 {
			return failf("no text matching %q in section %q of %s", find, section, n.Path)
		}
	}

	out := make([]string, 0, len(lines)-len(body)+len(replaced))
	out = append(out, lines[:sec.BodyStart]...)
	out = append(out, replaced...)
	out = append(out, lines[sec.End:]...)
	n.Body = vault.JoinLines(out)
	if res, ok := writeNote(v, n); !ok {
		return res
	}
	r := succeed(n.Path, "replaced content in section %q of %s", sec.Heading, n.Path)
	r.Preview = strings.Join(nonEmpty(preview), "\n")
	r.Outputs = map[string]any{"section": sec.Heading}
	return r
}

func contentLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}

// insertPoint is the line index new content goes to: right after the
// heading for "start", otherwise after the last non-blank body line.
func insertPoint(lines []string, sec vault.Section, position string) int {
	if strings.EqualFold(position, "start") {
		return sec.BodyStart
	}
	at := sec.BodyStart
	for i := sec.BodyStart; i < sec.End; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			at = i + 1
		}
	}
	return at
}

func insertAt(lines []string, at int, add []string) []string {
	out := make([]string, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	return append(out, lines[at:]...)
}

// appendSection adds a level-2 heading at the end of the body.
func appendSection(lines []string, name string) ([]string, vault.Section) {
	name = strings.TrimSpace(strings.TrimLeft(name, "#"))
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
		lines = append(lines, "")
	}
	lines = append(lines, "## "+name)
	return lines, vault.Section{Heading: name, Level: 2, Line: len(lines) - 1, BodyStart: len(lines), End: len(lines)}
}

func nonBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func nonEmpty(items []string) []string {
	var out []string
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
