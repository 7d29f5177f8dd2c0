package vault

import (
	"regexp"
	"strings"
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)(?:\s+#+)?\s*$`)
	taskRe    = regexp.MustCompile(`^(\s*[-*+]\s+\[)([ xX])(\]\s*)(.*)$`)
)

// Section locates a heading-delimited region of a document body, in line
// indices. Body lines are [BodyStart, End).
type Section struct {
	Heading   string
	Level     int
	Line      int
	BodyStart int
	End       int
}

// Lines splits a body into lines without their terminators.
func Lines(body string) []string {
	if body == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(body, "\n"), "\n")
}

// JoinLines is the inverse of Lines; the result ends with a newline.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Headings returns every markdown heading outside fenced code blocks.
func Headings(lines []string) []Section {
	var out []Section
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Section{Heading: m[2], Level: len(m[1]), Line: i, BodyStart: i + 1})
	}
	return out
}

// FindSection returns the section titled name. Matching ignores case,
// surrounding whitespace and any leading '#' markers in name. The section
// runs until the next heading of the same or a higher level.
func FindSection(lines []string, name string) (Section, bool) {
	want := normalizeHeading(name)
	heads := Headings(lines)
	for i, h := range heads {
		if normalizeHeading(h.Heading) != want {
			continue
		}
		h.End = len(lines)
		for _, next := range heads[i+1:] {
			if next.Level <= h.Level {
				h.End = next.Line
				break
			}
		}
		return h, true
	}
	return Section{}, false
}

// HasSection reports whether body contains a section titled name.
func HasSection(body, name string) bool {
	_, ok := FindSection(Lines(body), name)
	return ok
}

func normalizeHeading(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#")
	return strings.ToLower(strings.TrimSpace(s))
}

// Task is a parsed checklist line.
type Task struct {
	Line    int
	Checked bool
	Text    string
	prefix  string
	suffix  string
}

// ParseTask parses a "- [ ] text" checklist line.
func ParseTask(line string, index int) (Task, bool) {
	m := taskRe.FindStringSubmatch(line)
	if m == nil {
		return Task{}, false
	}
	return Task{
		Line:    index,
		Checked: m[2] != " ",
		Text:    m[4],
		prefix:  m[1],
		suffix:  m[3],
	}, true
}

// Render formats the task back to its checklist line.
func (t Task) Render() string {
	mark := " "
	if t.Checked {
		mark = "x"
	}
	prefix, suffix := t.prefix, t.suffix
	if prefix == "" {
		prefix = "- ["
	}
	if suffix == "" {
		suffix = "] "
	}
	return prefix + mark + suffix + t.Text
}

// NewTask builds a checklist line for text.
func NewTask(text string, checked bool) string {
	return Task{Checked: checked, Text: text}.Render()
}
