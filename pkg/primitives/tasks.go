package primitives

import (
	"context"
	"strings"

	"github.com/ormasoftchile/memex/pkg/vault"
)

// vault_toggle_task: path, task (text to match)
// optional: section (limits the search), checked (sets instead of toggling)
func toggleTask(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path", "task"); !ok {
		return failf("missing required parameter %q", k)
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	lines := vault.Lines(n.Body)
	from, to := 0, len(lines)
	if section := p.String("section"); section != "" {
		sec, found := vault.FindSection(lines, section)
		if !found {
			return failf("section %q not found in %s", section, n.Path)
		}
		from, to = sec.BodyStart, sec.End
	}

	want := strings.ToLower(strings.TrimSpace(p.String("task")))
	for i := from; i < to; i++ {
		task, isTask := vault.ParseTask(lines[i], i)
		if !isTask || !strings.Contains(strings.ToLower(task.Text), want) {
			continue
		}
		before := lines[i]
		if checked, set := p.Bool("checked"); set {
			task.Checked = checked
		} else {
			task.Checked = !task.Checked
		}
		lines[i] = task.Render()
		if lines[i] != before {
			n.Body = vault.JoinLines(lines)
			if res, ok := writeNote(v, n); !ok {
				return res
			}
		}
		state := "unchecked"
		if task.Checked {
			state = "checked"
		}
		out := succeed(n.Path, "task %q %s in %s", task.Text, state, n.Path)
		out.Preview = "- " + before + "\n+ " + lines[i]
		out.Outputs = map[string]any{"task": task.Text, "checked": task.Checked, "line": i + 1}
		return out
	}
	return failf("no task matching %q in %s", p.String("task"), n.Path)
}

// vault_add_task: path, task
// optional: section, checked, create_section
func addTask(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path", "task"); !ok {
		return failf("missing required parameter %q", k)
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	checked, _ := p.Bool("checked")
	line := vault.NewTask(strings.TrimSpace(p.String("task")), checked)
	lines := vault.Lines(n.Body)

	section := p.String("section")
	at := len(lines)
	if section != "" {
		sec, found := vault.FindSection(lines, section)
		if !found {
			if create, _ := p.Bool("create_section"); !create {
				return failf("section %q not found in %s", section, n.Path)
			}
			lines, sec = appendSection(lines, section)
		}
		at = insertPoint(lines, sec, p.String("position"))
	}
	lines = insertAt(lines, at, []string{line})
	n.Body = vault.JoinLines(lines)
	if res, ok := writeNote(v, n); !ok {
		return res
	}
	out := succeed(n.Path, "added task to %s", n.Path)
	out.Preview = "+ " + line
	out.Outputs = map[string]any{"task": strings.TrimSpace(p.String("task")), "line": at + 1}
	return out
}
