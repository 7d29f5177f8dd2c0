package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/primitives"
	"github.com/ormasoftchile/memex/pkg/template"
	"github.com/ormasoftchile/memex/pkg/trace"
	"github.com/ormasoftchile/memex/pkg/vault"
	"github.com/ormasoftchile/memex/pkg/vcs"
)

var fixedNow = time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)

const journal = `---
title: Journal
---
# Journal

## Log
- first entry

## Tasks
- [ ] water plants
`

func newVault(t *testing.T) (*vault.Vault, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "journal.md"), []byte(journal), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := vault.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return v, dir
}

func newEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	v, dir := newVault(t)
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string { return "run-1" }),
	}
	return New(v, append(base, opts...)...), dir
}

func mustParse(t *testing.T, src string) *policy.Definition {
	t.Helper()
	def, err := policy.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return def
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func fileExists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, rel))
	return err == nil
}

// logThenFail appends to the journal log, then fails on a missing task.
const logThenFail = `version: "1.0"
name: log-then-fail
description: second step always fails
steps:
  - id: log
    action: vault_add_to_section
    params:
      path: journal
      section: Log
      content: "- second entry"
  - id: toggle
    action: vault_toggle_task
    params:
      path: journal
      task: does not exist
  - id: never
    action: vault_create_note
    params:
      path: never
      content: unreachable
`

func TestExecute_FailFastWithoutCommit(t *testing.T) {
	e, dir := newEngine(t)
	res := e.Execute(context.Background(), mustParse(t, logThenFail), nil, false)

	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.Steps) != 2 {
		t.Fatalf("steps = %d, want 2 (fail-fast)", len(res.Steps))
	}
	if res.Steps[1].Status != StatusFailed {
		t.Errorf("step 2 status = %s", res.Steps[1].Status)
	}
	if len(res.FilesModified) != 0 {
		t.Errorf("FilesModified = %v, want empty", res.FilesModified)
	}
	if res.RolledBack {
		t.Error("non-commit runs never roll back")
	}
	if !strings.Contains(readFile(t, dir, "journal.md"), "- second entry") {
		t.Error("step 1 change should remain on disk")
	}
	if fileExists(dir, "never.md") {
		t.Error("step after the failure ran")
	}
	if !strings.Contains(res.Message, `step "toggle" failed`) {
		t.Errorf("message = %q", res.Message)
	}
}

func TestExecute_StepCountLaw(t *testing.T) {
	e, _ := newEngine(t)
	def := mustParse(t, `version: "1.0"
name: three
description: three good steps
steps:
  - id: a
    action: vault_add_to_section
    params: {path: journal, section: Log, content: "- a"}
  - id: b
    action: vault_add_to_section
    params: {path: journal, section: Log, content: "- b"}
  - id: c
    action: vault_toggle_task
    params: {path: journal, task: water}
`)
	res := e.Execute(context.Background(), def, nil, false)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	if len(res.Steps) != len(def.Steps) {
		t.Errorf("steps = %d, want %d", len(res.Steps), len(def.Steps))
	}
}

func TestExecute_InterpolatesVariables(t *testing.T) {
	e, dir := newEngine(t)
	def := mustParse(t, `version: "1.0"
name: greet
description: write a greeting
variables:
  name:
    type: string
    required: true
steps:
  - id: create
    action: vault_create_note
    params:
      path: greetings/{{name | lower}}
      content: "Hello, {{name}}!"
output:
  summary: "greeted {{name}} at {{steps.create.path}}"
`)
	res := e.Execute(context.Background(), def, map[string]any{"name": "Ada"}, false)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	if got := readFile(t, dir, "greetings/ada.md"); !strings.Contains(got, "Hello, Ada!") {
		t.Errorf("note = %q", got)
	}
	if res.Output != "greeted Ada at greetings/ada.md" {
		t.Errorf("output = %q", res.Output)
	}
}

const gated = `version: "1.0"
name: gated
description: steps gated on conditions
conditions:
  - id: has_archive
    check: file_exists
    path: archive
  - id: has_log
    check: section_exists
    path: journal
    section: Log
steps:
  - id: archive
    action: vault_add_to_section
    when: "{{conditions.has_archive}}"
    params: {path: archive, section: Items, content: "- x"}
  - id: log
    action: vault_add_to_section
    when: "{{ conditions.has_log }}"
    params: {path: journal, section: Log, content: "- gated"}
  - id: ghost
    action: vault_add_to_section
    when: "{{conditions.undeclared}}"
    params: {path: journal, section: Log, content: "- ghost"}
`

func TestExecute_SkippedStepsStillSucceed(t *testing.T) {
	e, dir := newEngine(t)
	res := e.Execute(context.Background(), mustParse(t, gated), nil, false)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	want := []struct {
		status  Status
		skipped bool
	}{
		{StatusSkipped, true},
		{StatusSuccess, false},
		{StatusSkipped, true},
	}
	if len(res.Steps) != len(want) {
		t.Fatalf("steps = %d", len(res.Steps))
	}
	for i, w := range want {
		if res.Steps[i].Status != w.status || res.Steps[i].Skipped != w.skipped {
			t.Errorf("step %d = %s/%v, want %s/%v", i, res.Steps[i].Status, res.Steps[i].Skipped, w.status, w.skipped)
		}
	}
	if !strings.Contains(res.Steps[2].Message, `unknown condition "undeclared"`) {
		t.Errorf("ghost skip reason = %q", res.Steps[2].Message)
	}
	body := readFile(t, dir, "journal.md")
	if !strings.Contains(body, "- gated") || strings.Contains(body, "- ghost") {
		t.Errorf("journal = %q", body)
	}
}

func TestExecute_LockHeld(t *testing.T) {
	tests := []struct {
		name  string
		stale bool
		want  int64
	}{
		{"held", false, 5000},
		{"stale", true, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &vcs.Fake{Versioned: true, Lock: vcs.LockStatus{Locked: true, Stale: tt.stale, Age: 2 * time.Second}}
			e, dir := newEngine(t, WithVCS(fake))
			res := e.Execute(context.Background(), mustParse(t, logThenFail), nil, true)

			if res.Success || !res.Retryable || !res.LockContention {
				t.Fatalf("result = %+v", res)
			}
			if res.RetryAfterMs != tt.want {
				t.Errorf("RetryAfterMs = %d, want %d", res.RetryAfterMs, tt.want)
			}
			if len(res.Steps) != 0 {
				t.Errorf("steps ran under a held lock: %d", len(res.Steps))
			}
			if got := readFile(t, dir, "journal.md"); got != journal {
				t.Errorf("journal modified under a held lock:\n%s", got)
			}
			if len(fake.Commits) != 0 {
				t.Error("commit attempted under a held lock")
			}
		})
	}
}

func TestExecute_LockIgnoredWithoutCommit(t *testing.T) {
	fake := &vcs.Fake{Versioned: true, Lock: vcs.LockStatus{Locked: true}}
	e, _ := newEngine(t, WithVCS(fake))
	res := e.Execute(context.Background(), mustParse(t, gated), nil, false)
	if !res.Success || res.Retryable {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_RollbackOnFailure(t *testing.T) {
	fake := &vcs.Fake{Versioned: true}
	e, dir := newEngine(t, WithVCS(fake))
	def := mustParse(t, `version: "1.0"
name: rollback
description: mutate, create and fail
steps:
  - id: log
    action: vault_add_to_section
    params: {path: journal, section: Log, content: "- doomed"}
  - id: create
    action: vault_create_note
    params: {path: inbox/item, content: new}
  - id: copy
    action: vault_create_note
    params: {path: "archive/{{steps.create.path}}", content: copy}
  - id: fail
    action: vault_toggle_task
    params: {path: journal, task: nope}
`)
	res := e.Execute(context.Background(), def, nil, true)

	if res.Success || !res.RolledBack {
		t.Fatalf("result = %+v", res)
	}
	if len(res.RollbackErrors) != 0 {
		t.Errorf("rollback errors: %v", res.RollbackErrors)
	}
	if got := readFile(t, dir, "journal.md"); got != journal {
		t.Errorf("journal not restored:\n%s", got)
	}
	for _, rel := range []string{"inbox/item.md", "archive/inbox/item.md", "inbox", "archive"} {
		if fileExists(dir, rel) {
			t.Errorf("%s should have been removed", rel)
		}
	}
	if len(res.FilesModified) != 0 {
		t.Errorf("FilesModified = %v", res.FilesModified)
	}
	if len(fake.Commits) != 0 {
		t.Error("commit attempted after a failed step")
	}
	if !strings.Contains(res.Message, "rolled back") {
		t.Errorf("message = %q", res.Message)
	}
}

// A path that resolves to a number still names a document the primitive
// writes, so it must be snapshotted, rolled back and previewed.
const numericPaths = `version: "1.0"
name: numeric
description: notes named by numbers
variables:
  year: {type: number, default: 2024}
steps:
  - id: by_var
    action: vault_create_note
    params: {path: "{{year}}", content: yearly}
  - id: literal
    action: vault_create_note
    params: {path: 2025, content: next}
  - id: fail
    action: vault_toggle_task
    params: {path: journal, task: nope}
`

func TestExecute_RollbackNumericPaths(t *testing.T) {
	fake := &vcs.Fake{Versioned: true}
	e, dir := newEngine(t, WithVCS(fake))
	def := mustParse(t, numericPaths)

	res := e.Execute(context.Background(), def, nil, true)
	if res.Success || !res.RolledBack {
		t.Fatalf("result = %+v", res)
	}
	if res.Steps[0].Status != StatusSuccess || res.Steps[1].Status != StatusSuccess {
		t.Fatalf("steps = %+v", res.Steps)
	}
	for _, rel := range []string{"2024.md", "2025.md"} {
		if fileExists(dir, rel) {
			t.Errorf("%s survived rollback", rel)
		}
	}
	if len(res.RollbackErrors) != 0 {
		t.Errorf("rollback errors: %v", res.RollbackErrors)
	}

	preview := e.Preview(context.Background(), def, nil)
	if diff := cmp.Diff([]string{"2024.md", "2025.md", "journal.md"}, preview.FilesAffected); diff != "" {
		t.Errorf("FilesAffected mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_ConditionsEvaluatedOnce(t *testing.T) {
	e, dir := newEngine(t)
	def := mustParse(t, `version: "1.0"
name: once
description: conditions are fixed before the first step
conditions:
  - id: fresh
    check: file_not_exists
    path: x
steps:
  - id: create
    action: vault_create_note
    params: {path: x, content: made}
  - id: follow
    action: vault_add_to_section
    when: "{{conditions.fresh}}"
    params: {path: journal, section: Log, content: "- created x"}
`)
	res := e.Execute(context.Background(), def, nil, false)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	if !fileExists(dir, "x.md") {
		t.Fatal("x.md was not created")
	}
	if res.Steps[1].Status != StatusSuccess {
		t.Errorf("gated step = %s, want success: the condition must not be re-evaluated after step 1", res.Steps[1].Status)
	}
	if !strings.Contains(readFile(t, dir, "journal.md"), "- created x") {
		t.Error("gated step did not run")
	}
}

func TestExecute_CommitsTouchedFiles(t *testing.T) {
	fake := &vcs.Fake{Versioned: true, Hash: "abc123"}
	e, _ := newEngine(t, WithVCS(fake))
	def := mustParse(t, `version: "1.0"
name: daily
description: log and create
steps:
  - id: log
    action: vault_add_to_section
    params: {path: journal, section: Log, content: "- kept"}
  - id: create
    action: vault_create_note
    params: {path: inbox/item, content: new}
  - id: again
    action: vault_add_to_section
    params: {path: journal.md, section: Log, content: "- kept too"}
`)
	res := e.Execute(context.Background(), def, nil, true)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	if res.CommitHash != "abc123" || !res.UndoAvailable {
		t.Errorf("commit = %q undo=%v", res.CommitHash, res.UndoAvailable)
	}
	want := []string{"journal.md", "inbox/item.md"}
	if diff := cmp.Diff(want, res.FilesModified); diff != "" {
		t.Errorf("FilesModified mismatch (-want +got):\n%s", diff)
	}
	if len(fake.Commits) != 1 {
		t.Fatalf("commits = %d", len(fake.Commits))
	}
	c := fake.Commits[0]
	if c.Label != "policy: daily" || len(c.Summaries) != 3 {
		t.Errorf("commit = %+v", c)
	}
}

func TestExecute_CommitNotVersioned(t *testing.T) {
	e, dir := newEngine(t, WithVCS(&vcs.Fake{}))
	res := e.Execute(context.Background(), mustParse(t, gated), nil, true)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	if res.CommitHash != "" || len(res.FilesModified) != 0 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(readFile(t, dir, "journal.md"), "- gated") {
		t.Error("changes should be applied")
	}
}

func TestExecute_CommitLockContentionRollsBack(t *testing.T) {
	fake := &vcs.Fake{Versioned: true, CommitErr: "fatal: Unable to create '/v/.git/index.lock': File exists."}
	e, dir := newEngine(t, WithVCS(fake))
	res := e.Execute(context.Background(), mustParse(t, gated), nil, true)

	if res.Success || !res.Retryable || !res.LockContention || !res.RolledBack {
		t.Fatalf("result = %+v", res)
	}
	if res.RetryAfterMs != 5000 {
		t.Errorf("RetryAfterMs = %d", res.RetryAfterMs)
	}
	if got := readFile(t, dir, "journal.md"); got != journal {
		t.Errorf("journal not restored:\n%s", got)
	}
}

func TestExecute_CommitFailureNotRetryable(t *testing.T) {
	fake := &vcs.Fake{Versioned: true, CommitErr: "fatal: not a valid object name"}
	e, _ := newEngine(t, WithVCS(fake))
	res := e.Execute(context.Background(), mustParse(t, gated), nil, true)
	if res.Success || res.Retryable || !res.RolledBack {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_VariableErrors(t *testing.T) {
	e, _ := newEngine(t)
	def := mustParse(t, `version: "1.0"
name: typed
description: typed variables
variables:
  item:
    type: string
    required: true
  count:
    type: number
steps:
  - id: log
    action: vault_add_to_section
    params: {path: journal, section: Log, content: "- {{item}}"}
`)
	res := e.Execute(context.Background(), def, map[string]any{"count": "many"}, false)
	if res.Success || res.Retryable {
		t.Fatalf("result = %+v", res)
	}
	for _, want := range []string{"item: required", "count:"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("message %q missing %q", res.Message, want)
		}
	}
	if len(res.Steps) != 0 {
		t.Error("steps ran with invalid variables")
	}
}

func TestResolveVariables(t *testing.T) {
	def := mustParse(t, `version: "1.0"
name: vars
description: variable resolution
variables:
  title: {type: string, default: Untitled}
  count: {type: number, default: 3}
  done: {type: boolean, default: true}
  tags: {type: array, default: [a, b]}
  mode: {type: enum, enum: [fast, slow], default: fast}
  note: {type: string}
steps:
  - id: s
    action: vault_delete_note
    params: {path: x}
`)
	tests := []struct {
		name     string
		supplied map[string]any
		want     map[string]any
		wantErr  string
	}{
		{
			name: "defaults when omitted",
			want: map[string]any{"title": "Untitled", "count": 3, "done": true, "tags": []any{"a", "b"}, "mode": "fast"},
		},
		{
			name:     "falsy supplied values win",
			supplied: map[string]any{"title": "", "count": 0, "done": false, "tags": []any{}},
			want:     map[string]any{"title": "", "count": 0, "done": false, "tags": []any{}, "mode": "fast"},
		},
		{
			name:     "strings coerced",
			supplied: map[string]any{"count": "2.5", "done": "false", "tags": "x, y", "mode": "slow"},
			want:     map[string]any{"title": "Untitled", "count": 2.5, "done": false, "tags": []any{"x", "y"}, "mode": "slow"},
		},
		{
			name:     "undeclared passes through",
			supplied: map[string]any{"extra": 1},
			want:     map[string]any{"title": "Untitled", "count": 3, "done": true, "tags": []any{"a", "b"}, "mode": "fast", "extra": 1},
		},
		{name: "enum outside set", supplied: map[string]any{"mode": "medium"}, wantErr: "mode"},
		{name: "bad boolean", supplied: map[string]any{"done": "maybe"}, wantErr: "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveVariables(def, tt.supplied)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got.Values); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveVariables_Sources(t *testing.T) {
	def := mustParse(t, `version: "1.0"
name: vars
description: sources
variables:
  a: {type: string, default: x}
  b: {type: string, default: y}
steps:
  - id: s
    action: vault_delete_note
    params: {path: x}
`)
	got, err := ResolveVariables(def, map[string]any{"a": "z"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"a": SourceSupplied, "b": SourceDefault}
	if diff := cmp.Diff(want, got.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestPreview_NoSideEffects(t *testing.T) {
	fake := &vcs.Fake{Versioned: true}
	e, dir := newEngine(t, WithVCS(fake))
	def := mustParse(t, `version: "1.0"
name: preview
description: preview everything
variables:
  item: {type: string, default: milk}
conditions:
  - id: has_log
    check: section_exists
    path: journal
    section: Log
  - id: has_archive
    check: file_exists
    path: archive
steps:
  - id: log
    action: vault_add_to_section
    when: "{{conditions.has_log}}"
    params: {path: journal, section: Log, content: "- {{item}}"}
  - id: create
    action: vault_create_note
    params: {path: "inbox/{{item}}", content: new}
  - id: link
    action: vault_add_to_section
    params: {path: journal, section: Log, content: "see {{steps.create.path}}"}
  - id: archive
    action: vault_delete_note
    when: "{{conditions.has_archive}}"
    params: {path: archive}
output:
  summary: "added {{item}}"
`)
	res := e.Preview(context.Background(), def, nil)
	if !res.Success {
		t.Fatalf("preview failed: %s", res.Message)
	}
	if got := readFile(t, dir, "journal.md"); got != journal {
		t.Error("preview modified the journal")
	}
	if fileExists(dir, "inbox/milk.md") {
		t.Error("preview created a note")
	}
	if len(fake.Commits) != 0 {
		t.Error("preview committed")
	}

	if res.Steps[0].Params["content"] != "- milk" {
		t.Errorf("resolved content = %v", res.Steps[0].Params["content"])
	}
	if res.Steps[2].Params["content"] != "see {{steps.create.path}}" {
		t.Errorf("step reference should stay verbatim, got %v", res.Steps[2].Params["content"])
	}
	if res.Steps[3].WillExecute || res.Steps[3].SkipReason == "" {
		t.Errorf("archive step = %+v", res.Steps[3])
	}
	if diff := cmp.Diff([]string{"journal.md", "inbox/milk.md"}, res.FilesAffected); diff != "" {
		t.Errorf("FilesAffected mismatch (-want +got):\n%s", diff)
	}
	if res.Output != "added milk" {
		t.Errorf("output = %q", res.Output)
	}
	if len(res.ConditionResults) != 2 || !res.ConditionResults[0].Met || res.ConditionResults[1].Met {
		t.Errorf("conditions = %+v", res.ConditionResults)
	}
}

func TestPreview_VariableError(t *testing.T) {
	e, _ := newEngine(t)
	def := mustParse(t, `version: "1.0"
name: p
description: missing variable
variables:
  item: {type: string, required: true}
steps:
  - id: s
    action: vault_delete_note
    params: {path: "{{item}}"}
`)
	res := e.Preview(context.Background(), def, nil)
	if res.Success || !strings.Contains(res.Message, "item") {
		t.Errorf("result = %+v", res)
	}
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, policy.Action, map[string]any) primitives.Result {
	panic("boom")
}

func TestExecute_PanickingPrimitive(t *testing.T) {
	e, _ := newEngine(t, WithDispatcher(panicDispatcher{}))
	res := e.Execute(context.Background(), mustParse(t, logThenFail), nil, false)
	if res.Success || len(res.Steps) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Steps[0].Message, "panicked: boom") {
		t.Errorf("message = %q", res.Steps[0].Message)
	}
}

func TestExecuteStep_MergesOutputs(t *testing.T) {
	e, _ := newEngine(t)
	def := mustParse(t, gated)
	tctx := template.NewContext(nil, fixedNow)
	sr := e.ExecuteStep(context.Background(), def.Steps[1], tctx, map[string]bool{"has_log": true})
	if sr.Status != StatusSuccess {
		t.Fatalf("status = %s: %s", sr.Status, sr.Message)
	}
	if got := tctx.Steps["log"]["path"]; got != "journal.md" {
		t.Errorf("steps.log.path = %v", got)
	}
}

func TestExecute_Trace(t *testing.T) {
	var buf bytes.Buffer
	fake := &vcs.Fake{Versioned: true}
	e, _ := newEngine(t, WithVCS(fake), WithTraceSink(&buf))
	res := e.Execute(context.Background(), mustParse(t, logThenFail), nil, true)
	if res.Success {
		t.Fatal("expected failure")
	}
	events, err := trace.ReadEvents(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var types []trace.EventType
	for _, ev := range events {
		if ev.RunID != "run-1" {
			t.Errorf("event run id = %q", ev.RunID)
		}
		types = append(types, ev.Type)
	}
	want := []trace.EventType{
		trace.EventRunStart,
		trace.EventVariablesResolved,
		trace.EventConditionsEvaluated,
		trace.EventStepComplete,
		trace.EventStepComplete,
		trace.EventRollback,
		trace.EventRunComplete,
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_TraceDir(t *testing.T) {
	dir := t.TempDir()
	e, _ := newEngine(t, WithTraceDir(dir))
	e.Execute(context.Background(), mustParse(t, gated), nil, false)
	if _, err := os.Stat(trace.RunPath(dir, "run-1")); err != nil {
		t.Errorf("trace file: %v", err)
	}
}

func TestExecute_ResponseSize(t *testing.T) {
	e, _ := newEngine(t)
	res := e.Execute(context.Background(), mustParse(t, gated), nil, false)
	if res.ResponseBytes <= 0 {
		t.Fatalf("ResponseBytes = %d", res.ResponseBytes)
	}
	want := (res.ResponseBytes + 3) / 4
	if res.EstimatedTokens != want {
		t.Errorf("EstimatedTokens = %d, want %d", res.EstimatedTokens, want)
	}
}
