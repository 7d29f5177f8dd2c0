package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/memex/pkg/policy"
)

const diffBase = `version: "1.0"
name: triage
description: original
variables:
  item: {type: string, required: true}
  tag: {type: string, default: inbox}
conditions:
  - id: has_inbox
    check: file_exists
    path: inbox
steps:
  - id: a
    action: vault_add_to_section
    params: {path: inbox, section: Items, content: "- {{item}}"}
  - id: b
    action: vault_toggle_task
    params: {path: inbox, task: "{{item}}"}
`

func parse(t *testing.T, src string) *policy.Definition {
	t.Helper()
	def, err := policy.Parse([]byte(src))
	require.NoError(t, err)
	return def
}

func TestDiff_Identical(t *testing.T) {
	res := Diff(parse(t, diffBase), parse(t, diffBase))
	assert.True(t, res.Identical)
	assert.Empty(t, res.Changes)
	assert.False(t, res.StepOrderChanged)
}

func TestDiff_Changes(t *testing.T) {
	a := parse(t, diffBase)
	b := parse(t, diffBase)
	b.Description = "revised"
	delete(b.Variables, "tag")
	b.Variables["project"] = policy.VariableSpec{Type: policy.TypeString}
	b.Conditions = nil
	b.Steps[0].Params["section"] = "Queue"

	res := Diff(a, b)
	assert.False(t, res.Identical)

	type key struct{ Kind, Section, ID string }
	var got []key
	for _, c := range res.Changes {
		got = append(got, key{c.Kind, c.Section, c.ID})
	}
	want := []key{
		{Changed, "metadata", "description"},
		{Added, "variables", "project"},
		{Removed, "variables", "tag"},
		{Removed, "conditions", "has_inbox"},
		{Changed, "steps", "a"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_StepOrder(t *testing.T) {
	a := parse(t, diffBase)
	b := parse(t, diffBase)
	b.Steps[0], b.Steps[1] = b.Steps[1], b.Steps[0]

	res := Diff(a, b)
	assert.True(t, res.StepOrderChanged)
	assert.Empty(t, res.Changes)
	assert.Equal(t, []string{"a", "b"}, res.StepOrderBefore)
	assert.Equal(t, []string{"b", "a"}, res.StepOrderAfter)
}

func TestDiff_AddedStepIsNotReorder(t *testing.T) {
	a := parse(t, diffBase)
	b := parse(t, diffBase)
	b.Steps = append([]policy.Step{{ID: "z", Action: policy.ActionDeleteNote, Params: map[string]any{"path": "old"}}}, b.Steps...)

	res := Diff(a, b)
	assert.False(t, res.StepOrderChanged)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, Change{Kind: Added, Section: "steps", ID: "z", After: b.Steps[0]}, res.Changes[0])
}
