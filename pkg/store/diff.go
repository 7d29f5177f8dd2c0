package store

import (
	"reflect"
	"sort"

	"github.com/ormasoftchile/memex/pkg/policy"
)

// Change kinds.
const (
	Added   = "added"
	Removed = "removed"
	Changed = "changed"
)

// Change is one difference between two definitions. Section is one of
// metadata, variables, conditions or steps; ID is the field name for
// metadata and the entry id otherwise.
type Change struct {
	Kind    string `json:"kind"`
	Section string `json:"section"`
	ID      string `json:"id"`
	Before  any    `json:"before,omitempty"`
	After   any    `json:"after,omitempty"`
}

// DiffResult lists the differences from a to b.
type DiffResult struct {
	Identical        bool     `json:"identical"`
	Changes          []Change `json:"changes"`
	StepOrderChanged bool     `json:"step_order_changed"`
	StepOrderBefore  []string `json:"step_order_before,omitempty"`
	StepOrderAfter   []string `json:"step_order_after,omitempty"`
}

// Diff compares two definitions entry by entry: variables by name,
// conditions and steps by id. A reordering of steps that both sides share
// is reported separately from per-step changes.
func Diff(a, b *policy.Definition) *DiffResult {
	res := &DiffResult{Changes: []Change{}}

	meta := func(field string, before, after any) {
		if !reflect.DeepEqual(before, after) {
			res.Changes = append(res.Changes, Change{Kind: Changed, Section: "metadata", ID: field, Before: before, After: after})
		}
	}
	meta("version", a.Version, b.Version)
	meta("name", a.Name, b.Name)
	meta("description", a.Description, b.Description)
	meta("output.summary", summary(a), summary(b))

	diffEntries(res, "variables", variableEntries(a), variableEntries(b))
	diffEntries(res, "conditions", conditionEntries(a), conditionEntries(b))
	diffEntries(res, "steps", stepEntries(a), stepEntries(b))

	before, after := sharedOrder(stepIDs(a), stepIDs(b))
	if !reflect.DeepEqual(before, after) {
		res.StepOrderChanged = true
		res.StepOrderBefore = stepIDs(a)
		res.StepOrderAfter = stepIDs(b)
	}
	res.Identical = len(res.Changes) == 0 && !res.StepOrderChanged
	return res
}

type entry struct {
	id    string
	value any
}

func diffEntries(res *DiffResult, section string, before, after []entry) {
	old := make(map[string]any, len(before))
	for _, e := range before {
		old[e.id] = e.value
	}
	current := make(map[string]bool, len(after))
	for _, e := range after {
		current[e.id] = true
		prev, ok := old[e.id]
		switch {
		case !ok:
			res.Changes = append(res.Changes, Change{Kind: Added, Section: section, ID: e.id, After: e.value})
		case !reflect.DeepEqual(prev, e.value):
			res.Changes = append(res.Changes, Change{Kind: Changed, Section: section, ID: e.id, Before: prev, After: e.value})
		}
	}
	for _, e := range before {
		if !current[e.id] {
			res.Changes = append(res.Changes, Change{Kind: Removed, Section: section, ID: e.id, Before: e.value})
		}
	}
}

func summary(d *policy.Definition) string {
	if d.Output == nil {
		return ""
	}
	return d.Output.Summary
}

func variableEntries(d *policy.Definition) []entry {
	names := make([]string, 0, len(d.Variables))
	for name := range d.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]entry, 0, len(names))
	for _, name := range names {
		out = append(out, entry{id: name, value: d.Variables[name]})
	}
	return out
}

func conditionEntries(d *policy.Definition) []entry {
	out := make([]entry, 0, len(d.Conditions))
	for _, c := range d.Conditions {
		out = append(out, entry{id: c.ID, value: c})
	}
	return out
}

func stepEntries(d *policy.Definition) []entry {
	out := make([]entry, 0, len(d.Steps))
	for _, s := range d.Steps {
		out = append(out, entry{id: s.ID, value: s})
	}
	return out
}

func stepIDs(d *policy.Definition) []string {
	ids := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// sharedOrder filters both id lists down to the ids present in both.
func sharedOrder(a, b []string) ([]string, []string) {
	inA := map[string]bool{}
	for _, id := range a {
		inA[id] = true
	}
	inB := map[string]bool{}
	for _, id := range b {
		inB[id] = true
	}
	var outA, outB []string
	for _, id := range a {
		if inB[id] {
			outA = append(outA, id)
		}
	}
	for _, id := range b {
		if inA[id] {
			outB = append(outB, id)
		}
	}
	return outA, outB
}
