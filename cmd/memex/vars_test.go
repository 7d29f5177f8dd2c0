package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ormasoftchile/memex/pkg/policy"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"entry=hello", "query=a=b", " count =3", "empty="})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"entry": "hello", "query": "a=b", "count": "3", "empty": ""}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("%s = %v, want %v", k, vars[k], v)
		}
	}
}

func TestParseVars_Invalid(t *testing.T) {
	for _, in := range []string{"novalue", "=x"} {
		if _, err := parseVars([]string{in}); err == nil {
			t.Errorf("parseVars(%q) expected error", in)
		}
	}
}

func testDefinition() *policy.Definition {
	return &policy.Definition{
		Version:     "1.0",
		Name:        "daily",
		Description: "Append to the daily log",
		Variables: map[string]policy.VariableSpec{
			"entry": {Type: policy.TypeString, Required: true},
			"mood":  {Type: policy.TypeEnum, Required: true, Enum: []string{"good", "bad"}},
			"tag":   {Type: policy.TypeString, Required: true, Default: "log"},
			"note":  {Type: policy.TypeString},
		},
		Steps: []policy.Step{
			{ID: "log", Action: policy.ActionAddToSection, When: "{{entry}}", Description: "append"},
		},
		Output: &policy.Output{Summary: "logged {{entry}}"},
	}
}

func TestMissingRequired(t *testing.T) {
	def := testDefinition()
	got := missingRequired(def, map[string]any{"entry": "x"})
	if len(got) != 1 || got[0] != "mood" {
		t.Errorf("missing = %v, want [mood]", got)
	}
	if got := missingRequired(def, map[string]any{"entry": "x", "mood": "good"}); len(got) != 0 {
		t.Errorf("missing = %v, want none", got)
	}
}

func TestPromptMissing_Nothing(t *testing.T) {
	def := testDefinition()
	vars := map[string]any{"entry": "x", "mood": "bad"}
	var out bytes.Buffer
	if err := promptMissing(def, vars, nil, &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected prompt output %q", out.String())
	}
}

func TestPolicyMarkdown(t *testing.T) {
	md := policyMarkdown(testDefinition())
	for _, want := range []string{
		"# daily",
		"## Variables",
		"| mood | enum (good, bad) | true |  |",
		"| tag | string | true | `log` |",
		"1. **log** `vault_add_to_section` when `{{entry}}`: append",
		"## Output",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "## Conditions") {
		t.Error("conditions section rendered without conditions")
	}
}
