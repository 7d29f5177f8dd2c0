// Package policy defines the Go struct types for the policy YAML document
// and provides strict YAML parsing and serialization.
package policy

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Version is the only policy document version understood by this engine.
const Version = "1.0"

// Definition is the top-level document describing a vault workflow.
type Definition struct {
	Version     string                  `yaml:"version"               json:"version"               jsonschema:"enum=1.0"`
	Name        string                  `yaml:"name"                  json:"name"                  jsonschema:"minLength=1"`
	Description string                  `yaml:"description"           json:"description"           jsonschema:"minLength=1"`
	Variables   map[string]VariableSpec `yaml:"variables,omitempty"   json:"variables,omitempty"`
	Conditions  []Condition             `yaml:"conditions,omitempty"  json:"conditions,omitempty"`
	Steps       []Step                  `yaml:"steps"                 json:"steps"                 jsonschema:"minItems=1"`
	Output      *Output                 `yaml:"output,omitempty"      json:"output,omitempty"`
}

// VariableType enumerates the declared types a policy variable may have.
type VariableType string

const (
	TypeString  VariableType = "string"
	TypeNumber  VariableType = "number"
	TypeBoolean VariableType = "boolean"
	TypeArray   VariableType = "array"
	TypeEnum    VariableType = "enum"
)

// VariableSpec describes a caller-supplied input.
// A required variable without a default must be supplied at invocation.
type VariableSpec struct {
	Type        VariableType `yaml:"type"                  json:"type"                  jsonschema:"enum=string,enum=number,enum=boolean,enum=array,enum=enum"`
	Required    bool         `yaml:"required,omitempty"    json:"required,omitempty"`
	Default     any          `yaml:"default,omitempty"     json:"default,omitempty"`
	Enum        []string     `yaml:"enum,omitempty"        json:"enum,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
}

// CheckKind enumerates the predicates a condition can run against a document.
type CheckKind string

const (
	CheckFileExists           CheckKind = "file_exists"
	CheckFileNotExists        CheckKind = "file_not_exists"
	CheckSectionExists        CheckKind = "section_exists"
	CheckSectionNotExists     CheckKind = "section_not_exists"
	CheckFrontmatterExists    CheckKind = "frontmatter_exists"
	CheckFrontmatterNotExists CheckKind = "frontmatter_not_exists"
	CheckFrontmatterEquals    CheckKind = "frontmatter_equals"
	CheckFrontmatterMatches   CheckKind = "frontmatter_matches"
)

// CheckKinds lists every supported condition kind in documentation order.
var CheckKinds = []CheckKind{
	CheckFileExists, CheckFileNotExists,
	CheckSectionExists, CheckSectionNotExists,
	CheckFrontmatterExists, CheckFrontmatterNotExists,
	CheckFrontmatterEquals, CheckFrontmatterMatches,
}

// Condition is a named predicate over current document state.
// Conditions are evaluated once per run and never mutate the vault.
type Condition struct {
	ID      string    `yaml:"id"                json:"id"                jsonschema:"minLength=1"`
	Check   CheckKind `yaml:"check"             json:"check"             jsonschema:"enum=file_exists,enum=file_not_exists,enum=section_exists,enum=section_not_exists,enum=frontmatter_exists,enum=frontmatter_not_exists,enum=frontmatter_equals,enum=frontmatter_matches"`
	Path    string    `yaml:"path"              json:"path"`
	Section string    `yaml:"section,omitempty" json:"section,omitempty"`
	Field   string    `yaml:"field,omitempty"   json:"field,omitempty"`
	Value   any       `yaml:"value,omitempty"   json:"value,omitempty"`
	Expr    string    `yaml:"expr,omitempty"    json:"expr,omitempty"`
}

// Action names a mutation primitive a step dispatches to.
type Action string

const (
	ActionAddToSection        Action = "vault_add_to_section"
	ActionRemoveFromSection   Action = "vault_remove_from_section"
	ActionReplaceInSection    Action = "vault_replace_in_section"
	ActionCreateNote          Action = "vault_create_note"
	ActionDeleteNote          Action = "vault_delete_note"
	ActionToggleTask          Action = "vault_toggle_task"
	ActionAddTask             Action = "vault_add_task"
	ActionUpdateFrontmatter   Action = "vault_update_frontmatter"
	ActionAddFrontmatterField Action = "vault_add_frontmatter_field"
)

// Actions lists every primitive a step may target.
var Actions = []Action{
	ActionAddToSection, ActionRemoveFromSection, ActionReplaceInSection,
	ActionCreateNote, ActionDeleteNote,
	ActionToggleTask, ActionAddTask,
	ActionUpdateFrontmatter, ActionAddFrontmatterField,
}

// Known reports whether a is one of the supported primitives.
func (a Action) Known() bool {
	for _, k := range Actions {
		if a == k {
			return true
		}
	}
	return false
}

var requiredParams = map[Action][]string{
	ActionAddToSection:        {"path", "section", "content"},
	ActionRemoveFromSection:   {"path", "section", "match"},
	ActionReplaceInSection:    {"path", "section"},
	ActionCreateNote:          {"path"},
	ActionDeleteNote:          {"path"},
	ActionToggleTask:          {"path", "task"},
	ActionAddTask:             {"path", "task"},
	ActionUpdateFrontmatter:   {"path"},
	ActionAddFrontmatterField: {"path", "field"},
}

// RequiredParams lists the parameters a primitive cannot run without.
func (a Action) RequiredParams() []string {
	return requiredParams[a]
}

// Known reports whether c is one of the supported condition kinds.
func (c CheckKind) Known() bool {
	for _, k := range CheckKinds {
		if c == k {
			return true
		}
	}
	return false
}

// Step is one gated invocation of a mutation primitive.
type Step struct {
	ID          string         `yaml:"id"                    json:"id"                    jsonschema:"minLength=1"`
	Action      Action         `yaml:"action"                json:"action"                jsonschema:"enum=vault_add_to_section,enum=vault_remove_from_section,enum=vault_replace_in_section,enum=vault_create_note,enum=vault_delete_note,enum=vault_toggle_task,enum=vault_add_task,enum=vault_update_frontmatter,enum=vault_add_frontmatter_field"`
	When        string         `yaml:"when,omitempty"        json:"when,omitempty"`
	Params      map[string]any `yaml:"params,omitempty"      json:"params,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
}

// Output holds the optional post-run summary template.
type Output struct {
	Summary string `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// LoadFile reads and parses a policy YAML file with strict unknown-field
// rejection (yaml.v3 KnownFields).
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a policy from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &def, nil
}

// Parse is Load over a byte slice.
func Parse(data []byte) (*Definition, error) {
	return Load(bytes.NewReader(data))
}

// Marshal serializes a definition back to its YAML document form.
// Parse(Marshal(d)) yields a structurally equal definition.
func Marshal(def *Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	return buf.Bytes(), nil
}
