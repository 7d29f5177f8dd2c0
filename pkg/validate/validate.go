// Package validate checks policy documents before they are stored or run.
//
// Validation runs three phases:
//
//	structural  strict YAML decode and JSON Schema validation
//	semantic    per-field rules the schema cannot express
//	domain      cross-references between variables, conditions and steps
//
// A structural failure stops the pipeline. Validation is pure.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/memex/pkg/conditions"
	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/template"
)

// Phases and severities.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"

	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic is a single validation finding with location context.
type Diagnostic struct {
	Phase    string `json:"phase"`
	Path     string `json:"path"` // e.g. "steps[2].when"
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("[%s] %s: %s", d.Phase, d.Path, d.Message)
}

// Result is the outcome of validating one document.
type Result struct {
	Valid    bool               `json:"valid"`
	Errors   []*Diagnostic      `json:"errors"`
	Warnings []*Diagnostic      `json:"warnings"`
	Policy   *policy.Definition `json:"-"`
}

func (r *Result) add(d *Diagnostic) {
	if d.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, d)
		return
	}
	r.Errors = append(r.Errors, d)
}

// Err returns the first error diagnostic, or nil when the document is valid.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	return fmt.Errorf("%w (and %d more)", r.Errors[0], len(r.Errors)-1)
}

func errorf(phase, path, format string, args ...any) *Diagnostic {
	return &Diagnostic{Phase: phase, Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

func warningf(phase, path, format string, args ...any) *Diagnostic {
	return &Diagnostic{Phase: phase, Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

// Validate runs the full pipeline over a raw policy document.
func Validate(raw []byte) *Result {
	res := &Result{Errors: []*Diagnostic{}, Warnings: []*Diagnostic{}}

	if strings.TrimSpace(string(raw)) == "" {
		res.add(errorf(PhaseStructural, "", "empty policy document"))
		return res
	}
	def, err := policy.Parse(raw)
	if err != nil {
		res.add(errorf(PhaseStructural, "", "%v", err))
		return res
	}
	for _, d := range validateSchema(def) {
		res.add(d)
	}
	if len(res.Errors) > 0 {
		return res
	}

	for _, d := range ValidateDefinition(def) {
		res.add(d)
	}
	res.Policy = def
	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateDefinition runs the semantic and domain phases over an already
// decoded definition.
func ValidateDefinition(def *policy.Definition) []*Diagnostic {
	out := validateSemantic(def)
	return append(out, validateDomain(def)...)
}

var (
	schemaOnce sync.Once
	schema     *sjsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*sjsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaJSON, err := policy.GenerateJSONSchema()
		if err != nil {
			schemaErr = fmt.Errorf("generate schema: %w", err)
			return
		}
		var doc any
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			schemaErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("policy-v1.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile("policy-v1.json")
	})
	return schema, schemaErr
}

// validateSchema validates the decoded document against the reflected
// JSON Schema.
func validateSchema(def *policy.Definition) []*Diagnostic {
	sch, err := compiledSchema()
	if err != nil {
		return []*Diagnostic{errorf(PhaseStructural, "", "%v", err)}
	}
	data, err := json.Marshal(def)
	if err != nil {
		return []*Diagnostic{errorf(PhaseStructural, "", "marshal for schema validation: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*Diagnostic{errorf(PhaseStructural, "", "unmarshal document: %v", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*Diagnostic{errorf(PhaseStructural, "", "%v", err)}
	}
	var out []*Diagnostic
	for _, cause := range flattenValidationErrors(ve) {
		out = append(out, errorf(PhaseStructural, instancePath(cause.InstanceLocation), "%v", cause.ErrorKind))
	}
	return out
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders ["steps","0","action"] as steps[0].action.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// whenRe is the only accepted step gate syntax.
var whenRe = regexp.MustCompile(`^\{\{\s*conditions\.([A-Za-z0-9_-]+)\s*\}\}$`)

// WhenCondition extracts the condition id from a step's when clause.
func WhenCondition(when string) (string, bool) {
	m := whenRe.FindStringSubmatch(strings.TrimSpace(when))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func validateSemantic(def *policy.Definition) []*Diagnostic {
	var out []*Diagnostic

	if def.Version != policy.Version {
		out = append(out, errorf(PhaseSemantic, "version", "unsupported version %q, expected %q", def.Version, policy.Version))
	}

	for _, name := range sortedKeys(def.Variables) {
		spec := def.Variables[name]
		path := "variables." + name
		switch spec.Type {
		case policy.TypeString, policy.TypeNumber, policy.TypeBoolean, policy.TypeArray:
		case policy.TypeEnum:
			if len(spec.Enum) == 0 {
				out = append(out, errorf(PhaseSemantic, path+".enum", "enum variable requires a non-empty enum set"))
			}
		default:
			out = append(out, errorf(PhaseSemantic, path+".type", "unknown variable type %q", spec.Type))
			continue
		}
		if len(spec.Enum) > 0 && spec.Type != policy.TypeEnum {
			out = append(out, warningf(PhaseSemantic, path+".enum", "enum set is ignored for type %q", spec.Type))
		}
		if spec.Default != nil && !DefaultMatches(spec) {
			out = append(out, errorf(PhaseSemantic, path+".default", "default %v does not match type %q", spec.Default, spec.Type))
		}
	}

	for i, c := range def.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		if strings.TrimSpace(c.Path) == "" {
			out = append(out, errorf(PhaseSemantic, path+".path", "condition %q requires a path", c.ID))
		}
		switch c.Check {
		case policy.CheckSectionExists, policy.CheckSectionNotExists:
			if strings.TrimSpace(c.Section) == "" {
				out = append(out, errorf(PhaseSemantic, path+".section", "%s requires a section", c.Check))
			}
		case policy.CheckFrontmatterExists, policy.CheckFrontmatterNotExists:
			if strings.TrimSpace(c.Field) == "" {
				out = append(out, errorf(PhaseSemantic, path+".field", "%s requires a field", c.Check))
			}
		case policy.CheckFrontmatterEquals:
			if strings.TrimSpace(c.Field) == "" {
				out = append(out, errorf(PhaseSemantic, path+".field", "%s requires a field", c.Check))
			}
			if c.Value == nil {
				out = append(out, errorf(PhaseSemantic, path+".value", "%s requires a value", c.Check))
			}
		case policy.CheckFrontmatterMatches:
			if strings.TrimSpace(c.Expr) == "" {
				out = append(out, errorf(PhaseSemantic, path+".expr", "%s requires an expr", c.Check))
			} else if !template.HasPlaceholder(c.Expr) {
				if err := conditions.CompileExpr(c.Expr); err != nil {
					out = append(out, errorf(PhaseSemantic, path+".expr", "invalid expression: %v", err))
				}
			}
		}
	}

	for i, c := range def.Conditions {
		if !c.Check.Known() {
			out = append(out, errorf(PhaseSemantic, fmt.Sprintf("conditions[%d].check", i),
				"unknown check %q; expected one of %s", c.Check, joinKinds(policy.CheckKinds)))
		}
	}

	for i, s := range def.Steps {
		if !s.Action.Known() {
			out = append(out, errorf(PhaseSemantic, fmt.Sprintf("steps[%d].action", i),
				"unknown action %q; expected one of %s", s.Action, joinKinds(policy.Actions)))
		}
		if s.When == "" {
			continue
		}
		if _, ok := WhenCondition(s.When); !ok {
			out = append(out, errorf(PhaseSemantic, fmt.Sprintf("steps[%d].when", i),
				"when must have the form {{conditions.<id>}}, got %q", s.When))
		}
	}
	return out
}

func validateDomain(def *policy.Definition) []*Diagnostic {
	var out []*Diagnostic

	condIDs := map[string]bool{}
	for i, c := range def.Conditions {
		if condIDs[c.ID] {
			out = append(out, errorf(PhaseDomain, fmt.Sprintf("conditions[%d].id", i), "duplicate condition id %q", c.ID))
		}
		condIDs[c.ID] = true
	}
	stepIndex := map[string]int{}
	for i, s := range def.Steps {
		if _, dup := stepIndex[s.ID]; dup {
			out = append(out, errorf(PhaseDomain, fmt.Sprintf("steps[%d].id", i), "duplicate step id %q", s.ID))
			continue
		}
		stepIndex[s.ID] = i
	}

	usedVars := map[string]bool{}
	usedConds := map[string]bool{}

	noteRefs := func(path string, strs []string, warnUndeclared bool) {
		for _, s := range strs {
			for _, name := range template.ExtractVariableRefs(s) {
				usedVars[name] = true
				if _, ok := def.Variables[name]; !ok && warnUndeclared {
					out = append(out, warningf(PhaseDomain, path, "references undeclared variable %q", name))
				}
			}
			for _, id := range template.ExtractNamespaceRefs(s, template.NSConditions) {
				usedConds[id] = true
			}
		}
	}

	for i, c := range def.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		noteRefs(path, append([]string{c.Path, c.Expr}, template.Strings(c.Value)...), true)
	}

	for i, s := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if s.When != "" {
			if id, ok := WhenCondition(s.When); ok {
				usedConds[id] = true
				if !condIDs[id] {
					out = append(out, errorf(PhaseDomain, path+".when", "references undeclared condition %q", id))
				}
			}
		}
		out = append(out, checkParams(path+".params", s)...)
		strs := template.Strings(s.Params)
		noteRefs(path+".params", strs, true)
		for _, str := range strs {
			for _, ref := range template.ExtractStepRefs(str) {
				j, ok := stepIndex[ref]
				switch {
				case !ok:
					out = append(out, warningf(PhaseDomain, path+".params", "references unknown step %q", ref))
				case j >= i:
					out = append(out, warningf(PhaseDomain, path+".params",
						"references step %q which has not run yet; the expression can never resolve", ref))
				}
			}
		}
	}

	if def.Output != nil {
		noteRefs("output.summary", []string{def.Output.Summary}, true)
	}

	for _, name := range sortedKeys(def.Variables) {
		if !usedVars[name] {
			out = append(out, warningf(PhaseDomain, "variables."+name, "variable %q is declared but never referenced", name))
		}
	}
	for i, c := range def.Conditions {
		if !usedConds[c.ID] {
			out = append(out, warningf(PhaseDomain, fmt.Sprintf("conditions[%d]", i), "condition %q is declared but never referenced", c.ID))
		}
	}
	return out
}

// checkParams reports parameters a step's primitive would reject at run
// time. A templated value counts as present.
func checkParams(path string, s policy.Step) []*Diagnostic {
	var out []*Diagnostic
	for _, key := range s.Action.RequiredParams() {
		if !hasParam(s.Params, key) {
			out = append(out, errorf(PhaseDomain, path+"."+key, "%s requires param %q", s.Action, key))
		}
	}
	switch s.Action {
	case policy.ActionReplaceInSection:
		if _, content := s.Params["content"]; !content && !hasParam(s.Params, "find") {
			out = append(out, errorf(PhaseDomain, path, "%s requires find or content", s.Action))
		}
	case policy.ActionUpdateFrontmatter:
		if !hasParam(s.Params, "fields") && !hasParam(s.Params, "remove") {
			out = append(out, errorf(PhaseDomain, path, "%s requires fields or remove", s.Action))
		}
	}
	return out
}

func hasParam(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	if str, ok := v.(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return true
}

func joinKinds[T ~string](kinds []T) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// DefaultMatches reports whether a variable's default fits its type.
func DefaultMatches(spec policy.VariableSpec) bool {
	switch spec.Type {
	case policy.TypeString:
		_, ok := spec.Default.(string)
		return ok
	case policy.TypeNumber:
		switch spec.Default.(type) {
		case int, int64, float64, uint64:
			return true
		}
		return false
	case policy.TypeBoolean:
		_, ok := spec.Default.(bool)
		return ok
	case policy.TypeArray:
		items, ok := spec.Default.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	case policy.TypeEnum:
		s, ok := spec.Default.(string)
		if !ok {
			return false
		}
		for _, e := range spec.Enum {
			if e == s {
				return true
			}
		}
		return false
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
