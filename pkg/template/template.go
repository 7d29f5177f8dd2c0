// Package template implements {{ expression }} interpolation for policy
// parameters against a layered Context.
//
// Expressions take the form {{path}}, {{path | filter}} or
// {{path | filter(arg)}}; filters chain left to right. An expression whose
// path cannot be resolved is left verbatim in the output so partially
// resolved templates stay diagnosable.
package template

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// exprRe matches one {{ ... }} placeholder.
var exprRe = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Expression is one parsed placeholder.
type Expression struct {
	Raw     string       // the full "{{ ... }}" text
	Path    string       // dotted lookup path
	Filters []FilterCall // applied left to right
}

// FilterCall is one "| name(arg)" segment.
type FilterCall struct {
	Name   string
	Arg    string
	HasArg bool
}

// Resolver evaluates templates with a registry of filters.
type Resolver struct {
	mu      sync.RWMutex
	filters map[string]Filter
	logger  *zap.Logger
}

// NewResolver returns a resolver preloaded with the builtin filters.
// A nil logger disables logging.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{filters: make(map[string]Filter), logger: logger}
	for name, f := range builtinFilters() {
		r.filters[name] = f
	}
	return r
}

// Register adds or replaces a filter.
func (r *Resolver) Register(name string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = f
}

func (r *Resolver) filter(name string) (Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	return f, ok
}

// Interpolate replaces every resolvable placeholder in tmpl with its
// stringified value.
func (r *Resolver) Interpolate(tmpl string, ctx *Context) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl // fast path for literals
	}
	return exprRe.ReplaceAllStringFunc(tmpl, func(raw string) string {
		val, ok := r.evaluate(parseExpression(raw), ctx)
		if !ok {
			return raw
		}
		return Stringify(val)
	})
}

// InterpolateValue walks maps and slices, interpolating every string leaf.
// A leaf that is exactly one placeholder keeps the resolved value's type.
func (r *Resolver) InterpolateValue(v any, ctx *Context) any {
	switch val := v.(type) {
	case string:
		if e, ok := singleExpression(val); ok {
			if out, ok := r.evaluate(e, ctx); ok {
				return typed(out)
			}
			return val
		}
		return r.Interpolate(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.InterpolateValue(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.InterpolateValue(item, ctx)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.InterpolateValue(item, ctx)
		}
		return out
	default:
		return v
	}
}

// InterpolateMap is InterpolateValue over a parameter bag.
func (r *Resolver) InterpolateMap(params map[string]any, ctx *Context) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return r.InterpolateValue(params, ctx).(map[string]any)
}

// Evaluate resolves a single expression body such as "name | upper".
func (r *Resolver) Evaluate(expr string, ctx *Context) (any, bool) {
	return r.evaluate(parseExpression("{{"+expr+"}}"), ctx)
}

func (r *Resolver) evaluate(e Expression, ctx *Context) (any, bool) {
	var val any
	found := false
	if ctx != nil {
		val, found = ctx.Lookup(e.Path)
	}
	if !found {
		if !hasDefault(e.Filters) {
			return nil, false
		}
		val = nil
	}
	for _, fc := range e.Filters {
		f, ok := r.filter(fc.Name)
		if !ok {
			r.logger.Warn("unknown template filter; value passed through",
				zap.String("filter", fc.Name),
				zap.String("expression", e.Raw))
			continue
		}
		val = f(val, fc)
	}
	return val, true
}

func hasDefault(filters []FilterCall) bool {
	for _, f := range filters {
		if f.Name == "default" {
			return true
		}
	}
	return false
}

func singleExpression(s string) (Expression, bool) {
	trimmed := strings.TrimSpace(s)
	loc := exprRe.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return Expression{}, false
	}
	return parseExpression(trimmed), true
}

// parseExpression parses "{{ path | f | g(arg) }}".
func parseExpression(raw string) Expression {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "{{")
	body = strings.TrimSuffix(body, "}}")
	parts := splitPipes(body)
	e := Expression{Raw: raw, Path: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fc := FilterCall{Name: p}
		if open := strings.IndexByte(p, '('); open > 0 && strings.HasSuffix(p, ")") {
			fc.Name = strings.TrimSpace(p[:open])
			fc.Arg = unquote(strings.TrimSpace(p[open+1 : len(p)-1]))
			fc.HasArg = true
		}
		e.Filters = append(e.Filters, fc)
	}
	return e
}

// splitPipes splits on '|' outside of quotes.
func splitPipes(s string) []string {
	var parts []string
	var quote rune
	start := 0
	for i, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '|':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ExtractExpressions returns every placeholder in tmpl in order.
func ExtractExpressions(tmpl string) []Expression {
	matches := exprRe.FindAllString(tmpl, -1)
	out := make([]Expression, 0, len(matches))
	for _, m := range matches {
		out = append(out, parseExpression(m))
	}
	return out
}

// ExtractVariableRefs returns the variable names tmpl references, either
// bare or through the variables. prefix. Builtins and the other namespaces
// are excluded.
func ExtractVariableRefs(tmpl string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range ExtractExpressions(tmpl) {
		name := variableName(e.Path)
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func variableName(path string) string {
	if builtinNames[path] {
		return ""
	}
	segs := strings.Split(path, ".")
	switch segs[0] {
	case NSVariables:
		if len(segs) > 1 {
			return segs[1]
		}
		return ""
	case NSConditions, NSBuiltins, NSSteps:
		return ""
	}
	return segs[0]
}

// ExtractNamespaceRefs returns the first key referenced under ns (for
// example the step ids referenced as steps.<id>.*).
func ExtractNamespaceRefs(tmpl, ns string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range ExtractExpressions(tmpl) {
		segs := strings.Split(e.Path, ".")
		if len(segs) < 2 || segs[0] != ns {
			continue
		}
		if !seen[segs[1]] {
			seen[segs[1]] = true
			out = append(out, segs[1])
		}
	}
	return out
}

// ExtractStepRefs returns the step ids tmpl references as steps.<id>.*.
func ExtractStepRefs(tmpl string) []string {
	return ExtractNamespaceRefs(tmpl, NSSteps)
}

// Strings collects every string leaf of a parameter value.
func Strings(v any) []string {
	var out []string
	var visit func(any)
	visit = func(v any) {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case map[string]any:
			for _, item := range val {
				visit(item)
			}
		case []any:
			for _, item := range val {
				visit(item)
			}
		case []string:
			out = append(out, val...)
		}
	}
	visit(v)
	return out
}

// HasPlaceholder reports whether s still contains a {{ ... }} expression.
func HasPlaceholder(s string) bool {
	return exprRe.MatchString(s)
}
