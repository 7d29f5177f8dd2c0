package template

import (
	"strconv"
	"strings"
	"time"
)

// Namespaces addressable with an explicit prefix.
const (
	NSVariables  = "variables"
	NSConditions = "conditions"
	NSBuiltins   = "builtins"
	NSSteps      = "steps"
)

// builtinNames resolve directly, ahead of any namespace.
var builtinNames = map[string]bool{"now": true, "today": true, "time": true, "date": true}

// Context is the per-invocation namespace templates resolve against.
// Steps is append-only: each step's outputs are added after it runs.
type Context struct {
	Variables  map[string]any
	Conditions map[string]bool
	Builtins   map[string]any
	Steps      map[string]map[string]any
}

// NewContext builds a context with clock builtins derived from now.
func NewContext(vars map[string]any, now time.Time) *Context {
	if vars == nil {
		vars = map[string]any{}
	}
	return &Context{
		Variables:  vars,
		Conditions: map[string]bool{},
		Builtins:   Builtins(now),
		Steps:      map[string]map[string]any{},
	}
}

// Builtins returns the clock-derived values available as now, today, date
// and time.
func Builtins(now time.Time) map[string]any {
	return map[string]any{
		"now":   now,
		"today": now.Format("2006-01-02"),
		"date":  now.Format("2006-01-02"),
		"time":  now.Format("15:04"),
	}
}

// SetStepOutputs records the outputs of a completed step.
func (c *Context) SetStepOutputs(id string, out map[string]any) {
	if c.Steps == nil {
		c.Steps = map[string]map[string]any{}
	}
	if out == nil {
		out = map[string]any{}
	}
	c.Steps[id] = out
}

// Lookup resolves a dotted path. Resolution order: builtin literal name,
// explicit namespace prefix, then the variables namespace.
func (c *Context) Lookup(path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if builtinNames[path] {
		v, ok := c.Builtins[path]
		return v, ok
	}
	segs := strings.Split(path, ".")
	switch segs[0] {
	case NSVariables:
		return walk(c.Variables, segs[1:])
	case NSConditions:
		return walk(c.Conditions, segs[1:])
	case NSBuiltins:
		return walk(c.Builtins, segs[1:])
	case NSSteps:
		return walk(c.Steps, segs[1:])
	}
	return walk(c.Variables, segs)
}

func walk(v any, segs []string) (any, bool) {
	for _, seg := range segs {
		next, ok := index(v, seg)
		if !ok {
			return nil, false
		}
		v = next
	}
	return v, true
}

func index(v any, key string) (any, bool) {
	switch c := v.(type) {
	case map[string]any:
		val, ok := c[key]
		return val, ok
	case map[string]bool:
		val, ok := c[key]
		return val, ok
	case map[string]string:
		val, ok := c[key]
		return val, ok
	case map[string]map[string]any:
		val, ok := c[key]
		return val, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case []string:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}
