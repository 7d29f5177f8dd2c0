package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ormasoftchile/memex/pkg/policy"
)

// Variable sources reported by ResolveVariables.
const (
	SourceSupplied = "supplied"
	SourceDefault  = "default"
)

// VariableError reports variables that were missing or of the wrong type
// at invocation time. It is terminal and never retryable.
type VariableError struct {
	Problems []string
}

func (e *VariableError) Error() string {
	return "invalid variables: " + strings.Join(e.Problems, "; ")
}

// ResolvedVariables is the output of ResolveVariables.
type ResolvedVariables struct {
	Values  map[string]any
	Sources map[string]string
}

// ResolveVariables applies declared specs to the supplied variable bag.
//
// Resolution order:
//  1. supplied value, whenever the key is present (falsy values included)
//  2. declared default, only when the key is omitted
//  3. missing required → error
//
// Supplied strings are coerced for number, boolean and array variables.
// Supplied variables without a declaration pass through unchanged.
func ResolveVariables(def *policy.Definition, supplied map[string]any) (*ResolvedVariables, error) {
	out := &ResolvedVariables{Values: map[string]any{}, Sources: map[string]string{}}
	var problems []string

	names := make([]string, 0, len(def.Variables))
	for name := range def.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := def.Variables[name]
		if v, ok := supplied[name]; ok {
			coerced, err := coerce(spec, v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			out.Values[name] = coerced
			out.Sources[name] = SourceSupplied
			continue
		}
		if spec.Default != nil {
			out.Values[name] = cloneValue(spec.Default)
			out.Sources[name] = SourceDefault
			continue
		}
		if spec.Required {
			problems = append(problems, fmt.Sprintf("%s: required variable not supplied", name))
		}
	}

	for name, v := range supplied {
		if _, declared := def.Variables[name]; !declared {
			out.Values[name] = v
			out.Sources[name] = SourceSupplied
		}
	}

	if len(problems) > 0 {
		return nil, &VariableError{Problems: problems}
	}
	return out, nil
}

func coerce(spec policy.VariableSpec, v any) (any, error) {
	switch spec.Type {
	case policy.TypeString, "":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil

	case policy.TypeNumber:
		switch n := v.(type) {
		case int, int64, float64:
			return n, nil
		case int32:
			return int(n), nil
		case float32:
			return float64(n), nil
		case string:
			s := strings.TrimSpace(n)
			if i, err := strconv.Atoi(s); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("expected number, got %q", n)
			}
			return f, nil
		}
		return nil, fmt.Errorf("expected number, got %T", v)

	case policy.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)

	case policy.TypeArray:
		switch a := v.(type) {
		case []any:
			for i, item := range a {
				if _, ok := item.(string); !ok {
					return nil, fmt.Errorf("expected array of strings, item %d is %T", i, item)
				}
			}
			return cloneValue(a), nil
		case []string:
			out := make([]any, len(a))
			for i, s := range a {
				out[i] = s
			}
			return out, nil
		case string:
			out := []any{}
			for _, part := range strings.Split(a, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out, nil
		}
		return nil, fmt.Errorf("expected array, got %T", v)

	case policy.TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %v, got %T", spec.Enum, v)
		}
		for _, allowed := range spec.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %v", s, spec.Enum)
	}
	return nil, fmt.Errorf("unknown variable type %q", spec.Type)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
