package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Filter transforms a resolved value. call carries the optional argument.
// Filters must be pure.
type Filter func(value any, call FilterCall) any

func builtinFilters() map[string]Filter {
	return map[string]Filter{
		"upper": func(v any, _ FilterCall) any { return strings.ToUpper(Stringify(v)) },
		"lower": func(v any, _ FilterCall) any { return strings.ToLower(Stringify(v)) },
		"trim":  func(v any, _ FilterCall) any { return strings.TrimSpace(Stringify(v)) },
		"default": func(v any, c FilterCall) any {
			if isEmpty(v) {
				return c.Arg
			}
			return v
		},
		"date": func(v any, c FilterCall) any {
			return formatTime(v, c, "YYYY-MM-DD")
		},
		"time": func(v any, c FilterCall) any {
			return formatTime(v, c, "HH:mm")
		},
		"iso": func(v any, _ FilterCall) any {
			t, ok := asTime(v)
			if !ok {
				return v
			}
			return t.Format(time.RFC3339)
		},
		"join": func(v any, c FilterCall) any {
			sep := ", "
			if c.HasArg {
				sep = c.Arg
			}
			items, ok := asSlice(v)
			if !ok {
				return v
			}
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = Stringify(item)
			}
			return strings.Join(parts, sep)
		},
		"first": func(v any, _ FilterCall) any {
			if items, ok := asSlice(v); ok {
				if len(items) == 0 {
					return nil
				}
				return items[0]
			}
			if s, ok := v.(string); ok && s != "" {
				r, _ := utf8.DecodeRuneInString(s)
				return string(r)
			}
			return v
		},
		"last": func(v any, _ FilterCall) any {
			if items, ok := asSlice(v); ok {
				if len(items) == 0 {
					return nil
				}
				return items[len(items)-1]
			}
			if s, ok := v.(string); ok && s != "" {
				r, _ := utf8.DecodeLastRuneInString(s)
				return string(r)
			}
			return v
		},
		"slugify": func(v any, _ FilterCall) any { return Slugify(Stringify(v)) },
	}
}

// Slugify lower-cases s and collapses every run of non-alphanumerics into
// a single '-'.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Stringify renders a resolved value as template output.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339)
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any, map[string]bool, map[string]map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// typed normalizes a resolved value for structural interpolation.
func typed(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(val)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// tokenLayout maps date-format tokens onto Go reference-time layouts.
var tokenLayout = strings.NewReplacer(
	"YYYY", "2006",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func formatTime(v any, c FilterCall, def string) any {
	t, ok := asTime(v)
	if !ok {
		return v
	}
	format := def
	if c.HasArg && c.Arg != "" {
		format = c.Arg
	}
	return t.Format(tokenLayout.Replace(format))
}
