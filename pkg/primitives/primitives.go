// Package primitives implements the fixed set of vault mutation operations
// a policy step can dispatch to.
//
// Each primitive takes a vault-relative path plus operation parameters and
// returns a Result. Primitives report failure for a missing document, a
// missing section, or a pattern that matches nothing. Dispatch never lets
// a panic escape.
package primitives

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/vault"
)

// Result is the normalized outcome of one primitive call.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Path    string         `json:"path,omitempty"`
	Preview string         `json:"preview,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Handler is the shared contract of every primitive.
type Handler func(ctx context.Context, v *vault.Vault, p Params) Result

// Registry maps actions to handlers over one vault.
type Registry struct {
	vault    *vault.Vault
	mu       sync.RWMutex
	handlers map[policy.Action]Handler
}

// NewRegistry returns a registry with every builtin primitive installed.
func NewRegistry(v *vault.Vault) *Registry {
	r := &Registry{vault: v, handlers: make(map[policy.Action]Handler)}
	r.handlers[policy.ActionAddToSection] = addToSection
	r.handlers[policy.ActionRemoveFromSection] = removeFromSection
	r.handlers[policy.ActionReplaceInSection] = replaceInSection
	r.handlers[policy.ActionCreateNote] = createNote
	r.handlers[policy.ActionDeleteNote] = deleteNote
	r.handlers[policy.ActionToggleTask] = toggleTask
	r.handlers[policy.ActionAddTask] = addTask
	r.handlers[policy.ActionUpdateFrontmatter] = updateFrontmatter
	r.handlers[policy.ActionAddFrontmatterField] = addFrontmatterField
	return r
}

// Vault returns the vault the registry mutates.
func (r *Registry) Vault() *vault.Vault { return r.vault }

// Register installs or replaces the handler for action.
func (r *Registry) Register(action policy.Action, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Dispatch runs the handler for action. Unknown actions, cancelled
// contexts and panics become failed results.
func (r *Registry) Dispatch(ctx context.Context, action policy.Action, params map[string]any) (res Result) {
	r.mu.RLock()
	h, ok := r.handlers[action]
	r.mu.RUnlock()
	if !ok {
		return failf("unknown action %q", action)
	}
	if err := ctx.Err(); err != nil {
		return failf("%s not started: %v", action, err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = failf("%s panicked: %v", action, rec)
		}
	}()
	res = h(ctx, r.vault, Params(params))
	if res.Outputs == nil {
		res.Outputs = map[string]any{}
	}
	if res.Path != "" {
		if _, ok := res.Outputs["path"]; !ok {
			res.Outputs["path"] = res.Path
		}
	}
	return res
}

func failf(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

func succeed(path, format string, args ...any) Result {
	return Result{Success: true, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Params is a step's resolved parameter bag.
type Params map[string]any

// String returns a string parameter; non-string scalars are formatted.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns a boolean parameter; "true"/"false" strings are accepted.
func (p Params) Bool(key string) (value, set bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}

// Map returns an object parameter.
func (p Params) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// Strings returns a list parameter. A single string is a one-item list.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// require returns the first missing parameter among keys.
func (p Params) require(keys ...string) (string, bool) {
	for _, k := range keys {
		if strings.TrimSpace(p.String(k)) == "" {
			return k, false
		}
	}
	return "", true
}

func readNote(v *vault.Vault, p Params) (*vault.Note, Result, bool) {
	if k, ok := p.require("path"); !ok {
		return nil, failf("missing required parameter %q", k), false
	}
	n, err := v.Read(p.String("path"))
	if err != nil {
		return nil, failf("%v", err), false
	}
	return n, Result{}, true
}

func writeNote(v *vault.Vault, n *vault.Note) (Result, bool) {
	if _, err := v.Update(n); err != nil {
		return failf("%v", err), false
	}
	return Result{}, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func previewLines(sign string, lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sign + " " + l)
	}
	return b.String()
}
