package primitives

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/ormasoftchile/memex/pkg/vault"
)

// vault_create_note: path
// optional: content, frontmatter, overwrite
func createNote(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path"); !ok {
		return failf("missing required parameter %q", k)
	}
	overwrite, _ := p.Bool("overwrite")
	body := p.String("content")
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	n, err := v.Create(p.String("path"), body, p.Map("frontmatter"), overwrite)
	if err != nil {
		return failf("%v", err)
	}
	out := succeed(n.Path, "created %s", n.Path)
	out.Preview = previewLines("+", contentLines(body))
	out.Outputs = map[string]any{"created": true}
	return out
}

// vault_delete_note: path
func deleteNote(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("path"); !ok {
		return failf("missing required parameter %q", k)
	}
	path, err := v.Normalize(p.String("path"))
	if err != nil {
		return failf("%v", err)
	}
	if err := v.Delete(path); err != nil {
		return failf("%v", err)
	}
	out := succeed(path, "deleted %s", path)
	out.Outputs = map[string]any{"deleted": true}
	return out
}

// vault_update_frontmatter: path, fields
// optional: remove (list of keys to delete)
func updateFrontmatter(_ context.Context, v *vault.Vault, p Params) Result {
	fields := p.Map("fields")
	remove := p.Strings("remove")
	if len(fields) == 0 && len(remove) == 0 {
		return failf("vault_update_frontmatter requires fields or remove")
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	if n.Frontmatter == nil {
		n.Frontmatter = map[string]any{}
	}

	var changed, preview []string
	for _, k := range sortedKeys(fields) {
		if old, exists := n.Frontmatter[k]; exists && reflect.DeepEqual(old, fields[k]) {
			continue
		}
		n.Frontmatter[k] = fields[k]
		changed = append(changed, k)
		preview = append(preview, fmt.Sprintf("+ %s: %v", k, fields[k]))
	}
	var removed []string
	for _, k := range remove {
		if _, exists := n.Frontmatter[k]; exists {
			delete(n.Frontmatter, k)
			removed = append(removed, k)
			preview = append(preview, "- "+k)
		}
	}
	if len(changed) > 0 || len(removed) > 0 {
		if res, ok := writeNote(v, n); !ok {
			return res
		}
	}

	out := succeed(n.Path, "updated %d and removed %d frontmatter field(s) in %s", len(changed), len(removed), n.Path)
	out.Preview = strings.Join(preview, "\n")
	out.Outputs = map[string]any{"updated": toAny(changed), "removed": toAny(removed)}
	return out
}

// vault_add_frontmatter_field: path, field, value
// optional: overwrite
func addFrontmatterField(_ context.Context, v *vault.Vault, p Params) Result {
	if k, ok := p.require("field"); !ok {
		return failf("missing required parameter %q", k)
	}
	value, hasValue := p["value"]
	if !hasValue {
		return failf("missing required parameter %q", "value")
	}
	n, res, ok := readNote(v, p)
	if !ok {
		return res
	}
	field := p.String("field")
	if n.Frontmatter == nil {
		n.Frontmatter = map[string]any{}
	}
	if _, exists := n.Frontmatter[field]; exists {
		if overwrite, _ := p.Bool("overwrite"); !overwrite {
			return failf("frontmatter field %q already exists in %s", field, n.Path)
		}
	}
	n.Frontmatter[field] = value
	if res, ok := writeNote(v, n); !ok {
		return res
	}
	out := succeed(n.Path, "set frontmatter field %q in %s", field, n.Path)
	out.Preview = fmt.Sprintf("+ %s: %v", field, value)
	out.Outputs = map[string]any{"field": field, "value": value}
	return out
}

func toAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
