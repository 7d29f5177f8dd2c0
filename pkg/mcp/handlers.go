package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/memex/pkg/service"
	"github.com/ormasoftchile/memex/pkg/validate"
)

// Handlers implements the memex MCP tools.
type Handlers struct {
	svc *service.Service
}

// NewHandlers returns handlers over svc.
func NewHandlers(svc *service.Service) *Handlers { return &Handlers{svc: svc} }

// Validate implements memex/policy_validate.
func (h *Handlers) Validate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := stringArg(req, "document")
	if doc == "" {
		return errorResult("document argument is required"), nil
	}
	res := h.svc.Validate([]byte(doc))
	return jsonResult(res, !res.Valid), nil
}

// List implements memex/policy_list.
func (h *Handlers) List(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.svc.List()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"policies": list, "count": len(list)}, false), nil
}

// Get implements memex/policy_get.
func (h *Handlers) Get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := stringArg(req, "name")
	if name == "" {
		return errorResult("name argument is required"), nil
	}
	p, err := h.svc.Get(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(p, false), nil
}

// Save implements memex/policy_save.
func (h *Handlers) Save(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, doc := stringArg(req, "name"), stringArg(req, "document")
	if name == "" || doc == "" {
		return errorResult("name and document arguments are required"), nil
	}
	res, err := h.svc.Save(name, []byte(doc), boolArg(req, "overwrite", false))
	if err != nil {
		if res != nil && !res.Valid {
			return errorResult(formatErrors(res)), nil
		}
		return errorResult(err.Error()), nil
	}
	return textResult(fmt.Sprintf("✓ saved policy %s (%d warning(s))", name, len(res.Warnings))), nil
}

// Delete implements memex/policy_delete.
func (h *Handlers) Delete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := stringArg(req, "name")
	if name == "" {
		return errorResult("name argument is required"), nil
	}
	if err := h.svc.Delete(name); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult("✓ deleted policy " + name), nil
}

// Preview implements memex/policy_preview.
func (h *Handlers) Preview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, doc := stringArg(req, "name"), stringArg(req, "document")
	vars := mapArg(req, "vars")
	switch {
	case name != "":
		res, err := h.svc.Preview(ctx, name, vars)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(res, !res.Success), nil
	case doc != "":
		res, err := h.svc.PreviewDocument(ctx, []byte(doc), vars)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(res, !res.Success), nil
	}
	return errorResult("name or document argument is required"), nil
}

// Execute implements memex/policy_execute. Commit defaults to true so agent
// changes stay reversible.
func (h *Handlers) Execute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, doc := stringArg(req, "name"), stringArg(req, "document")
	vars := mapArg(req, "vars")
	commit := boolArg(req, "commit", true)
	switch {
	case name != "":
		res, err := h.svc.Execute(ctx, name, vars, commit)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(res, !res.Success), nil
	case doc != "":
		res, err := h.svc.ExecuteDocument(ctx, []byte(doc), vars, commit)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(res, !res.Success), nil
	}
	return errorResult("name or document argument is required"), nil
}

// Import implements memex/policy_import.
func (h *Handlers) Import(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := stringArg(req, "path")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	name, res, err := h.svc.Import(path, boolArg(req, "overwrite", false))
	if err != nil {
		if res != nil && !res.Valid {
			return errorResult(formatErrors(res)), nil
		}
		return errorResult(err.Error()), nil
	}
	return textResult(fmt.Sprintf("✓ imported policy %s", name)), nil
}

// Export implements memex/policy_export.
func (h *Handlers) Export(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, path := stringArg(req, "name"), stringArg(req, "path")
	if name == "" || path == "" {
		return errorResult("name and path arguments are required"), nil
	}
	if err := h.svc.Export(name, path); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(fmt.Sprintf("✓ exported policy %s to %s", name, path)), nil
}

// Diff implements memex/policy_diff.
func (h *Handlers) Diff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, doc := stringArg(req, "name"), stringArg(req, "document")
	if name == "" || doc == "" {
		return errorResult("name and document arguments are required"), nil
	}
	d, err := h.svc.Diff(name, []byte(doc))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(d, false), nil
}

// Schema implements memex/policy_schema.
func (h *Handlers) Schema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := h.svc.Schema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func stringArg(req mcp.CallToolRequest, key string) string {
	s, _ := req.GetArguments()[key].(string)
	return s
}

func boolArg(req mcp.CallToolRequest, key string, def bool) bool {
	switch v := req.GetArguments()[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return def
}

func mapArg(req mcp.CallToolRequest, key string) map[string]any {
	m, _ := req.GetArguments()[key].(map[string]any)
	return m
}

func formatErrors(res *validate.Result) string {
	var msgs []string
	for _, e := range res.Errors {
		msgs = append(msgs, fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message))
	}
	return strings.Join(msgs, "; ")
}

func jsonResult(v any, isErr bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
