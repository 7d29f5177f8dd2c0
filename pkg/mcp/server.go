// Package mcp exposes the policy service to agents as MCP tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/memex/pkg/service"
)

// NewServer creates an MCP server with the memex policy tools registered.
func NewServer(version string, svc *service.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"memex",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{svc: svc}

	s.AddTool(
		mcp.NewTool("memex/policy_validate",
			mcp.WithDescription("Validate a policy YAML document without storing it"),
			mcp.WithString("document", mcp.Required(), mcp.Description("Policy YAML")),
		),
		h.Validate,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_list",
			mcp.WithDescription("List stored policies with their name, description and step counts"),
		),
		h.List,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_get",
			mcp.WithDescription("Return a stored policy document and its validation result"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Policy name")),
		),
		h.Get,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_save",
			mcp.WithDescription("Validate and store a policy document under its name"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Policy name; must match the document's name")),
			mcp.WithString("document", mcp.Required(), mcp.Description("Policy YAML")),
			mcp.WithBoolean("overwrite", mcp.Description("Replace an existing policy")),
		),
		h.Save,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_delete",
			mcp.WithDescription("Delete a stored policy"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Policy name")),
		),
		h.Delete,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_preview",
			mcp.WithDescription("Resolve variables, conditions and step parameters of a policy without changing the vault"),
			mcp.WithString("name", mcp.Description("Stored policy name")),
			mcp.WithString("document", mcp.Description("Inline policy YAML, used when name is empty")),
			mcp.WithObject("vars", mcp.Description("Variable values")),
		),
		h.Preview,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_execute",
			mcp.WithDescription("Execute a policy. With commit, all changes are recorded as one commit or rolled back together"),
			mcp.WithString("name", mcp.Description("Stored policy name")),
			mcp.WithString("document", mcp.Description("Inline policy YAML, used when name is empty")),
			mcp.WithObject("vars", mcp.Description("Variable values")),
			mcp.WithBoolean("commit", mcp.Description("Commit changes atomically (default true)")),
		),
		h.Execute,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_import",
			mcp.WithDescription("Validate a policy file and add it to the store"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the policy YAML file")),
			mcp.WithBoolean("overwrite", mcp.Description("Replace an existing policy")),
		),
		h.Import,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_export",
			mcp.WithDescription("Write a stored policy to a file"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Policy name")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Destination file")),
		),
		h.Export,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_diff",
			mcp.WithDescription("Compare a stored policy with a proposed document"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Stored policy name")),
			mcp.WithString("document", mcp.Required(), mcp.Description("Proposed policy YAML")),
		),
		h.Diff,
	)

	s.AddTool(
		mcp.NewTool("memex/policy_schema",
			mcp.WithDescription("Export the policy JSON Schema"),
		),
		h.Schema,
	)

	return s
}
