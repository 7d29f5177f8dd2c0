package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/memex/pkg/engine"
	"github.com/ormasoftchile/memex/pkg/store"
	"github.com/ormasoftchile/memex/pkg/validate"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage and run vault policies",
}

var (
	policyJSON        bool
	policyVars        []string
	policyCommit      bool
	policyInteractive bool
	policyOverwrite   bool
	policyRender      bool
	policyFile        string
	schemaOut         string
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readDocument reads a file argument; "-" is stdin.
func readDocument(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// --- list ---

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := app.svc.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if policyJSON {
			return writeJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintf(out, "No policies in %s\n", app.svc.Store().Dir())
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, md := range list {
			desc := md.Description
			if md.Error != "" {
				desc = failStyle.Render(glyphFailed + " " + md.Error)
			}
			rows = append(rows, []string{
				md.Name,
				strconv.Itoa(md.Steps),
				strconv.Itoa(md.Variables),
				strconv.Itoa(md.Conditions),
				desc,
			})
		}
		table(out, []string{"NAME", "STEPS", "VARS", "CONDS", "DESCRIPTION"}, rows)
		return nil
	},
}

// --- show ---

var policyShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a stored policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := app.svc.Get(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case policyJSON:
			return writeJSON(out, p)
		case policyRender && p.Definition != nil:
			fmt.Fprintln(out, renderMarkdown(policyMarkdown(p.Definition), 100))
		default:
			fmt.Fprint(out, p.Raw)
		}
		if !p.Validation.Valid {
			printDiagnostics(cmd.ErrOrStderr(), p.Validation)
		}
		return nil
	},
}

// --- validate ---

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file|name>",
	Short: "Validate a policy file, or a stored policy by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if _, statErr := os.Stat(args[0]); statErr == nil || args[0] == "-" {
			raw, err = readDocument(cmd, args[0])
		} else {
			raw, err = app.svc.Store().ReadRaw(args[0])
		}
		if err != nil {
			return err
		}
		res := app.svc.Validate(raw)
		if policyJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printDiagnostics(cmd.ErrOrStderr(), res)
		}
		if !res.Valid {
			return fmt.Errorf("validation failed with %d error(s)", len(res.Errors))
		}
		if !policyJSON {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid (%d steps)\n", okStyle.Render(glyphPassed), res.Policy.Name, len(res.Policy.Steps))
		}
		return nil
	},
}

// --- preview / exec ---

// variables collects --var flags and, with --interactive, prompts for the
// required ones still missing.
func variables(cmd *cobra.Command, name string, raw []byte) (map[string]any, error) {
	vars, err := parseVars(policyVars)
	if err != nil {
		return nil, err
	}
	if !policyInteractive {
		return vars, nil
	}
	var res *validate.Result
	if raw != nil {
		res = app.svc.Validate(raw)
	} else {
		p, err := app.svc.Get(name)
		if err != nil {
			return nil, err
		}
		res = p.Validation
	}
	if res.Policy == nil {
		return vars, nil
	}
	if err := promptMissing(res.Policy, vars, os.Stdin, cmd.OutOrStdout()); err != nil {
		return nil, err
	}
	return vars, nil
}

var policyPreviewCmd = &cobra.Command{
	Use:   "preview <name>",
	Short: "Show what a policy would do, without changing the vault",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, raw, err := target(cmd, args)
		if err != nil {
			return err
		}
		vars, err := variables(cmd, name, raw)
		if err != nil {
			return err
		}
		res, err := previewTarget(cmd, name, raw, vars)
		if err != nil {
			return err
		}
		if policyJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printPreview(cmd.OutOrStdout(), res)
		}
		if !res.Success {
			return fmt.Errorf("preview failed: %s", res.Message)
		}
		return nil
	},
}

var policyExecCmd = &cobra.Command{
	Use:   "exec <name>",
	Short: "Execute a policy",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, raw, err := target(cmd, args)
		if err != nil {
			return err
		}
		vars, err := variables(cmd, name, raw)
		if err != nil {
			return err
		}
		res, err := executeTarget(cmd, name, raw, vars)
		if err != nil {
			return err
		}
		if policyJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printExecution(cmd.OutOrStdout(), res)
		}
		if !res.Success {
			return fmt.Errorf("policy %s did not complete", res.Policy)
		}
		return nil
	},
}

// target resolves the policy a preview or exec runs: a stored name, or an
// unstored document given with --file.
func target(cmd *cobra.Command, args []string) (string, []byte, error) {
	switch {
	case policyFile != "" && len(args) == 0:
		raw, err := readDocument(cmd, policyFile)
		return "", raw, err
	case policyFile == "" && len(args) == 1:
		return args[0], nil, nil
	}
	return "", nil, fmt.Errorf("give a policy name or --file, not both")
}

func previewTarget(cmd *cobra.Command, name string, raw []byte, vars map[string]any) (*engine.PreviewResult, error) {
	if raw != nil {
		return app.svc.PreviewDocument(cmd.Context(), raw, vars)
	}
	return app.svc.Preview(cmd.Context(), name, vars)
}

func executeTarget(cmd *cobra.Command, name string, raw []byte, vars map[string]any) (*engine.ExecutionResult, error) {
	if raw != nil {
		return app.svc.ExecuteDocument(cmd.Context(), raw, vars, policyCommit)
	}
	return app.svc.Execute(cmd.Context(), name, vars, policyCommit)
}

// --- save / delete / import / export ---

var policySaveCmd = &cobra.Command{
	Use:   "save <name> <file|->",
	Short: "Validate a document and store it under name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readDocument(cmd, args[1])
		if err != nil {
			return err
		}
		res, err := app.svc.Save(args[0], raw, policyOverwrite)
		if res != nil {
			printDiagnostics(cmd.ErrOrStderr(), res)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s saved %s\n", okStyle.Render(glyphPassed), args[0])
		return nil
	},
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.svc.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", okStyle.Render(glyphPassed), args[0])
		return nil
	},
}

var policyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Add a policy file to the store under its declared name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, res, err := app.svc.Import(args[0], policyOverwrite)
		if res != nil {
			printDiagnostics(cmd.ErrOrStderr(), res)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s imported %s\n", okStyle.Render(glyphPassed), name)
		return nil
	},
}

var policyExportCmd = &cobra.Command{
	Use:   "export <name> <file>",
	Short: "Write a stored policy to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.svc.Export(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s exported %s to %s\n", okStyle.Render(glyphPassed), args[0], args[1])
		return nil
	},
}

// --- diff ---

var policyDiffCmd = &cobra.Command{
	Use:   "diff <name> <file|->",
	Short: "Compare a stored policy with a proposed document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readDocument(cmd, args[1])
		if err != nil {
			return err
		}
		d, err := app.svc.Diff(args[0], raw)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if policyJSON {
			return writeJSON(out, d)
		}
		printDiff(out, d)
		return nil
	},
}

func printDiff(w io.Writer, d *store.DiffResult) {
	if d.Identical {
		fmt.Fprintln(w, "  = identical")
		return
	}
	for _, c := range d.Changes {
		var mark string
		switch c.Kind {
		case store.Added:
			mark = okStyle.Render("+")
		case store.Removed:
			mark = failStyle.Render("-")
		default:
			mark = warnStyle.Render("~")
		}
		fmt.Fprintf(w, "  %s %s %s\n", mark, dimStyle.Render(c.Section), c.ID)
	}
	if d.StepOrderChanged {
		fmt.Fprintf(w, "  %s step order %v → %v\n", warnStyle.Render("~"), d.StepOrderBefore, d.StepOrderAfter)
	}
	fmt.Fprintf(w, "\n  %d change(s)\n", len(d.Changes))
}

// --- schema ---

var policySchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the policy JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := app.svc.Schema()
		if err != nil {
			return err
		}
		if schemaOut != "" {
			if err := os.WriteFile(schemaOut, data, 0o644); err != nil {
				return fmt.Errorf("write schema: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", okStyle.Render(glyphPassed), schemaOut)
			return nil
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{policyListCmd, policyShowCmd, policyValidateCmd, policyPreviewCmd, policyExecCmd, policyDiffCmd} {
		c.Flags().BoolVar(&policyJSON, "json", false, "Output as JSON")
	}
	for _, c := range []*cobra.Command{policyPreviewCmd, policyExecCmd} {
		c.Flags().StringArrayVar(&policyVars, "var", nil, "Set a variable (key=value), repeatable")
		c.Flags().BoolVar(&policyInteractive, "interactive", false, "Prompt for missing required variables")
		c.Flags().StringVar(&policyFile, "file", "", "Run an unstored policy document ('-' for stdin)")
	}
	policyExecCmd.Flags().BoolVar(&policyCommit, "commit", false, "Commit all changes atomically, rolling back on failure")
	policyShowCmd.Flags().BoolVar(&policyRender, "render", false, "Render the policy as formatted markdown")
	for _, c := range []*cobra.Command{policySaveCmd, policyImportCmd} {
		c.Flags().BoolVar(&policyOverwrite, "overwrite", false, "Replace an existing policy")
	}
	policySchemaCmd.Flags().StringVar(&schemaOut, "out", "", "Write the schema to a file")

	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyPreviewCmd)
	policyCmd.AddCommand(policyExecCmd)
	policyCmd.AddCommand(policySaveCmd)
	policyCmd.AddCommand(policyDeleteCmd)
	policyCmd.AddCommand(policyImportCmd)
	policyCmd.AddCommand(policyExportCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyCmd.AddCommand(policySchemaCmd)
}
