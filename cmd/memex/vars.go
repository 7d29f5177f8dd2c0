package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/memex/pkg/policy"
)

// parseVars turns repeated key=value flags into a variable bag. Values stay
// strings; the engine coerces them to the declared type.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", kv)
		}
		vars[k] = v
	}
	return vars, nil
}

func sortedVariableNames(def *policy.Definition) []string {
	names := make([]string, 0, len(def.Variables))
	for name := range def.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// missingRequired lists required variables that have no default and were
// not supplied.
func missingRequired(def *policy.Definition, vars map[string]any) []string {
	var out []string
	for _, name := range sortedVariableNames(def) {
		spec := def.Variables[name]
		if _, ok := vars[name]; ok || !spec.Required || spec.Default != nil {
			continue
		}
		out = append(out, name)
	}
	return out
}

// promptMissing asks for every missing required variable on the terminal.
// Enum variables complete to their allowed values.
func promptMissing(def *policy.Definition, vars map[string]any, stdin io.ReadCloser, stdout io.Writer) error {
	missing := missingRequired(def, vars)
	if len(missing) == 0 {
		return nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		Stdin:           stdin,
		Stdout:          stdout,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for _, name := range missing {
		spec := def.Variables[name]
		label := name
		if spec.Description != "" {
			label += " (" + spec.Description + ")"
		}
		if spec.Type == policy.TypeEnum {
			completer := readline.NewPrefixCompleter()
			for _, v := range spec.Enum {
				completer.Children = append(completer.Children, readline.PcItem(v))
			}
			rl.Config.AutoComplete = completer
			label += " [" + strings.Join(spec.Enum, "|") + "]"
		} else {
			rl.Config.AutoComplete = nil
		}
		rl.SetPrompt(label + ": ")
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return fmt.Errorf("cancelled while reading %s", name)
			}
			return err
		}
		vars[name] = strings.TrimSpace(line)
	}
	return nil
}
