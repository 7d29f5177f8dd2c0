package engine

import (
	"context"
	"fmt"

	"github.com/ormasoftchile/memex/pkg/conditions"
	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/template"
)

// PreviewStep is the resolved form of one step.
type PreviewStep struct {
	ID          string         `json:"id"`
	Action      policy.Action  `json:"action"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params"`
	WillExecute bool           `json:"will_execute"`
	SkipReason  string         `json:"skip_reason,omitempty"`
}

// PreviewResult mirrors what Execute would do, without doing it.
type PreviewResult struct {
	Policy            string              `json:"policy"`
	Success           bool                `json:"success"`
	Message           string              `json:"message"`
	ResolvedVariables map[string]any      `json:"resolved_variables"`
	VariableSources   map[string]string   `json:"variable_sources,omitempty"`
	ConditionResults  []conditions.Result `json:"condition_results"`
	Steps             []PreviewStep       `json:"steps"`
	FilesAffected     []string            `json:"files_affected"`
	Output            string              `json:"output,omitempty"`
}

// Preview resolves variables, evaluates conditions and resolves every
// step's parameters without dispatching anything. Step outputs are unknown
// at preview time, so steps.* expressions stay verbatim.
func (e *Engine) Preview(ctx context.Context, def *policy.Definition, vars map[string]any) *PreviewResult {
	res := &PreviewResult{
		Policy:            def.Name,
		ResolvedVariables: map[string]any{},
		ConditionResults:  []conditions.Result{},
		Steps:             []PreviewStep{},
		FilesAffected:     []string{},
	}
	resolved, err := ResolveVariables(def, vars)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.ResolvedVariables = resolved.Values
	res.VariableSources = resolved.Sources

	tctx := template.NewContext(resolved.Values, e.now())
	conditionMap, results := e.conditions.EvaluateAll(ctx, def.Conditions, tctx)
	tctx.Conditions = conditionMap
	res.ConditionResults = results

	seen := map[string]bool{}
	willRun := 0
	for _, step := range def.Steps {
		ps := PreviewStep{ID: step.ID, Action: step.Action, Description: step.Description}
		ps.Params = e.resolver.InterpolateMap(step.Params, tctx)
		ps.WillExecute, ps.SkipReason = gate(step, conditionMap)
		if ps.WillExecute {
			willRun++
			if path, ok := stepPath(ps.Params); ok {
				if clean, err := e.vault.Normalize(path); err == nil && !seen[clean] {
					seen[clean] = true
					res.FilesAffected = append(res.FilesAffected, clean)
				}
			}
		}
		res.Steps = append(res.Steps, ps)
	}
	if def.Output != nil && def.Output.Summary != "" {
		res.Output = e.resolver.Interpolate(def.Output.Summary, tctx)
	}
	res.Success = true
	res.Message = fmt.Sprintf("%d of %d step(s) would execute", willRun, len(def.Steps))
	return res
}
