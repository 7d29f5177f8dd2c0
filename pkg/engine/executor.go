package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/primitives"
	"github.com/ormasoftchile/memex/pkg/template"
	"github.com/ormasoftchile/memex/pkg/validate"
)

// ExecuteStep runs one step against the current context. A step whose when
// clause names a false or unknown condition is skipped. Outputs of a
// successful step are merged into tctx under steps.<id>.
func (e *Engine) ExecuteStep(ctx context.Context, step policy.Step, tctx *template.Context, conditionMap map[string]bool) StepResult {
	return e.executeStep(ctx, step, tctx, conditionMap, nil)
}

// gate decides whether a step runs.
func gate(step policy.Step, conditionMap map[string]bool) (bool, string) {
	if step.When == "" {
		return true, ""
	}
	id, ok := validate.WhenCondition(step.When)
	if !ok {
		return false, fmt.Sprintf("unsupported when expression %q", step.When)
	}
	met, declared := conditionMap[id]
	if !declared {
		return false, fmt.Sprintf("unknown condition %q", id)
	}
	if !met {
		return false, fmt.Sprintf("condition %q is false", id)
	}
	return true, ""
}

// executeStep is ExecuteStep with a hook that runs on the resolved
// parameters just before dispatch; a hook error fails the step.
func (e *Engine) executeStep(ctx context.Context, step policy.Step, tctx *template.Context, conditionMap map[string]bool, beforeDispatch func(params map[string]any) error) (sr StepResult) {
	start := e.now()
	sr = StepResult{ID: step.ID, Action: step.Action}
	defer func() {
		if rec := recover(); rec != nil {
			sr.Status, sr.Success, sr.Skipped = StatusFailed, false, false
			sr.Message = fmt.Sprintf("step panicked: %v", rec)
			e.logger.Error("step panicked", zap.String("step", step.ID), zap.Any("panic", rec))
		}
		sr.Duration = e.now().Sub(start)
	}()

	if run, reason := gate(step, conditionMap); !run {
		sr.Status = StatusSkipped
		sr.Skipped = true
		sr.Message = reason
		e.logger.Info("step skipped", zap.String("step", step.ID), zap.String("reason", reason))
		return sr
	}

	params := e.resolver.InterpolateMap(step.Params, tctx)
	if beforeDispatch != nil {
		if err := beforeDispatch(params); err != nil {
			sr.Status = StatusFailed
			sr.Message = err.Error()
			e.logger.Warn("step failed", zap.String("step", step.ID), zap.Error(err))
			return sr
		}
	}

	res := e.dispatcher.Dispatch(ctx, step.Action, params)
	sr = normalize(sr, res)
	if !sr.Success {
		e.logger.Warn("step failed",
			zap.String("step", step.ID),
			zap.String("action", string(step.Action)),
			zap.String("message", sr.Message))
		return sr
	}
	tctx.SetStepOutputs(step.ID, sr.Outputs)
	return sr
}

func normalize(sr StepResult, res primitives.Result) StepResult {
	sr.Success = res.Success
	sr.Status = StatusFailed
	if res.Success {
		sr.Status = StatusSuccess
	}
	sr.Message = res.Message
	if sr.Message == "" {
		sr.Message = string(sr.Status)
	}
	sr.Path = res.Path
	sr.Preview = res.Preview
	sr.Outputs = res.Outputs
	if sr.Outputs == nil {
		sr.Outputs = map[string]any{}
	}
	if sr.Path != "" {
		if _, ok := sr.Outputs["path"]; !ok {
			sr.Outputs["path"] = sr.Path
		}
	}
	return sr
}

// stepPath returns the resolved path parameter of a step, if any. It reads
// the value the way primitives do, so a typed path such as a number
// variable names the same file the primitive writes.
func stepPath(params map[string]any) (string, bool) {
	p := primitives.Params(params).String("path")
	if p == "" || template.HasPlaceholder(p) {
		return "", false
	}
	return p, true
}
