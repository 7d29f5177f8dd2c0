package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/conditions"
	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/template"
	"github.com/ormasoftchile/memex/pkg/trace"
	"github.com/ormasoftchile/memex/pkg/vcs"
)

// Execute runs def with the supplied variables.
//
// Without commit, steps mutate the vault directly: there is no lock check
// and no rollback. With commit, a held repository lock aborts the run
// before any mutation with a retryable result; a failed step or a failed
// commit rolls back every touched document; success records all touched
// documents as one commit.
//
// Workflow failures are reported in the result, never as a Go error.
func (e *Engine) Execute(ctx context.Context, def *policy.Definition, vars map[string]any, commit bool) *ExecutionResult {
	start := e.now()
	runID := e.newRunID()
	res := &ExecutionResult{
		RunID:         runID,
		Policy:        def.Name,
		Steps:         []StepResult{},
		FilesModified: []string{},
	}
	log := e.logger.With(zap.String("run_id", runID), zap.String("policy", def.Name))

	tw, owned := e.openTrace(runID)
	if owned {
		defer tw.Close()
	}
	tw.Emit(trace.EventRunStart, map[string]any{"policy": def.Name, "commit": commit, "steps": len(def.Steps)})
	defer func() { e.finish(res, start, tw, log) }()

	// Validating
	resolved, err := ResolveVariables(def, vars)
	if err != nil {
		res.Message = err.Error()
		log.Warn("variables rejected", zap.Error(err))
		return res
	}
	tw.Emit(trace.EventVariablesResolved, map[string]any{"sources": resolved.Sources})
	tctx := template.NewContext(resolved.Values, e.now())

	// LockCheck
	versioned := commit && e.vcs != nil && e.vcs.IsUnderVersionControl(ctx)
	if versioned {
		status, err := e.vcs.CheckLock(ctx)
		if err != nil {
			log.Warn("lock probe failed", zap.Error(err))
		} else if status.Locked {
			res.Retryable = true
			res.LockContention = true
			res.RetryAfterMs = e.lock.RetryHeld.Milliseconds()
			kind := "held"
			if status.Stale {
				res.RetryAfterMs = e.lock.RetryStale.Milliseconds()
				kind = "stale"
			}
			res.Message = fmt.Sprintf("repository lock is %s (age %s); retry after %dms", kind, status.Age.Round(time.Millisecond), res.RetryAfterMs)
			log.Info("run deferred by repository lock", zap.Bool("stale", status.Stale), zap.Duration("age", status.Age))
			return res
		}
	}

	conditionMap, condResults := e.conditions.EvaluateAll(ctx, def.Conditions, tctx)
	tctx.Conditions = conditionMap
	tw.Emit(trace.EventConditionsEvaluated, map[string]any{"results": conditionResultData(condResults)})

	// Snapshotting
	var led *ledger
	var beforeDispatch func(map[string]any) error
	if commit {
		led = newLedger(e.vault)
		if err := e.snapshotStatic(def, tctx, led); err != nil {
			res.Message = err.Error()
			log.Error("snapshot failed", zap.Error(err))
			return res
		}
		beforeDispatch = func(params map[string]any) error {
			path, ok := stepPath(params)
			if !ok {
				return nil
			}
			clean, err := led.capture(path)
			if err != nil {
				return err
			}
			led.touch(clean)
			return nil
		}
	}

	// Executing
	var failed *StepResult
	for _, step := range def.Steps {
		sr := e.executeStep(ctx, step, tctx, conditionMap, beforeDispatch)
		res.Steps = append(res.Steps, sr)
		tw.EmitStepComplete(sr.ID, string(sr.Action), trace.StepStatus(sr.Status), sr.Message, sr.Duration)
		if sr.Status == StatusFailed {
			failed = &res.Steps[len(res.Steps)-1]
			break
		}
	}

	if failed != nil {
		res.Message = fmt.Sprintf("step %q failed: %s", failed.ID, failed.Message)
		if commit {
			e.rollback(res, led, tw, log)
		}
		return res
	}

	if def.Output != nil && def.Output.Summary != "" {
		res.Output = e.resolver.Interpolate(def.Output.Summary, tctx)
	}

	executed, skipped := countSteps(res.Steps)
	if !commit {
		res.Success = true
		res.Message = fmt.Sprintf("policy %q completed: %d executed, %d skipped", def.Name, executed, skipped)
		return res
	}

	// Committing
	if !versioned {
		res.Success = true
		res.Message = fmt.Sprintf("policy %q completed: %d executed, %d skipped; vault is not under version control, nothing committed", def.Name, executed, skipped)
		return res
	}
	paths := led.Touched()
	cr := e.vcs.CommitAtomic(ctx, paths, "policy: "+def.Name, stepSummaries(res.Steps))
	tw.Emit(trace.EventCommit, map[string]any{"success": cr.Success, "hash": cr.Hash, "files": cr.Files, "error": cr.Error})
	if !cr.Success {
		res.Message = "commit failed: " + cr.Error
		if vcs.IsLockContention(cr.Error) {
			res.Retryable = true
			res.LockContention = true
			res.RetryAfterMs = e.lock.RetryHeld.Milliseconds()
		}
		log.Warn("commit failed", zap.String("error", cr.Error), zap.Bool("lock_contention", res.LockContention))
		e.rollback(res, led, tw, log)
		return res
	}

	res.Success = true
	res.CommitHash = cr.Hash
	res.UndoAvailable = cr.UndoAvailable
	if cr.Files != nil {
		res.FilesModified = cr.Files
	} else {
		res.FilesModified = paths
	}
	res.Message = fmt.Sprintf("policy %q completed: %d executed, %d skipped, %d file(s) committed", def.Name, executed, skipped, len(res.FilesModified))
	return res
}

// snapshotStatic captures every step path that resolves against the
// initial context. Paths depending on step outputs are captured lazily.
func (e *Engine) snapshotStatic(def *policy.Definition, tctx *template.Context, led *ledger) error {
	for _, step := range def.Steps {
		raw, ok := step.Params["path"]
		if !ok {
			continue
		}
		path, ok := stepPath(map[string]any{"path": e.resolver.InterpolateValue(raw, tctx)})
		if !ok {
			continue
		}
		if _, err := led.capture(path); err != nil {
			if _, nerr := e.vault.Normalize(path); nerr != nil {
				continue // the step itself reports the bad path
			}
			return err
		}
	}
	return nil
}

func (e *Engine) rollback(res *ExecutionResult, led *ledger, tw *trace.Writer, log *zap.Logger) {
	if led == nil {
		return
	}
	res.RollbackErrors = led.rollback(log, tw)
	res.RolledBack = true
	res.FilesModified = []string{}
	if len(res.RollbackErrors) > 0 {
		res.Message += fmt.Sprintf("; rollback incomplete (%d error(s))", len(res.RollbackErrors))
	} else {
		res.Message += "; changes rolled back"
	}
}

func (e *Engine) finish(res *ExecutionResult, start time.Time, tw *trace.Writer, log *zap.Logger) {
	res.Duration = e.now().Sub(start)
	sizeResult(res)
	tw.Emit(trace.EventRunComplete, map[string]any{
		"success":     res.Success,
		"message":     res.Message,
		"retryable":   res.Retryable,
		"rolled_back": res.RolledBack,
		"files":       res.FilesModified,
	})
	log.Info("run complete",
		zap.Bool("success", res.Success),
		zap.Int("steps", len(res.Steps)),
		zap.Bool("rolled_back", res.RolledBack),
		zap.Duration("duration", res.Duration))
}

func countSteps(steps []StepResult) (executed, skipped int) {
	for _, s := range steps {
		if s.Skipped {
			skipped++
		} else {
			executed++
		}
	}
	return executed, skipped
}

func stepSummaries(steps []StepResult) []string {
	var out []string
	for _, s := range steps {
		if s.Skipped {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", s.ID, s.Message))
	}
	return out
}

func conditionResultData(results []conditions.Result) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{"id": r.ID, "met": r.Met, "reason": r.Reason})
	}
	return out
}

// sizeResult fills ResponseBytes with the JSON size of the result and
// EstimatedTokens with ceil(bytes/4).
func sizeResult(res *ExecutionResult) {
	res.ResponseBytes, res.EstimatedTokens = 0, 0
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	res.ResponseBytes = len(data)
	res.EstimatedTokens = (len(data) + 3) / 4
}
