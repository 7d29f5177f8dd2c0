// Package conditions evaluates policy condition predicates against the
// current state of vault documents.
//
// Every check is a total function over vault state: a missing document
// counts as absence for every kind, and read failures downgrade to "not
// met" with a logged reason rather than an error.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/template"
	"github.com/ormasoftchile/memex/pkg/vault"
)

// Reader reads vault documents. *vault.Vault satisfies it.
type Reader interface {
	Read(path string) (*vault.Note, error)
}

// Result is the outcome of evaluating one condition.
type Result struct {
	ID     string `json:"id"`
	Met    bool   `json:"met"`
	Reason string `json:"reason"`
}

// Evaluator runs condition checks.
type Evaluator struct {
	reader   Reader
	resolver *template.Resolver
	logger   *zap.Logger
}

// New returns an evaluator over reader. Condition parameters are
// interpolated with resolver; nil resolver and logger get defaults.
func New(reader Reader, resolver *template.Resolver, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = template.NewResolver(logger)
	}
	return &Evaluator{reader: reader, resolver: resolver, logger: logger}
}

// EvaluateAll evaluates every condition once, in declaration order, and
// returns the id → met map alongside the detailed results.
func (e *Evaluator) EvaluateAll(ctx context.Context, conds []policy.Condition, tctx *template.Context) (map[string]bool, []Result) {
	met := make(map[string]bool, len(conds))
	results := make([]Result, 0, len(conds))
	for _, c := range conds {
		r := e.Evaluate(ctx, c, tctx)
		met[c.ID] = r.Met
		results = append(results, r)
	}
	return met, results
}

// Evaluate runs a single condition.
func (e *Evaluator) Evaluate(ctx context.Context, c policy.Condition, tctx *template.Context) Result {
	res := Result{ID: c.ID}
	if err := ctx.Err(); err != nil {
		res.Reason = fmt.Sprintf("not evaluated: %v", err)
		return res
	}

	path := e.resolver.Interpolate(c.Path, tctx)
	note, err := e.reader.Read(path)
	missing := errors.Is(err, vault.ErrNotFound)
	if err != nil && !missing {
		res.Reason = fmt.Sprintf("cannot read %s: %v", path, err)
		e.logger.Warn("condition downgraded to not met",
			zap.String("condition", c.ID),
			zap.String("path", path),
			zap.Error(err))
		return res
	}

	switch c.Check {
	case policy.CheckFileExists:
		res.Met = !missing
		res.Reason = existence(path, !missing)
	case policy.CheckFileNotExists:
		res.Met = missing
		res.Reason = existence(path, !missing)

	case policy.CheckSectionExists, policy.CheckSectionNotExists:
		has := !missing && vault.HasSection(note.Body, c.Section)
		res.Met = has == (c.Check == policy.CheckSectionExists)
		switch {
		case missing:
			res.Reason = fmt.Sprintf("%s does not exist", path)
		case has:
			res.Reason = fmt.Sprintf("section %q found in %s", c.Section, path)
		default:
			res.Reason = fmt.Sprintf("section %q not found in %s", c.Section, path)
		}

	case policy.CheckFrontmatterExists, policy.CheckFrontmatterNotExists:
		has := false
		if !missing {
			_, has = note.Frontmatter[c.Field]
		}
		res.Met = has == (c.Check == policy.CheckFrontmatterExists)
		switch {
		case missing:
			res.Reason = fmt.Sprintf("%s does not exist", path)
		case has:
			res.Reason = fmt.Sprintf("field %q present in %s", c.Field, path)
		default:
			res.Reason = fmt.Sprintf("field %q absent from %s", c.Field, path)
		}

	case policy.CheckFrontmatterEquals:
		if missing {
			res.Reason = fmt.Sprintf("%s does not exist", path)
			break
		}
		actual, ok := note.Frontmatter[c.Field]
		if !ok {
			res.Reason = fmt.Sprintf("field %q absent from %s", c.Field, path)
			break
		}
		want := e.resolver.InterpolateValue(c.Value, tctx)
		res.Met = LooseEqual(actual, want)
		res.Reason = fmt.Sprintf("%s = %s, want %s", c.Field, template.Stringify(actual), template.Stringify(want))

	case policy.CheckFrontmatterMatches:
		if missing {
			res.Reason = fmt.Sprintf("%s does not exist", path)
			break
		}
		src := e.resolver.Interpolate(c.Expr, tctx)
		ok, err := matchExpr(src, path, note.Frontmatter)
		if err != nil {
			res.Reason = err.Error()
			e.logger.Warn("condition expression failed",
				zap.String("condition", c.ID),
				zap.String("expr", src),
				zap.Error(err))
			break
		}
		res.Met = ok
		res.Reason = fmt.Sprintf("%s evaluated to %t", src, ok)

	default:
		res.Reason = fmt.Sprintf("unknown check kind %q", c.Check)
	}
	return res
}

func existence(path string, exists bool) string {
	if exists {
		return fmt.Sprintf("%s exists", path)
	}
	return fmt.Sprintf("%s does not exist", path)
}

// matchExpr evaluates an expr-lang boolean expression over a document's
// frontmatter. Fields are available at top level and under "frontmatter".
func matchExpr(src, path string, fm map[string]any) (bool, error) {
	env := make(map[string]any, len(fm)+2)
	for k, v := range fm {
		env[k] = v
	}
	if fm == nil {
		fm = map[string]any{}
	}
	env["frontmatter"] = fm
	env["path"] = path

	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile expression %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval expression %q: %w", src, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return bool (got %T)", src, out)
	}
	return result, nil
}

// CompileExpr checks the syntax of a frontmatter_matches expression.
func CompileExpr(src string) error {
	_, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
	return err
}

// LooseEqual compares a frontmatter value to an expected literal: exact
// equality, then element-wise for arrays and objects, then stringified.
func LooseEqual(actual, want any) bool {
	if reflect.DeepEqual(actual, want) {
		return true
	}
	if as, ok := toSlice(actual); ok {
		ws, ok := toSlice(want)
		if !ok || len(as) != len(ws) {
			return false
		}
		for i := range as {
			if !LooseEqual(as[i], ws[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := actual.(map[string]any); ok {
		wm, ok := want.(map[string]any)
		if !ok || len(am) != len(wm) {
			return false
		}
		for k, av := range am {
			wv, ok := wm[k]
			if !ok || !LooseEqual(av, wv) {
				return false
			}
		}
		return true
	}
	if _, ok := toSlice(want); ok {
		return false
	}
	if _, ok := want.(map[string]any); ok {
		return false
	}
	return template.Stringify(actual) == template.Stringify(want)
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}
