// Package engine runs policies against a vault: variable resolution,
// condition evaluation, gated step dispatch, rollback and atomic commit.
//
// An Engine holds no per-run state. Each Execute or Preview call builds
// its own context, snapshot set and result.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/conditions"
	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/primitives"
	"github.com/ormasoftchile/memex/pkg/template"
	"github.com/ormasoftchile/memex/pkg/trace"
	"github.com/ormasoftchile/memex/pkg/vault"
	"github.com/ormasoftchile/memex/pkg/vcs"
)

// Dispatcher routes an action to its primitive. *primitives.Registry
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, action policy.Action, params map[string]any) primitives.Result
}

// LockPolicy holds the backoff hints reported for a held repository lock.
type LockPolicy struct {
	RetryStale time.Duration
	RetryHeld  time.Duration
}

// DefaultLockPolicy suggests 1s for a stale lock and 5s otherwise.
var DefaultLockPolicy = LockPolicy{RetryStale: time.Second, RetryHeld: 5 * time.Second}

// Engine executes and previews policies.
type Engine struct {
	vault      *vault.Vault
	dispatcher Dispatcher
	vcs        vcs.VersionControl
	resolver   *template.Resolver
	conditions *conditions.Evaluator
	logger     *zap.Logger
	now        func() time.Time
	lock       LockPolicy
	traceDir   string
	traceSink  io.Writer
	newRunID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithVCS sets the version-control collaborator used for lock checks and
// commits. Without one, commit mode applies changes without committing.
func WithVCS(v vcs.VersionControl) Option { return func(e *Engine) { e.vcs = v } }

// WithDispatcher replaces the primitive registry.
func WithDispatcher(d Dispatcher) Option { return func(e *Engine) { e.dispatcher = d } }

// WithResolver replaces the template resolver, for custom filters.
func WithResolver(r *template.Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock sets the clock used for builtins and durations.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLockPolicy sets the lock backoff hints.
func WithLockPolicy(p LockPolicy) Option { return func(e *Engine) { e.lock = p } }

// WithTraceDir writes one <run-id>.jsonl audit file per run under dir.
func WithTraceDir(dir string) Option { return func(e *Engine) { e.traceDir = dir } }

// WithTraceSink writes every run's audit events to w.
func WithTraceSink(w io.Writer) Option { return func(e *Engine) { e.traceSink = w } }

// WithRunIDs sets the run id generator.
func WithRunIDs(f func() string) Option { return func(e *Engine) { e.newRunID = f } }

// New returns an engine over v.
func New(v *vault.Vault, opts ...Option) *Engine {
	e := &Engine{
		vault:    v,
		now:      time.Now,
		lock:     DefaultLockPolicy,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.resolver == nil {
		e.resolver = template.NewResolver(e.logger)
	}
	if e.dispatcher == nil {
		e.dispatcher = primitives.NewRegistry(v)
	}
	e.conditions = conditions.New(v, e.resolver, e.logger)
	return e
}

// Status is a step outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult is the outcome of dispatching one step.
type StepResult struct {
	ID       string         `json:"id"`
	Action   policy.Action  `json:"action"`
	Status   Status         `json:"status"`
	Success  bool           `json:"success"`
	Skipped  bool           `json:"skipped"`
	Message  string         `json:"message"`
	Path     string         `json:"path,omitempty"`
	Preview  string         `json:"preview,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	RunID         string       `json:"run_id"`
	Policy        string       `json:"policy"`
	Success       bool         `json:"success"`
	Message       string       `json:"message"`
	Steps         []StepResult `json:"steps"`
	FilesModified []string     `json:"files_modified"`
	CommitHash    string       `json:"commit_hash,omitempty"`
	UndoAvailable bool         `json:"undo_available"`
	Output        string       `json:"output,omitempty"`

	Retryable      bool  `json:"retryable"`
	RetryAfterMs   int64 `json:"retry_after_ms,omitempty"`
	LockContention bool  `json:"lock_contention"`

	RolledBack     bool     `json:"rolled_back"`
	RollbackErrors []string `json:"rollback_errors,omitempty"`

	ResponseBytes   int           `json:"response_bytes"`
	EstimatedTokens int           `json:"estimated_tokens"`
	Duration        time.Duration `json:"duration"`
}

// openTrace returns the run's audit writer and whether the caller owns it.
func (e *Engine) openTrace(runID string) (*trace.Writer, bool) {
	switch {
	case e.traceSink != nil:
		return trace.NewWriter(e.traceSink, runID), false
	case e.traceDir != "":
		tw, err := trace.NewFileWriter(trace.RunPath(e.traceDir, runID), runID)
		if err != nil {
			e.logger.Warn("run trace disabled", zap.String("run_id", runID), zap.Error(err))
			return nil, false
		}
		return tw, true
	}
	return nil, false
}
