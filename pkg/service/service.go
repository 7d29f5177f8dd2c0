// Package service is the entry-point surface shared by the CLI and the MCP
// server: policies are addressed by name and every call validates before it
// previews or executes.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/config"
	"github.com/ormasoftchile/memex/pkg/engine"
	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/store"
	"github.com/ormasoftchile/memex/pkg/validate"
	"github.com/ormasoftchile/memex/pkg/vault"
	"github.com/ormasoftchile/memex/pkg/vcs"
)

// Service wires a vault, its policy store and an engine.
type Service struct {
	vault  *vault.Vault
	store  *store.Store
	engine *engine.Engine
	logger *zap.Logger
}

// New assembles a service from already-built parts.
func New(v *vault.Vault, st *store.Store, eng *engine.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{vault: v, store: st, engine: eng, logger: logger}
}

// Open builds a service from configuration: the vault at cfg.Vault, the
// store at cfg.PoliciesPath() and a git-backed engine.
func Open(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := vault.Open(cfg.Vault)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.PoliciesPath(), store.WithLogger(logger), store.WithCacheSize(cfg.Cache.MaxPolicies))
	if err != nil {
		return nil, err
	}

	git := vcs.NewGit(v.Root(), logger)
	git.Binary = cfg.Git.Binary
	git.StaleAfter = cfg.Lock.StaleAfter

	opts := []engine.Option{
		engine.WithVCS(git),
		engine.WithLogger(logger),
		engine.WithLockPolicy(engine.LockPolicy{RetryStale: cfg.Lock.RetryStale, RetryHeld: cfg.Lock.RetryHeld}),
	}
	if cfg.Trace.Enabled {
		opts = append(opts, engine.WithTraceDir(cfg.TracePath()))
	}
	logger.Debug("service opened",
		zap.String("vault", v.Root()),
		zap.String("policies", st.Dir()),
		zap.Bool("trace", cfg.Trace.Enabled))
	return New(v, st, engine.New(v, opts...), logger), nil
}

// Close releases store resources.
func (s *Service) Close() { s.store.Close() }

// Vault returns the vault the service operates on.
func (s *Service) Vault() *vault.Vault { return s.vault }

// Store returns the policy store.
func (s *Service) Store() *store.Store { return s.store }

// Policy is a stored document with its validation outcome.
type Policy struct {
	Name       string             `json:"name"`
	File       string             `json:"file"`
	Raw        string             `json:"raw"`
	Definition *policy.Definition `json:"definition,omitempty"`
	Validation *validate.Result   `json:"validation"`
}

// Validate checks a raw document without storing it.
func (s *Service) Validate(raw []byte) *validate.Result {
	return validate.Validate(raw)
}

// Schema returns the policy JSON Schema.
func (s *Service) Schema() ([]byte, error) {
	return policy.GenerateJSONSchema()
}

// List returns metadata for every stored policy.
func (s *Service) List() ([]store.Metadata, error) {
	return s.store.List()
}

// Get returns a stored policy. An invalid document is still returned
// together with its diagnostics.
func (s *Service) Get(name string) (*Policy, error) {
	raw, err := s.store.ReadRaw(name)
	if err != nil {
		return nil, err
	}
	file, err := s.store.Path(name)
	if err != nil {
		return nil, err
	}
	res := validate.Validate(raw)
	return &Policy{Name: name, File: file, Raw: string(raw), Definition: res.Policy, Validation: res}, nil
}

// Save validates raw and stores it under name.
func (s *Service) Save(name string, raw []byte, overwrite bool) (*validate.Result, error) {
	return s.store.WriteRaw(name, raw, overwrite)
}

// Delete removes a stored policy.
func (s *Service) Delete(name string) error {
	return s.store.Delete(name)
}

// Import stores the document at file under its declared name.
func (s *Service) Import(file string, overwrite bool) (string, *validate.Result, error) {
	return s.store.Import(file, overwrite)
}

// Export writes a stored policy to file.
func (s *Service) Export(name, file string) error {
	return s.store.Export(name, file)
}

// Diff compares the stored policy with a proposed raw document.
func (s *Service) Diff(name string, raw []byte) (*store.DiffResult, error) {
	current, _, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	proposed, err := policy.Parse(raw)
	if err != nil {
		return nil, err
	}
	return store.Diff(current, proposed), nil
}

// Preview resolves a stored policy without side effects.
func (s *Service) Preview(ctx context.Context, name string, vars map[string]any) (*engine.PreviewResult, error) {
	def, _, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	return s.engine.Preview(ctx, def, vars), nil
}

// Execute runs a stored policy. The error is non-nil only when the policy
// cannot be loaded; run failures are reported in the result.
func (s *Service) Execute(ctx context.Context, name string, vars map[string]any, commit bool) (*engine.ExecutionResult, error) {
	def, _, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	res := s.engine.Execute(ctx, def, vars, commit)
	s.logger.Info("policy executed",
		zap.String("name", name),
		zap.String("run_id", res.RunID),
		zap.Bool("commit", commit),
		zap.Bool("success", res.Success))
	return res, nil
}

// PreviewDocument previews an unstored document.
func (s *Service) PreviewDocument(ctx context.Context, raw []byte, vars map[string]any) (*engine.PreviewResult, error) {
	def, err := s.validDocument(raw)
	if err != nil {
		return nil, err
	}
	return s.engine.Preview(ctx, def, vars), nil
}

// ExecuteDocument runs an unstored document.
func (s *Service) ExecuteDocument(ctx context.Context, raw []byte, vars map[string]any, commit bool) (*engine.ExecutionResult, error) {
	def, err := s.validDocument(raw)
	if err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, def, vars, commit), nil
}

func (s *Service) validDocument(raw []byte) (*policy.Definition, error) {
	res := validate.Validate(raw)
	if !res.Valid {
		name := "document"
		if res.Policy != nil && res.Policy.Name != "" {
			name = res.Policy.Name
		}
		return nil, &store.InvalidError{Name: name, Result: res}
	}
	if res.Policy == nil {
		return nil, fmt.Errorf("document produced no definition")
	}
	return res.Policy, nil
}
