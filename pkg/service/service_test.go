package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/memex/pkg/config"
	"github.com/ormasoftchile/memex/pkg/engine"
	"github.com/ormasoftchile/memex/pkg/store"
	"github.com/ormasoftchile/memex/pkg/vault"
	"github.com/ormasoftchile/memex/pkg/vcs"
)

const journal = "# Journal\n\n## Log\n- first entry\n"

const daily = `version: "1.0"
name: daily
description: Append to the daily log
variables:
  entry:
    type: string
    required: true
steps:
  - id: log
    action: vault_add_to_section
    params:
      path: journal
      section: Log
      content: "- {{entry}}"
output:
  summary: "logged {{entry}}"
`

func newService(t *testing.T, fake *vcs.Fake) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal.md"), []byte(journal), 0o644))
	v, err := vault.Open(dir)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(dir, store.DefaultDir))
	require.NoError(t, err)
	eng := engine.New(v, engine.WithVCS(fake))
	s := New(v, st, eng, nil)
	t.Cleanup(s.Close)
	return s, dir
}

func TestSaveExecute(t *testing.T) {
	fake := &vcs.Fake{Versioned: true}
	s, dir := newService(t, fake)

	res, err := s.Save("daily", []byte(daily), false)
	require.NoError(t, err)
	require.True(t, res.Valid)

	out, err := s.Execute(context.Background(), "daily", map[string]any{"entry": "walked"}, true)
	require.NoError(t, err)
	require.True(t, out.Success, out.Message)
	assert.Equal(t, "logged walked", out.Output)
	assert.Equal(t, []string{"journal.md"}, out.FilesModified)
	require.Len(t, fake.Commits, 1)

	data, err := os.ReadFile(filepath.Join(dir, "journal.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "- walked")
}

func TestPreview(t *testing.T) {
	s, dir := newService(t, &vcs.Fake{})
	_, err := s.Save("daily", []byte(daily), false)
	require.NoError(t, err)

	pre, err := s.Preview(context.Background(), "daily", map[string]any{"entry": "read"})
	require.NoError(t, err)
	assert.True(t, pre.Success)
	assert.Equal(t, []string{"journal.md"}, pre.FilesAffected)

	data, err := os.ReadFile(filepath.Join(dir, "journal.md"))
	require.NoError(t, err)
	assert.Equal(t, journal, string(data))
}

func TestExecute_UnknownPolicy(t *testing.T) {
	s, _ := newService(t, &vcs.Fake{})
	_, err := s.Execute(context.Background(), "missing", nil, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetListDelete(t *testing.T) {
	s, _ := newService(t, &vcs.Fake{})
	_, err := s.Save("daily", []byte(daily), false)
	require.NoError(t, err)

	p, err := s.Get("daily")
	require.NoError(t, err)
	assert.Equal(t, daily, p.Raw)
	assert.True(t, p.Validation.Valid)
	assert.True(t, strings.HasSuffix(p.File, "daily"+store.Ext))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "daily", list[0].Name)

	require.NoError(t, s.Delete("daily"))
	_, err = s.Get("daily")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDiff(t *testing.T) {
	s, _ := newService(t, &vcs.Fake{})
	_, err := s.Save("daily", []byte(daily), false)
	require.NoError(t, err)

	changed := strings.Replace(daily, "section: Log", "section: Journal", 1)
	d, err := s.Diff("daily", []byte(changed))
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, store.Changed, d.Changes[0].Kind)
	assert.Equal(t, "log", d.Changes[0].ID)
}

func TestExecuteDocument_Invalid(t *testing.T) {
	s, _ := newService(t, &vcs.Fake{})
	_, err := s.ExecuteDocument(context.Background(), []byte("version: \"1.0\"\nname: x\n"), nil, false)
	var invalid *store.InvalidError
	assert.ErrorAs(t, err, &invalid)
}

func TestPreviewDocument(t *testing.T) {
	s, _ := newService(t, &vcs.Fake{})
	pre, err := s.PreviewDocument(context.Background(), []byte(daily), map[string]any{"entry": "x"})
	require.NoError(t, err)
	assert.Equal(t, "- x", pre.Steps[0].Params["content"])
}

func TestSchema(t *testing.T) {
	s, _ := newService(t, &vcs.Fake{})
	data, err := s.Schema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "steps")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(config.Options{SearchPaths: []string{dir}})
	require.NoError(t, err)
	cfg.Vault = dir
	cfg.Trace.Enabled = true

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, filepath.Join(dir, ".memex", "policies"), s.Store().Dir())
	assert.Equal(t, dir, s.Vault().Root())
}
