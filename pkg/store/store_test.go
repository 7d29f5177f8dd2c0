package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/memex/pkg/policy"
)

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
`

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), DefaultDir))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestWriteRawAndLoad(t *testing.T) {
	s := newStore(t)
	res, err := s.WriteRaw("daily", []byte(daily), false)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	def, _, err := s.Load("daily")
	require.NoError(t, err)
	assert.Equal(t, "daily", def.Name)
	assert.Len(t, def.Steps, 1)
	assert.FileExists(t, filepath.Join(s.Dir(), "daily"+Ext))

	raw, err := s.ReadRaw("daily")
	require.NoError(t, err)
	assert.Equal(t, daily, string(raw))
}

func TestWriteRaw_RejectsInvalid(t *testing.T) {
	s := newStore(t)
	bad := strings.Replace(daily, "vault_add_to_section", "vault_explode", 1)
	res, err := s.WriteRaw("daily", []byte(bad), false)
	require.Error(t, err)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.False(t, res.Valid)
	assert.NoFileExists(t, filepath.Join(s.Dir(), "daily"+Ext))
}

func TestWriteRaw_NameMismatch(t *testing.T) {
	s := newStore(t)
	_, err := s.WriteRaw("weekly", []byte(daily), false)
	assert.ErrorContains(t, err, "does not match")
}

func TestWriteRaw_Exists(t *testing.T) {
	s := newStore(t)
	_, err := s.WriteRaw("daily", []byte(daily), false)
	require.NoError(t, err)
	_, err = s.WriteRaw("daily", []byte(daily), false)
	assert.ErrorIs(t, err, ErrExists)
	_, err = s.WriteRaw("daily", []byte(daily), true)
	assert.NoError(t, err)
}

func TestInvalidNames(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"", "../escape", "a/b", ".hidden", "x..y"} {
		_, _, err := s.Load(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestLoad_NotFound(t *testing.T) {
	s := newStore(t)
	_, _, err := s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("missing"), ErrNotFound)
}

func TestLoad_PicksUpExternalEdits(t *testing.T) {
	s := newStore(t)
	_, err := s.WriteRaw("daily", []byte(daily), false)
	require.NoError(t, err)
	_, _, err = s.Load("daily")
	require.NoError(t, err)

	p := filepath.Join(s.Dir(), "daily"+Ext)
	edited := strings.Replace(daily, "Append to the daily log", "Append to the daily journal log", 1)
	require.NoError(t, os.WriteFile(p, []byte(edited), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(p, later, later))

	def, _, err := s.Load("daily")
	require.NoError(t, err)
	assert.Equal(t, "Append to the daily journal log", def.Description)
}

func TestLoad_PlainYAMLExtension(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "daily.yaml"), []byte(daily), 0o644))
	def, _, err := s.Load("daily")
	require.NoError(t, err)
	assert.Equal(t, "daily", def.Name)
}

func TestList(t *testing.T) {
	s := newStore(t)
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.WriteRaw("daily", []byte(daily), false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.yaml"), []byte("version: [\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "README.md"), []byte("ignored"), 0o644))

	list, err = s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "broken", list[0].Name)
	assert.NotEmpty(t, list[0].Error)

	md := list[1]
	assert.Equal(t, "daily", md.Name)
	assert.Equal(t, "Append to the daily log", md.Description)
	assert.Equal(t, "1.0", md.Version)
	assert.Equal(t, 1, md.Steps)
	assert.Equal(t, 1, md.Variables)
	assert.Equal(t, 0, md.Conditions)
	assert.Empty(t, md.Error)
	assert.False(t, md.Modified.IsZero())
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	_, err := s.WriteRaw("daily", []byte(daily), false)
	require.NoError(t, err)
	_, _, err = s.Load("daily")
	require.NoError(t, err)

	require.NoError(t, s.Delete("daily"))
	_, _, err = s.Load("daily")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportExport(t *testing.T) {
	s := newStore(t)
	src := filepath.Join(t.TempDir(), "incoming.yaml")
	require.NoError(t, os.WriteFile(src, []byte(daily), 0o644))

	name, res, err := s.Import(src, false)
	require.NoError(t, err)
	assert.Equal(t, "daily", name)
	assert.True(t, res.Valid)

	_, _, err = s.Import(src, false)
	assert.ErrorIs(t, err, ErrExists)

	out := filepath.Join(t.TempDir(), "nested", "daily.yaml")
	require.NoError(t, s.Export("daily", out))
	exported, err := policy.LoadFile(out)
	require.NoError(t, err)
	original, err := policy.Parse([]byte(daily))
	require.NoError(t, err)
	if diff := cmp.Diff(original, exported); diff != "" {
		t.Errorf("exported definition mismatch (-want +got):\n%s", diff)
	}
}

func TestSave(t *testing.T) {
	s := newStore(t)
	def, err := policy.Parse([]byte(daily))
	require.NoError(t, err)
	def.Description = "Saved from a definition"
	_, err = s.Save(def, false)
	require.NoError(t, err)

	got, _, err := s.Load("daily")
	require.NoError(t, err)
	assert.Equal(t, "Saved from a definition", got.Description)
}

func TestCacheDisabled(t *testing.T) {
	s, err := Open(t.TempDir(), WithCacheSize(0))
	require.NoError(t, err)
	_, err = s.WriteRaw("daily", []byte(daily), false)
	require.NoError(t, err)
	_, _, err = s.Load("daily")
	assert.NoError(t, err)
}
