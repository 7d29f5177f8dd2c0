package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(t.TempDir())
	require.NoError(t, err)
	return v
}

func writeRaw(t *testing.T, v *Vault, rel, content string) {
	t.Helper()
	p := filepath.Join(v.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestNormalize(t *testing.T) {
	v := newVault(t)
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "notes/today", want: "notes/today.md"},
		{in: "notes/./a.md", want: "notes/a.md"},
		{in: "a.txt", want: "a.txt"},
		{in: "../escape.md", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := v.Normalize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestReadSplitsFrontmatter(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "project.md", "---\nstatus: active\ntags: [a, b]\n---\n# Project\n\nBody\n")

	n, err := v.Read("project")
	require.NoError(t, err)
	assert.Equal(t, "project.md", n.Path)
	assert.Equal(t, "active", n.Frontmatter["status"])
	assert.Equal(t, []any{"a", "b"}, n.Frontmatter["tags"])
	assert.Equal(t, "# Project\n\nBody\n", n.Body)
	assert.Len(t, n.Hash, 64)
}

func TestReadMissing(t *testing.T) {
	v := newVault(t)
	_, err := v.Read("missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePreservesUntouchedHeader(t *testing.T) {
	v := newVault(t)
	raw := "---\nz: 1\na: 2\n---\nbody\n"
	writeRaw(t, v, "n.md", raw)

	n, err := v.Read("n.md")
	require.NoError(t, err)
	n.Body = "changed\n"
	_, err = v.Update(n)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(v.Root(), "n.md"))
	require.NoError(t, err)
	assert.Equal(t, "---\nz: 1\na: 2\n---\nchanged\n", string(data))
}

func TestFrontmatterKeepsTimestampsAsWritten(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "task.md", "---\ndue: 2024-01-01\nat: 2024-01-01T09:30:00Z\ntitle: Ship\n---\nbody\n")

	n, err := v.Read("task.md")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", n.Frontmatter["due"])
	assert.Equal(t, "2024-01-01T09:30:00Z", n.Frontmatter["at"])

	n.Frontmatter["status"] = "open"
	n.Frontmatter["title"] = "Ship it"
	_, err = v.Update(n)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(v.Root(), "task.md"))
	require.NoError(t, err)
	assert.Equal(t, "---\ndue: 2024-01-01\nat: 2024-01-01T09:30:00Z\ntitle: Ship it\nstatus: open\n---\nbody\n", string(data))
}

func TestFrontmatterRemovedField(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "n.md", "---\nb: 1\na: 2\n---\nbody\n")

	n, err := v.Read("n.md")
	require.NoError(t, err)
	delete(n.Frontmatter, "b")
	_, err = v.Update(n)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(v.Root(), "n.md"))
	require.NoError(t, err)
	assert.Equal(t, "---\na: 2\n---\nbody\n", string(data))
}

func TestUpdateConflict(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "n.md", "one\n")

	n, err := v.Read("n.md")
	require.NoError(t, err)
	writeRaw(t, v, "n.md", "two\n")

	n.Body = "three\n"
	_, err = v.Update(n)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateExisting(t *testing.T) {
	v := newVault(t)
	_, err := v.Create("daily/2026-01-01", "# hi\n", map[string]any{"kind": "daily"}, false)
	require.NoError(t, err)

	_, err = v.Create("daily/2026-01-01.md", "again\n", nil, false)
	assert.ErrorIs(t, err, ErrExists)

	n, err := v.Read("daily/2026-01-01.md")
	require.NoError(t, err)
	assert.Equal(t, "daily", n.Frontmatter["kind"])
	assert.Equal(t, "# hi\n", n.Body)
}

func TestSnapshotRestore(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "a.md", "original\n")

	data, existed, err := v.Snapshot("a.md")
	require.NoError(t, err)
	require.True(t, existed)

	_, missing, err := v.Snapshot("b.md")
	require.NoError(t, err)
	require.False(t, missing)

	writeRaw(t, v, "a.md", "mutated\n")
	writeRaw(t, v, "b.md", "created\n")

	require.NoError(t, v.Restore("a.md", data, true))
	require.NoError(t, v.Restore("b.md", nil, false))

	got, err := os.ReadFile(filepath.Join(v.Root(), "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(got))

	_, err = os.Stat(filepath.Join(v.Root(), "b.md"))
	assert.True(t, os.IsNotExist(err), "created document should be deleted")
}

func TestRestore_PrunesCreatedDirs(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "inbox/old.md", "kept\n")

	dirs, err := v.MissingDirs("inbox/new/deep/item")
	require.NoError(t, err)
	assert.Equal(t, []string{"inbox/new/deep", "inbox/new"}, dirs)

	writeRaw(t, v, "inbox/new/deep/item.md", "created\n")
	require.NoError(t, v.Restore("inbox/new/deep/item.md", nil, false))
	require.NoError(t, v.PruneDirs(dirs))

	_, err = os.Stat(filepath.Join(v.Root(), "inbox", "new"))
	assert.True(t, os.IsNotExist(err), "created directories should be gone")
	_, err = os.Stat(filepath.Join(v.Root(), "inbox", "old.md"))
	assert.NoError(t, err)
}

func TestPruneDirs_KeepsNonEmpty(t *testing.T) {
	v := newVault(t)
	writeRaw(t, v, "a/b/other.md", "x\n")

	require.NoError(t, v.PruneDirs([]string{"a/b", "a"}))
	_, err := os.Stat(filepath.Join(v.Root(), "a", "b", "other.md"))
	assert.NoError(t, err)

	assert.ErrorIs(t, v.PruneDirs([]string{"../outside"}), ErrOutsideVault)
}

func TestFindSection(t *testing.T) {
	lines := Lines("# Title\n\n## Log\n- one\n### Detail\nx\n## Next\n- two\n```\n## Not a heading\n```\n")

	s, ok := FindSection(lines, "log")
	require.True(t, ok)
	assert.Equal(t, 2, s.Line)
	assert.Equal(t, 6, s.End, "section should include its subsections")

	s, ok = FindSection(lines, "## Next")
	require.True(t, ok)
	assert.Equal(t, len(lines), s.End)

	_, ok = FindSection(lines, "Not a heading")
	assert.False(t, ok, "headings inside code fences are ignored")
}

func TestParseTask(t *testing.T) {
	task, ok := ParseTask("  - [x] ship it", 3)
	require.True(t, ok)
	assert.True(t, task.Checked)
	assert.Equal(t, "ship it", task.Text)

	task.Checked = false
	assert.Equal(t, "  - [ ] ship it", task.Render())

	_, ok = ParseTask("- plain bullet", 0)
	assert.False(t, ok)
	assert.Equal(t, "- [ ] new", NewTask("new", false))
}
