// Package vault reads and writes the markdown documents of a memory vault.
//
// Documents are addressed by vault-relative paths. Writes use optimistic
// concurrency: an update carries the content hash observed at read time and
// fails with ErrConflict if the file changed underneath the caller.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned when creating a document that already exists.
	ErrExists = errors.New("document already exists")
	// ErrConflict is returned when a document changed since it was read.
	ErrConflict = errors.New("document changed since it was read")
	// ErrOutsideVault is returned for paths that escape the vault root.
	ErrOutsideVault = errors.New("path escapes the vault")
)

// DefaultExt is appended to document paths that carry no extension.
const DefaultExt = ".md"

// Vault is a directory tree of markdown documents.
type Vault struct {
	root string
}

// Note is one document as read from disk.
type Note struct {
	Path        string         `json:"path"`
	Body        string         `json:"body"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Hash        string         `json:"hash"`

	rawHeader string
	parsed    map[string]any
	node      *yaml.Node
}

// Open returns a vault rooted at dir. The directory must exist.
func Open(dir string) (*Vault, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open vault: %s is not a directory", abs)
	}
	return &Vault{root: abs}, nil
}

// Root returns the absolute vault root.
func (v *Vault) Root() string { return v.root }

// Normalize cleans a vault-relative path, appending DefaultExt when the path
// has no extension. Absolute paths and paths leaving the root are rejected.
func (v *Vault) Normalize(rel string) (string, error) {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	if rel == "" {
		return "", fmt.Errorf("empty document path")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, rel)
	}
	clean := filepath.ToSlash(filepath.Clean(rel))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, rel)
	}
	if filepath.Ext(clean) == "" {
		clean += DefaultExt
	}
	return clean, nil
}

func (v *Vault) abs(rel string) (string, string, error) {
	clean, err := v.Normalize(rel)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(v.root, filepath.FromSlash(clean)), nil
}

// Read loads a document, splitting its frontmatter from its body.
func (v *Vault) Read(rel string) (*Note, error) {
	clean, p, err := v.abs(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	header, fm, node, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", clean, err)
	}
	return &Note{
		Path:        clean,
		Body:        body,
		Frontmatter: fm,
		Hash:        Fingerprint(data),
		rawHeader:   header,
		parsed:      cloneMap(fm),
		node:        node,
	}, nil
}

// Create writes a new document. Without overwrite an existing document is
// reported as ErrExists.
func (v *Vault) Create(rel, body string, frontmatter map[string]any, overwrite bool) (*Note, error) {
	clean, p, err := v.abs(rel)
	if err != nil {
		return nil, err
	}
	if !overwrite {
		if _, err := os.Stat(p); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrExists, clean)
		}
	}
	n := &Note{Path: clean, Body: body, Frontmatter: frontmatter}
	if err := v.write(p, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Update writes n back to disk. It fails with ErrConflict when the file's
// current hash differs from n.Hash.
func (v *Vault) Update(n *Note) (*Note, error) {
	clean, p, err := v.abs(n.Path)
	if err != nil {
		return nil, err
	}
	current, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, clean)
		}
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	if Fingerprint(current) != n.Hash {
		return nil, fmt.Errorf("%w: %s", ErrConflict, clean)
	}
	out := *n
	out.Path = clean
	if err := v.write(p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a document.
func (v *Vault) Delete(rel string) error {
	clean, p, err := v.abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	return nil
}

// Snapshot returns the raw bytes of a document; existed is false when the
// document is absent.
func (v *Vault) Snapshot(rel string) (data []byte, existed bool, err error) {
	clean, p, err := v.abs(rel)
	if err != nil {
		return nil, false, err
	}
	data, err = os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshot %s: %w", clean, err)
	}
	return data, true, nil
}

// Restore puts a document back to a snapshot: an absent snapshot deletes
// the document if it now exists.
func (v *Vault) Restore(rel string, data []byte, existed bool) error {
	clean, p, err := v.abs(rel)
	if err != nil {
		return err
	}
	if !existed {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("restore %s: %w", clean, err)
		}
		return nil
	}
	if err := writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("restore %s: %w", clean, err)
	}
	return nil
}

// MissingDirs returns the parent directories of rel that do not exist yet,
// deepest first. A later PruneDirs removes what a write created.
func (v *Vault) MissingDirs(rel string) ([]string, error) {
	clean, err := v.Normalize(rel)
	if err != nil {
		return nil, err
	}
	var missing []string
	for dir := path.Dir(clean); dir != "." && dir != "/"; dir = path.Dir(dir) {
		_, err := os.Stat(filepath.Join(v.root, filepath.FromSlash(dir)))
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", dir, err)
		}
		missing = append(missing, dir)
	}
	return missing, nil
}

// PruneDirs removes the given vault-relative directories in order while
// they are empty. It stops at the first one still holding entries.
func (v *Vault) PruneDirs(dirs []string) error {
	for _, dir := range dirs {
		clean := path.Clean(filepath.ToSlash(dir))
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
			return fmt.Errorf("%w: %s", ErrOutsideVault, dir)
		}
		p := filepath.Join(v.root, filepath.FromSlash(clean))
		entries, err := os.ReadDir(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("prune %s: %w", clean, err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("prune %s: %w", clean, err)
		}
	}
	return nil
}

func (v *Vault) write(p string, n *Note) error {
	header, node := n.rawHeader, n.node
	if header == "" || !reflect.DeepEqual(n.Frontmatter, n.parsed) {
		h, nd, err := renderFrontmatter(n.Frontmatter, n.parsed, n.node)
		if err != nil {
			return fmt.Errorf("render frontmatter for %s: %w", n.Path, err)
		}
		header, node = h, nd
	}
	data := []byte(header + n.Body)
	if err := writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("write %s: %w", n.Path, err)
	}
	n.Hash = Fingerprint(data)
	n.rawHeader = header
	n.parsed = cloneMap(n.Frontmatter)
	n.node = node
	return nil
}

// Fingerprint returns the content hash used for optimistic concurrency.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".memex-*")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(val any) any {
	switch t := val.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}
