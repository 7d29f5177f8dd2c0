// Package store persists policy documents as YAML files under a directory
// of the vault, one document per file.
//
// A policy named "daily-review" lives at <dir>/daily-review.policy.yaml.
// Plain <name>.yaml and <name>.yml files are also found, so hand-written
// documents dropped into the directory are picked up.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/policy"
	"github.com/ormasoftchile/memex/pkg/validate"
)

var (
	// ErrNotFound is returned when no document exists for a policy name.
	ErrNotFound = errors.New("policy not found")
	// ErrExists is returned when saving over an existing policy without overwrite.
	ErrExists = errors.New("policy already exists")
	// ErrInvalidName is returned for names that cannot be used as file names.
	ErrInvalidName = errors.New("invalid policy name")
)

// DefaultDir is the policy directory relative to the vault root.
const DefaultDir = ".memex/policies"

// Ext is the extension used for documents written by the store.
const Ext = ".policy.yaml"

var lookupExts = []string{Ext, ".yaml", ".yml"}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// InvalidError carries the diagnostics of a document that failed validation.
type InvalidError struct {
	Name   string
	Result *validate.Result
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("policy %q is invalid: %v", e.Name, e.Result.Err())
}

// Metadata is the lightweight listing entry for one stored policy. It is
// read without validating the document.
type Metadata struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Steps       int       `json:"steps"`
	Variables   int       `json:"variables"`
	Conditions  int       `json:"conditions"`
	File        string    `json:"file"`
	Modified    time.Time `json:"modified"`
	Error       string    `json:"error,omitempty"`
}

// Store reads and writes policy documents.
type Store struct {
	dir    string
	logger *zap.Logger
	cache  *ristretto.Cache
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	cacheSize int64
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithCacheSize bounds the number of parsed documents kept in memory.
// Zero disables the cache.
func WithCacheSize(n int64) Option { return func(o *options) { o.cacheSize = n } }

// Open returns a store over dir. The directory is created on first write.
func Open(dir string, opts ...Option) (*Store, error) {
	o := options{cacheSize: 256}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve policy dir: %w", err)
	}
	s := &Store{dir: abs, logger: o.logger}
	if o.cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        o.cacheSize * 10,
			MaxCost:            o.cacheSize,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create policy cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Dir returns the absolute policy directory.
func (s *Store) Dir() string { return s.dir }

// Close releases the cache.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// ValidName reports whether name can be stored.
func ValidName(name string) bool {
	return nameRe.MatchString(name) && !strings.Contains(name, "..")
}

func (s *Store) checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Path returns the file a policy is stored in. For a policy that does not
// exist yet it returns the path Save would write.
func (s *Store) Path(name string) (string, error) {
	if err := s.checkName(name); err != nil {
		return "", err
	}
	if p, ok := s.find(name); ok {
		return p, nil
	}
	return filepath.Join(s.dir, name+Ext), nil
}

func (s *Store) find(name string) (string, bool) {
	for _, ext := range lookupExts {
		p := filepath.Join(s.dir, name+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func nameOf(file string) (string, bool) {
	for _, ext := range lookupExts {
		if strings.HasSuffix(file, ext) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}

// List returns metadata for every stored policy, sorted by name. A document
// that fails to parse is still listed, with Error set.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Metadata{}, nil
		}
		return nil, fmt.Errorf("list policies: %w", err)
	}
	seen := map[string]bool{}
	out := []Metadata{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := nameOf(entry.Name())
		if !ok || !ValidName(name) || seen[name] {
			continue
		}
		seen[name] = true
		p := filepath.Join(s.dir, entry.Name())
		md := Metadata{Name: name, File: p}
		if info, err := entry.Info(); err == nil {
			md.Modified = info.ModTime()
		}
		data, err := os.ReadFile(p)
		if err != nil {
			md.Error = err.Error()
			out = append(out, md)
			continue
		}
		def, err := policy.Parse(data)
		if err != nil {
			md.Error = err.Error()
			out = append(out, md)
			continue
		}
		md.Description = def.Description
		md.Version = def.Version
		md.Steps = len(def.Steps)
		md.Variables = len(def.Variables)
		md.Conditions = len(def.Conditions)
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadRaw returns the stored document bytes.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}
	p, ok := s.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", name, err)
	}
	return data, nil
}

type cached struct {
	modTime time.Time
	size    int64
	def     *policy.Definition
	result  *validate.Result
}

// Load returns the validated definition of a stored policy. A document
// that fails validation yields an *InvalidError. The returned definition is
// shared with the cache and must not be modified.
func (s *Store) Load(name string) (*policy.Definition, *validate.Result, error) {
	if err := s.checkName(name); err != nil {
		return nil, nil, err
	}
	p, ok := s.find(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, nil, fmt.Errorf("stat policy %s: %w", name, err)
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(p); ok {
			c := v.(*cached)
			if c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
				return c.def, c.result, nil
			}
			s.cache.Del(p)
		}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, fmt.Errorf("read policy %s: %w", name, err)
	}
	res := validate.Validate(data)
	if !res.Valid {
		return nil, res, &InvalidError{Name: name, Result: res}
	}
	if s.cache != nil {
		s.cache.Set(p, &cached{modTime: info.ModTime(), size: info.Size(), def: res.Policy, result: res}, 1)
		s.cache.Wait()
	}
	s.logger.Debug("policy loaded", zap.String("name", name), zap.String("file", p))
	return res.Policy, res, nil
}

// WriteRaw validates raw and stores it under name. The document's own name
// must match. Nothing is written unless validation passes.
func (s *Store) WriteRaw(name string, raw []byte, overwrite bool) (*validate.Result, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}
	res := validate.Validate(raw)
	if !res.Valid {
		return res, &InvalidError{Name: name, Result: res}
	}
	if res.Policy.Name != name {
		return res, fmt.Errorf("document name %q does not match policy name %q", res.Policy.Name, name)
	}
	existing, exists := s.find(name)
	if exists && !overwrite {
		return res, fmt.Errorf("%w: %s", ErrExists, name)
	}
	target := filepath.Join(s.dir, name+Ext)
	if exists {
		target = existing
	}
	if err := writeFileAtomic(target, raw); err != nil {
		return res, fmt.Errorf("write policy %s: %w", name, err)
	}
	s.invalidate(target)
	s.logger.Info("policy saved", zap.String("name", name), zap.String("file", target), zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// Save serializes def and stores it under its own name.
func (s *Store) Save(def *policy.Definition, overwrite bool) (*validate.Result, error) {
	raw, err := policy.Marshal(def)
	if err != nil {
		return nil, err
	}
	return s.WriteRaw(def.Name, raw, overwrite)
}

// Delete removes a stored policy.
func (s *Store) Delete(name string) error {
	if err := s.checkName(name); err != nil {
		return err
	}
	p, ok := s.find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete policy %s: %w", name, err)
	}
	s.invalidate(p)
	s.logger.Info("policy deleted", zap.String("name", name), zap.String("file", p))
	return nil
}

// Import validates the document at file and stores it under its declared
// name.
func (s *Store) Import(file string, overwrite bool) (string, *validate.Result, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", file, err)
	}
	res := validate.Validate(raw)
	if !res.Valid {
		return "", res, &InvalidError{Name: filepath.Base(file), Result: res}
	}
	name := res.Policy.Name
	if _, err := s.WriteRaw(name, raw, overwrite); err != nil {
		return name, res, err
	}
	return name, res, nil
}

// Export writes a stored policy to file in canonical serialized form.
func (s *Store) Export(name, file string) error {
	def, _, err := s.Load(name)
	if err != nil {
		return err
	}
	raw, err := policy.Marshal(def)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(file, raw); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	return nil
}

func (s *Store) invalidate(p string) {
	if s.cache != nil {
		s.cache.Del(p)
	}
}

func writeFileAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".policy-*")
	if err != nil {
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
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}
