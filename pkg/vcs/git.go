package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Git drives the git binary against a vault directory.
type Git struct {
	Root       string
	Binary     string
	StaleAfter time.Duration
	Exec       CommandExecutor
	Now        func() time.Time
	Logger     *zap.Logger
}

// NewGit returns a Git for root with default settings.
func NewGit(root string, logger *zap.Logger) *Git {
	return &Git{Root: root, Logger: logger}
}

func (g *Git) binary() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func (g *Git) staleAfter() time.Duration {
	if g.StaleAfter <= 0 {
		return DefaultStaleAfter
	}
	return g.StaleAfter
}

func (g *Git) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *Git) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Git) run(ctx context.Context, args ...string) (*CommandResult, error) {
	exec := g.Exec
	if exec == nil {
		exec = &RealExecutor{}
	}
	full := append([]string{"-C", g.Root}, args...)
	res, err := exec.Execute(ctx, g.binary(), full, nil)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(res.Stdout))
		}
		return res, fmt.Errorf("git %s: exit %d: %s", args[0], res.ExitCode, msg)
	}
	return res, nil
}

// IsUnderVersionControl reports whether Root is inside a git work tree.
func (g *Git) IsUnderVersionControl(ctx context.Context) bool {
	res, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(res.Stdout)) == "true"
}

// CheckLock probes for the index lock file.
func (g *Git) CheckLock(ctx context.Context) (LockStatus, error) {
	res, err := g.run(ctx, "rev-parse", "--git-path", "index.lock")
	if err != nil {
		return LockStatus{}, fmt.Errorf("locate index lock: %w", err)
	}
	lockPath := strings.TrimSpace(string(res.Stdout))
	if !filepath.IsAbs(lockPath) {
		lockPath = filepath.Join(g.Root, lockPath)
	}
	info, err := os.Stat(lockPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LockStatus{}, nil
		}
		return LockStatus{}, fmt.Errorf("stat index lock: %w", err)
	}
	age := g.now().Sub(info.ModTime())
	if age < 0 {
		age = 0
	}
	status := LockStatus{Locked: true, Age: age, Stale: age > g.staleAfter()}
	g.logger().Info("repository lock detected",
		zap.String("lock", lockPath),
		zap.Duration("age", age),
		zap.Bool("stale", status.Stale))
	return status, nil
}

// CommitAtomic stages exactly paths (additions, modifications and
// removals) and records them in one commit. Paths without changes are
// left out; with no changes at all no commit is made.
func (g *Git) CommitAtomic(ctx context.Context, paths []string, label string, summaries []string) CommitResult {
	if len(paths) == 0 {
		return CommitResult{Success: true}
	}
	changed, err := g.changedPaths(ctx, paths)
	if err != nil {
		return g.failed(err)
	}
	if len(changed) == 0 {
		g.logger().Info("nothing to commit", zap.Strings("paths", paths))
		return CommitResult{Success: true}
	}

	add := append([]string{"add", "-A", "--"}, changed...)
	if _, err := g.run(ctx, add...); err != nil {
		return g.failed(err)
	}
	subject, body := CommitMessage(label, summaries)
	commit := []string{"commit", "--no-verify", "-m", subject}
	if body != "" {
		commit = append(commit, "-m", body)
	}
	commit = append(commit, "--")
	commit = append(commit, changed...)
	if _, err := g.run(ctx, commit...); err != nil {
		return g.failed(err)
	}
	res, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return g.failed(err)
	}
	hash := strings.TrimSpace(string(res.Stdout))
	g.logger().Info("committed",
		zap.String("hash", hash),
		zap.String("label", label),
		zap.Int("files", len(changed)))
	return CommitResult{Success: true, Hash: hash, UndoAvailable: true, Files: changed}
}

func (g *Git) failed(err error) CommitResult {
	g.logger().Warn("commit failed", zap.Error(err), zap.Bool("lock_contention", IsLockContention(err.Error())))
	return CommitResult{Success: false, Error: err.Error()}
}

// changedPaths returns the subset of paths git reports as modified,
// added, deleted or untracked, in the order given.
func (g *Git) changedPaths(ctx context.Context, paths []string) ([]string, error) {
	args := append([]string{"status", "--porcelain", "--untracked-files=all", "--"}, paths...)
	res, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	// Porcelain paths are relative to the repository root, which may sit
	// above the vault.
	pre, err := g.run(ctx, "rev-parse", "--show-prefix")
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSpace(string(pre.Stdout))
	dirty := map[string]bool{}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if len(line) < 4 {
			continue
		}
		p := line[3:]
		if i := strings.Index(p, " -> "); i >= 0 {
			p = p[i+4:]
		}
		if unq, err := strconv.Unquote(p); err == nil {
			p = unq
		}
		dirty[strings.TrimPrefix(filepath.ToSlash(p), prefix)] = true
	}
	var out []string
	for _, p := range paths {
		if dirty[filepath.ToSlash(p)] {
			out = append(out, p)
		}
	}
	return out, nil
}
