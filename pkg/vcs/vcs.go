// Package vcs is the version-control collaborator of the policy engine:
// lock probing and atomic multi-file commits.
package vcs

import (
	"context"
	"strings"
	"time"
)

// DefaultStaleAfter is the lock age past which a lock is judged stale.
const DefaultStaleAfter = 60 * time.Second

// LockStatus describes the repository lock at probe time.
type LockStatus struct {
	Locked bool          `json:"locked"`
	Stale  bool          `json:"stale"`
	Age    time.Duration `json:"age"`
}

// CommitResult is the outcome of an atomic commit.
type CommitResult struct {
	Success       bool     `json:"success"`
	Hash          string   `json:"hash,omitempty"`
	UndoAvailable bool     `json:"undo_available"`
	Files         []string `json:"files,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// VersionControl is what the engine needs from a repository.
type VersionControl interface {
	IsUnderVersionControl(ctx context.Context) bool
	CheckLock(ctx context.Context) (LockStatus, error)
	// CommitAtomic records every path as one unit of history. Paths are
	// vault-relative; deleted paths are recorded as removals.
	CommitAtomic(ctx context.Context, paths []string, label string, summaries []string) CommitResult
}

// IsLockContention reports whether a commit error was caused by another
// process holding the repository lock.
func IsLockContention(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "index.lock") ||
		strings.Contains(m, "another git process") ||
		(strings.Contains(m, "unable to create") && strings.Contains(m, ".lock"))
}

// CommitMessage builds the commit body: the label as subject and one
// bullet per step summary.
func CommitMessage(label string, summaries []string) (subject, body string) {
	var b strings.Builder
	for i, s := range summaries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + s)
	}
	return label, b.String()
}
