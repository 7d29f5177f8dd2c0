package vcs

import (
	"context"
	"sync"
)

// Fake is an in-memory VersionControl for tests and for vaults that are
// not repositories.
type Fake struct {
	Versioned bool
	Lock      LockStatus
	LockErr   error
	// CommitErr, when set, makes every commit fail with this text.
	CommitErr string
	Hash      string

	mu      sync.Mutex
	Commits []FakeCommit
}

// FakeCommit records one CommitAtomic call.
type FakeCommit struct {
	Paths     []string
	Label     string
	Summaries []string
}

func (f *Fake) IsUnderVersionControl(context.Context) bool { return f.Versioned }

func (f *Fake) CheckLock(context.Context) (LockStatus, error) { return f.Lock, f.LockErr }

func (f *Fake) CommitAtomic(_ context.Context, paths []string, label string, summaries []string) CommitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commits = append(f.Commits, FakeCommit{
		Paths:     append([]string(nil), paths...),
		Label:     label,
		Summaries: append([]string(nil), summaries...),
	})
	if f.CommitErr != "" {
		return CommitResult{Success: false, Error: f.CommitErr}
	}
	hash := f.Hash
	if hash == "" {
		hash = "0000000000000000000000000000000000000000"
	}
	return CommitResult{Success: true, Hash: hash, UndoAvailable: true, Files: append([]string(nil), paths...)}
}
