package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/trace"
	"github.com/ormasoftchile/memex/pkg/vault"
)

type snapshot struct {
	data    []byte
	existed bool
	newDirs []string // parents a create would add, deepest first
}

// ledger holds the pre-mutation content of every path a run may touch
// and the order in which paths were touched. It lives for one run.
type ledger struct {
	vault     *vault.Vault
	snapshots map[string]snapshot
	touched   []string
	seen      map[string]bool
}

func newLedger(v *vault.Vault) *ledger {
	return &ledger{vault: v, snapshots: map[string]snapshot{}, seen: map[string]bool{}}
}

// capture snapshots path unless it already has a snapshot. It returns the
// normalized path.
func (l *ledger) capture(path string) (string, error) {
	clean, err := l.vault.Normalize(path)
	if err != nil {
		return "", err
	}
	if _, ok := l.snapshots[clean]; ok {
		return clean, nil
	}
	data, existed, err := l.vault.Snapshot(clean)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", clean, err)
	}
	snap := snapshot{data: data, existed: existed}
	if !existed {
		if snap.newDirs, err = l.vault.MissingDirs(clean); err != nil {
			return "", fmt.Errorf("snapshot %s: %w", clean, err)
		}
	}
	l.snapshots[clean] = snap
	return clean, nil
}

func (l *ledger) touch(clean string) {
	if l.seen[clean] {
		return
	}
	l.seen[clean] = true
	l.touched = append(l.touched, clean)
}

// Touched returns touched paths in first-touch order.
func (l *ledger) Touched() []string {
	return append([]string(nil), l.touched...)
}

// rollback restores every touched path, newest first. One failed restore
// does not stop the others.
func (l *ledger) rollback(logger *zap.Logger, tw *trace.Writer) []string {
	var errs []string
	for i := len(l.touched) - 1; i >= 0; i-- {
		path := l.touched[i]
		snap, ok := l.snapshots[path]
		if !ok {
			msg := fmt.Sprintf("%s: no snapshot recorded", path)
			errs = append(errs, msg)
			logger.Error("rollback skipped path", zap.String("path", path))
			tw.EmitRollback(path, false, fmt.Errorf("no snapshot recorded"))
			continue
		}
		err := l.vault.Restore(path, snap.data, snap.existed)
		if err == nil && len(snap.newDirs) > 0 {
			err = l.vault.PruneDirs(snap.newDirs)
		}
		tw.EmitRollback(path, !snap.existed, err)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			logger.Error("rollback failed", zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Info("rolled back", zap.String("path", path), zap.Bool("deleted", !snap.existed))
	}
	return errs
}
