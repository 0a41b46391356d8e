package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/storeerr"
)

// Compact runs the engine's CompactionCapability (external interfaces
// amendment, spec §6), calling the engine directly since Compact is a
// mandatory Engine method, not an optional capability.
func (r *Repository) Compact(ctx context.Context) (kvengine.CompactionStats, error) {
	return r.engine.Compact(ctx)
}

// StartBackup puts the engine into hot-backup mode if it implements
// kvengine.BackupCapable, reference-counting concurrent callers so nested
// or overlapping backup windows share one underlying backup-mode session
// rather than exiting it out from under each other.
func (r *Repository) StartBackup(ctx context.Context) error {
	bc, ok := r.engine.(kvengine.BackupCapable)
	if !ok {
		return fmt.Errorf("%w: engine does not support hot backup", storeerr.ErrNotSupported)
	}
	r.backupMu.Lock()
	defer r.backupMu.Unlock()
	if r.backupCount == 0 {
		if err := bc.EnterBackupMode(ctx); err != nil {
			return fmt.Errorf("repository: enter backup mode: %w", err)
		}
	}
	r.backupCount++
	return nil
}

// EndBackup releases one hold acquired by StartBackup, exiting backup mode
// once the last concurrent caller releases it.
func (r *Repository) EndBackup(ctx context.Context) error {
	bc, ok := r.engine.(kvengine.BackupCapable)
	if !ok {
		return fmt.Errorf("%w: engine does not support hot backup", storeerr.ErrNotSupported)
	}
	r.backupMu.Lock()
	defer r.backupMu.Unlock()
	if r.backupCount == 0 {
		return fmt.Errorf("repository: EndBackup called without a matching StartBackup")
	}
	r.backupCount--
	if r.backupCount == 0 {
		if err := bc.ExitBackupMode(ctx); err != nil {
			return fmt.Errorf("repository: exit backup mode: %w", err)
		}
	}
	return nil
}

// BackupFiles lists the files a full backup should copy while the engine is
// in backup mode (StartBackup must already have been called).
func (r *Repository) BackupFiles(ctx context.Context) ([]string, error) {
	bc, ok := r.engine.(kvengine.BackupCapable)
	if !ok {
		return nil, fmt.Errorf("%w: engine does not support hot backup", storeerr.ErrNotSupported)
	}
	return bc.BackupFiles(ctx)
}

// BackupFilesSince lists the files an incremental backup should copy, if
// the engine implements kvengine.IncrementalBackupCapable.
func (r *Repository) BackupFilesSince(ctx context.Context, lastLogNumber int64) ([]string, int64, error) {
	ic, ok := r.engine.(kvengine.IncrementalBackupCapable)
	if !ok {
		return nil, 0, fmt.Errorf("%w: engine does not support incremental backup", storeerr.ErrNotSupported)
	}
	return ic.BackupFilesSince(ctx, lastLogNumber)
}

// Suspend pauses the background checkpointer for d. If no checkpointer is
// running (RunCheckpointer was false, or ReadOnly), it is a no-op.
func (r *Repository) Suspend(d time.Duration) {
	if r.checkpointer != nil {
		r.checkpointer.Suspend(d)
	}
}

// Resume cancels any pending Suspend, letting the checkpointer tick again
// immediately.
func (r *Repository) Resume() {
	if r.checkpointer != nil {
		r.checkpointer.Resume()
	}
}

// ForceCheckpoint runs a checkpoint immediately, waiting for any
// in-progress tick to finish first, and returns only once it completes.
func (r *Repository) ForceCheckpoint(ctx context.Context) error {
	if r.checkpointer == nil {
		return r.engine.Checkpoint(ctx)
	}
	return r.checkpointer.Force(ctx)
}
