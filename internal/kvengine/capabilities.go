package kvengine

import "context"

// BackupCapable is implemented by engine products that can participate in
// a hot backup: an on-disk engine enters a mode where its data files stop
// being rewritten in place (or starts logging enough to replay past them)
// and reports the file list a caller should copy. Products with nothing to
// copy (in-process engines) simply don't implement this interface;
// Repository.StartBackup reports storeerr.ErrNotSupported when a type
// assertion against it fails.
type BackupCapable interface {
	// EnterBackupMode begins a hot backup window. Nested calls are the
	// caller's responsibility to reference-count (see
	// internal/repository's backup counter); the engine itself only
	// needs to support one active window at a time.
	EnterBackupMode(ctx context.Context) error

	// ExitBackupMode ends the most recently entered backup window.
	ExitBackupMode(ctx context.Context) error

	// BackupFiles lists the data and log files a caller should copy
	// while backup mode is active, in the order they should be read.
	BackupFiles(ctx context.Context) ([]string, error)
}

// IncrementalBackupCapable is implemented by engines that can report only
// the log files written since a prior backup, identified by the log
// sequence number that backup's BackupResult.LastLogNumber returned.
type IncrementalBackupCapable interface {
	BackupCapable

	// BackupFilesSince lists only the log files written after
	// lastLogNumber, plus the new high-water mark for the next call.
	BackupFilesSince(ctx context.Context, lastLogNumber int64) (files []string, newLastLogNumber int64, err error)
}

// ForUpdateCapable is implemented by Txn values whose engine has a lock
// manager it can toggle write-intent locking on mid-transaction (spec
// §4.2's set_for_update(b)). Products with no lock manager (memkv's
// copy-on-write snapshots) need not implement it; Frame.SetForUpdate
// leaves the flag as frame-local bookkeeping when the assertion fails.
type ForUpdateCapable interface {
	SetForUpdate(ctx context.Context, forUpdate bool) error
}
