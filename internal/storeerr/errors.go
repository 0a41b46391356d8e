// Package storeerr defines the error taxonomy shared by every layer of the
// object store, from the engine adapter up through the repository. Callers
// match on the sentinel values with errors.Is; internal code wraps them with
// fmt.Errorf so the operation that failed stays in the message.
package storeerr

import "errors"

// Sentinel errors. Each one is a distinct failure family; concrete failures
// wrap one of these so callers can branch on errors.Is without parsing
// strings.
var (
	// ErrConfiguration covers malformed or contradictory Options: an
	// envHome that doesn't exist, a product name nothing registered, a
	// negative cache size, and similar setup mistakes caught before any
	// database is opened.
	ErrConfiguration = errors.New("storeerr: configuration error")

	// ErrSchemaIncompatible is returned when a registered type's index
	// layout or evolution strategy conflicts with what the metadata
	// table already recorded for it, and the type already has records
	// (so a transparent upgrade isn't safe).
	ErrSchemaIncompatible = errors.New("storeerr: schema incompatible with stored descriptor")

	// ErrFetchDeadlock and ErrFetchTimeout are raised by a read-side
	// operation (load, query, cursor step) whose underlying engine
	// transaction was aborted by the deadlock detector or timed out
	// waiting on a lock.
	ErrFetchDeadlock = errors.New("storeerr: fetch aborted, deadlock detected")
	ErrFetchTimeout  = errors.New("storeerr: fetch timed out waiting for a lock")

	// ErrFetchCorruptEncoding means the codec could not decode a stored
	// value into the requested record type. This should only happen if
	// the stored generation is older than any evolution strategy the
	// caller registered, or the bytes were written by something else.
	ErrFetchCorruptEncoding = errors.New("storeerr: stored value has corrupt or unreadable encoding")

	// ErrPersistDeadlock and ErrPersistTimeout mirror the fetch-side
	// variants for insert/update/delete/truncate operations.
	ErrPersistDeadlock = errors.New("storeerr: persist aborted, deadlock detected")
	ErrPersistTimeout  = errors.New("storeerr: persist timed out waiting for a lock")

	// ErrUniqueConstraint is returned by insert/try_insert when a record
	// with the same primary key already exists; alternate-index entries
	// are not checked for uniqueness. Callers that expect contention retry
	// on this with backoff; storage itself retries descriptor writes up to
	// three times (see internal/storage's Open).
	ErrUniqueConstraint = errors.New("storeerr: unique constraint violated")

	// ErrNotSupported is returned for operations a particular engine
	// product or configuration cannot perform, such as true nested
	// transactions on an engine that only fakes them, or hot backup on
	// an in-process engine with no files to copy.
	ErrNotSupported = errors.New("storeerr: operation not supported")

	// ErrRepositoryClosed is returned by operations attempted once
	// Repository.Shutdown has begun, and by a closed txscope Manager or
	// Scope.
	ErrRepositoryClosed = errors.New("storeerr: repository is closed")
)

// Code classifies an error into one of the taxonomy's families, for callers
// (logging, metrics) that want a stable enum rather than errors.Is chains.
type Code int

const (
	CodeUnknown Code = iota
	CodeConfiguration
	CodeSchemaIncompatible
	CodeFetchDeadlock
	CodeFetchTimeout
	CodeFetchCorruptEncoding
	CodePersistDeadlock
	CodePersistTimeout
	CodeUniqueConstraint
	CodeNotSupported
	CodeRepositoryClosed
)

func (c Code) String() string {
	switch c {
	case CodeConfiguration:
		return "configuration"
	case CodeSchemaIncompatible:
		return "schema_incompatible"
	case CodeFetchDeadlock:
		return "fetch_deadlock"
	case CodeFetchTimeout:
		return "fetch_timeout"
	case CodeFetchCorruptEncoding:
		return "fetch_corrupt_encoding"
	case CodePersistDeadlock:
		return "persist_deadlock"
	case CodePersistTimeout:
		return "persist_timeout"
	case CodeUniqueConstraint:
		return "unique_constraint"
	case CodeNotSupported:
		return "not_supported"
	case CodeRepositoryClosed:
		return "repository_closed"
	default:
		return "unknown"
	}
}

var sentinelCodes = map[error]Code{
	ErrConfiguration:        CodeConfiguration,
	ErrSchemaIncompatible:   CodeSchemaIncompatible,
	ErrFetchDeadlock:        CodeFetchDeadlock,
	ErrFetchTimeout:         CodeFetchTimeout,
	ErrFetchCorruptEncoding: CodeFetchCorruptEncoding,
	ErrPersistDeadlock:      CodePersistDeadlock,
	ErrPersistTimeout:       CodePersistTimeout,
	ErrUniqueConstraint:     CodeUniqueConstraint,
	ErrNotSupported:         CodeNotSupported,
	ErrRepositoryClosed:     CodeRepositoryClosed,
}

// Classify walks err's chain and returns the Code of the first sentinel it
// matches, or CodeUnknown if none do.
func Classify(err error) Code {
	for sentinel, code := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// IsRetryable reports whether a caller can reasonably retry the operation
// that produced err: deadlocks, timeouts and unique-constraint conflicts
// are transient, everything else (bad config, schema conflicts, closed
// repository) is not.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case CodeFetchDeadlock, CodeFetchTimeout, CodePersistDeadlock, CodePersistTimeout, CodeUniqueConstraint:
		return true
	default:
		return false
	}
}

// Op wraps err with an operation label, e.g. storeerr.Op("Storage.Insert", ErrUniqueConstraint).
func Op(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }
