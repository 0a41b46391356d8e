// Package txscope implements C4: the transaction manager and the
// per-caller scope of nested transaction frames attached to it. A Scope
// models spec §4.2's thread-attached frame stack as an explicit handle the
// caller carries (through a context.Context value or held directly) rather
// than through goroutine-local lookup, which Go does not provide and which
// idiomatic Go code does not simulate.
package txscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/storeerr"
)

// IsolationLevel selects how a new frame's reads are guarded.
type IsolationLevel int

const (
	// ReadCommitted is the default: readers never block writers and
	// never see uncommitted data.
	ReadCommitted IsolationLevel = iota
	// RepeatableRead holds read locks for the duration of the frame.
	RepeatableRead
	// Serializable additionally detects write skew; engines that
	// cannot provide it downgrade to RepeatableRead, which
	// SelectIsolation reports.
	Serializable
)

// FrameState is a frame's position in its lifecycle.
type FrameState int

const (
	FrameReady FrameState = iota
	FramePreCommitted
	FrameExited
)

// Frame is one entry in a Scope's nested stack. The top-level frame owns a
// real native transaction; every nested frame either gets a true nested
// transaction (if the engine supports Txn.Begin) or shares its parent's
// native Txn by identity — "fake nesting" — in which case only the
// outermost frame's Commit/Rollback has any visible effect on the engine.
type Frame struct {
	scope     *Scope
	depth     int
	parent    *Frame
	child     *Frame
	native    kvengine.Txn
	fake      bool
	state     FrameState
	isolation IsolationLevel

	mu                 sync.Mutex
	cursors            []registeredCursor
	forUpdate          bool
	desiredLockTimeout time.Duration
}

// registeredCursor names the type RegisterCursor tracks directly, rather
// than pulling in io.Closer for a single method: cursors close via
// kvengine.Cursor.Close.
type registeredCursor = kvengine.Cursor

func (f *Frame) State() FrameState { return f.state }

// RegisterCursor attaches c's lifetime to f: f.Exit closes every registered
// cursor, in LIFO order, before it tears down or releases the native
// transaction. Cursors must never outlive the frame that opened them.
func (f *Frame) RegisterCursor(c registeredCursor) {
	f.mu.Lock()
	f.cursors = append(f.cursors, c)
	f.mu.Unlock()
}

// UnregisterCursor detaches c early, e.g. when a caller closes it before
// the frame exits.
func (f *Frame) UnregisterCursor(c registeredCursor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.cursors) - 1; i >= 0; i-- {
		if f.cursors[i] == c {
			f.cursors = append(f.cursors[:i], f.cursors[i+1:]...)
			return
		}
	}
}

func (f *Frame) closeCursorsLocked() {
	for i := len(f.cursors) - 1; i >= 0; i-- {
		_ = f.cursors[i].Close()
	}
	f.cursors = nil
}

// Native returns the kvengine.Txn this frame writes through: either its own
// real nested transaction, or the nearest ancestor's when fake-nested.
func (f *Frame) Native() kvengine.Txn { return f.native }

// ForUpdate reports whether this frame currently requests write-intent
// locks on its reads, per spec §3's per-frame "for-update" state.
func (f *Frame) ForUpdate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forUpdate
}

// SetForUpdate toggles the frame's for-update flag (spec §4.2's
// set_for_update(b)) and propagates the change to the live native
// transaction when its engine supports toggling write-intent locks
// mid-transaction. Engines with no lock manager to toggle (e.g. memkv's
// copy-on-write snapshots) leave the flag as frame-local bookkeeping.
func (f *Frame) SetForUpdate(ctx context.Context, forUpdate bool) error {
	f.mu.Lock()
	f.forUpdate = forUpdate
	native := f.native
	f.mu.Unlock()
	if capable, ok := native.(kvengine.ForUpdateCapable); ok {
		return capable.SetForUpdate(ctx, forUpdate)
	}
	return nil
}

// DesiredLockTimeout reports the lock-wait timeout this frame requests,
// per spec §3's transaction-scope state. The zero value means "inherit the
// engine default"; SetDesiredLockTimeout records an explicit request.
func (f *Frame) DesiredLockTimeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desiredLockTimeout
}

// SetDesiredLockTimeout records the lock-wait timeout this frame requests.
// It does not retroactively change a timeout already in effect for this
// frame's own native transaction, only the state spec §3 attaches to the
// frame itself.
func (f *Frame) SetDesiredLockTimeout(d time.Duration) {
	f.mu.Lock()
	f.desiredLockTimeout = d
	f.mu.Unlock()
}

// PreCommit moves the frame to FramePreCommitted, the first phase of the
// scope's two-phase commit protocol: after this call the frame promises
// not to perform further writes. The scope itself does not check this
// state; Commit accepts a frame whether or not PreCommit was called.
func (f *Frame) PreCommit(_ context.Context) error {
	if f.state != FrameReady {
		return fmt.Errorf("txscope: PreCommit called on frame in state %v", f.state)
	}
	f.state = FramePreCommitted
	return nil
}

// Commit finalizes the frame. Spec §4.2 invariant S2 requires a commit on
// a frame to commit a still-open child first, then itself: a parent's
// native Txn may be the very same value a fake-nested child shares by
// identity, so committing the parent out from under an open child would
// both commit the child's writes without closing its cursors and corrupt
// the scope's frame stack. If f has an open child, Commit cascades into it
// first; for a fake-nested frame this call is otherwise a no-op on the
// engine (the parent still owns the native transaction).
func (f *Frame) Commit(ctx context.Context) error {
	if f.state == FrameExited {
		return fmt.Errorf("txscope: Commit called on exited frame")
	}
	if f.child != nil && f.child.state != FrameExited {
		if err := f.child.Commit(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.closeCursorsLocked()
	f.mu.Unlock()
	f.state = FrameExited
	f.scope.popFrame(f)
	if f.parent != nil {
		f.parent.child = nil
	}
	if f.fake {
		return nil
	}
	if err := f.native.Commit(ctx); err != nil {
		return fmt.Errorf("txscope: commit native transaction: %w", err)
	}
	return nil
}

// Exit aborts the frame: rolls back its native transaction if it owns one,
// and otherwise leaves the parent's transaction untouched. Spec §4.2
// invariant S2 requires exit to abort a still-open child first, then
// itself, always tearing down both even when one step fails, so it
// propagates only the first error it encounters. Unlike Commit, Exit is
// always safe to call regardless of frame state, matching the "graceful
// vs suspend-forever shutdown" requirement that abandoning a scope must
// never hang.
func (f *Frame) Exit(ctx context.Context) error {
	if f.state == FrameExited {
		return nil
	}
	var firstErr error
	if f.child != nil && f.child.state != FrameExited {
		firstErr = f.child.Exit(ctx)
	}
	f.mu.Lock()
	f.closeCursorsLocked()
	f.mu.Unlock()
	f.state = FrameExited
	f.scope.popFrame(f)
	if f.parent != nil {
		f.parent.child = nil
	}
	if f.fake {
		return firstErr
	}
	if err := f.native.Rollback(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Scope is one caller's attached stack of nested transaction frames. The
// zero value is not usable; construct one via Manager.NewScope.
type Scope struct {
	mgr    *Manager
	engine kvengine.Engine
	lock   *fairMutex

	mu     sync.Mutex
	frames []*Frame
	closed bool
}

// Enter pushes a new frame onto the scope. If the scope has no open frame,
// this begins a real top-level transaction; otherwise it attempts a real
// nested transaction via the engine and falls back to fake nesting
// (sharing the parent's native Txn by identity) if the engine reports
// storeerr.ErrNotSupported for nested Begin.
func (s *Scope) Enter(ctx context.Context, writable bool, isolation IsolationLevel) (*Frame, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, storeerr.ErrRepositoryClosed
	}
	var parent *Frame
	if len(s.frames) > 0 {
		parent = s.frames[len(s.frames)-1]
	}
	s.mu.Unlock()

	frame := &Frame{scope: s, isolation: isolation}
	if parent == nil {
		txn, err := s.engine.Begin(ctx, writable)
		if err != nil {
			return nil, fmt.Errorf("txscope: begin top-level transaction: %w", err)
		}
		frame.native = txn
		frame.depth = 0
	} else {
		child, err := parent.native.Begin(ctx)
		if err == nil {
			frame.native = child
			frame.depth = parent.depth + 1
			frame.parent = parent
		} else if !errors.Is(err, storeerr.ErrNotSupported) {
			return nil, fmt.Errorf("txscope: begin nested transaction: %w", err)
		} else {
			// The engine cannot open a real nested transaction; fall
			// back to sharing the parent's by identity. This is the
			// "fake nested transaction" path: child and parent refer
			// to literally the same kvengine.Txn value.
			frame.native = parent.native
			frame.fake = true
			frame.depth = parent.depth + 1
			frame.parent = parent
		}
	}

	if parent != nil {
		parent.child = frame
	}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return frame, nil
}

// EnterTop pushes a frame whose effective parent native transaction is
// null: even under an open frame stack, the new frame owns a fresh
// top-level engine transaction, committed or aborted independently of
// every frame below it. The frame still participates in the scope's stack
// discipline (cursor teardown, child-first cascade on the enclosing
// frame's Commit/Exit).
func (s *Scope) EnterTop(ctx context.Context, writable bool, isolation IsolationLevel) (*Frame, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, storeerr.ErrRepositoryClosed
	}
	var parent *Frame
	if len(s.frames) > 0 {
		parent = s.frames[len(s.frames)-1]
	}
	s.mu.Unlock()

	txn, err := s.engine.Begin(ctx, writable)
	if err != nil {
		return nil, fmt.Errorf("txscope: begin top transaction: %w", err)
	}
	frame := &Frame{scope: s, isolation: isolation, native: txn}
	if parent != nil {
		frame.depth = parent.depth + 1
		frame.parent = parent
		parent.child = frame
	}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return frame, nil
}

// Close permanently closes s, per spec §4.2's close(suspend). It acquires
// s's fair lock — waiting behind any Enter/Exit already in flight — then
// force-exits every still-open frame (cascading through child frames via
// Frame.Exit) and marks the scope closed so any later Enter reports
// storeerr.ErrRepositoryClosed. When suspend is true, Close never releases
// the lock: every other goroutine blocked on it, or arriving at it later
// via Enter, is pinned there permanently (Testable Property #4: after
// close(suspend=true), no new cursor can be opened by any thread). This is
// used during repository shutdown to guarantee a scope a caller never
// explicitly released cannot be used for further work.
func (s *Scope) Close(suspend bool) {
	s.lock.Lock()

	s.mu.Lock()
	s.closed = true
	var outermost *Frame
	if len(s.frames) > 0 {
		outermost = s.frames[0]
	}
	s.mu.Unlock()

	if outermost != nil {
		_ = outermost.Exit(context.Background())
	}

	if !suspend {
		s.lock.Unlock()
	}
}

func (s *Scope) popFrame(f *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == f {
			s.frames = append(s.frames[:i], s.frames[i+1:]...)
			return
		}
	}
}

// Depth reports how many frames are currently open on the scope.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Current returns the innermost open frame, or nil if the scope is empty.
func (s *Scope) Current() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// DetachedScope is the opaque handle returned by Detach: it carries the
// suspended frame stack so a different goroutine can resume it with
// Manager.Attach. It must not be inspected or mutated by callers.
type DetachedScope struct {
	scope *Scope
}

// Detach suspends s so the calling goroutine can hand it to another one
// (e.g. a worker pool) without tearing down its open frames. s must have no
// goroutine concurrently calling Enter/Exit on it once detached.
func (s *Scope) Detach() *DetachedScope {
	return &DetachedScope{scope: s}
}
