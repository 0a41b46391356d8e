package txscope

import (
	"context"
	"fmt"
	"sync"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/storeerr"
)

// Manager is C4's transaction manager: it mints Scopes over a single
// kvengine.Engine and tracks every Scope it has handed out so Shutdown can
// wait for them to drain. Scopes still open when Shutdown's ctx expires are
// force-closed with Close(suspend=true): their frames are exited and their
// locks stay held, so a later Enter on them never returns.
type Manager struct {
	engine kvengine.Engine

	mu      sync.Mutex
	scopes  map[*Scope]struct{}
	closing bool
	drained chan struct{}
}

// NewManager constructs a Manager over engine.
func NewManager(engine kvengine.Engine) *Manager {
	return &Manager{
		engine:  engine,
		scopes:  make(map[*Scope]struct{}),
		drained: make(chan struct{}),
	}
}

// NewScope mints a new, empty Scope. Each Scope has its own fair mutex:
// scopes never contend with each other for the lock, only frames within
// the same Scope do.
func (m *Manager) NewScope() (*Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, storeerr.ErrRepositoryClosed
	}
	s := &Scope{mgr: m, engine: m.engine, lock: newFairMutex()}
	m.scopes[s] = struct{}{}
	return s, nil
}

// Release removes s from the manager's tracked set. Callers should call
// this once a Scope's last frame has exited and it will not be reused, so
// Shutdown's drain wait does not count long-lived, legitimately idle
// scopes as outstanding work forever.
func (m *Manager) Release(s *Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes, s)
	if m.closing && len(m.scopes) == 0 {
		close(m.drained)
	}
}

// Attach resumes a DetachedScope, returning its Scope for the calling
// goroutine to continue using. Attach and Detach exist precisely so a
// Scope can cross goroutine boundaries (e.g. handed off to a worker pool
// and back) without the frame stack's ownership being ambiguous in
// between: only one goroutine at a time may hold the live Scope value.
func (m *Manager) Attach(d *DetachedScope) (*Scope, error) {
	if d == nil || d.scope == nil {
		return nil, fmt.Errorf("txscope: Attach called with nil DetachedScope")
	}
	return d.scope, nil
}

// Shutdown waits for every currently-tracked Scope to be Released, then
// returns. If ctx expires before that happens, it falls back to forcibly
// closing every Scope still tracked — Scope.Close(true), per spec §4.2 —
// so a caller that never exits its frames cannot keep using it past
// shutdown even though Shutdown itself gives up waiting and reports
// ctx.Err(). This is what makes Testable Property #4 ("after
// close(suspend=true), no new cursor can be opened by any thread") hold
// even when a goroutine never calls Release.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	empty := len(m.scopes) == 0
	m.mu.Unlock()

	if empty {
		return nil
	}

	var waitErr error
	select {
	case <-m.drained:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	m.mu.Lock()
	remaining := make([]*Scope, 0, len(m.scopes))
	for s := range m.scopes {
		remaining = append(remaining, s)
	}
	m.mu.Unlock()

	for _, s := range remaining {
		s.Close(true)
	}

	return waitErr
}

// SelectIsolation maps a caller's requested isolation to the level the
// engine can actually provide. memkv supports ReadCommitted and
// RepeatableRead natively; Serializable downgrades to RepeatableRead with
// a reported warning, since memkv's copy-on-write snapshots do not detect
// write skew between concurrent writers on the same database.
func SelectIsolation(requested IsolationLevel) (actual IsolationLevel, downgraded bool) {
	if requested == Serializable {
		return RepeatableRead, true
	}
	return requested, false
}
