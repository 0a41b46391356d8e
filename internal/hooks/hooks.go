// Package hooks runs the pre- and post-shutdown callbacks spec §6's
// configuration contract names (preShutdownHook/postShutdownHook) and §4.6
// step 3/8 require: a user-supplied callback invoked during Repository
// shutdown whose errors are logged, never thrown, so a broken hook can
// never prevent the repository from tearing down. Adapted from the
// teacher's hook Runner (timeout-bounded, name-addressed execution) with
// the git-hook-script execution model replaced by direct Go callbacks,
// since a library has no ".beads/hooks/" directory to shell out to.
package hooks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Func is a registered hook callback.
type Func func(ctx context.Context) error

// Runner holds the named pre/post-shutdown callbacks a Repository was
// built with and runs them with a bounded timeout.
type Runner struct {
	timeout time.Duration

	mu    sync.Mutex
	byName map[string]Func
}

// NewRunner constructs a Runner with the given per-callback timeout. A
// zero timeout means no deadline is applied.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout, byName: make(map[string]Func)}
}

// Register names fn so it can later be invoked by name — e.g. the string
// an Options.PreShutdownHook/PostShutdownHook field carries, since Options
// itself is plain serializable config and cannot hold a closure.
func (r *Runner) Register(name string, fn Func) {
	r.mu.Lock()
	r.byName[name] = fn
	r.mu.Unlock()
}

// Run invokes the callback registered under name, if any, bounding it by
// Runner's timeout. Errors (including an unknown name) are returned to the
// caller to log; Run itself never panics on a missing or failing hook.
func (r *Runner) Run(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	fn, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("hooks: no callback registered under %q", name)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// RunLogged is Run, but swallows the error after logging it, matching
// spec §4.6's "errors logged, never thrown" contract for shutdown hooks.
func (r *Runner) RunLogged(ctx context.Context, name string) {
	if err := r.Run(ctx, name); err != nil {
		log.Printf("hooks: %q failed: %v", name, err)
	}
}
