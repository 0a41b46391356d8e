package repository

import (
	"context"
	"log"
)

// Shutdown tears the repository down in the order spec §4.6 prescribes:
// return outstanding sequence reservations, drain open scopes, run the
// pre-shutdown hook, close every registered Storage, stop the background
// controllers, close the engine, then run the post-shutdown hook. It is
// idempotent: a second call returns nil without repeating any of this.
//
// No step short-circuits the ones after it: a scope drain that gives up on
// ctx expiry (the CLI calls Shutdown under a bounded timeout) still
// force-closes the remaining scopes, and teardown continues so the hooks
// run, the background goroutines are joined, and the engine is closed.
// Step errors are logged as they happen; the first one is returned at the
// end.
func (r *Repository) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	r.mu.Unlock()

	// Let any in-flight lazy Register calls finish before the engine goes
	// away out from under them.
	r.openBlocker.Wait()

	var firstErr error
	fail := func(step string, err error) {
		if err == nil {
			return
		}
		log.Printf("repository: shutdown: %s: %v", step, err)
		if firstErr == nil {
			firstErr = err
		}
	}

	// 1. Return unused sequence reservations.
	r.returnSequences()

	// 2. Drain every open transaction scope. If ctx expires first, the
	// manager force-closes whatever is still open and reports the expiry;
	// teardown continues either way.
	fail("drain transaction scopes", r.tm.Shutdown(ctx))

	// 3. Run the pre-shutdown hook. Its errors are logged, never thrown.
	r.hooks.RunLogged(ctx, r.opts.PreShutdownHook)

	// 4. Close every registered Storage. Storage itself has no teardown
	// state beyond the shared engine, so this step is a formality that
	// also guards against any future Storage gaining owned resources.
	r.mu.Lock()
	r.storages = nil
	r.mu.Unlock()

	// 5. Stop the background controllers and wait for their goroutines to
	// notice ctx cancellation and return.
	r.bgCancel()
	r.bgWG.Wait()

	// 6. Close the engine.
	fail("close engine", r.engine.Close())

	// 7. Shut down telemetry exporters.
	r.tel.shutdown(ctx)

	// 8. Run the post-shutdown hook.
	r.hooks.RunLogged(ctx, r.opts.PostShutdownHook)

	return firstErr
}
