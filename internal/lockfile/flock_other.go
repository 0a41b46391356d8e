//go:build !unix && !windows

package lockfile

import "os"

// Platforms with no advisory file locking (wasm) degrade to unlocked
// operation: single-process by construction, nothing to coordinate with.

func flock(*os.File, bool) error { return nil }

func funlock(*os.File) error { return nil }
