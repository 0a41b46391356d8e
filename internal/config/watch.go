package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching path for writes and logs a "config changed, reopen
// to apply" notice on each one. Startup options like EnvHome cannot change
// live — there is no component this package could push a reload into
// mid-run — so this is purely an ambient notification, not a silent
// live-reload, matching spec §6's configuration contract being read once
// at Repository build time.
//
// The returned stop func closes the underlying watcher; callers should
// defer it.
func Watch(path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Printf("config: %s changed on disk; reopen the repository to apply", path)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", werr)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
