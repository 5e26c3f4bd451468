package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// WatchFile watches path's parent directory for create/write/remove/
// rename events touching path and invokes onChange for each one. Most
// editors and `echo > file` replace-by-rename rather than write
// in-place, so fsnotify must watch the directory rather than the file
// itself (the file's inode can disappear out from under a direct
// watch). Returns a stop func; safe to call stop more than once.
//
// The plugin-only sentinel's disk path is absolute (config.go joins it
// under DataPath), so Dir/Base always resolve even when path itself
// does not yet exist.
func WatchFile(path string, onChange func()) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(werr).Str("path", path).Msg("config_watch_error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		select {
		case <-done:
		default:
			close(done)
		}
		watcher.Close()
	}, nil
}
