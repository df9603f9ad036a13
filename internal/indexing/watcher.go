package indexing

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	apperr "ragengine/internal/errors"
	"ragengine/internal/logging"
)

// DefaultDebounce is how long the watcher waits after the last observed
// filesystem event before triggering, so a multi-file upload produces one
// reindex instead of one per file.
const DefaultDebounce = 2 * time.Second

// Watcher observes the documents directory for changes and invokes a
// trigger callback once a burst of events has settled. The callback is
// expected to enqueue an async reindex; overlap with an already-running
// reindex is resolved by the single-flight guard, not here.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  func()
	logger   logging.Logger
}

// NewWatcher constructs a Watcher over dir. A zero debounce uses
// DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, trigger func(), logger logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, trigger: trigger, logger: logger}
}

// Run blocks, watching the documents tree until ctx is cancelled. New
// subdirectories are added to the watch as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return apperr.Wrap(apperr.CodeIO, "create watched documents directory", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Wrap(apperr.CodeBackend, "create filesystem watcher", err)
	}
	defer fw.Close()

	if err := w.addTree(fw); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.Add(event.Name); err != nil && w.logger != nil {
						w.logger.Warn("failed to watch new subdirectory", "path", event.Name, "error", err)
					}
				}
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			if w.logger != nil {
				w.logger.Info("documents directory changed, triggering reindex")
			}
			w.trigger()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Warn("filesystem watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher) error {
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return apperr.Wrap(apperr.CodeIO, "watch documents directory", err)
		}
		return nil
	})
}
