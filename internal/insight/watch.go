package insight

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchKeyFile reloads the model whenever the configured API key file
// changes. Editors and secret managers replace files via rename, so
// removed paths are re-added to the watcher. Returns without starting
// a watcher when no key file is configured.
func (a *Analyzer) WatchKeyFile(ctx context.Context) error {
	path := a.cfg.KeyFile
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("insight: watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := a.Reload(ctx); err != nil {
					slog.Error("insight: key reload failed", "err", err)
				} else {
					slog.Info("insight: chat model reloaded", "key_file", path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("insight: watch error", "err", err)
			}
		}
	}()
	return nil
}
