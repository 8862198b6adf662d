package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/uke16/Helix-sub002/internal/model"
)

// Watch invokes onChange with the freshly loaded status every time the
// status file is rewritten, starting with the current contents when one
// exists. It blocks until ctx is done.
func (t *Tracker) Watch(ctx context.Context, projectDir string, onChange func(*model.ProjectStatus)) error {
	helixDir := HelixDir(projectDir)
	if err := os.MkdirAll(helixDir, 0o755); err != nil {
		return fmt.Errorf("create helix dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic writes replace the file
	// by rename, which would silently detach a file-level watch.
	if err := watcher.Add(helixDir); err != nil {
		return fmt.Errorf("watch %s: %w", helixDir, err)
	}

	if st, found, err := t.Load(projectDir); err == nil && found {
		onChange(st)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != FileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			st, found, err := t.Load(projectDir)
			if err != nil {
				t.log.Warn("failed to reload status after change", zap.Error(err))
				continue
			}
			if found {
				onChange(st)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn("status watcher error", zap.Error(werr))
		}
	}
}
