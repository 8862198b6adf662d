package escalate

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// WaitForDecision blocks until the record at path is resolved or ctx
// ends. The escalation directory is watched rather than the file so
// atomic rewrites do not detach the watch.
func (s *Store) WaitForDecision(ctx context.Context, path string) (*Record, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create escalation dir: %w", err)
	}
	if err := watcher.Add(s.Dir()); err != nil {
		return nil, fmt.Errorf("watch %s: %w", s.Dir(), err)
	}

	// The decision may already be on disk.
	if rec, err := s.Load(path); err == nil && rec.Status == StatusResolved {
		return rec, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			if ev.Name != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			rec, err := s.Load(path)
			if err != nil {
				// Mid-rewrite reads can fail; the next event retries.
				continue
			}
			if rec.Status == StatusResolved {
				return rec, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			return nil, fmt.Errorf("watch escalation: %w", err)
		}
	}
}
