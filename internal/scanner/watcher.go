package scanner

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/skeinsync/skein/internal/models"
)

// Watch streams incremental filesystem events until ctx is cancelled.
// Write/create notifications become observed events; removes and
// renames become vanished events. Events carry no scan generation;
// the consumer stamps one on receipt, keeping the scan sequence off
// this goroutine. The full scan pass remains the source of truth; the
// watcher only shortens latency.
func (s *Scanner) Watch(ctx context.Context) (<-chan models.LocalEvent, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch every directory in the tree; fsnotify is not recursive.
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})
	if err != nil {
		w.Close()
		return nil, err
	}

	out := make(chan models.LocalEvent, 64)
	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				s.dispatch(w, ev, out)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.WithError(err).Warn("Watcher error")
			}
		}
	}()
	return out, nil
}

func (s *Scanner) dispatch(w *fsnotify.Watcher, ev fsnotify.Event, out chan<- models.LocalEvent) {
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		rel, err := filepath.Rel(s.root, ev.Name)
		if err != nil {
			rel = ev.Name
		}
		out <- models.LocalEvent{
			Type: models.LocalEntryVanished,
			Path: filepath.ToSlash(rel),
			Name: filepath.Base(ev.Name),
		}
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		obs, err := s.observe(ev.Name, 0)
		if err != nil {
			s.logger.WithError(err).WithField("path", ev.Name).Debug("Dropping unreadable watch event")
			return
		}
		if obs.NodeType == models.TypeFolder && ev.Op&fsnotify.Create != 0 {
			if err := w.Add(ev.Name); err != nil {
				s.logger.WithError(err).WithField("path", ev.Name).Warn("Cannot watch new directory")
			}
		}
		out <- obs
	}
}
