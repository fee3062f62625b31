// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes views when their archives change on disk, instead of
// waiting for the next query to notice.
//
// Jar files are watched through their parent directory so that
// replace-by-rename is seen. Class directories are watched recursively.
type Watcher struct {
	e        *Engine
	fw       *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	roots map[string]bool

	changed  chan string
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for e and attaches it, so archives of views
// opened from now on are watched. A zero debounce means 200ms.
func NewWatcher(e *Engine, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w := &Watcher{
		e:        e,
		fw:       fw,
		debounce: debounce,
		logger:   e.logger,
		roots:    make(map[string]bool),
		changed:  make(chan string, 256),
		done:     make(chan struct{}),
	}
	e.mu.Lock()
	e.watch = w
	e.mu.Unlock()
	return w, nil
}

// Add watches an archive path. A path is only registered once its watch
// is in place, so a failed Add can be retried.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	watched := w.roots[path]
	w.mu.Unlock()
	if watched {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		err = w.fw.Add(filepath.Dir(path))
	} else {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			return w.fw.Add(p)
		})
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[path] = true
	w.mu.Unlock()
	return nil
}

// root maps an event path to the watched archive it belongs to.
func (w *Watcher) root(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for r := range w.roots {
		if name == r || strings.HasPrefix(name, r+string(filepath.Separator)) {
			return r, true
		}
	}
	return "", false
}

// Start processes events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

// Stop ends event processing and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fw.Close()
		w.e.mu.Lock()
		if w.e.watch == w {
			w.e.watch = nil
		}
		w.e.mu.Unlock()
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			r, ok := w.root(event.Name)
			if !ok {
				continue
			}
			// New package directories inside a class directory.
			if event.Has(fsnotify.Create) && r != event.Name {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fw.Add(event.Name)
				}
			}
			select {
			case w.changed <- r:
			default:
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("archive watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]bool)
	var timerC <-chan time.Time

	flush := func() {
		for path := range pending {
			n := w.e.Refresh(ctx, path)
			w.logger.Debug("archive change handled",
				slog.String("archive", path),
				slog.Int("views", n))
		}
		clear(pending)
		timerC = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changed:
			pending[path] = true
			if timerC == nil {
				timerC = time.After(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}
