// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-syncs corpus files as they change on disk.
//
// # Description
//
// Watches a corpus directory and pushes each changed file through the
// Syncer after a debounce window, so an editor writing a policy file in
// several bursts triggers one sync. Removed files are dropped from the
// search index.
//
// # Limitations
//
//   - Subdirectories created after Run starts are not watched.
type Watcher struct {
	syncer   *Syncer
	root     string
	debounce time.Duration
}

// NewWatcher creates a Watcher over root.
func NewWatcher(syncer *Syncer, root string, debounce time.Duration) (*Watcher, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer must not be nil")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{syncer: syncer, root: root, debounce: debounce}, nil
}

// Run watches until ctx is done. Blocking.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating corpus watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.root); err != nil {
		return fmt.Errorf("watching corpus dir %s: %w", w.root, err)
	}
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching corpus subdirs: %w", err)
	}

	slog.Info("Watching corpus directory", "root", w.root, "debounce", w.debounce)

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for path, op := range pending {
			w.apply(ctx, path, op)
		}
		pending = make(map[string]fsnotify.Op)
		timerC = nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			flush()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Corpus watcher error", "error", err)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, path string, op fsnotify.Op) {
	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		if err := w.syncer.RemoveFile(ctx, w.root, path); err != nil {
			slog.Warn("Failed to remove corpus file from index", "path", path, "error", err)
		} else {
			slog.Info("Removed corpus file from index", "path", path)
		}
	case op.Has(fsnotify.Create) || op.Has(fsnotify.Write):
		if err := w.syncer.SyncFile(ctx, w.root, path); err != nil {
			slog.Warn("Failed to sync corpus file", "path", path, "error", err)
		} else {
			slog.Info("Synced corpus file", "path", path)
		}
	}
}
