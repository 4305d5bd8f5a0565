// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports files deposited into watched directories by the
// external engine (new seeds, new crashers) on a channel. The filter,
// when set, must return true for a path to be reported.
type Watcher struct {
	ctx     context.Context
	notifyC chan<- string
	filter  func(string) bool
	logger  *zap.Logger

	watcher *fsnotify.Watcher
}

// NewWatcher starts watching; it closes notifyC when ctx is done or
// the underlying watcher dies.
func NewWatcher(ctx context.Context, notifyC chan<- string, filter func(string) bool, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("runner: create watcher: %w", err)
	}
	w := &Watcher{
		ctx:     ctx,
		notifyC: notifyC,
		filter:  filter,
		logger:  logger,
		watcher: fw,
	}
	go w.watch()
	return w, nil
}

// AddDir adds a directory to the watch list.
func (w *Watcher) AddDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("runner: resolve %v: %w", dir, err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("runner: watch dir: %w", err)
	}
	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("runner: watch %v: %w", absDir, err)
	}
	w.logger.Debug("watching directory", zap.String("dir", absDir))
	return nil
}

func (w *Watcher) watch() {
	defer w.watcher.Close()
	defer close(w.notifyC)
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if w.filter != nil && !w.filter(event.Name) {
				w.logger.Debug("file ignored by filter", zap.String("file", event.Name))
				continue
			}
			select {
			case w.notifyC <- event.Name:
			case <-w.ctx.Done():
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}
