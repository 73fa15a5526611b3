// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reports changed resource files of a directory source and
// drops their stale descriptions from the library.
type Watcher struct {
	dir     *DirSource
	lib     *Library
	notify  *fsnotify.Watcher
	changes chan string
	logger  *log.Entry
}

// NewWatcher watches every directory under the source root
func NewWatcher(dir *DirSource, lib *Library) (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:     dir,
		lib:     lib,
		notify:  notify,
		changes: make(chan string, 16),
		logger:  log.WithField("component", "watcher"),
	}
	if err := w.addTree(dir.Root()); err != nil {
		notify.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.notify.Add(p)
		}
		return nil
	})
}

// Changes delivers resource names after their file was written or created.
// Closed when Run returns.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run forwards file events until the context is done
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.notify.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.notify.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")
		case ev, ok := <-w.notify.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.WithError(err).Warn("cannot watch new directory")
				}
				continue
			}
			name, ok := w.dir.Name(ev.Name)
			if !ok {
				continue
			}
			w.lib.Invalidate(name)
			select {
			case w.changes <- name:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
