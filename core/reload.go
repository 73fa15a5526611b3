// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"

	"github.com/devblok/korugfx/resource"
)

// Reloader swaps freshly loaded objects into async handles whenever the
// file they were loaded from changes
type Reloader struct {
	pool    *ResourcePool
	watcher *resource.Watcher
	options
}

// NewReloader watches the directory source of pool
func NewReloader(pool *ResourcePool, dir *resource.DirSource, opts ...Option) (*Reloader, error) {
	watcher, err := resource.NewWatcher(dir, pool.Library())
	if err != nil {
		return nil, err
	}
	return &Reloader{
		pool:    pool,
		watcher: watcher,
		options: newOptions("reloader", opts),
	}, nil
}

// Run reloads until the context is done
func (r *Reloader) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for file := range r.watcher.Changes() {
			if n := r.pool.Reload(file); n > 0 {
				r.logger.WithField("file", file).WithField("handles", n).Info("reloading")
			}
		}
	}()
	err := r.watcher.Run(ctx)
	<-done
	return err
}
