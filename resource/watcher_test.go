// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugfx/resource"
)

func TestWatcherReportsWrites(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	c.Assert(os.Mkdir(filepath.Join(dir, "materials"), 0o755), qt.IsNil)
	file := filepath.Join(dir, "materials", "m.yaml")
	c.Assert(os.WriteFile(file, []byte("name: a\npipeline: p.yaml\n"), 0o644), qt.IsNil)

	src := resource.NewDirSource(dir)
	lib := resource.NewLibrary(src)
	_, err := lib.Material("materials/m.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(lib.Len(), qt.Equals, 1)

	w, err := resource.NewWatcher(src, lib)
	c.Assert(err, qt.IsNil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	c.Assert(os.WriteFile(file, []byte("name: b\npipeline: p.yaml\n"), 0o644), qt.IsNil)
	select {
	case name := <-w.Changes():
		c.Assert(name, qt.Equals, "materials/m.yaml")
	case <-time.After(5 * time.Second):
		c.Fatal("no change reported")
	}
	c.Assert(lib.Len(), qt.Equals, 0)

	cancel()
	c.Assert(<-done, qt.IsNil)
	for range w.Changes() {
	}
}
