// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugfx/core"
	"github.com/devblok/korugfx/resource"
)

func TestReloaderSwapsChangedTexture(t *testing.T) {
	c := qt.New(t)

	data, err := os.ReadFile("../assets/textures/crate.png")
	c.Assert(err, qt.IsNil)
	root := c.TempDir()
	c.Assert(os.MkdirAll(filepath.Join(root, "textures"), 0755), qt.IsNil)
	file := filepath.Join(root, "textures", "crate.png")
	c.Assert(os.WriteFile(file, data, 0644), qt.IsNil)

	dir := resource.NewDirSource(root)
	pool := core.NewResourcePool(dir)
	c.Assert(pool.Initialize(newDevice(c)), qt.IsNil)
	defer pool.DeInitialize()

	swap := pool.RequestTextureAsync(pool.Default(), pool.Placeholder(), "textures/crate.png")
	defer swap.Release()
	waitVersion(c, swap, 1)
	c.Assert(swap.Err(), qt.IsNil)
	first := swap.Current()

	reloader, err := core.NewReloader(pool, dir)
	c.Assert(err, qt.IsNil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reloader.Run(ctx) }()

	c.Assert(os.WriteFile(file, data, 0644), qt.IsNil)
	waitVersion(c, swap, 2)
	c.Assert(swap.Err(), qt.IsNil)
	c.Assert(swap.Current(), qt.Not(qt.Equals), first)

	cancel()
	c.Assert(<-done, qt.IsNil)
}

func TestReloadWithoutHandles(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)
	c.Assert(pool.Reload("textures/crate.png"), qt.Equals, 0)
}
