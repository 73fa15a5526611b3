// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korugfx/backend/headless"
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

func newDevice(c *qt.C) *headless.Device {
	dev, err := gfx.Open("headless", gfx.Config{})
	c.Assert(err, qt.IsNil)
	c.Assert(dev.Initialise(), qt.IsNil)
	return dev.(*headless.Device)
}

func TestUninitialised(t *testing.T) {
	c := qt.New(t)
	dev := headless.NewDevice(gfx.Config{})
	_, err := dev.NewResourceContext()
	c.Assert(err, qt.Equals, headless.ErrNotInitialised)
	_, err = dev.NewCommandPool()
	c.Assert(err, qt.Equals, headless.ErrNotInitialised)
	c.Assert(dev.DeviceInfo()[0].Name, qt.Equals, "Headless")
}

func TestCreateAndRelease(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	lib := resource.NewLibrary(resource.NewDirSource("../../assets"))
	ctx, err := dev.NewResourceContext()
	c.Assert(err, qt.IsNil)

	var kinds []string
	dev.SetHooks(headless.Hooks{BeforeCreate: func(kind, name string) error {
		kinds = append(kinds, kind)
		if name == "textures/noise.png" {
			return errors.New("out of memory")
		}
		return nil
	}})

	desc, err := lib.Texture("textures/crate.png")
	c.Assert(err, qt.IsNil)
	tex, err := ctx.CreateTexture(desc)
	c.Assert(err, qt.IsNil)
	w, h := tex.Size()
	c.Assert([]int{w, h}, qt.DeepEquals, []int{16, 16})

	noise, err := lib.Texture("textures/noise.png")
	c.Assert(err, qt.IsNil)
	_, err = ctx.CreateTexture(noise)
	c.Assert(err, qt.ErrorMatches, "out of memory")

	meshDesc, err := lib.Mesh("meshes/quad.dae")
	c.Assert(err, qt.IsNil)
	mesh, err := ctx.CreateMesh(meshDesc)
	c.Assert(err, qt.IsNil)
	c.Assert(mesh.VertexCount(), qt.Equals, 6)

	c.Assert(dev.Live(), qt.Equals, 2)
	c.Assert(kinds, qt.DeepEquals, []string{"texture", "texture", "mesh"})

	tex.Release()
	tex.Release()
	c.Assert(dev.Live(), qt.Equals, 1)
	mesh.Release()
	c.Assert(dev.Live(), qt.Equals, 0)

	ctx.Release()
	_, err = ctx.CreateMesh(meshDesc)
	c.Assert(err, qt.Equals, gfx.ErrReleased)
}

func TestRecording(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	lib := resource.NewLibrary(resource.NewDirSource("../../assets"))
	ctx, err := dev.NewResourceContext()
	c.Assert(err, qt.IsNil)

	passDesc, err := lib.RenderPass("passes/opaque.yaml")
	c.Assert(err, qt.IsNil)
	pass, err := ctx.CreateRenderPass(passDesc, nil)
	c.Assert(err, qt.IsNil)
	layout, err := ctx.CreateRootLayout(&resource.RootLayout{Name: "l"})
	c.Assert(err, qt.IsNil)
	pipe, err := ctx.CreatePipeline(&resource.Pipeline{Name: "p"}, layout, nil)
	c.Assert(err, qt.IsNil)
	mat, err := ctx.CreateMaterial(&resource.Material{Name: "m"}, pipe, nil)
	c.Assert(err, qt.IsNil)
	meshDesc, err := lib.Mesh("meshes/triangle.dae")
	c.Assert(err, qt.IsNil)
	mesh, err := ctx.CreateMesh(meshDesc)
	c.Assert(err, qt.IsNil)

	pool, err := dev.NewCommandPool()
	c.Assert(err, qt.IsNil)
	_, err = pool.Allocate()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(pool.Initialise(), qt.IsNil)

	list, err := pool.Allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(list.BindPipeline(pipe), qt.Equals, gfx.ErrNotRecording)

	c.Assert(list.Begin(pass, glm.Ident4(), glm.Ident4()), qt.IsNil)
	c.Assert(list.BindPipeline(pipe), qt.IsNil)
	c.Assert(list.BindMaterial(mat), qt.IsNil)
	c.Assert(list.SetInstanceData(make([]byte, 128)), qt.IsNil)
	c.Assert(list.DrawInstanced(mesh, 2), qt.IsNil)
	c.Assert(dev.Submit([]gfx.CommandList{list}), qt.Not(qt.IsNil))
	c.Assert(list.End(), qt.IsNil)

	cl := list.(*headless.CommandList)
	c.Assert(cl.Pass(), qt.Equals, "Opaque")
	c.Assert(cl.Count(headless.OpBindPipeline), qt.Equals, 1)
	c.Assert(cl.Draws(), qt.DeepEquals, []headless.Command{{Op: headless.OpDraw, Name: "meshes/triangle.dae", Instances: 2}})

	c.Assert(dev.Submit([]gfx.CommandList{list}), qt.IsNil)
	c.Assert(dev.Present(), qt.IsNil)
	c.Assert(dev.Submitted(), qt.HasLen, 1)
	c.Assert(dev.Presented(), qt.Equals, 1)

	mesh.Release()
	c.Assert(list.Begin(pass, glm.Ident4(), glm.Ident4()), qt.IsNil)
	c.Assert(list.DrawInstanced(mesh, 1), qt.Equals, gfx.ErrReleased)

	c.Assert(pool.Reset(), qt.IsNil)
	pool.Release()
	_, err = pool.Allocate()
	c.Assert(err, qt.Equals, gfx.ErrReleased)
}
