// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugfx/backend/headless"
	"github.com/devblok/korugfx/core"
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

func TestInitialize(t *testing.T) {
	c := qt.New(t)
	pool := core.NewResourcePool(resource.NewDirSource("../assets"))
	c.Assert(pool.Initialize(nil), qt.Equals, core.ErrNilDevice)

	_, err := pool.RequestShader("shaders/basic.vert")
	c.Assert(err, qt.Equals, core.ErrNotInitialized)
	c.Assert(pool.IsLocked(), qt.IsFalse)

	dev := newDevice(c)
	c.Assert(pool.Initialize(dev), qt.IsNil)
	c.Assert(pool.Initialize(dev), qt.Equals, core.ErrAlreadyInitialized)
	c.Assert(pool.Placeholder(), qt.Not(qt.IsNil))
	c.Assert(pool.Default(), qt.Not(qt.IsNil))
	c.Assert(dev.Live(), qt.Equals, baseline)

	c.Assert(pool.DeInitialize(), qt.IsNil)
	c.Assert(pool.DeInitialize(), qt.IsNil)
	c.Assert(dev.Live(), qt.Equals, 0)

	c.Assert(pool.Initialize(dev), qt.IsNil)
	c.Assert(pool.DeInitialize(), qt.IsNil)
}

func TestInitializeWithoutContext(t *testing.T) {
	c := qt.New(t)
	pool := core.NewResourcePool(resource.NewDirSource("../assets"))
	err := pool.Initialize(headless.NewDevice(gfx.Config{}))
	c.Assert(errors.Is(err, headless.ErrNotInitialised), qt.IsTrue)
	c.Assert(pool.Thread(), qt.IsNil)
}

// A synchronous shader load from the main goroutine blocks until the
// worker created it.
func TestLoadShaderFromMain(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)

	shader, err := pool.RequestShader("shaders/basic.vert")
	c.Assert(err, qt.IsNil)
	c.Assert(shader, qt.Not(qt.IsNil))
	c.Assert(shader.Stage(), qt.Equals, resource.StageVertex)
	c.Assert(pool.Thread().Processing(), qt.IsFalse)
}

func TestOutputWrittenOnce(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)

	good := core.NewRequest(core.TypeMesh, "meshes/quad.dae")
	c.Assert(pool.Thread().Load(good), qt.IsNil)
	c.Assert(good.Object(), qt.Not(qt.IsNil))

	for _, file := range []string{"meshes/missing.dae", "materials/crate.yaml"} {
		bad := core.NewRequest(core.TypeMesh, file)
		err := pool.Thread().Load(bad)
		c.Assert(errors.Is(err, core.ErrInvalidHandle), qt.IsTrue, qt.Commentf(file))
		c.Assert(bad.Object(), qt.IsNil)
	}
}

func TestRequestEveryType(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)

	layout, err := pool.RequestRootLayout("layouts/basic.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(layout, qt.Not(qt.IsNil))

	pipe, err := pool.RequestPipeline("pipelines/opaque.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(pipe.Layout(), qt.Equals, layout)
	c.Assert(pipe.(*headless.Pipeline).Shaders(), qt.HasLen, 2)

	mat, err := pool.RequestMaterial("materials/crate.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(mat.Pipeline(), qt.Equals, pipe)
	c.Assert(mat.(*headless.Material).Textures(), qt.HasLen, 1)

	tex, err := pool.RequestTexture("textures/crate.png")
	c.Assert(err, qt.IsNil)
	c.Assert(mat.(*headless.Material).Textures()[0], qt.Equals, tex)

	target, err := pool.RequestRenderTarget("targets/color.yaml")
	c.Assert(err, qt.IsNil)
	w, h := target.Size()
	c.Assert([]int{w, h}, qt.DeepEquals, []int{1280, 720})

	pass, err := pool.RequestRenderPass("passes/opaque.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(pass.Targets(), qt.HasLen, 2)
	c.Assert(pass.Targets()[0], qt.Equals, target)

	mesh, err := core.RequestOf[gfx.Mesh](pool, "meshes/triangle.dae")
	c.Assert(err, qt.IsNil)
	c.Assert(mesh.VertexCount(), qt.Equals, 3)

	// layout, 2 shaders, pipeline, material, texture, 2 targets, pass, mesh
	c.Assert(dev.Live(), qt.Equals, baseline+10)
}

func TestBrokenDescriptions(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)

	_, err := pool.RequestMaterial("materials/broken.yaml")
	c.Assert(errors.Is(err, core.ErrInvalidHandle), qt.IsTrue)

	// the layout loads, the broken shader fails and the layout is released again
	_, err = pool.RequestPipeline("pipelines/broken.yaml")
	c.Assert(errors.Is(err, core.ErrInvalidHandle), qt.IsTrue)
	c.Assert(dev.Live(), qt.Equals, baseline)
	c.Assert(pool.Thread().Stats().Failed > 0, qt.IsTrue)
}

func TestBackendFailure(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)
	failure := errors.New("device lost")
	dev.SetHooks(headless.Hooks{BeforeCreate: func(kind, name string) error {
		if kind == "material" {
			return failure
		}
		return nil
	}})

	mat, err := pool.RequestMaterial("materials/crate.yaml")
	c.Assert(errors.Is(err, failure), qt.IsTrue)
	c.Assert(mat, qt.IsNil)
	c.Assert(dev.Live(), qt.Equals, baseline)
}

func TestNestedLoadsRunOnWorker(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)
	var (
		mutex sync.Mutex
		kinds []string
	)
	dev.SetHooks(headless.Hooks{BeforeCreate: func(kind, name string) error {
		mutex.Lock()
		defer mutex.Unlock()
		if !pool.IsLocked() {
			return errors.New(kind + " created off the worker")
		}
		kinds = append(kinds, kind)
		return nil
	}})

	_, err := pool.RequestMaterial("materials/noise.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(kinds, qt.DeepEquals, []string{"root_layout", "shader", "shader", "pipeline", "texture", "material"})
}

func TestSharedReferences(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)

	first, err := pool.RequestMaterial("materials/crate.yaml")
	c.Assert(err, qt.IsNil)
	second, err := pool.RequestMaterial("materials/crate.yaml")
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.Equals, first)
	live := dev.Live()

	c.Assert(pool.Release(core.TypeMaterial, "materials/crate.yaml"), qt.IsNil)
	c.Assert(dev.Live(), qt.Equals, live)
	c.Assert(pool.Release(core.TypeMaterial, "materials/crate.yaml"), qt.IsNil)
	c.Assert(dev.Live(), qt.Equals, baseline)
	c.Assert(first.(*headless.Material).Released(), qt.IsTrue)
}

func TestKillIsIdempotent(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)
	th := pool.Thread()

	c.Assert(th.Kill(), qt.IsNil)
	c.Assert(th.Kill(), qt.IsNil)
	c.Assert(th.Alive(), qt.IsFalse)
	c.Assert(dev.Live(), qt.Equals, 0)

	r := core.NewRequest(core.TypeShader, "shaders/basic.vert")
	c.Assert(th.Load(r), qt.Equals, core.ErrNotRunning)
	c.Assert(r.Completed(), qt.IsTrue)
	c.Assert(th.LoadAsync(core.NewRequest(core.TypeShader, "x")), qt.Equals, core.ErrNotRunning)
	c.Assert(th.Start(), qt.Equals, core.ErrKilled)
}

func TestAssertWorker(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)
	c.Assert(pool.Thread().AssertWorker("CreateMesh"), qt.Equals, core.ErrWrongThread)
}

func TestConcurrentRequests(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)
	files := []string{"materials/crate.yaml", "materials/noise.yaml", "materials/shadow.yaml"}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			_, err := pool.RequestMaterial(file)
			c.Check(err, qt.IsNil)
		}(files[i%len(files)])
	}
	wg.Wait()
	// 3 materials, 2 pipelines, 1 layout, 3 shaders, 2 textures
	c.Assert(dev.Live(), qt.Equals, baseline+11)
	c.Assert(pool.Thread().Stats().Processed >= 12, qt.IsTrue)
}

func TestTextureAsync(t *testing.T) {
	c := qt.New(t)
	pool, dev := newPool(c)
	gate := make(chan struct{})
	dev.SetHooks(headless.Hooks{BeforeCreate: func(kind, name string) error {
		if name == "textures/crate.png" {
			<-gate
		}
		return nil
	}})

	swap := pool.RequestTextureAsync(nil, nil, "textures/crate.png")
	c.Assert(swap.Current(), qt.Equals, pool.Placeholder())
	c.Assert(swap.Version(), qt.Equals, uint64(0))
	select {
	case <-swap.Ready():
		c.Fatal("ready before the texture was created")
	default:
	}

	close(gate)
	select {
	case <-swap.Ready():
	case <-time.After(5 * time.Second):
		c.Fatal("texture never loaded")
	}
	tex := swap.Current()
	c.Assert(tex, qt.Not(qt.Equals), pool.Placeholder())
	c.Assert(tex.(*headless.Texture).Name(), qt.Equals, "textures/crate.png")
	c.Assert(swap.Version(), qt.Equals, uint64(1))
	c.Assert(swap.Err(), qt.IsNil)
	c.Assert(dev.Live(), qt.Equals, baseline+1)

	swap.Reload()
	waitVersion(c, swap, 2)
	c.Assert(swap.Current(), qt.Not(qt.Equals), tex)
	waitFor(c, func() bool { return pool.Retired() == 1 })
	c.Assert(tex.(*headless.Texture).Released(), qt.IsFalse)
	pool.BeginFrame()
	pool.EndFrame()
	waitFor(c, func() bool { return tex.(*headless.Texture).Released() })

	swap.Release()
	c.Assert(swap.Current(), qt.Equals, pool.Default())
	c.Assert(pool.Retired(), qt.Equals, 1)
	pool.BeginFrame()
	pool.EndFrame()
	waitFor(c, func() bool { return dev.Live() == baseline })
}

func TestRetiredFreedAfterFrame(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)
	swap := pool.RequestTextureAsync(nil, nil, "textures/crate.png")
	<-swap.Ready()
	tex := swap.Current().(*headless.Texture)

	// EndFrame without a BeginFrame since the retirement keeps the object
	swap.Release()
	pool.EndFrame()
	c.Assert(pool.Retired(), qt.Equals, 1)
	pool.BeginFrame()
	c.Assert(tex.Released(), qt.IsFalse)
	pool.EndFrame()
	c.Assert(pool.Retired(), qt.Equals, 0)
	waitFor(c, tex.Released)
}

func TestTextureAsyncFailure(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)
	def := pool.Placeholder()

	swap := pool.RequestTextureAsync(def, nil, "textures/missing.png")
	<-swap.Ready()
	c.Assert(swap.Current(), qt.Equals, def)
	c.Assert(errors.Is(swap.Err(), core.ErrInvalidHandle), qt.IsTrue)
}

func TestMeshAsync(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)
	swap := pool.RequestMeshAsync(nil, nil, "meshes/quad.dae")
	<-swap.Ready()
	c.Assert(swap.Current(), qt.Not(qt.IsNil))
	c.Assert(swap.Current().VertexCount(), qt.Equals, 6)
	c.Assert(swap.File(), qt.Equals, "meshes/quad.dae")
}

func TestAsyncAfterDeInitialize(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c)
	def := pool.Default()
	c.Assert(pool.DeInitialize(), qt.IsNil)

	swap := pool.RequestTextureAsync(def, nil, "textures/crate.png")
	<-swap.Ready()
	c.Assert(swap.Current(), qt.Equals, def)
	c.Assert(swap.Err(), qt.Equals, core.ErrNotInitialized)
}

func waitVersion[T gfx.Releasable](c *qt.C, s *core.Swap[T], version uint64) {
	waitFor(c, func() bool { return s.Version() >= version })
}

func waitFor(c *qt.C, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
