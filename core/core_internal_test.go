// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugfx/backend/headless"
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

type stubObject struct {
	name     string
	released atomic.Int32
}

func (s *stubObject) Release() {
	s.released.Add(1)
}

func newThread(c *qt.C, opts ...Option) *ResourceThread {
	dev := headless.NewDevice(gfx.Config{})
	c.Assert(dev.Initialise(), qt.IsNil)
	th := NewResourceThread(dev, resource.NewLibrary(resource.NewDirSource("../assets")), opts...)
	c.Assert(th.Start(), qt.IsNil)
	c.Cleanup(func() { th.Kill() })
	return th
}

func within(c *qt.C, d time.Duration, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		c.Fatal("deadlocked")
	}
}

func TestRequestCompletesOnce(t *testing.T) {
	c := qt.New(t)
	r := NewRequest(TypeTexture, "a.png")
	c.Assert(r.Completed(), qt.IsFalse)
	c.Assert(r.Object(), qt.IsNil)

	var calls int
	r.onComplete = func(*Request) { calls++ }
	obj := &stubObject{name: "a"}
	c.Assert(r.complete(obj, nil), qt.IsTrue)
	c.Assert(r.complete(nil, errors.New("late")), qt.IsFalse)
	<-r.Done()
	c.Assert(r.Object(), qt.Equals, gfx.Releasable(obj))
	c.Assert(r.Err(), qt.IsNil)
	c.Assert(calls, qt.Equals, 1)

	_, err := Output[gfx.Texture](r)
	c.Assert(errors.Is(err, ErrUnsupportedType), qt.IsTrue)
}

func TestTypeOf(t *testing.T) {
	c := qt.New(t)
	c.Assert(TypeOf[gfx.Texture](), qt.Equals, TypeTexture)
	c.Assert(TypeOf[gfx.Material](), qt.Equals, TypeMaterial)
	c.Assert(TypeOf[gfx.RootLayout](), qt.Equals, TypeRootLayout)
	c.Assert(TypeOf[gfx.Pipeline](), qt.Equals, TypePipeline)
	c.Assert(TypeOf[gfx.Shader](), qt.Equals, TypeShader)
	c.Assert(TypeOf[gfx.RenderPass](), qt.Equals, TypeRenderPass)
	c.Assert(TypeOf[gfx.RenderTarget](), qt.Equals, TypeRenderTarget)
	c.Assert(TypeOf[gfx.Mesh](), qt.Equals, TypeMesh)
	c.Assert(TypeOf[gfx.Releasable](), qt.Equals, TypeUnknown)
	c.Assert(TypeMesh.String(), qt.Equals, "mesh")
}

func TestObjectCacheRefs(t *testing.T) {
	c := qt.New(t)
	cache := newObjectCache()
	layout := &stubObject{name: "layout"}
	pipe := &stubObject{name: "pipe"}
	lk := objectKey{TypeRootLayout, "l"}
	pk := objectKey{TypePipeline, "p"}

	cache.insert(lk, layout, nil)
	cache.insert(pk, pipe, []objectKey{lk})
	_, ok := cache.acquire(pk)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cache.refs(pk), qt.Equals, 2)

	cache.release(pk)
	c.Assert(pipe.released.Load(), qt.Equals, int32(0))
	cache.release(pk)
	c.Assert(pipe.released.Load(), qt.Equals, int32(1))
	c.Assert(layout.released.Load(), qt.Equals, int32(1))
	c.Assert(cache.len(), qt.Equals, 0)
	c.Assert(cache.release(pk), qt.IsFalse)

	cache.insert(lk, layout, nil)
	cache.insert(pk, pipe, []objectKey{lk})
	c.Assert(cache.releaseAll(), qt.Equals, 2)
	c.Assert(layout.released.Load(), qt.Equals, int32(2))
}

func TestFIFOOrder(t *testing.T) {
	c := qt.New(t)
	th := newThread(c)
	var order []string
	th.handlers[TypeShader] = func(file string, _ *dependencies) (gfx.Releasable, error) {
		order = append(order, file)
		return &stubObject{name: file}, nil
	}

	var want []string
	for i := 0; i < 16; i++ {
		file := fmt.Sprintf("sync%02d", i)
		want = append(want, file)
		c.Assert(th.Load(NewRequest(TypeShader, file)), qt.IsNil)
	}

	var requests []*Request
	for i := 0; i < 64; i++ {
		file := fmt.Sprintf("async%02d", i)
		want = append(want, file)
		r := NewRequest(TypeShader, file)
		c.Assert(th.LoadAsync(r), qt.IsNil)
		requests = append(requests, r)
	}
	for _, r := range requests {
		<-r.Done()
	}
	c.Assert(order, qt.DeepEquals, want)
	c.Assert(th.Stats().Processed, qt.Equals, uint64(80))
}

func TestReentrantLoad(t *testing.T) {
	c := qt.New(t)
	th := newThread(c)
	var locked []bool
	th.handlers[TypeShader] = func(file string, _ *dependencies) (gfx.Releasable, error) {
		locked = append(locked, th.IsLocked())
		return &stubObject{name: file}, nil
	}
	th.handlers[TypeTexture] = func(file string, d *dependencies) (gfx.Releasable, error) {
		locked = append(locked, th.IsLocked())
		inner := NewRequest(TypeShader, "inner")
		if err := d.thread.Load(inner); err != nil {
			return nil, err
		}
		locked = append(locked, th.IsLocked(), inner.Completed())
		return &stubObject{name: file}, nil
	}

	within(c, 5*time.Second, func() {
		c.Check(th.Load(NewRequest(TypeTexture, "outer")), qt.IsNil)
	})
	c.Assert(locked, qt.DeepEquals, []bool{true, true, true, true})
	c.Assert(th.IsLocked(), qt.IsFalse)
}

func TestKillFromWorker(t *testing.T) {
	c := qt.New(t)
	th := newThread(c)
	var killErr error
	th.handlers[TypeShader] = func(file string, _ *dependencies) (gfx.Releasable, error) {
		killErr = th.Kill()
		return &stubObject{name: file}, nil
	}
	within(c, 5*time.Second, func() {
		c.Check(th.Load(NewRequest(TypeShader, "s")), qt.IsNil)
	})
	c.Assert(killErr, qt.Equals, ErrKillFromWorker)
	c.Assert(th.Alive(), qt.IsTrue)
}

func TestHandlerPanic(t *testing.T) {
	c := qt.New(t)
	th := newThread(c)
	th.handlers[TypeShader] = func(file string, _ *dependencies) (gfx.Releasable, error) {
		if file == "bad" {
			panic("boom")
		}
		return &stubObject{name: file}, nil
	}
	r := NewRequest(TypeShader, "bad")
	err := th.Load(r)
	c.Assert(errors.Is(err, ErrHandlerPanic), qt.IsTrue)
	c.Assert(r.Object(), qt.IsNil)

	c.Assert(th.Load(NewRequest(TypeShader, "good")), qt.IsNil)
	c.Assert(th.Stats().Failed, qt.Equals, uint64(1))
}

func TestUnsupportedType(t *testing.T) {
	c := qt.New(t)
	th := newThread(c)
	err := th.Load(NewRequest(TypeUnknown, "x"))
	c.Assert(errors.Is(err, ErrUnsupportedType), qt.IsTrue)
}

func TestKillFailsQueuedRequests(t *testing.T) {
	c := qt.New(t)
	th := newThread(c)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	th.handlers[TypeShader] = func(file string, _ *dependencies) (gfx.Releasable, error) {
		if file == "block" {
			close(entered)
			<-unblock
		}
		return &stubObject{name: file}, nil
	}

	blocked := NewRequest(TypeShader, "block")
	c.Assert(th.LoadAsync(blocked), qt.IsNil)
	<-entered

	var queued []*Request
	for i := 0; i < 8; i++ {
		r := NewRequest(TypeShader, fmt.Sprintf("q%d", i))
		c.Assert(th.LoadAsync(r), qt.IsNil)
		queued = append(queued, r)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Check(th.Kill(), qt.IsNil)
	}()
	for th.Alive() {
		time.Sleep(time.Millisecond)
	}
	close(unblock)

	within(c, 5*time.Second, wg.Wait)
	<-blocked.Done()
	c.Assert(blocked.Err(), qt.IsNil)
	for _, r := range queued {
		<-r.Done()
		if err := r.Err(); err != nil {
			c.Assert(err, qt.Equals, ErrKilled)
		}
	}
	c.Assert(th.Stats().Queued, qt.Equals, 0)
}

func TestAssertWorkerDebug(t *testing.T) {
	c := qt.New(t)
	th := newThread(c, WithDebug(true))
	c.Assert(func() { th.AssertWorker("CreateTexture") }, qt.PanicMatches, "CreateTexture: .*off the resource worker thread")
}
