// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korugfx/backend/headless"
	"github.com/devblok/korugfx/core"
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/utility/queue"
)

func newDispatcher(c *qt.C, dev gfx.Device, threads int) *core.Dispatcher {
	d, err := core.NewDispatcher(dev, threads)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { d.Close() })
	return d
}

func names(results []core.Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Pass.Name())
	}
	sort.Strings(out)
	return out
}

func TestDispatchFrame(t *testing.T) {
	c := qt.New(t)
	s := newScene(c)
	d := newDispatcher(c, s.dev, 2)
	c.Assert(d.Threads(), qt.HasLen, 2)

	shadow := s.pass(c, "passes/shadow.yaml")
	opaque := s.pass(c, "passes/opaque.yaml")
	for frame := 0; frame < 3; frame++ {
		c.Assert(shadow.ScheduleModel(s.shadow, s.quad, glm.Ident4()), qt.IsNil)
		c.Assert(opaque.ScheduleModel(s.crate, s.quad, glm.Ident4()), qt.IsNil)
		c.Assert(opaque.ScheduleModel(s.crate, s.triangle, glm.Ident4()), qt.IsNil)

		c.Assert(d.Dispatch(shadow, opaque), qt.IsNil)
		results := d.Wait()
		c.Assert(names(results), qt.DeepEquals, []string{"Opaque", "Shadow"})
		for _, r := range results {
			c.Assert(r.Err, qt.IsNil)
		}
		for _, th := range d.Threads() {
			c.Assert(th.Processed(), qt.IsTrue)
		}
		c.Assert(shadow.Stats().Draws, qt.Equals, 1)
		c.Assert(opaque.Stats().Draws, qt.Equals, 2)
	}
	var built uint64
	for _, th := range d.Threads() {
		built += th.Built()
	}
	c.Assert(built, qt.Equals, uint64(6))
}

func TestWaitWithoutDispatch(t *testing.T) {
	c := qt.New(t)
	s := newScene(c)
	d := newDispatcher(c, s.dev, 1)
	c.Assert(d.Wait(), qt.HasLen, 0)
}

func TestDispatchReportsFailure(t *testing.T) {
	c := qt.New(t)
	s := newScene(c)
	d := newDispatcher(c, s.dev, 2)

	failure := errors.New("out of memory")
	broken := s.pass(c, "passes/shadow.yaml")
	broken.SetUpdate(func(*core.RenderPass) error { return failure })
	panicking := s.pass(c, "passes/opaque.yaml")
	panicking.SetUpdate(func(*core.RenderPass) error { panic("boom") })
	good := s.pass(c, "passes/opaque.yaml")

	c.Assert(d.Dispatch(broken, panicking, good), qt.IsNil)
	results := d.Wait()
	c.Assert(results, qt.HasLen, 3)
	for _, r := range results {
		switch r.Pass {
		case broken:
			c.Assert(errors.Is(r.Err, failure), qt.IsTrue)
		case panicking:
			c.Assert(errors.Is(r.Err, core.ErrHandlerPanic), qt.IsTrue)
		case good:
			c.Assert(r.Err, qt.IsNil)
		}
	}
	for _, th := range d.Threads() {
		c.Assert(th.Alive(), qt.IsTrue)
	}
}

func TestDispatcherClose(t *testing.T) {
	c := qt.New(t)
	s := newScene(c)
	d, err := core.NewDispatcher(s.dev, 2)
	c.Assert(err, qt.IsNil)

	c.Assert(d.Close(), qt.IsNil)
	c.Assert(d.Close(), qt.IsNil)
	for _, th := range d.Threads() {
		c.Assert(th.Alive(), qt.IsFalse)
	}
	c.Assert(d.Dispatch(s.pass(c, "passes/shadow.yaml")), qt.Equals, core.ErrDispatcherClosed)
}

func TestDispatcherNeedsDevice(t *testing.T) {
	c := qt.New(t)
	_, err := core.NewDispatcher(headless.NewDevice(gfx.Config{}), 2)
	c.Assert(errors.Is(err, headless.ErrNotInitialised), qt.IsTrue)
}

type recorder struct {
	mutex sync.Mutex
	done  []error
	seen  chan struct{}
}

func (r *recorder) Done(pass *core.RenderPass, err error) {
	r.mutex.Lock()
	r.done = append(r.done, err)
	r.mutex.Unlock()
	r.seen <- struct{}{}
}

func TestRenderThreadSuspend(t *testing.T) {
	c := qt.New(t)
	s := newScene(c)
	jobs := queue.New[*core.RenderPass]()
	th := core.NewRenderThread(7, s.dev)
	rec := &recorder{seen: make(chan struct{}, 4)}
	c.Assert(th.Start(rec, jobs), qt.IsNil)
	c.Assert(th.Start(rec, jobs), qt.IsNil)
	c.Assert(th.ID(), qt.Equals, 7)

	// suspend while the first pass is recorded so the worker parks
	// before taking the next job
	entered, resume := make(chan struct{}), make(chan struct{})
	first := s.pass(c, "passes/shadow.yaml")
	first.SetUpdate(func(*core.RenderPass) error {
		close(entered)
		<-resume
		return nil
	})
	c.Assert(jobs.Push(first), qt.IsNil)
	<-entered
	th.Suspend()
	close(resume)
	<-rec.seen

	c.Assert(jobs.Push(s.pass(c, "passes/shadow.yaml")), qt.IsNil)
	select {
	case <-rec.seen:
		c.Fatal("suspended thread recorded a pass")
	case <-time.After(50 * time.Millisecond):
	}
	c.Assert(jobs.Len(), qt.Equals, 1)

	th.Notify()
	select {
	case <-rec.seen:
	case <-time.After(5 * time.Second):
		c.Fatal("thread did not resume")
	}
	c.Assert(th.Built(), qt.Equals, uint64(2))

	c.Assert(th.Kill(), qt.IsNil)
	c.Assert(th.Kill(), qt.IsNil)
	c.Assert(th.Alive(), qt.IsFalse)
	c.Assert(rec.done, qt.DeepEquals, []error{nil, nil})
}

func TestRenderThreadKillWhileSuspended(t *testing.T) {
	c := qt.New(t)
	s := newScene(c)
	th := core.NewRenderThread(0, s.dev)
	c.Assert(th.Start(&recorder{seen: make(chan struct{}, 1)}, queue.New[*core.RenderPass]()), qt.IsNil)
	th.Suspend()

	killed := make(chan error)
	go func() { killed <- th.Kill() }()
	select {
	case err := <-killed:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("kill did not interrupt the idle thread")
	}
}
