// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/utility/queue"
)

// Notifier is told about every pass a render thread finished
type Notifier interface {
	Done(pass *RenderPass, err error)
}

// RenderThread records command lists for render passes it takes from a
// shared job queue. It owns a command pool no other goroutine touches.
type RenderThread struct {
	id     int
	device gfx.Device
	options

	mutex     sync.Mutex
	waitLock  *sync.Cond
	suspended bool
	started   bool
	cancel    context.CancelFunc
	exited    chan struct{}

	notifier Notifier
	jobs     *queue.Queue[*RenderPass]

	// owned by the worker
	pool  gfx.CommandPool
	frame uint64

	alive      atomic.Bool
	processing atomic.Bool
	built      atomic.Uint64
	tid        atomic.Int64
}

// NewRenderThread creates a stopped render thread
func NewRenderThread(id int, device gfx.Device, opts ...Option) *RenderThread {
	t := &RenderThread{
		id:      id,
		device:  device,
		options: newOptions("render_thread", opts),
	}
	t.logger = t.logger.WithField("thread", id)
	t.waitLock = sync.NewCond(&t.mutex)
	return t
}

// ID of the thread
func (t *RenderThread) ID() int {
	return t.id
}

// Start binds the notifier and the job queue and spawns the worker. The
// command pool is created on the worker; its failure is returned.
func (t *RenderThread) Start(notifier Notifier, jobs *queue.Queue[*RenderPass]) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.notifier, t.jobs = notifier, jobs
	t.exited = make(chan struct{})
	started := make(chan error, 1)
	t.alive.Store(true)
	go t.run(ctx, started)
	if err := <-started; err != nil {
		t.alive.Store(false)
		cancel()
		return fmt.Errorf("render thread %d: %w", t.id, err)
	}
	t.cancel = cancel
	t.started = true
	return nil
}

func (t *RenderThread) run(ctx context.Context, started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.exited)

	t.tid.Store(threadID())
	defer t.tid.Store(0)
	pool, err := t.device.NewCommandPool()
	if err == nil {
		err = pool.Initialise()
	}
	if err != nil {
		started <- err
		return
	}
	t.pool = pool
	started <- nil
	defer pool.Release()

	for t.wait() {
		pass, err := t.jobs.WaitPop(ctx)
		if err != nil {
			return
		}
		t.processing.Store(true)
		err = t.build(pass)
		t.processing.Store(false)
		t.built.Add(1)
		t.notifier.Done(pass, err)
	}
}

// wait parks the worker while it is suspended. It reports whether the
// worker should keep running.
func (t *RenderThread) wait() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for t.suspended && t.alive.Load() {
		t.waitLock.Wait()
	}
	return t.alive.Load()
}

func (t *RenderThread) build(pass *RenderPass) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	if frame := pass.frameNumber(); frame != t.frame {
		if err := t.pool.Reset(); err != nil {
			return fmt.Errorf("reset command pool: %w", err)
		}
		t.frame = frame
	}
	if err := pass.Update(); err != nil {
		return fmt.Errorf("update %s: %w", pass.Name(), err)
	}
	return pass.BuildCommandList(t.pool)
}

// Kill stops the worker, interrupting its wait for jobs, and waits for
// it to exit. A pass being recorded is finished first. Calling Kill
// again is a no-op.
func (t *RenderThread) Kill() error {
	if tid := t.tid.Load(); tid != 0 && tid == threadID() {
		return ErrKillFromWorker
	}
	t.mutex.Lock()
	if !t.alive.Load() {
		t.mutex.Unlock()
		return nil
	}
	t.alive.Store(false)
	t.waitLock.Broadcast()
	cancel, exited := t.cancel, t.exited
	t.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-exited
	}
	return nil
}

// Suspend makes the worker park between jobs until Notify. The worker
// checks before it waits for a job: one already waiting takes one more
// job first, and a worker suspended before its first job parks without
// taking any.
func (t *RenderThread) Suspend() {
	t.mutex.Lock()
	t.suspended = true
	t.mutex.Unlock()
}

// Notify wakes a suspended worker
func (t *RenderThread) Notify() {
	t.mutex.Lock()
	t.suspended = false
	t.waitLock.Broadcast()
	t.mutex.Unlock()
}

// Processed reports whether the worker is not recording right now
func (t *RenderThread) Processed() bool {
	return !t.processing.Load()
}

// Alive reports whether the worker runs
func (t *RenderThread) Alive() bool {
	return t.alive.Load()
}

// Built returns the number of passes the worker handled
func (t *RenderThread) Built() uint64 {
	return t.built.Load()
}
