// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
	"github.com/devblok/korugfx/utility/queue"
)

// ThreadStats is a snapshot of resource thread counters
type ThreadStats struct {
	Processed uint64
	Failed    uint64
	Queued    int
	Objects   int
}

// ResourceThread is the only goroutine allowed to create GPU objects of
// a device. It runs locked to one OS thread and services requests in
// submission order.
type ResourceThread struct {
	device gfx.Device
	lib    *resource.Library
	options

	queue    *queue.Queue[*Request]
	handlers map[ResourceType]handler

	// owned by the worker
	rctx  gfx.ResourceContext
	cache *objectCache
	owned map[gfx.Releasable][]objectKey

	mutex   sync.Mutex
	started bool
	killed  bool
	cancel  context.CancelFunc
	exited  chan struct{}

	alive      atomic.Bool
	processing atomic.Bool
	processed  atomic.Uint64
	failed     atomic.Uint64
	objects    atomic.Int64
	tid        atomic.Int64
}

// NewResourceThread creates a stopped resource thread for device
func NewResourceThread(device gfx.Device, lib *resource.Library, opts ...Option) *ResourceThread {
	return &ResourceThread{
		device:   device,
		lib:      lib,
		options:  newOptions("resource_thread", opts),
		queue:    queue.New[*Request](),
		handlers: defaultHandlers(),
		cache:    newObjectCache(),
		owned:    make(map[gfx.Releasable][]objectKey),
	}
}

// Start spawns the worker and waits until it created its resource
// context. Starting a running thread is a no-op; a killed thread can
// not be started again.
func (t *ResourceThread) Start() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.killed {
		return ErrKilled
	}
	if t.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan error, 1)
	t.exited = make(chan struct{})
	go t.run(ctx, started)
	if err := <-started; err != nil {
		cancel()
		return fmt.Errorf("create resource context: %w", err)
	}
	t.cancel = cancel
	t.started = true
	t.alive.Store(true)
	t.logger.Debug("resource thread started")
	return nil
}

func (t *ResourceThread) run(ctx context.Context, started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.exited)

	t.tid.Store(threadID())
	rctx, err := t.device.NewResourceContext()
	if err != nil {
		t.tid.Store(0)
		started <- err
		return
	}
	t.rctx = rctx
	started <- nil

	for {
		r, err := t.queue.WaitPop(ctx)
		if err != nil {
			break
		}
		t.service(r)
	}

	for _, r := range t.queue.Drain() {
		r.complete(nil, ErrKilled)
	}
	for obj := range t.owned {
		obj.Release()
	}
	t.owned = nil
	released := t.cache.releaseAll()
	t.rctx.Release()
	t.rctx = nil
	t.objects.Store(0)
	t.tid.Store(0)
	t.logger.WithField("released", released).Debug("resource thread stopped")
}

// IsLocked reports whether the caller is the resource worker itself
func (t *ResourceThread) IsLocked() bool {
	tid := t.tid.Load()
	return tid != 0 && tid == threadID()
}

// Alive reports whether the worker accepts requests
func (t *ResourceThread) Alive() bool {
	return t.alive.Load()
}

// Processing reports whether the worker is servicing a request
func (t *ResourceThread) Processing() bool {
	return t.processing.Load()
}

// Load services r and returns once its output is written. Called from
// the worker itself, r is serviced inline. There is no timeout: a
// handler that never returns blocks every synchronous caller.
func (t *ResourceThread) Load(r *Request) error {
	if t.IsLocked() {
		t.service(r)
		return r.Err()
	}
	if err := t.LoadAsync(r); err != nil {
		return err
	}
	<-r.Done()
	return r.Err()
}

// LoadAsync queues r and returns. Completion is observed via r.Done.
func (t *ResourceThread) LoadAsync(r *Request) error {
	if !t.alive.Load() {
		r.complete(nil, ErrNotRunning)
		return ErrNotRunning
	}
	if err := t.queue.Push(r); err != nil {
		r.complete(nil, ErrNotRunning)
		return ErrNotRunning
	}
	return nil
}

// Release drops one reference to the shared object created for file
func (t *ResourceThread) Release(typ ResourceType, file string) error {
	return t.Load(newReleaseRequest(typ, file, nil))
}

// releaseOwned frees an object created by an owned request
func (t *ResourceThread) releaseOwned(typ ResourceType, file string, obj gfx.Releasable) error {
	return t.LoadAsync(newReleaseRequest(typ, file, obj))
}

// Kill stops the worker and waits for it to exit. Requests still queued
// fail with ErrKilled and every object the worker holds is released.
// Calling Kill again is a no-op.
func (t *ResourceThread) Kill() error {
	if t.IsLocked() {
		return t.misuse("Kill", ErrKillFromWorker)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.killed {
		return nil
	}
	t.killed = true
	t.alive.Store(false)
	t.queue.Close()
	if t.started {
		t.cancel()
		<-t.exited
	} else {
		for _, r := range t.queue.Drain() {
			r.complete(nil, ErrKilled)
		}
	}
	return nil
}

// Stats returns the thread counters
func (t *ResourceThread) Stats() ThreadStats {
	return ThreadStats{
		Processed: t.processed.Load(),
		Failed:    t.failed.Load(),
		Queued:    t.queue.Len(),
		Objects:   int(t.objects.Load()),
	}
}

// AssertWorker fails GPU object creation attempted off the worker
func (t *ResourceThread) AssertWorker(op string) error {
	if t.IsLocked() {
		return nil
	}
	return t.misuse(op, ErrWrongThread)
}

func (t *ResourceThread) misuse(op string, err error) error {
	t.logger.WithField("op", op).WithError(err).Error("thread misuse")
	if t.debug {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	return err
}

func keyOf(r *Request) objectKey {
	return objectKey{Type: r.Type, File: path.Clean(r.File)}
}

func (t *ResourceThread) service(r *Request) {
	prev := t.processing.Swap(true)
	defer t.processing.Store(prev)
	defer func() {
		t.objects.Store(int64(t.cache.len() + len(t.owned)))
	}()

	logger := t.logger.WithFields(log.Fields{"request": r.ID, "type": r.Type, "file": r.File})
	if r.release {
		t.serviceRelease(r, logger)
		return
	}

	key := keyOf(r)
	if !r.owned {
		if obj, ok := t.cache.acquire(key); ok {
			t.processed.Add(1)
			r.complete(obj, nil)
			return
		}
	}

	start := time.Now()
	obj, deps, err := t.handle(r)
	if err == nil && obj == nil {
		err = fmt.Errorf("%s handler returned no object", r.Type)
	}
	if err != nil {
		for _, dep := range deps {
			t.cache.release(dep)
		}
		t.failed.Add(1)
		logger.WithError(err).Error("resource request failed")
		r.complete(nil, err)
		return
	}

	if r.owned {
		t.owned[obj] = deps
	} else {
		t.cache.insert(key, obj, deps)
	}
	t.processed.Add(1)
	logger.WithField("took", time.Since(start)).Debug("resource created")
	r.complete(obj, nil)
}

func (t *ResourceThread) serviceRelease(r *Request, logger *log.Entry) {
	if r.target != nil {
		deps, ok := t.owned[r.target]
		if ok {
			delete(t.owned, r.target)
			r.target.Release()
			for _, dep := range deps {
				t.cache.release(dep)
			}
		}
		r.complete(nil, nil)
		return
	}
	if !t.cache.release(keyOf(r)) {
		logger.Warn("release of unknown resource")
	}
	r.complete(nil, nil)
}

func (t *ResourceThread) handle(r *Request) (obj gfx.Releasable, deps []objectKey, err error) {
	d := &dependencies{thread: t}
	defer func() {
		if p := recover(); p != nil {
			obj = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
		deps = d.keys
	}()
	h, ok := t.handlers[r.Type]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedType, r.Type)
	}
	obj, err = h(path.Clean(r.File), d)
	return obj, nil, err
}
