// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"sync"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/utility/queue"
)

// Result reports how recording a dispatched pass went
type Result struct {
	Pass *RenderPass
	Err  error
}

// Dispatcher hands render passes to a set of render threads and lets the
// frame wait until every dispatched pass was recorded, in any order.
type Dispatcher struct {
	options
	jobs    *queue.Queue[*RenderPass]
	threads []*RenderThread

	mutex   sync.Mutex
	notify  *sync.Cond
	pending int
	results []Result
	frame   uint64
	closed  bool
}

// NewDispatcher starts threads render threads for device
func NewDispatcher(device gfx.Device, threads int, opts ...Option) (*Dispatcher, error) {
	if threads < 1 {
		threads = 1
	}
	d := &Dispatcher{
		options: newOptions("dispatcher", opts),
		jobs:    queue.New[*RenderPass](),
	}
	d.notify = sync.NewCond(&d.mutex)
	for i := 0; i < threads; i++ {
		t := NewRenderThread(i, device, opts...)
		if err := t.Start(d, d.jobs); err != nil {
			d.Close()
			return nil, err
		}
		d.threads = append(d.threads, t)
	}
	return d, nil
}

// Threads returns the render threads
func (d *Dispatcher) Threads() []*RenderThread {
	return d.threads
}

// Done implements Notifier
func (d *Dispatcher) Done(pass *RenderPass, err error) {
	d.mutex.Lock()
	d.results = append(d.results, Result{Pass: pass, Err: err})
	d.pending--
	d.notify.Broadcast()
	d.mutex.Unlock()
}

// Dispatch queues passes for recording as one frame
func (d *Dispatcher) Dispatch(passes ...*RenderPass) error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return ErrDispatcherClosed
	}
	d.frame++
	frame := d.frame
	d.pending += len(passes)
	d.mutex.Unlock()

	var errs []error
	for _, p := range passes {
		p.setFrame(frame)
		if err := d.jobs.Push(p); err != nil {
			d.Done(p, ErrDispatcherClosed)
			errs = append(errs, ErrDispatcherClosed)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every dispatched pass was recorded and returns
// their results in completion order
func (d *Dispatcher) Wait() []Result {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for d.pending > 0 {
		d.notify.Wait()
	}
	out := d.results
	d.results = nil
	return out
}

// Close stops the render threads. Passes still queued are reported as
// failed so no Wait is left hanging.
func (d *Dispatcher) Close() error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return nil
	}
	d.closed = true
	d.mutex.Unlock()

	d.jobs.Close()
	var errs []error
	for _, t := range d.threads {
		errs = append(errs, t.Kill())
	}
	for _, p := range d.jobs.Drain() {
		d.Done(p, ErrDispatcherClosed)
	}
	return errors.Join(errs...)
}
