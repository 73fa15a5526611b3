// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"sync/atomic"

	"github.com/devblok/korugfx/gfx"
)

type swapState[T gfx.Releasable] struct {
	value   T
	version uint64
	// owned values were created for this handle and are released with it
	owned bool
	err   error
}

// Swap is a handle whose object is replaced in the background. Readers
// always see a complete object: a placeholder until the load finishes,
// then the loaded object, or the default when loading failed.
// A replaced object stays valid until the pool's next full frame ended,
// see ResourcePool.BeginFrame.
type Swap[T gfx.Releasable] struct {
	pool *ResourcePool
	typ  ResourceType
	file string
	def  T

	mutex   sync.Mutex
	state   atomic.Pointer[swapState[T]]
	ready   chan struct{}
	once    sync.Once
	pending *Request
	closed  bool
}

func newSwap[T gfx.Releasable](pool *ResourcePool, typ ResourceType, file string, def, tmp T) *Swap[T] {
	s := &Swap[T]{
		pool:  pool,
		typ:   typ,
		file:  file,
		def:   def,
		ready: make(chan struct{}),
	}
	s.state.Store(&swapState[T]{value: tmp})
	return s
}

// Current returns the object to use right now
func (s *Swap[T]) Current() T {
	return s.state.Load().value
}

// Version increases with every published object, 0 is the placeholder
func (s *Swap[T]) Version() uint64 {
	return s.state.Load().version
}

// Err is the failure of the last load, if any
func (s *Swap[T]) Err() error {
	return s.state.Load().err
}

// Ready is closed once the first load finished, failed or not
func (s *Swap[T]) Ready() <-chan struct{} {
	return s.ready
}

// File is the resource the handle loads
func (s *Swap[T]) File() string {
	return s.file
}

// load issues an owned request; its completion publishes the result
func (s *Swap[T]) load() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	r := NewRequest(s.typ, s.file)
	r.owned = true
	r.onComplete = s.complete
	s.pending = r
	s.mutex.Unlock()

	if err := s.pool.loadAsync(r); err != nil {
		s.pool.logger.WithError(err).WithField("file", s.file).Warn("async load not queued")
	}
}

// complete runs on the resource worker, or on the caller when the
// request could not be queued
func (s *Swap[T]) complete(r *Request) {
	obj, err := Output[T](r)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.pending == r {
		s.pending = nil
	}

	if s.closed {
		if err == nil {
			s.pool.releaseOwned(s.typ, s.file, obj)
		}
		return
	}

	prev := s.state.Load()
	next := &swapState[T]{value: obj, version: prev.version + 1, owned: true}
	if err != nil {
		if prev.owned {
			// keep the last good object of a failed reload
			next = &swapState[T]{value: prev.value, version: prev.version, owned: true, err: err}
		} else {
			next = &swapState[T]{value: s.def, version: prev.version + 1, err: err}
		}
	}
	s.state.Store(next)
	if prev.owned && any(next.value) != any(prev.value) {
		s.pool.retire(s.typ, s.file, prev.value)
	}
	s.once.Do(func() { close(s.ready) })
}

// Reload loads the file again and swaps the new object in
func (s *Swap[T]) Reload() {
	s.load()
}

// Release retires the loaded object and stops further reloads. The
// handle keeps returning the default afterwards.
func (s *Swap[T]) Release() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pool.untrack(s.file, s)
	prev := s.state.Load()
	s.state.Store(&swapState[T]{value: s.def, version: prev.version + 1})
	if prev.owned {
		s.pool.retire(s.typ, s.file, prev.value)
	}
	s.once.Do(func() { close(s.ready) })
}
