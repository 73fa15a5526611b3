// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/devblok/korugfx/gfx"
)

// ResourceType tags a request with the kind of object to create
type ResourceType int

// Resource types
const (
	TypeUnknown ResourceType = iota
	TypeTexture
	TypeMaterial
	TypeRootLayout
	TypePipeline
	TypeShader
	TypeRenderPass
	TypeRenderTarget
	TypeMesh
)

func (t ResourceType) String() string {
	switch t {
	case TypeTexture:
		return "texture"
	case TypeMaterial:
		return "material"
	case TypeRootLayout:
		return "root_layout"
	case TypePipeline:
		return "pipeline"
	case TypeShader:
		return "shader"
	case TypeRenderPass:
		return "render_pass"
	case TypeRenderTarget:
		return "render_target"
	case TypeMesh:
		return "mesh"
	}
	return fmt.Sprintf("ResourceType(%d)", int(t))
}

// TypeOf returns the resource type whose objects implement T
func TypeOf[T gfx.Releasable]() ResourceType {
	switch any((*T)(nil)).(type) {
	case *gfx.Texture:
		return TypeTexture
	case *gfx.Material:
		return TypeMaterial
	case *gfx.RootLayout:
		return TypeRootLayout
	case *gfx.Pipeline:
		return TypePipeline
	case *gfx.Shader:
		return TypeShader
	case *gfx.RenderPass:
		return TypeRenderPass
	case *gfx.RenderTarget:
		return TypeRenderTarget
	case *gfx.Mesh:
		return TypeMesh
	}
	return TypeUnknown
}

// Request asks the resource thread for the object described by File.
// The output is written exactly once, after which Done is closed.
type Request struct {
	ID   uuid.UUID
	Type ResourceType
	File string

	// owned requests bypass the shared object cache; the requester
	// becomes the only holder of the object
	owned bool
	// release requests drop a reference instead of creating an object
	release bool
	// object to release for owned release requests
	target gfx.Releasable

	state      atomic.Uint32
	object     gfx.Releasable
	err        error
	done       chan struct{}
	onComplete func(*Request)
}

// NewRequest creates a request for a resource of type t read from file
func NewRequest(t ResourceType, file string) *Request {
	return &Request{
		ID:   uuid.New(),
		Type: t,
		File: file,
		done: make(chan struct{}),
	}
}

func newReleaseRequest(t ResourceType, file string, target gfx.Releasable) *Request {
	r := NewRequest(t, file)
	r.release = true
	r.target = target
	return r
}

// Done is closed once the request completed
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Completed reports whether the output was written
func (r *Request) Completed() bool {
	return r.state.Load() == 2
}

// Object returns the created object, nil on failure or before Done is closed
func (r *Request) Object() gfx.Releasable {
	if !r.Completed() {
		return nil
	}
	return r.object
}

// Err returns why the request failed, nil on success or before Done is closed
func (r *Request) Err() error {
	if !r.Completed() {
		return nil
	}
	return r.err
}

// complete writes the output and wakes waiters. Only the first call
// has an effect; it reports whether it was the one.
func (r *Request) complete(obj gfx.Releasable, err error) bool {
	if !r.state.CompareAndSwap(0, 1) {
		return false
	}
	if err != nil {
		obj = nil
	}
	r.object, r.err = obj, err
	r.state.Store(2)
	close(r.done)
	if r.onComplete != nil {
		r.onComplete(r)
	}
	return true
}

// Output returns the typed object of a completed request
func Output[T gfx.Releasable](r *Request) (T, error) {
	var zero T
	if err := r.Err(); err != nil {
		return zero, err
	}
	obj, ok := r.Object().(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not %T", ErrUnsupportedType, r.Type, (*T)(nil))
	}
	return obj, nil
}
