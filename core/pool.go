// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"path"
	"sync"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

// Names of the textures every pool loads from the compiled in defaults
const (
	PlaceholderTexture = "placeholder.png"
	DefaultTexture     = "default.png"
)

// reloadable is implemented by every Swap
type reloadable interface {
	Reload()
}

// ResourcePool is the front door for GPU objects of one device. All
// creation is routed to its resource thread. Initialize and
// DeInitialize must not race with requests.
type ResourcePool struct {
	lib  *resource.Library
	opts []Option
	options

	device      gfx.Device
	thread      *ResourceThread
	placeholder gfx.Texture
	fallback    gfx.Texture

	trackMutex sync.Mutex
	tracked    map[string][]reloadable

	// objects async handles stopped publishing, freed once no frame
	// in flight can reference them
	retireMutex sync.Mutex
	retiring    []retiredObject
	expiring    []retiredObject
}

type retiredObject struct {
	typ  ResourceType
	file string
	obj  gfx.Releasable
}

// NewResourcePool creates a pool reading resources from source, falling
// back to the compiled in defaults
func NewResourcePool(source resource.Source, opts ...Option) *ResourcePool {
	return &ResourcePool{
		lib:     resource.NewLibrary(resource.Chain{source, resource.DefaultsBox()}),
		opts:    opts,
		options: newOptions("resource_pool", opts),
		tracked: make(map[string][]reloadable),
	}
}

// Library returns the description library the pool reads from
func (p *ResourcePool) Library() *resource.Library {
	return p.lib
}

// Initialize starts the resource thread for device and loads the
// placeholder and default textures
func (p *ResourcePool) Initialize(device gfx.Device) error {
	if device == nil {
		return ErrNilDevice
	}
	if p.thread != nil {
		return ErrAlreadyInitialized
	}

	thread := NewResourceThread(device, p.lib, p.opts...)
	if err := thread.Start(); err != nil {
		return err
	}
	p.device, p.thread = device, thread

	var err error
	if p.placeholder, err = p.RequestTexture(PlaceholderTexture); err != nil {
		p.DeInitialize()
		return fmt.Errorf("placeholder texture: %w", err)
	}
	if p.fallback, err = p.RequestTexture(DefaultTexture); err != nil {
		p.DeInitialize()
		return fmt.Errorf("default texture: %w", err)
	}
	p.logger.WithField("device", device.DeviceInfo()).Info("resource pool initialized")
	return nil
}

// DeInitialize kills the resource thread, releasing everything it
// created. Outstanding requests fail with ErrKilled.
func (p *ResourcePool) DeInitialize() error {
	if p.thread == nil {
		return nil
	}
	if err := p.thread.Kill(); err != nil {
		return err
	}
	p.thread, p.device = nil, nil
	p.placeholder, p.fallback = nil, nil
	p.trackMutex.Lock()
	p.tracked = make(map[string][]reloadable)
	p.trackMutex.Unlock()
	// the worker released every owned object on exit
	p.retireMutex.Lock()
	p.retiring, p.expiring = nil, nil
	p.retireMutex.Unlock()
	return nil
}

// BeginFrame marks the start of recording a frame. Objects retired
// before it are freed by the EndFrame that follows.
func (p *ResourcePool) BeginFrame() {
	p.retireMutex.Lock()
	p.expiring = append(p.expiring, p.retiring...)
	p.retiring = nil
	p.retireMutex.Unlock()
}

// EndFrame frees the objects retired before the last BeginFrame. Call it
// once the frame was submitted.
func (p *ResourcePool) EndFrame() {
	p.retireMutex.Lock()
	expired := p.expiring
	p.expiring = nil
	p.retireMutex.Unlock()
	for _, r := range expired {
		p.releaseOwned(r.typ, r.file, r.obj)
	}
}

// Retired returns the number of objects waiting to be freed
func (p *ResourcePool) Retired() int {
	p.retireMutex.Lock()
	defer p.retireMutex.Unlock()
	return len(p.retiring) + len(p.expiring)
}

// retire frees obj after the next full frame. A reader may have taken
// obj from a swap handle and scheduled it before the swap.
func (p *ResourcePool) retire(typ ResourceType, file string, obj gfx.Releasable) {
	if obj == nil {
		return
	}
	p.retireMutex.Lock()
	p.retiring = append(p.retiring, retiredObject{typ: typ, file: file, obj: obj})
	p.retireMutex.Unlock()
}

// IsLocked reports whether the caller runs on the resource worker
func (p *ResourcePool) IsLocked() bool {
	return p.thread != nil && p.thread.IsLocked()
}

// Thread returns the pool's resource thread, nil before Initialize
func (p *ResourcePool) Thread() *ResourceThread {
	return p.thread
}

// Placeholder is the texture shown while a texture streams in
func (p *ResourcePool) Placeholder() gfx.Texture {
	return p.placeholder
}

// Default is the texture shown when a texture failed to load
func (p *ResourcePool) Default() gfx.Texture {
	return p.fallback
}

// RequestOf loads the object of type T from file, blocking until it was
// created. Every successful request holds a reference until Release.
func RequestOf[T gfx.Releasable](p *ResourcePool, file string) (T, error) {
	var zero T
	if p.thread == nil {
		return zero, ErrNotInitialized
	}
	r := NewRequest(TypeOf[T](), file)
	if err := p.thread.Load(r); err != nil {
		return zero, err
	}
	return Output[T](r)
}

// RequestTexture loads a texture synchronously
func (p *ResourcePool) RequestTexture(file string) (gfx.Texture, error) {
	return RequestOf[gfx.Texture](p, file)
}

// RequestMaterial loads a material with its pipeline and textures synchronously
func (p *ResourcePool) RequestMaterial(file string) (gfx.Material, error) {
	return RequestOf[gfx.Material](p, file)
}

// RequestPipeline loads a pipeline with its shaders and root layout synchronously
func (p *ResourcePool) RequestPipeline(file string) (gfx.Pipeline, error) {
	return RequestOf[gfx.Pipeline](p, file)
}

// RequestShader loads a shader synchronously
func (p *ResourcePool) RequestShader(file string) (gfx.Shader, error) {
	return RequestOf[gfx.Shader](p, file)
}

// RequestRootLayout loads a root layout synchronously
func (p *ResourcePool) RequestRootLayout(file string) (gfx.RootLayout, error) {
	return RequestOf[gfx.RootLayout](p, file)
}

// RequestRenderPass loads a render pass with its targets synchronously
func (p *ResourcePool) RequestRenderPass(file string) (gfx.RenderPass, error) {
	return RequestOf[gfx.RenderPass](p, file)
}

// RequestRenderTarget loads a render target synchronously
func (p *ResourcePool) RequestRenderTarget(file string) (gfx.RenderTarget, error) {
	return RequestOf[gfx.RenderTarget](p, file)
}

// RequestMesh loads a mesh synchronously
func (p *ResourcePool) RequestMesh(file string) (gfx.Mesh, error) {
	return RequestOf[gfx.Mesh](p, file)
}

// RequestTextureAsync returns at once with tmp as the current texture.
// The loaded texture replaces it when ready, def does when loading
// fails. nil def and tmp fall back to the pool's own textures.
func (p *ResourcePool) RequestTextureAsync(def, tmp gfx.Texture, file string) *Swap[gfx.Texture] {
	if def == nil {
		def = p.fallback
	}
	if tmp == nil {
		tmp = p.placeholder
	}
	return requestAsync(p, TypeTexture, file, def, tmp)
}

// RequestMeshAsync is RequestTextureAsync for meshes. There is no
// built in mesh; nil def or tmp stay nil.
func (p *ResourcePool) RequestMeshAsync(def, tmp gfx.Mesh, file string) *Swap[gfx.Mesh] {
	return requestAsync(p, TypeMesh, file, def, tmp)
}

func requestAsync[T gfx.Releasable](p *ResourcePool, typ ResourceType, file string, def, tmp T) *Swap[T] {
	s := newSwap(p, typ, file, def, tmp)
	p.track(file, s)
	s.load()
	return s
}

// Release drops the reference a synchronous request took
func (p *ResourcePool) Release(typ ResourceType, file string) error {
	if p.thread == nil {
		return ErrNotInitialized
	}
	return p.thread.Release(typ, file)
}

// Reload reissues the loads of every async handle bound to file
func (p *ResourcePool) Reload(file string) int {
	file = path.Clean(file)
	p.trackMutex.Lock()
	handles := append([]reloadable(nil), p.tracked[file]...)
	p.trackMutex.Unlock()
	for _, h := range handles {
		h.Reload()
	}
	return len(handles)
}

func (p *ResourcePool) loadAsync(r *Request) error {
	thread := p.thread
	if thread == nil {
		r.complete(nil, ErrNotInitialized)
		return ErrNotInitialized
	}
	return thread.LoadAsync(r)
}

func (p *ResourcePool) releaseOwned(typ ResourceType, file string, obj gfx.Releasable) {
	if obj == nil || p.thread == nil {
		return
	}
	if err := p.thread.releaseOwned(typ, file, obj); err != nil {
		p.logger.WithError(err).WithField("file", file).Debug("owned object not released")
	}
}

func (p *ResourcePool) track(file string, h reloadable) {
	p.trackMutex.Lock()
	defer p.trackMutex.Unlock()
	file = path.Clean(file)
	p.tracked[file] = append(p.tracked[file], h)
}

func (p *ResourcePool) untrack(file string, h reloadable) {
	p.trackMutex.Lock()
	defer p.trackMutex.Unlock()
	file = path.Clean(file)
	handles := p.tracked[file]
	for i := range handles {
		if handles[i] == h {
			p.tracked[file] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(p.tracked[file]) == 0 {
		delete(p.tracked, file)
	}
}
