// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines rendering related features that backends must implement.
// Every GPU object is created by a ResourceContext on the resource worker and
// recorded into by CommandLists on render workers.
package gfx

import (
	"errors"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korugfx/resource"
)

var (
	// ErrNotRecording is returned by command list calls outside of Begin/End
	ErrNotRecording = errors.New("gfx: command list is not recording")

	// ErrReleased is returned when a released object is used
	ErrReleased = errors.New("gfx: object released")

	// ErrUnknownBackend is returned by Open for unregistered backends
	ErrUnknownBackend = errors.New("gfx: unknown backend")
)

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int      `json:"id"`
	VendorID      int      `json:"vendor_id"`
	DriverVersion int      `json:"driver_version"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Memory        uint64   `json:"memory"`
	Extensions    []string `json:"extensions,omitempty"`
	Layers        []string `json:"layers,omitempty"`
	Invalid       bool     `json:"invalid"`
}

// Device is a rendering device of one backend
type Device interface {
	Releasable

	// Initialise selects a physical device and creates the logical one
	Initialise() error

	// DeviceInfo describes every physical device the backend found
	DeviceInfo() []PhysicalDeviceInfo

	// NewResourceContext creates the context all GPU objects are created
	// from. Called once, on the resource worker.
	NewResourceContext() (ResourceContext, error)

	// NewCommandPool creates a command pool. The pool belongs to the
	// calling render worker.
	NewCommandPool() (CommandPool, error)

	// Submit queues recorded command lists for execution, in order
	Submit(lists []CommandList) error

	// Present displays the last submitted frame
	Present() error
}

// ResourceContext creates GPU objects from resource descriptions.
// Implementations are not safe for concurrent use.
type ResourceContext interface {
	Releasable

	CreateTexture(desc *resource.Texture) (Texture, error)
	CreateShader(desc *resource.Shader) (Shader, error)
	CreateRootLayout(desc *resource.RootLayout) (RootLayout, error)
	CreatePipeline(desc *resource.Pipeline, layout RootLayout, shaders []Shader) (Pipeline, error)
	CreateMaterial(desc *resource.Material, pipeline Pipeline, textures []Texture) (Material, error)
	CreateMesh(desc *resource.Mesh) (Mesh, error)
	CreateRenderTarget(desc *resource.RenderTarget) (RenderTarget, error)
	CreateRenderPass(desc *resource.RenderPass, targets []RenderTarget) (RenderPass, error)
}

// Texture is a sampled image on the GPU
type Texture interface {
	Releasable
	Size() (width, height int)
}

// Shader is a compiled shader module
type Shader interface {
	Releasable
	Stage() resource.ShaderStage
}

// RootLayout describes what a pipeline binds
type RootLayout interface {
	Releasable
}

// Pipeline is a compiled graphics pipeline
type Pipeline interface {
	Releasable
	Name() string
	Layout() RootLayout
}

// Material binds textures and parameters for a pipeline
type Material interface {
	Releasable
	Name() string
	Pipeline() Pipeline
}

// Mesh is uploaded vertex data
type Mesh interface {
	Releasable
	Name() string
	VertexCount() int
}

// RenderTarget is an image passes render into
type RenderTarget interface {
	Releasable
	Size() (width, height int)
}

// RenderPass is the native side of a logical render pass
type RenderPass interface {
	Releasable
	Name() string
	Description() *resource.RenderPass
	Targets() []RenderTarget
}

// CommandPool allocates command lists. Owned by a single render worker.
type CommandPool interface {
	Releasable

	// Initialise prepares the pool on the owning worker
	Initialise() error

	// Allocate returns an empty command list
	Allocate() (CommandList, error)

	// Reset recycles every list allocated since the last reset
	Reset() error
}

// CommandList records the commands of one render pass
type CommandList interface {
	Begin(pass RenderPass, view, projection glm.Mat4) error
	BindPipeline(p Pipeline) error
	BindMaterial(m Material) error
	SetInstanceData(data []byte) error
	DrawInstanced(mesh Mesh, instances int) error
	End() error
}
