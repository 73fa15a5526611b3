// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build vulkan

package vulkan

import (
	"sync"
	"sync/atomic"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

// object runs its destructor once
type object struct {
	name string
	once sync.Once
	done atomic.Bool
}

func (o *object) Name() string {
	return o.name
}

func (o *object) released() bool {
	return o.done.Load()
}

func (o *object) release(fn func()) {
	o.once.Do(func() {
		o.done.Store(true)
		fn()
	})
}

// Texture implements gfx.Texture
type Texture struct {
	object
	width, height int
	image         *image
}

// Size implements gfx.Texture
func (t *Texture) Size() (int, int) {
	return t.width, t.height
}

// Release implements gfx.Releasable
func (t *Texture) Release() {
	t.release(t.image.release)
}

// Shader implements gfx.Shader
type Shader struct {
	object
	device vk.Device
	stage  resource.ShaderStage
	module vk.ShaderModule
}

// Stage implements gfx.Shader
func (s *Shader) Stage() resource.ShaderStage {
	return s.stage
}

// Release implements gfx.Releasable
func (s *Shader) Release() {
	s.release(func() { vk.DestroyShaderModule(s.device, s.module, nil) })
}

// RootLayout implements gfx.RootLayout
type RootLayout struct {
	object
	device        vk.Device
	setLayout     vk.DescriptorSetLayout
	layout        vk.PipelineLayout
	pushConstants uint32
}

// Release implements gfx.Releasable
func (r *RootLayout) Release() {
	r.release(func() {
		vk.DestroyPipelineLayout(r.device, r.layout, nil)
		vk.DestroyDescriptorSetLayout(r.device, r.setLayout, nil)
	})
}

// Pipeline implements gfx.Pipeline
type Pipeline struct {
	object
	device   vk.Device
	layout   *RootLayout
	pipeline vk.Pipeline
}

// Layout implements gfx.Pipeline
func (p *Pipeline) Layout() gfx.RootLayout {
	return p.layout
}

// Release implements gfx.Releasable
func (p *Pipeline) Release() {
	p.release(func() { vk.DestroyPipeline(p.device, p.pipeline, nil) })
}

// Material implements gfx.Material. Its parameters are pushed as
// constants after the camera matrix.
type Material struct {
	object
	pipeline   *Pipeline
	textures   []gfx.Texture
	parameters []byte
}

// Pipeline implements gfx.Material
func (m *Material) Pipeline() gfx.Pipeline {
	return m.pipeline
}

// Release implements gfx.Releasable
func (m *Material) Release() {
	m.release(func() {})
}

// Mesh implements gfx.Mesh
type Mesh struct {
	object
	vertices int
	buffer   *buffer
}

// VertexCount implements gfx.Mesh
func (m *Mesh) VertexCount() int {
	return m.vertices
}

// Release implements gfx.Releasable
func (m *Mesh) Release() {
	m.release(m.buffer.release)
}

// RenderTarget implements gfx.RenderTarget
type RenderTarget struct {
	object
	desc  *resource.RenderTarget
	image *image
}

// Size implements gfx.RenderTarget
func (r *RenderTarget) Size() (int, int) {
	return r.desc.Width, r.desc.Height
}

// Release implements gfx.Releasable
func (r *RenderTarget) Release() {
	r.release(r.image.release)
}

func (r *RenderTarget) depth() bool {
	return r.desc.Depth || isDepthFormat(r.desc.Format)
}

// RenderPass implements gfx.RenderPass
type RenderPass struct {
	object
	device      vk.Device
	desc        *resource.RenderPass
	targets     []gfx.RenderTarget
	pass        vk.RenderPass
	framebuffer vk.Framebuffer
	clear       []vk.ClearValue
	width       uint32
	height      uint32
}

// Description implements gfx.RenderPass
func (r *RenderPass) Description() *resource.RenderPass {
	return r.desc
}

// Targets implements gfx.RenderPass
func (r *RenderPass) Targets() []gfx.RenderTarget {
	return r.targets
}

// Release implements gfx.Releasable
func (r *RenderPass) Release() {
	r.release(func() {
		vk.DestroyFramebuffer(r.device, r.framebuffer, nil)
		vk.DestroyRenderPass(r.device, r.pass, nil)
	})
}

func formatOf(name string) vk.Format {
	switch name {
	case "rgba8":
		return vk.FormatR8g8b8a8Unorm
	case "bgra8":
		return vk.FormatB8g8r8a8Unorm
	case "rgba16f":
		return vk.FormatR16g16b16a16Sfloat
	case "d32":
		return vk.FormatD32Sfloat
	case "d24s8":
		return vk.FormatD24UnormS8Uint
	}
	return vk.FormatUndefined
}

func isDepthFormat(name string) bool {
	return name == "d32" || name == "d24s8"
}
