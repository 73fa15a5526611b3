// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"sync/atomic"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

// object carries the release bookkeeping every headless object shares
type object struct {
	device   *Device
	name     string
	released uint32
}

func newObject(d *Device, name string) object {
	d.live.Add(1)
	return object{device: d, name: name}
}

// Name is the description the object was created from
func (o *object) Name() string {
	return o.name
}

// Released reports whether Release was called
func (o *object) Released() bool {
	return atomic.LoadUint32(&o.released) == 1
}

// Release implements gfx.Releasable
func (o *object) Release() {
	if atomic.CompareAndSwapUint32(&o.released, 0, 1) {
		o.device.live.Add(-1)
	}
}

// Texture implements gfx.Texture
type Texture struct {
	object
	width, height int
	pixels        []byte
}

// Size implements gfx.Texture
func (t *Texture) Size() (int, int) {
	return t.width, t.height
}

// Shader implements gfx.Shader
type Shader struct {
	object
	stage resource.ShaderStage
	words int
}

// Stage implements gfx.Shader
func (s *Shader) Stage() resource.ShaderStage {
	return s.stage
}

// RootLayout implements gfx.RootLayout
type RootLayout struct {
	object
	bindings int
}

// Pipeline implements gfx.Pipeline
type Pipeline struct {
	object
	layout  gfx.RootLayout
	shaders []gfx.Shader
}

// Layout implements gfx.Pipeline
func (p *Pipeline) Layout() gfx.RootLayout {
	return p.layout
}

// Shaders returns the linked shader stages
func (p *Pipeline) Shaders() []gfx.Shader {
	return p.shaders
}

// Material implements gfx.Material
type Material struct {
	object
	pipeline gfx.Pipeline
	textures []gfx.Texture
	params   map[string]float32
}

// Pipeline implements gfx.Material
func (m *Material) Pipeline() gfx.Pipeline {
	return m.pipeline
}

// Textures returns the bound textures in slot order
func (m *Material) Textures() []gfx.Texture {
	return m.textures
}

// Mesh implements gfx.Mesh
type Mesh struct {
	object
	vertices int
	data     []byte
}

// VertexCount implements gfx.Mesh
func (m *Mesh) VertexCount() int {
	return m.vertices
}

// RenderTarget implements gfx.RenderTarget
type RenderTarget struct {
	object
	width, height int
	format        string
}

// Size implements gfx.RenderTarget
func (r *RenderTarget) Size() (int, int) {
	return r.width, r.height
}

// RenderPass implements gfx.RenderPass
type RenderPass struct {
	object
	desc    *resource.RenderPass
	targets []gfx.RenderTarget
}

// Description implements gfx.RenderPass
func (r *RenderPass) Description() *resource.RenderPass {
	return r.desc
}

// Targets implements gfx.RenderPass
func (r *RenderPass) Targets() []gfx.RenderTarget {
	return r.targets
}
