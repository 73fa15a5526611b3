// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

// ResourceContext implements gfx.ResourceContext
type ResourceContext struct {
	device   *Device
	released bool
}

func (c *ResourceContext) check(kind, name string) error {
	if c.released {
		return gfx.ErrReleased
	}
	return c.device.before(kind, name)
}

// CreateTexture implements gfx.ResourceContext
func (c *ResourceContext) CreateTexture(desc *resource.Texture) (gfx.Texture, error) {
	if err := c.check("texture", desc.Name); err != nil {
		return nil, err
	}
	pixels := make([]byte, len(desc.Pixels))
	copy(pixels, desc.Pixels)
	return &Texture{
		object: newObject(c.device, desc.Name),
		width:  desc.Width,
		height: desc.Height,
		pixels: pixels,
	}, nil
}

// CreateShader implements gfx.ResourceContext
func (c *ResourceContext) CreateShader(desc *resource.Shader) (gfx.Shader, error) {
	if err := c.check("shader", desc.Name); err != nil {
		return nil, err
	}
	return &Shader{
		object: newObject(c.device, desc.Name),
		stage:  desc.Stage,
		words:  desc.BytecodeSize() / 4,
	}, nil
}

// CreateRootLayout implements gfx.ResourceContext
func (c *ResourceContext) CreateRootLayout(desc *resource.RootLayout) (gfx.RootLayout, error) {
	if err := c.check("root_layout", desc.Name); err != nil {
		return nil, err
	}
	return &RootLayout{
		object:   newObject(c.device, desc.Name),
		bindings: len(desc.Bindings),
	}, nil
}

// CreatePipeline implements gfx.ResourceContext
func (c *ResourceContext) CreatePipeline(desc *resource.Pipeline, layout gfx.RootLayout, shaders []gfx.Shader) (gfx.Pipeline, error) {
	if err := c.check("pipeline", desc.Name); err != nil {
		return nil, err
	}
	return &Pipeline{
		object:  newObject(c.device, desc.Name),
		layout:  layout,
		shaders: shaders,
	}, nil
}

// CreateMaterial implements gfx.ResourceContext
func (c *ResourceContext) CreateMaterial(desc *resource.Material, pipeline gfx.Pipeline, textures []gfx.Texture) (gfx.Material, error) {
	if err := c.check("material", desc.Name); err != nil {
		return nil, err
	}
	return &Material{
		object:   newObject(c.device, desc.Name),
		pipeline: pipeline,
		textures: textures,
		params:   desc.Parameters,
	}, nil
}

// CreateMesh implements gfx.ResourceContext
func (c *ResourceContext) CreateMesh(desc *resource.Mesh) (gfx.Mesh, error) {
	if err := c.check("mesh", desc.Name); err != nil {
		return nil, err
	}
	var data []byte
	for i := range desc.Geometries {
		data = append(data, desc.Geometries[i].Bytes()...)
	}
	return &Mesh{
		object:   newObject(c.device, desc.Name),
		vertices: desc.VertexCount(),
		data:     data,
	}, nil
}

// CreateRenderTarget implements gfx.ResourceContext
func (c *ResourceContext) CreateRenderTarget(desc *resource.RenderTarget) (gfx.RenderTarget, error) {
	if err := c.check("render_target", desc.Name); err != nil {
		return nil, err
	}
	return &RenderTarget{
		object: newObject(c.device, desc.Name),
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
	}, nil
}

// CreateRenderPass implements gfx.ResourceContext
func (c *ResourceContext) CreateRenderPass(desc *resource.RenderPass, targets []gfx.RenderTarget) (gfx.RenderPass, error) {
	if err := c.check("render_pass", desc.Name); err != nil {
		return nil, err
	}
	return &RenderPass{
		object:  newObject(c.device, desc.Name),
		desc:    desc,
		targets: targets,
	}, nil
}

// Release implements gfx.Releasable
func (c *ResourceContext) Release() {
	c.released = true
}
