// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build vulkan

package vulkan

import (
	"errors"
	"unsafe"

	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korugfx/gfx"
)

// minInstanceBuffer is the smallest instance buffer a list allocates
const minInstanceBuffer = 64 * 1024

type releaser interface {
	released() bool
}

func released(r gfx.Releasable) bool {
	rr, ok := r.(releaser)
	return ok && rr.released()
}

// CommandPool implements gfx.CommandPool
type CommandPool struct {
	device *Device
	pool   vk.CommandPool
	lists  []*CommandList
	done   bool
}

// Initialise implements gfx.CommandPool
func (p *CommandPool) Initialise() error {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: p.device.queueFamily,
	}
	if err := vk.Error(vk.CreateCommandPool(p.device.device, &cpci, nil, &p.pool)); err != nil {
		return errors.New("vk.CreateCommandPool(): " + err.Error())
	}
	return nil
}

// Allocate implements gfx.CommandPool
func (p *CommandPool) Allocate() (gfx.CommandList, error) {
	if p.done {
		return nil, gfx.ErrReleased
	}
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(p.device.device, &cbai, buffers)); err != nil {
		return nil, errors.New("vk.AllocateCommandBuffers(): " + err.Error())
	}
	cl := &CommandList{device: p.device, buffer: buffers[0]}
	p.lists = append(p.lists, cl)
	return cl, nil
}

// Reset implements gfx.CommandPool
func (p *CommandPool) Reset() error {
	if p.done {
		return gfx.ErrReleased
	}
	p.free()
	if err := vk.Error(vk.ResetCommandPool(p.device.device, p.pool, 0)); err != nil {
		return errors.New("vk.ResetCommandPool(): " + err.Error())
	}
	return nil
}

func (p *CommandPool) free() {
	if len(p.lists) == 0 {
		return
	}
	buffers := make([]vk.CommandBuffer, 0, len(p.lists))
	for _, cl := range p.lists {
		buffers = append(buffers, cl.buffer)
		cl.releaseInstances()
	}
	vk.FreeCommandBuffers(p.device.device, p.pool, uint32(len(buffers)), buffers)
	p.lists = p.lists[:0]
}

// Release implements gfx.Releasable
func (p *CommandPool) Release() {
	if p.done {
		return
	}
	p.done = true
	p.free()
	vk.DestroyCommandPool(p.device.device, p.pool, nil)
}

// CommandList implements gfx.CommandList
type CommandList struct {
	device    *Device
	buffer    vk.CommandBuffer
	recording bool

	camera   glm.Mat4
	pipeline *Pipeline

	// instance data is appended to a host visible buffer; full buffers
	// are retired and freed with the list
	instances *buffer
	cursor    uint
	retired   []*buffer
}

// Begin implements gfx.CommandList
func (c *CommandList) Begin(pass gfx.RenderPass, view, projection glm.Mat4) error {
	rp, ok := pass.(*RenderPass)
	if !ok || rp.released() {
		return gfx.ErrReleased
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(c.buffer, &cbbi)); err != nil {
		return errors.New("vk.BeginCommandBuffer(): " + err.Error())
	}
	c.recording = true
	c.camera = projection.Mul4(view)
	c.pipeline = nil

	extent := vk.Extent2D{Width: rp.width, Height: rp.height}
	rpbi := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.pass,
		Framebuffer:     rp.framebuffer,
		RenderArea:      vk.Rect2D{Extent: extent},
		ClearValueCount: uint32(len(rp.clear)),
		PClearValues:    rp.clear,
	}
	vk.CmdBeginRenderPass(c.buffer, &rpbi, vk.SubpassContentsInline)
	vk.CmdSetViewport(c.buffer, 0, 1, []vk.Viewport{{
		Width:    float32(rp.width),
		Height:   float32(rp.height),
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(c.buffer, 0, 1, []vk.Rect2D{{Extent: extent}})
	return nil
}

// BindPipeline implements gfx.CommandList. The camera matrix is pushed
// as the first constants of the pipeline layout.
func (c *CommandList) BindPipeline(p gfx.Pipeline) error {
	if !c.recording {
		return gfx.ErrNotRecording
	}
	pipeline, ok := p.(*Pipeline)
	if !ok || pipeline.released() {
		return gfx.ErrReleased
	}
	vk.CmdBindPipeline(c.buffer, vk.PipelineBindPointGraphics, pipeline.pipeline)
	vk.CmdPushConstants(c.buffer, pipeline.layout.layout, vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
		0, uint32(cameraSize), unsafe.Pointer(&c.camera[0]))
	c.pipeline = pipeline
	return nil
}

// BindMaterial implements gfx.CommandList
func (c *CommandList) BindMaterial(m gfx.Material) error {
	if !c.recording {
		return gfx.ErrNotRecording
	}
	material, ok := m.(*Material)
	if !ok || released(m) {
		return gfx.ErrReleased
	}
	if c.pipeline == nil || material.pipeline != c.pipeline {
		return errors.New("vulkan: material bound without its pipeline")
	}
	if len(material.parameters) > 0 {
		vk.CmdPushConstants(c.buffer, c.pipeline.layout.layout, vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
			uint32(cameraSize), uint32(len(material.parameters)), unsafe.Pointer(&material.parameters[0]))
	}
	return nil
}

// SetInstanceData implements gfx.CommandList
func (c *CommandList) SetInstanceData(data []byte) error {
	if !c.recording {
		return gfx.ErrNotRecording
	}
	if len(data) == 0 {
		return nil
	}
	need := uint(len(data))
	if c.instances == nil || c.cursor+need > c.instances.size {
		size := uint(minInstanceBuffer)
		for size < need {
			size *= 2
		}
		buf, err := newBuffer(c.device.device, size, vk.BufferUsageVertexBufferBit, c.device.allocator)
		if err != nil {
			return err
		}
		if c.instances != nil {
			c.retired = append(c.retired, c.instances)
		}
		c.instances, c.cursor = buf, 0
	}
	if err := c.instances.mem.write(c.cursor, data); err != nil {
		return err
	}
	vk.CmdBindVertexBuffers(c.buffer, 1, 1, []vk.Buffer{c.instances.buffer}, []vk.DeviceSize{vk.DeviceSize(c.cursor)})
	c.cursor += need
	return nil
}

// DrawInstanced implements gfx.CommandList
func (c *CommandList) DrawInstanced(m gfx.Mesh, instances int) error {
	if !c.recording {
		return gfx.ErrNotRecording
	}
	mesh, ok := m.(*Mesh)
	if !ok || mesh.released() {
		return gfx.ErrReleased
	}
	if instances <= 0 {
		return errors.New("vulkan: draw without instances")
	}
	vk.CmdBindVertexBuffers(c.buffer, 0, 1, []vk.Buffer{mesh.buffer.buffer}, []vk.DeviceSize{0})
	vk.CmdDraw(c.buffer, uint32(mesh.vertices), uint32(instances), 0, 0)
	return nil
}

// End implements gfx.CommandList
func (c *CommandList) End() error {
	if !c.recording {
		return gfx.ErrNotRecording
	}
	vk.CmdEndRenderPass(c.buffer)
	c.recording = false
	if err := vk.Error(vk.EndCommandBuffer(c.buffer)); err != nil {
		return errors.New("vk.EndCommandBuffer(): " + err.Error())
	}
	return nil
}

func (c *CommandList) releaseInstances() {
	for _, b := range c.retired {
		b.release()
	}
	c.retired = nil
	if c.instances != nil {
		c.instances.release()
		c.instances = nil
	}
	c.cursor = 0
}
