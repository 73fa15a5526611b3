// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build vulkan

package vulkan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/model"
	"github.com/devblok/korugfx/resource"
)

// cameraSize is the push constant block every pipeline starts with
const cameraSize = model.InstanceSize

// ResourceContext implements gfx.ResourceContext
type ResourceContext struct {
	device *Device
	cache  vk.PipelineCache
	// pipelines are compiled against this pass; passes with the same
	// attachment formats are compatible with it
	compatible vk.RenderPass
	released   bool
}

func newResourceContext(d *Device) (*ResourceContext, error) {
	c := &ResourceContext{device: d}
	pcci := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
	if err := vk.Error(vk.CreatePipelineCache(d.device, &pcci, nil, &c.cache)); err != nil {
		return nil, errors.New("vk.CreatePipelineCache(): " + err.Error())
	}
	pass, err := createRenderPass(d.device, []attachment{
		{format: vk.FormatB8g8r8a8Unorm},
		{format: vk.FormatD32Sfloat, depth: true},
	}, true)
	if err != nil {
		vk.DestroyPipelineCache(d.device, c.cache, nil)
		return nil, err
	}
	c.compatible = pass
	return c, nil
}

func (c *ResourceContext) check() error {
	if c.released {
		return gfx.ErrReleased
	}
	return nil
}

// CreateTexture implements gfx.ResourceContext
func (c *ResourceContext) CreateTexture(desc *resource.Texture) (gfx.Texture, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	img, err := newImage(c.device.device, c.device.allocator, desc.Width, desc.Height,
		vk.FormatR8g8b8a8Unorm, vk.ImageUsageSampledBit, vk.ImageAspectColorBit, desc.Pixels)
	if err != nil {
		return nil, fmt.Errorf("texture %s: %w", desc.Name, err)
	}
	return &Texture{
		object: object{name: desc.Name},
		width:  desc.Width,
		height: desc.Height,
		image:  img,
	}, nil
}

// CreateShader implements gfx.ResourceContext
func (c *ResourceContext) CreateShader(desc *resource.Shader) (gfx.Shader, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(desc.BytecodeSize()),
		PCode:    sliceUint32(desc.Bytecode()),
	}
	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(c.device.device, &smci, nil, &module)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(%s): %s", desc.Name, err.Error())
	}
	return &Shader{
		object: object{name: desc.Name},
		device: c.device.device,
		stage:  desc.Stage,
		module: module,
	}, nil
}

func stageFlags(stages []string) vk.ShaderStageFlags {
	if len(stages) == 0 {
		return vk.ShaderStageFlags(vk.ShaderStageAllGraphics)
	}
	var flags vk.ShaderStageFlags
	for _, s := range stages {
		switch s {
		case "vert", "vertex":
			flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
		case "frag", "fragment":
			flags |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
		case "comp", "compute":
			flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
		}
	}
	return flags
}

func descriptorType(kind resource.BindingKind) vk.DescriptorType {
	switch kind {
	case resource.BindTexture:
		return vk.DescriptorTypeCombinedImageSampler
	case resource.BindSampler:
		return vk.DescriptorTypeSampler
	case resource.BindStorage:
		return vk.DescriptorTypeStorageBuffer
	}
	return vk.DescriptorTypeUniformBuffer
}

// CreateRootLayout implements gfx.ResourceContext
func (c *ResourceContext) CreateRootLayout(desc *resource.RootLayout) (gfx.RootLayout, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(desc.Bindings))
	for _, b := range desc.Bindings {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b.Slot),
			DescriptorType:  descriptorType(b.Kind),
			DescriptorCount: 1,
			StageFlags:      stageFlags(b.Stages),
		})
	}
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var setLayout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(c.device.device, &dslci, nil, &setLayout)); err != nil {
		return nil, errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}

	push := uint32(desc.PushConstants)
	if push < uint32(cameraSize) {
		push = uint32(cameraSize)
	}
	plci := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
			Size:       push,
		}},
	}
	var layout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(c.device.device, &plci, nil, &layout)); err != nil {
		vk.DestroyDescriptorSetLayout(c.device.device, setLayout, nil)
		return nil, errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}
	return &RootLayout{
		object:        object{name: desc.Name},
		device:        c.device.device,
		setLayout:     setLayout,
		layout:        layout,
		pushConstants: push,
	}, nil
}

func topology(name string) vk.PrimitiveTopology {
	switch name {
	case "triangle_strip":
		return vk.PrimitiveTopologyTriangleStrip
	case "line_list":
		return vk.PrimitiveTopologyLineList
	case "point_list":
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func cullMode(name string) vk.CullModeFlags {
	switch name {
	case "none":
		return vk.CullModeFlags(vk.CullModeNone)
	case "front":
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

// vertexInput describes the vertex buffer at binding 0 and the instance
// matrix, as four vec4 columns, at binding 1
func vertexInput() *vk.PipelineVertexInputStateCreateInfo {
	bindings := []vk.VertexInputBindingDescription{
		{Binding: 0, Stride: uint32(model.VertexSize), InputRate: vk.VertexInputRateVertex},
		{Binding: 1, Stride: uint32(model.InstanceSize), InputRate: vk.VertexInputRateInstance},
	}
	attributes := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12},
		{Location: 2, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 24},
	}
	for col := uint32(0); col < 4; col++ {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: 3 + col,
			Binding:  1,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   col * 16,
		})
	}
	return &vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
}

// CreatePipeline implements gfx.ResourceContext
func (c *ResourceContext) CreatePipeline(desc *resource.Pipeline, layout gfx.RootLayout, shaders []gfx.Shader) (gfx.Pipeline, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	root, ok := layout.(*RootLayout)
	if !ok {
		return nil, errors.New("vulkan: foreign root layout")
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(shaders))
	for _, s := range shaders {
		shader, ok := s.(*Shader)
		if !ok {
			return nil, errors.New("vulkan: foreign shader")
		}
		var stage vk.ShaderStageFlagBits
		switch shader.stage {
		case resource.StageVertex:
			stage = vk.ShaderStageVertexBit
		case resource.StageFragment:
			stage = vk.ShaderStageFragmentBit
		default:
			return nil, errors.New("unsupported shader type attempted creation")
		}
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: shader.module,
			PName:  safeString("main"),
		})
	}

	var depth vk.Bool32 = vk.False
	if desc.DepthTest {
		depth = vk.True
	}
	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: 0xF,
		BlendEnable:    vk.False,
	}
	if desc.Blend {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.ColorBlendOp = vk.BlendOpAdd
		blend.SrcAlphaBlendFactor = vk.BlendFactorOne
		blend.DstAlphaBlendFactor = vk.BlendFactorZero
		blend.AlphaBlendOp = vk.BlendOpAdd
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:             vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:        uint32(len(stages)),
		PStages:           stages,
		PVertexInputState: vertexInput(),
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topology(desc.Topology),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    cullMode(desc.CullMode),
			FrontFace:   vk.FrontFaceClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  depth,
			DepthWriteEnable: depth,
			DepthCompareOp:   vk.CompareOpLessOrEqual,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     root.layout,
		RenderPass: c.compatible,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := vk.Error(vk.CreateGraphicsPipelines(c.device.device, c.cache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		return nil, errors.New("vk.CreateGraphicsPipelines(): " + err.Error())
	}
	return &Pipeline{
		object:   object{name: desc.Name},
		device:   c.device.device,
		layout:   root,
		pipeline: pipelines[0],
	}, nil
}

// CreateMaterial implements gfx.ResourceContext
func (c *ResourceContext) CreateMaterial(desc *resource.Material, pipeline gfx.Pipeline, textures []gfx.Texture) (gfx.Material, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	p, ok := pipeline.(*Pipeline)
	if !ok {
		return nil, errors.New("vulkan: foreign pipeline")
	}
	names := make([]string, 0, len(desc.Parameters))
	for name := range desc.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([]byte, 0, 4*len(names))
	for _, name := range names {
		params = binary.LittleEndian.AppendUint32(params, math.Float32bits(desc.Parameters[name]))
	}
	if room := int(p.layout.pushConstants) - cameraSize; len(params) > room {
		params = params[:room-room%4]
	}
	return &Material{
		object:     object{name: desc.Name},
		pipeline:   p,
		textures:   textures,
		parameters: params,
	}, nil
}

// CreateMesh implements gfx.ResourceContext
func (c *ResourceContext) CreateMesh(desc *resource.Mesh) (gfx.Mesh, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var data []byte
	for i := range desc.Geometries {
		data = append(data, desc.Geometries[i].Bytes()...)
	}
	buf, err := newBuffer(c.device.device, uint(len(data)), vk.BufferUsageVertexBufferBit, c.device.allocator)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", desc.Name, err)
	}
	if err := buf.mem.write(0, data); err != nil {
		buf.release()
		return nil, err
	}
	return &Mesh{
		object:   object{name: desc.Name},
		vertices: desc.VertexCount(),
		buffer:   buf,
	}, nil
}

// CreateRenderTarget implements gfx.ResourceContext
func (c *ResourceContext) CreateRenderTarget(desc *resource.RenderTarget) (gfx.RenderTarget, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	usage, aspect := vk.ImageUsageColorAttachmentBit|vk.ImageUsageSampledBit, vk.ImageAspectColorBit
	if isDepthFormat(desc.Format) {
		usage, aspect = vk.ImageUsageDepthStencilAttachmentBit|vk.ImageUsageSampledBit, vk.ImageAspectDepthBit
	}
	img, err := newImage(c.device.device, c.device.allocator, desc.Width, desc.Height, formatOf(desc.Format), usage, aspect, nil)
	if err != nil {
		return nil, fmt.Errorf("render target %s: %w", desc.Name, err)
	}
	return &RenderTarget{
		object: object{name: desc.Name},
		desc:   desc,
		image:  img,
	}, nil
}

type attachment struct {
	format vk.Format
	depth  bool
}

func createRenderPass(device vk.Device, attachments []attachment, clear bool) (vk.RenderPass, error) {
	loadOp := vk.AttachmentLoadOpLoad
	if clear {
		loadOp = vk.AttachmentLoadOpClear
	}
	var (
		descriptions []vk.AttachmentDescription
		colorRefs    []vk.AttachmentReference
		depthRef     *vk.AttachmentReference
	)
	for i, a := range attachments {
		final := vk.ImageLayoutColorAttachmentOptimal
		if a.depth {
			final = vk.ImageLayoutDepthStencilAttachmentOptimal
		}
		descriptions = append(descriptions, vk.AttachmentDescription{
			Format:         a.format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    final,
		})
		ref := vk.AttachmentReference{Attachment: uint32(i), Layout: final}
		if a.depth {
			depthRef = &ref
		} else {
			colorRefs = append(colorRefs, ref)
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorRefs)),
		PColorAttachments:       colorRefs,
		PDepthStencilAttachment: depthRef,
	}
	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descriptions)),
		PAttachments:    descriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	var pass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(device, &rpci, nil, &pass)); err != nil {
		return nil, errors.New("vk.CreateRenderPass(): " + err.Error())
	}
	return pass, nil
}

// CreateRenderPass implements gfx.ResourceContext
func (c *ResourceContext) CreateRenderPass(desc *resource.RenderPass, targets []gfx.RenderTarget) (gfx.RenderPass, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var (
		attachments []attachment
		views       []vk.ImageView
		clear       []vk.ClearValue
		width       int
		height      int
	)
	for _, t := range targets {
		target, ok := t.(*RenderTarget)
		if !ok {
			return nil, errors.New("vulkan: foreign render target")
		}
		width, height = target.Size()
		attachments = append(attachments, attachment{format: target.image.format, depth: target.depth()})
		views = append(views, target.image.view)
		var value vk.ClearValue
		if target.depth() {
			value.SetDepthStencil(1, 0)
		} else {
			value.SetColor(target.desc.ClearColor[:])
		}
		clear = append(clear, value)
	}

	pass, err := createRenderPass(c.device.device, attachments, desc.Clear)
	if err != nil {
		return nil, err
	}
	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(width),
		Height:          uint32(height),
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(c.device.device, &fci, nil, &framebuffer)); err != nil {
		vk.DestroyRenderPass(c.device.device, pass, nil)
		return nil, errors.New("vk.CreateFramebuffer(): " + err.Error())
	}
	return &RenderPass{
		object:      object{name: desc.Name},
		device:      c.device.device,
		desc:        desc,
		targets:     targets,
		pass:        pass,
		framebuffer: framebuffer,
		clear:       clear,
		width:       uint32(width),
		height:      uint32(height),
	}, nil
}

// Release implements gfx.Releasable
func (c *ResourceContext) Release() {
	if c.released {
		return
	}
	c.released = true
	vk.DestroyRenderPass(c.device.device, c.compatible, nil)
	vk.DestroyPipelineCache(c.device.device, c.cache, nil)
}
