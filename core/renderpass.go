// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"sync"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/model"
)

// DefaultInstanceChunkSize fits one model matrix
const DefaultInstanceChunkSize = model.InstanceSize

type renderable struct {
	material gfx.Material
	mesh     gfx.Mesh
}

// renderableInstances is one batched draw: every instance of a
// material and mesh pair scheduled this frame
type renderableInstances struct {
	renderable
	count int
	data  []byte
}

type pipelineGroup struct {
	pipeline gfx.Pipeline
	items    []*renderableInstances
	index    map[renderable]*renderableInstances
}

// PassStats describes the last recorded command list of a pass
type PassStats struct {
	Pipelines int
	Draws     int
	Instances int
	Bytes     int
}

// RenderPass collects the draws of one logical pass over a frame and
// records them into a command list, batched by pipeline.
type RenderPass struct {
	ID uuid.UUID

	native       gfx.RenderPass
	name         string
	layers       uint64
	chunk        int
	maxInstances int
	update       func(*RenderPass) error

	mutex     sync.Mutex
	view      glm.Mat4
	proj      glm.Mat4
	order     []*pipelineGroup
	groups    map[gfx.Pipeline]*pipelineGroup
	instances int

	// instance buffer and its write cursor, rebuilt on every recording
	buffer []byte
	cursor int

	frame uint64
	list  gfx.CommandList
	ready bool
	stats PassStats
}

// NewRenderPass wraps a native pass created by the resource pool
func NewRenderPass(native gfx.RenderPass) *RenderPass {
	p := &RenderPass{
		ID:     uuid.New(),
		native: native,
		name:   native.Name(),
		layers: ^uint64(0),
		chunk:  DefaultInstanceChunkSize,
		view:   glm.Ident4(),
		proj:   glm.Ident4(),
		groups: make(map[gfx.Pipeline]*pipelineGroup),
	}
	if desc := native.Description(); desc != nil {
		p.name = desc.Name
		p.layers = desc.LayerMask()
		if desc.InstanceChunkSize > 0 {
			p.chunk = desc.InstanceChunkSize
		}
		p.maxInstances = desc.MaxInstances
	}
	return p
}

// Name of the pass
func (p *RenderPass) Name() string {
	return p.name
}

// Native returns the backend pass
func (p *RenderPass) Native() gfx.RenderPass {
	return p.native
}

// InstanceChunkSize is the number of bytes every instance occupies
func (p *RenderPass) InstanceChunkSize() int {
	return p.chunk
}

// Visible reports whether objects on layer are drawn by this pass
func (p *RenderPass) Visible(layer uint) bool {
	return layer < 64 && p.layers&(1<<layer) != 0
}

// SetView sets the camera view matrix for the next recording
func (p *RenderPass) SetView(view glm.Mat4) {
	p.mutex.Lock()
	p.view = view
	p.mutex.Unlock()
}

// SetProj sets the projection matrix for the next recording
func (p *RenderPass) SetProj(proj glm.Mat4) {
	p.mutex.Lock()
	p.proj = proj
	p.mutex.Unlock()
}

// SetUpdate installs the per-frame hook Update runs before recording
func (p *RenderPass) SetUpdate(fn func(*RenderPass) error) {
	p.mutex.Lock()
	p.update = fn
	p.mutex.Unlock()
}

// Update flushes per-frame state before the command list is recorded
func (p *RenderPass) Update() error {
	p.mutex.Lock()
	fn := p.update
	p.mutex.Unlock()
	if fn == nil {
		return nil
	}
	return fn(p)
}

// ScheduleRenderRequest queues one instance of mesh drawn with material.
// instance is copied into a fixed size chunk, zero padded.
func (p *RenderPass) ScheduleRenderRequest(material gfx.Material, mesh gfx.Mesh, instance []byte) error {
	if material == nil || mesh == nil || material.Pipeline() == nil {
		return ErrInvalidRenderRequest
	}
	if len(instance) > p.chunk {
		return fmt.Errorf("%w: %d > %d bytes", ErrInstanceTooLarge, len(instance), p.chunk)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.maxInstances > 0 && p.instances >= p.maxInstances {
		return ErrPassFull
	}

	pipeline := material.Pipeline()
	group, ok := p.groups[pipeline]
	if !ok {
		group = &pipelineGroup{
			pipeline: pipeline,
			index:    make(map[renderable]*renderableInstances),
		}
		p.groups[pipeline] = group
		p.order = append(p.order, group)
	}

	key := renderable{material: material, mesh: mesh}
	item, ok := group.index[key]
	if !ok {
		item = &renderableInstances{renderable: key}
		group.index[key] = item
		group.items = append(group.items, item)
	}
	start := len(item.data)
	item.data = append(item.data, make([]byte, p.chunk)...)
	copy(item.data[start:], instance)
	item.count++
	p.instances++
	return nil
}

// ScheduleModel queues mesh with a model matrix as instance data
func (p *RenderPass) ScheduleModel(material gfx.Material, mesh gfx.Mesh, m glm.Mat4) error {
	return p.ScheduleRenderRequest(material, mesh, model.InstanceData(m))
}

// Pending returns the number of instances scheduled since the last recording
func (p *RenderPass) Pending() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.instances
}

// BuildCommandList records the scheduled draws into a list allocated
// from pool: each pipeline is bound once, each material and mesh pair is
// drawn once with all its instances. Must run on the goroutine owning
// pool. Scheduled draws are consumed whether recording succeeds or not.
func (p *RenderPass) BuildCommandList(pool gfx.CommandPool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	defer p.reset()

	p.list, p.ready = nil, false
	list, err := pool.Allocate()
	if err != nil {
		return fmt.Errorf("allocate command list: %w", err)
	}
	if err := p.record(list); err != nil {
		return fmt.Errorf("record %s: %w", p.name, err)
	}
	p.list, p.ready = list, true
	return nil
}

func (p *RenderPass) record(list gfx.CommandList) error {
	var stats PassStats
	if err := list.Begin(p.native, p.view, p.proj); err != nil {
		return err
	}

	need := p.instances * p.chunk
	if cap(p.buffer) < need {
		p.buffer = make([]byte, need)
	}
	p.buffer = p.buffer[:need]
	p.cursor = 0

	for _, group := range p.order {
		if err := list.BindPipeline(group.pipeline); err != nil {
			return err
		}
		stats.Pipelines++
		for _, item := range group.items {
			start := p.cursor
			p.cursor += copy(p.buffer[p.cursor:], item.data)
			if err := list.BindMaterial(item.material); err != nil {
				return err
			}
			if err := list.SetInstanceData(p.buffer[start:p.cursor]); err != nil {
				return err
			}
			if err := list.DrawInstanced(item.mesh, item.count); err != nil {
				return err
			}
			stats.Draws++
			stats.Instances += item.count
		}
	}
	if err := list.End(); err != nil {
		return err
	}
	stats.Bytes = p.cursor
	p.stats = stats
	return nil
}

func (p *RenderPass) reset() {
	p.order = p.order[:0]
	clear(p.groups)
	p.instances = 0
}

// CommandList returns the list recorded by the last BuildCommandList,
// nil when it failed
func (p *RenderPass) CommandList() gfx.CommandList {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.list
}

// Ready reports whether the last recording succeeded
func (p *RenderPass) Ready() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.ready
}

// Stats describes the last successful recording
func (p *RenderPass) Stats() PassStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stats
}

func (p *RenderPass) setFrame(frame uint64) {
	p.mutex.Lock()
	p.frame = frame
	p.mutex.Unlock()
}

func (p *RenderPass) frameNumber() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.frame
}
