// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"errors"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korugfx/gfx"
)

// Op is a recorded command
type Op int

// Recorded operations
const (
	OpBegin Op = iota
	OpBindPipeline
	OpBindMaterial
	OpSetInstanceData
	OpDraw
	OpEnd
)

func (o Op) String() string {
	return [...]string{"begin", "bind_pipeline", "bind_material", "set_instance_data", "draw", "end"}[o]
}

// Command is one recorded call on a CommandList
type Command struct {
	Op        Op
	Name      string
	Instances int
	Data      []byte
}

// CommandPool implements gfx.CommandPool
type CommandPool struct {
	initialised bool
	released    bool
	lists       []*CommandList
}

// Initialise implements gfx.CommandPool
func (p *CommandPool) Initialise() error {
	if p.released {
		return gfx.ErrReleased
	}
	p.initialised = true
	return nil
}

// Allocate implements gfx.CommandPool
func (p *CommandPool) Allocate() (gfx.CommandList, error) {
	if p.released {
		return nil, gfx.ErrReleased
	}
	if !p.initialised {
		return nil, errors.New("headless: command pool not initialised")
	}
	cl := &CommandList{}
	p.lists = append(p.lists, cl)
	return cl, nil
}

// Reset implements gfx.CommandPool
func (p *CommandPool) Reset() error {
	if p.released {
		return gfx.ErrReleased
	}
	p.lists = p.lists[:0]
	return nil
}

// Allocated returns the number of lists allocated since the last reset
func (p *CommandPool) Allocated() int {
	return len(p.lists)
}

// Release implements gfx.Releasable
func (p *CommandPool) Release() {
	p.released = true
	p.lists = nil
}

// CommandList implements gfx.CommandList by recording every call
type CommandList struct {
	recording bool
	pass      string
	view      glm.Mat4
	proj      glm.Mat4
	commands  []Command
}

// Pass is the name of the pass the list was recorded for
func (c *CommandList) Pass() string {
	return c.pass
}

// Commands returns the recorded commands
func (c *CommandList) Commands() []Command {
	return c.commands
}

// Camera returns the view and projection given to Begin
func (c *CommandList) Camera() (glm.Mat4, glm.Mat4) {
	return c.view, c.proj
}

// Draws returns only the draw commands
func (c *CommandList) Draws() []Command {
	var draws []Command
	for _, cmd := range c.commands {
		if cmd.Op == OpDraw {
			draws = append(draws, cmd)
		}
	}
	return draws
}

// Count returns how many commands of op were recorded
func (c *CommandList) Count(op Op) int {
	var n int
	for _, cmd := range c.commands {
		if cmd.Op == op {
			n++
		}
	}
	return n
}

func (c *CommandList) record(cmd Command) error {
	if !c.recording {
		return gfx.ErrNotRecording
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func released(r gfx.Releasable) bool {
	type releasedReporter interface{ Released() bool }
	rr, ok := r.(releasedReporter)
	return ok && rr.Released()
}

// Begin implements gfx.CommandList
func (c *CommandList) Begin(pass gfx.RenderPass, view, projection glm.Mat4) error {
	if c.recording {
		return errors.New("headless: command list already recording")
	}
	if pass == nil || released(pass) {
		return gfx.ErrReleased
	}
	c.recording = true
	c.pass = pass.Name()
	c.view, c.proj = view, projection
	c.commands = c.commands[:0]
	return c.record(Command{Op: OpBegin, Name: pass.Name()})
}

// BindPipeline implements gfx.CommandList
func (c *CommandList) BindPipeline(p gfx.Pipeline) error {
	if released(p) {
		return gfx.ErrReleased
	}
	return c.record(Command{Op: OpBindPipeline, Name: p.Name()})
}

// BindMaterial implements gfx.CommandList
func (c *CommandList) BindMaterial(m gfx.Material) error {
	if released(m) {
		return gfx.ErrReleased
	}
	return c.record(Command{Op: OpBindMaterial, Name: m.Name()})
}

// SetInstanceData implements gfx.CommandList
func (c *CommandList) SetInstanceData(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	return c.record(Command{Op: OpSetInstanceData, Data: cp})
}

// DrawInstanced implements gfx.CommandList
func (c *CommandList) DrawInstanced(mesh gfx.Mesh, instances int) error {
	if released(mesh) {
		return gfx.ErrReleased
	}
	if instances <= 0 {
		return errors.New("headless: draw without instances")
	}
	return c.record(Command{Op: OpDraw, Name: mesh.Name(), Instances: instances})
}

// End implements gfx.CommandList
func (c *CommandList) End() error {
	if err := c.record(Command{Op: OpEnd}); err != nil {
		return err
	}
	c.recording = false
	return nil
}
