// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/gfx"
)

// FrameStats describes the last drawn frame
type FrameStats struct {
	Frame   uint64
	Passes  int
	Skipped int
	Draws   int
}

// Renderer drives frames: passes are recorded by the dispatcher's
// render threads, then submitted in the order they were added.
// It's created only with internal values set, it needs to be
// initialised with Initialise() before use.
type Renderer struct {
	cfg    RendererConfiguration
	device gfx.Device
	pool   *ResourcePool
	opts   []Option
	options

	dispatcher *Dispatcher
	passes     []*RenderPass
	files      []string
	frame      atomic.Uint64
	last       atomic.Pointer[FrameStats]
}

// NewRenderer creates a renderer for device, loading through pool
func NewRenderer(device gfx.Device, pool *ResourcePool, cfg RendererConfiguration, opts ...Option) *Renderer {
	return &Renderer{
		cfg:     cfg,
		device:  device,
		pool:    pool,
		opts:    opts,
		options: newOptions("renderer", opts),
	}
}

// Initialise sets up the device, the resource pool and the render threads
func (r *Renderer) Initialise() error {
	if err := r.device.Initialise(); err != nil {
		return err
	}
	if err := r.pool.Initialize(r.device); err != nil {
		return err
	}
	dispatcher, err := NewDispatcher(r.device, r.cfg.RenderThreads, r.opts...)
	if err != nil {
		r.pool.DeInitialize()
		return err
	}
	r.dispatcher = dispatcher

	for _, file := range r.cfg.Passes {
		if _, err := r.AddPass(file); err != nil {
			r.Destroy()
			return err
		}
	}
	r.logger.WithFields(log.Fields{
		"threads": len(dispatcher.Threads()),
		"passes":  len(r.passes),
	}).Info("renderer initialised")
	return nil
}

// AddPass loads a render pass description and draws it every frame,
// after the passes added before it
func (r *Renderer) AddPass(file string) (*RenderPass, error) {
	native, err := r.pool.RequestRenderPass(file)
	if err != nil {
		return nil, err
	}
	pass := NewRenderPass(native)
	r.passes = append(r.passes, pass)
	r.files = append(r.files, file)
	return pass, nil
}

// Passes returns the passes in submission order
func (r *Renderer) Passes() []*RenderPass {
	return r.passes
}

// Pass finds a pass by name
func (r *Renderer) Pass(name string) *RenderPass {
	for _, p := range r.passes {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Pool returns the resource pool of the renderer
func (r *Renderer) Pool() *ResourcePool {
	return r.pool
}

// Draw records every pass. A pass that fails to record is logged and
// left out of this frame only.
func (r *Renderer) Draw() error {
	if r.dispatcher == nil {
		return errors.New("renderer not initialised")
	}
	frame := r.frame.Add(1)
	r.pool.BeginFrame()
	if err := r.dispatcher.Dispatch(r.passes...); err != nil {
		return err
	}
	stats := FrameStats{Frame: frame, Passes: len(r.passes)}
	for _, res := range r.dispatcher.Wait() {
		if res.Err != nil {
			stats.Skipped++
			r.logger.WithError(res.Err).WithFields(log.Fields{
				"pass":  res.Pass.Name(),
				"frame": frame,
			}).Warn("render pass skipped")
			continue
		}
		stats.Draws += res.Pass.Stats().Draws
	}
	r.last.Store(&stats)
	return nil
}

// Present submits the recorded passes in order and presents the frame
func (r *Renderer) Present() error {
	lists := make([]gfx.CommandList, 0, len(r.passes))
	for _, p := range r.passes {
		if p.Ready() {
			lists = append(lists, p.CommandList())
		}
	}
	err := r.device.Submit(lists)
	r.pool.EndFrame()
	if err != nil {
		return err
	}
	return r.device.Present()
}

// Stats describes the last drawn frame
func (r *Renderer) Stats() FrameStats {
	if s := r.last.Load(); s != nil {
		return *s
	}
	return FrameStats{}
}

// Destroy stops the render threads and releases every GPU object
func (r *Renderer) Destroy() {
	if r.dispatcher != nil {
		if err := r.dispatcher.Close(); err != nil {
			r.logger.WithError(err).Warn("render threads did not stop cleanly")
		}
		r.dispatcher = nil
	}
	for _, file := range r.files {
		r.pool.Release(TypeRenderPass, file)
	}
	r.passes, r.files = nil, nil
	if err := r.pool.DeInitialize(); err != nil {
		r.logger.WithError(err).Warn("resource pool did not stop cleanly")
	}
	r.device.Release()
}
