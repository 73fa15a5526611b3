// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package headless is a backend that keeps GPU objects in memory and
// records commands instead of executing them. It needs no hardware and
// is what tests and the demo run against.
package headless

import (
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/gfx"
)

// ErrNotInitialised is returned when the device is used before Initialise
var ErrNotInitialised = errors.New("headless: device not initialised")

func init() {
	gfx.Register("headless", func(cfg gfx.Config) (gfx.Device, error) {
		return NewDevice(cfg), nil
	})
}

// Hooks observe and steer object creation. They run on the resource worker.
type Hooks struct {
	// BeforeCreate is called with the object kind and description name.
	// A non-nil error fails the creation.
	BeforeCreate func(kind, name string) error
}

// Device implements gfx.Device
type Device struct {
	logger     *log.Entry
	debug      bool
	extensions []string

	hooks       atomic.Pointer[Hooks]
	initialised atomic.Bool
	live        atomic.Int64
	presented   atomic.Int64

	mutex     sync.Mutex
	submitted []*CommandList
}

// NewDevice creates an uninitialised headless device
func NewDevice(cfg gfx.Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "headless")
	}
	return &Device{logger: logger, debug: cfg.Debug, extensions: cfg.Extensions}
}

// SetHooks replaces the creation hooks
func (d *Device) SetHooks(h Hooks) {
	d.hooks.Store(&h)
}

// Initialise implements gfx.Device
func (d *Device) Initialise() error {
	d.initialised.Store(true)
	d.logger.Debug("headless device initialised")
	return nil
}

// DeviceInfo implements gfx.Device
func (d *Device) DeviceInfo() []gfx.PhysicalDeviceInfo {
	return []gfx.PhysicalDeviceInfo{{
		Name:       "Headless",
		Type:       "cpu",
		Extensions: d.extensions,
	}}
}

// NewResourceContext implements gfx.Device
func (d *Device) NewResourceContext() (gfx.ResourceContext, error) {
	if !d.initialised.Load() {
		return nil, ErrNotInitialised
	}
	return &ResourceContext{device: d}, nil
}

// NewCommandPool implements gfx.Device
func (d *Device) NewCommandPool() (gfx.CommandPool, error) {
	if !d.initialised.Load() {
		return nil, ErrNotInitialised
	}
	return &CommandPool{}, nil
}

// Submit implements gfx.Device
func (d *Device) Submit(lists []gfx.CommandList) error {
	frame := make([]*CommandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return errors.New("headless: foreign command list")
		}
		if cl.recording {
			return errors.New("headless: command list still recording")
		}
		frame = append(frame, cl)
	}
	d.mutex.Lock()
	d.submitted = frame
	d.mutex.Unlock()
	return nil
}

// Present implements gfx.Device
func (d *Device) Present() error {
	if !d.initialised.Load() {
		return ErrNotInitialised
	}
	d.presented.Add(1)
	return nil
}

// Release implements gfx.Device
func (d *Device) Release() {
	d.initialised.Store(false)
	if n := d.live.Load(); n != 0 {
		d.logger.WithField("live", n).Warn("device released with live objects")
	}
}

// Live returns the number of created and not yet released objects
func (d *Device) Live() int {
	return int(d.live.Load())
}

// Presented returns the number of presented frames
func (d *Device) Presented() int {
	return int(d.presented.Load())
}

// Submitted returns the command lists of the last submission
func (d *Device) Submitted() []*CommandList {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.submitted
}

func (d *Device) before(kind, name string) error {
	if h := d.hooks.Load(); h != nil && h.BeforeCreate != nil {
		return h.BeforeCreate(kind, name)
	}
	return nil
}
