// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build vulkan

// Package vulkan is the Vulkan backend. It renders offscreen into the
// render targets of each pass; presenting to a window is left to the
// embedding application.
package vulkan

import (
	"errors"
	"fmt"
	"math"
	"sync"

	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/gfx"
)

func init() {
	gfx.Register("vulkan", func(cfg gfx.Config) (gfx.Device, error) {
		return NewDevice(cfg), nil
	})
}

// ErrNotInitialised is returned when the device is used before Initialise
var ErrNotInitialised = errors.New("vulkan: device not initialised")

// Device implements gfx.Device
type Device struct {
	cfg    gfx.Config
	logger *log.Entry

	instance         vk.Instance
	availableDevices []vk.PhysicalDevice
	physicalDevice   vk.PhysicalDevice
	device           vk.Device
	queue            vk.Queue
	queueFamily      uint32
	allocator        *memoryAllocator

	// submission is serialised, the queue is not thread safe
	mutex       sync.Mutex
	fence       vk.Fence
	initialised bool
	frames      uint64
}

// NewDevice creates an uninitialised Vulkan device
func NewDevice(cfg gfx.Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "vulkan")
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = "Koru3D"
	}
	return &Device{cfg: cfg, logger: logger}
}

// Initialise implements gfx.Device
func (d *Device) Initialise() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.initialised {
		return nil
	}

	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return errors.New("vk.InstanceProcAddr(): " + err.Error())
	}
	if err := vk.Init(); err != nil {
		return errors.New("vk.Init(): " + err.Error())
	}

	var layers, extensions []string
	if d.cfg.Debug {
		layers = append(layers, safeString("VK_LAYER_KHRONOS_validation"))
		extensions = append(extensions, safeString("VK_EXT_debug_report"))
	}
	instanceInfo := vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         vk.MakeVersion(1, 0, 0),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PApplicationName:   safeString(d.cfg.ApplicationName),
			PEngineName:        safeString("Koru3D"),
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}
	if err := vk.Error(vk.CreateInstance(&instanceInfo, nil, &d.instance)); err != nil {
		return errors.New("vk.CreateInstance(): " + err.Error())
	}
	if err := vk.InitInstance(d.instance); err != nil {
		return errors.New("vk.InitInstance(): " + err.Error())
	}

	devices, err := enumerateDevices(d.instance)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errors.New("vulkan: no physical devices")
	}
	d.availableDevices = devices
	d.physicalDevice = devices[0]

	family, err := graphicsQueueFamily(d.physicalDevice)
	if err != nil {
		return err
	}
	d.queueFamily = family

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: family,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}
	deviceExtensions := make([]string, 0, len(d.cfg.Extensions))
	for _, ext := range d.cfg.Extensions {
		deviceExtensions = append(deviceExtensions, safeString(ext))
	}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: deviceExtensions,
	}
	if err := vk.Error(vk.CreateDevice(d.physicalDevice, &dci, nil, &d.device)); err != nil {
		return errors.New("vk.CreateDevice(): " + err.Error())
	}
	vk.GetDeviceQueue(d.device, family, 0, &d.queue)
	d.allocator = newMemoryAllocator(d.device, d.physicalDevice)

	fci := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if err := vk.Error(vk.CreateFence(d.device, &fci, nil, &d.fence)); err != nil {
		return errors.New("vk.CreateFence(): " + err.Error())
	}
	d.initialised = true
	d.logger.WithField("devices", len(devices)).Info("vulkan device initialised")
	return nil
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	availableDevices := make([]vk.PhysicalDevice, deviceCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, availableDevices)); err != nil {
		return nil, fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	return availableDevices, nil
}

func graphicsQueueFamily(device vk.PhysicalDevice) (uint32, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	if count == 0 {
		return 0, errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)
	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return i, nil
		}
	}
	return 0, errors.New("vulkan: no graphics queue family")
}

// DeviceInfo implements gfx.Device
func (d *Device) DeviceInfo() []gfx.PhysicalDeviceInfo {
	pdi := make([]gfx.PhysicalDeviceInfo, len(d.availableDevices))
	for i, device := range d.availableDevices {
		var numDeviceExtensions uint32
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(device, "", &numDeviceExtensions, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(device, "", &numDeviceExtensions, deviceExt)); err != nil {
			pdi[i].Invalid = true
		}
		for _, ext := range deviceExt {
			ext.Deref()
			pdi[i].Extensions = append(pdi[i].Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		var numDeviceLayers uint32
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(device, &numDeviceLayers, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(device, &numDeviceLayers, deviceLayers)); err != nil {
			pdi[i].Invalid = true
		}
		for _, layer := range deviceLayers {
			layer.Deref()
			pdi[i].Layers = append(pdi[i].Layers, vk.ToString(layer.LayerName[:]))
		}

		var memoryProperties vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(device, &memoryProperties)
		memoryProperties.Deref()
		for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
			memoryProperties.MemoryHeaps[iMem].Deref()
			pdi[i].Memory += uint64(memoryProperties.MemoryHeaps[iMem].Size)
		}

		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(device, &properties)
		properties.Deref()
		pdi[i].ID = int(properties.DeviceID)
		pdi[i].VendorID = int(properties.VendorID)
		pdi[i].Name = vk.ToString(properties.DeviceName[:])
		pdi[i].DriverVersion = int(properties.DriverVersion)
		pdi[i].Type = deviceType(properties.DeviceType)
	}
	return pdi
}

func deviceType(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "other"
}

// NewResourceContext implements gfx.Device
func (d *Device) NewResourceContext() (gfx.ResourceContext, error) {
	if !d.ready() {
		return nil, ErrNotInitialised
	}
	return newResourceContext(d)
}

// NewCommandPool implements gfx.Device
func (d *Device) NewCommandPool() (gfx.CommandPool, error) {
	if !d.ready() {
		return nil, ErrNotInitialised
	}
	return &CommandPool{device: d}, nil
}

func (d *Device) ready() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.initialised
}

// Submit implements gfx.Device. It waits for the lists to finish executing.
func (d *Device) Submit(lists []gfx.CommandList) error {
	buffers := make([]vk.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return errors.New("vulkan: foreign command list")
		}
		if cl.recording {
			return errors.New("vulkan: command list still recording")
		}
		buffers = append(buffers, cl.buffer)
	}
	if len(buffers) == 0 {
		return nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.initialised {
		return ErrNotInitialised
	}
	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}}
	if err := vk.Error(vk.QueueSubmit(d.queue, 1, submit, d.fence)); err != nil {
		return errors.New("vk.QueueSubmit(): " + err.Error())
	}
	fences := []vk.Fence{d.fence}
	if err := vk.Error(vk.WaitForFences(d.device, 1, fences, vk.True, math.MaxUint64)); err != nil {
		return errors.New("vk.WaitForFences(): " + err.Error())
	}
	if err := vk.Error(vk.ResetFences(d.device, 1, fences)); err != nil {
		return errors.New("vk.ResetFences(): " + err.Error())
	}
	return nil
}

// Present implements gfx.Device. Frames stay in the pass targets.
func (d *Device) Present() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.initialised {
		return ErrNotInitialised
	}
	d.frames++
	return nil
}

// Release implements gfx.Device
func (d *Device) Release() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.initialised {
		return
	}
	d.initialised = false
	vk.DeviceWaitIdle(d.device)
	vk.DestroyFence(d.device, d.fence, nil)
	vk.DestroyDevice(d.device, nil)
	vk.DestroyInstance(d.instance, nil)
	d.availableDevices = nil
	d.logger.WithField("frames", d.frames).Debug("vulkan device released")
}
