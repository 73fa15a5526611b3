// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build vulkan

package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"
)

// memoryAllocator hands out device memory of a suitable type
type memoryAllocator struct {
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties
}

func newMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) *memoryAllocator {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &memProperties)
	memProperties.Deref()
	return &memoryAllocator{
		device:        device,
		memProperties: memProperties,
	}
}

func (ma *memoryAllocator) malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (memory, error) {
	memTypeIdx, err := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return memory{}, err
	}
	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}
	var mem vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &mai, nil, &mem)); err != nil {
		return memory{}, fmt.Errorf("vk.AllocateMemory(): %s", err.Error())
	}
	return memory{
		len:    uint(req.Size),
		device: ma.device,
		memory: mem,
	}, nil
}

func (ma *memoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < ma.memProperties.MemoryTypeCount; idx++ {
		ma.memProperties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (ma.memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.New("suitable memory type not found")
}

// memory is one allocation, optionally mapped
type memory struct {
	mapped unsafe.Pointer
	len    uint
	device vk.Device
	memory vk.DeviceMemory
}

func (m *memory) mapAll() (unsafe.Pointer, error) {
	if m.mapped != nil {
		return m.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, 0, vk.DeviceSize(m.len), 0, &ptr)); err != nil {
		return nil, errors.New("vk.MapMemory(): " + err.Error())
	}
	m.mapped = ptr
	return ptr, nil
}

// write copies data to offset of the mapped memory
func (m *memory) write(offset uint, data []byte) error {
	if offset+uint(len(data)) > m.len {
		return fmt.Errorf("vulkan: write of %d bytes at %d overflows %d", len(data), offset, m.len)
	}
	ptr, err := m.mapAll()
	if err != nil {
		return err
	}
	vk.Memcopy(unsafe.Pointer(uintptr(ptr)+uintptr(offset)), data)
	return nil
}

func (m *memory) release() {
	if m.mapped != nil {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = nil
	}
	vk.FreeMemory(m.device, m.memory, nil)
}

// buffer is a host visible buffer with its memory
type buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint
	mem    memory
}

func newBuffer(dev vk.Device, size uint, usage vk.BufferUsageFlagBits, ma *memoryAllocator) (*buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buf)); err != nil {
		return nil, fmt.Errorf("vk.CreateBuffer(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buf, &req)
	req.Deref()
	mem, err := ma.malloc(req, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		vk.DestroyBuffer(dev, buf, nil)
		return nil, err
	}
	if err := vk.Error(vk.BindBufferMemory(dev, buf, mem.memory, 0)); err != nil {
		vk.DestroyBuffer(dev, buf, nil)
		mem.release()
		return nil, errors.New("vk.BindBufferMemory(): " + err.Error())
	}
	return &buffer{device: dev, buffer: buf, size: size, mem: mem}, nil
}

func (b *buffer) release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.mem.release()
}

// image is an image with its memory and a view over all of it
type image struct {
	device vk.Device
	image  vk.Image
	view   vk.ImageView
	format vk.Format
	mem    memory
}

func newImage(dev vk.Device, ma *memoryAllocator, width, height int, format vk.Format, usage vk.ImageUsageFlagBits, aspect vk.ImageAspectFlagBits, pixels []byte) (*image, error) {
	tiling, layout, prop := vk.ImageTilingOptimal, vk.ImageLayoutUndefined, vk.MemoryPropertyDeviceLocalBit
	if pixels != nil {
		// uploaded images stay linear so they can be written through a mapping
		tiling, layout = vk.ImageTilingLinear, vk.ImageLayoutPreinitialized
		prop = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(width),
			Height: uint32(height),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        tiling,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: layout,
	}
	img := &image{device: dev, format: format}
	if err := vk.Error(vk.CreateImage(dev, &ici, nil, &img.image)); err != nil {
		return nil, errors.New("vk.CreateImage(): " + err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, img.image, &req)
	req.Deref()
	mem, err := ma.malloc(req, prop)
	if err != nil {
		vk.DestroyImage(dev, img.image, nil)
		return nil, err
	}
	img.mem = mem
	if err := vk.Error(vk.BindImageMemory(dev, img.image, mem.memory, 0)); err != nil {
		img.release()
		return nil, errors.New("vk.BindImageMemory(): " + err.Error())
	}
	if pixels != nil {
		if err := img.mem.write(0, pixels); err != nil {
			img.release()
			return nil, err
		}
	}

	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if err := vk.Error(vk.CreateImageView(dev, &ivci, nil, &img.view)); err != nil {
		img.release()
		return nil, errors.New("vk.CreateImageView(): " + err.Error())
	}
	return img, nil
}

func (i *image) release() {
	if i.view != nil {
		vk.DestroyImageView(i.device, i.view, nil)
	}
	vk.DestroyImage(i.device, i.image, nil)
	i.mem.release()
}

// sliceUint32 reslices bytes into a uint32, that is used
// to sumbit vulkan shaders for processing
func sliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func safeString(s string) string {
	return s + "\x00"
}
