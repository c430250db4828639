package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize
	Usage  vk.BufferUsageFlags

	mapped unsafe.Pointer
}

// NewBuffer creates a buffer and binds freshly allocated memory with the
// given properties. Buffers used for device addresses get their memory
// allocated with the device address flag.
func NewBuffer(vc *VulkanContext, size vk.DeviceSize, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{
		Size:  size,
		Usage: usage,
	}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if err := vc.Locks.SafeCall(BufferManagement, func() error {
		if res := vk.CreateBuffer(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &buffer.Handle); res != vk.Success {
			return ResultError(res, "vkCreateBuffer")
		}
		return nil
	}); err != nil {
		return nil, core.NewInitError(core.InitErrorBuffer, err, "buffer of %d bytes", size)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(vc.Device.LogicalDevice, buffer.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := vc.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryType == -1 {
		buffer.Destroy(vc)
		return nil, core.NewInitError(core.InitErrorBuffer, nil, "no memory type for buffer of %d bytes", size)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if usage&vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit) != 0 {
		flagsInfo := vk.MemoryAllocateFlagsInfo{
			SType: vk.StructureTypeMemoryAllocateFlagsInfo,
			Flags: vk.MemoryAllocateFlags(MemoryAllocateDeviceAddressBit),
		}
		allocateInfo.PNext = unsafe.Pointer(flagsInfo.Ref())
	}

	if err := vc.Locks.SafeCall(MemoryManagement, func() error {
		if res := vk.AllocateMemory(vc.Device.LogicalDevice, &allocateInfo, vc.Allocator, &buffer.Memory); res != vk.Success {
			return ResultError(res, "vkAllocateMemory")
		}
		if res := vk.BindBufferMemory(vc.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
			return ResultError(res, "vkBindBufferMemory")
		}
		return nil
	}); err != nil {
		buffer.Destroy(vc)
		return nil, core.NewInitError(core.InitErrorBuffer, err, "buffer memory of %d bytes", size)
	}
	return buffer, nil
}

// Write copies data into the buffer at offset. The buffer must be host visible.
// The mapping is kept until Destroy.
func (b *VulkanBuffer) Write(vc *VulkanContext, offset vk.DeviceSize, data []byte) error {
	if b.mapped == nil {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(vc.Device.LogicalDevice, b.Memory, 0, b.Size, 0, &ptr); res != vk.Success {
			err := ResultError(res, "vkMapMemory")
			core.LogError(err.Error())
			return err
		}
		b.mapped = ptr
	}
	dst := unsafe.Pointer(uintptr(b.mapped) + uintptr(offset))
	vk.Memcopy(dst, data)
	return nil
}

func (b *VulkanBuffer) Destroy(vc *VulkanContext) {
	_ = vc.Locks.SafeCall(BufferManagement, func() error {
		if b.mapped != nil {
			vk.UnmapMemory(vc.Device.LogicalDevice, b.Memory)
			b.mapped = nil
		}
		if b.Memory != vk.NullDeviceMemory {
			vk.FreeMemory(vc.Device.LogicalDevice, b.Memory, vc.Allocator)
			b.Memory = vk.NullDeviceMemory
		}
		if b.Handle != vk.NullBuffer {
			vk.DestroyBuffer(vc.Device.LogicalDevice, b.Handle, vc.Allocator)
			b.Handle = vk.NullBuffer
		}
		return nil
	})
}
