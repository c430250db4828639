package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

// QueueFamily names the role a queue plays. Several roles may share one
// Vulkan queue family index.
type QueueFamily uint8

const (
	QueueFamilyGraphics QueueFamily = iota
	QueueFamilyCompute
	QueueFamilyTransfer
	QueueFamilyPresent
	QueueFamilyCount
)

func (q QueueFamily) String() string {
	switch q {
	case QueueFamilyGraphics:
		return "graphics"
	case QueueFamilyCompute:
		return "compute"
	case QueueFamilyTransfer:
		return "transfer"
	case QueueFamilyPresent:
		return "present"
	default:
		return fmt.Sprintf("queue_family(%d)", uint8(q))
	}
}

// VulkanDevice wraps a logical device created by the application. The engine
// owns the command pools it creates, never the device itself.
type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	QueueIndices [QueueFamilyCount]uint32
	Queues       [QueueFamilyCount]vk.Queue
	// One pool per unique family index, shared by roles mapping to the same index.
	CommandPools map[uint32]vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

// NewVulkanDevice fetches the queues for every role and caches the device
// properties the renderer needs.
func NewVulkanDevice(physical vk.PhysicalDevice, logical vk.Device, indices [QueueFamilyCount]uint32) (*VulkanDevice, error) {
	device := &VulkanDevice{
		PhysicalDevice: physical,
		LogicalDevice:  logical,
		QueueIndices:   indices,
		CommandPools:   make(map[uint32]vk.CommandPool),
	}

	for family := QueueFamily(0); family < QueueFamilyCount; family++ {
		var queue vk.Queue
		vk.GetDeviceQueue(logical, indices[family], 0, &queue)
		device.Queues[family] = queue
	}
	core.LogInfo("Queues obtained.")

	vk.GetPhysicalDeviceProperties(physical, &device.Properties)
	device.Properties.Deref()
	device.Properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(physical, &device.Memory)
	device.Memory.Deref()

	if !DeviceDetectDepthFormat(device) {
		err := fmt.Errorf("failed to find a supported depth format")
		core.LogError(err.Error())
		return nil, err
	}
	return device, nil
}

func (d *VulkanDevice) QueueFamilyIndex(family QueueFamily) uint32 {
	return d.QueueIndices[family]
}

func (d *VulkanDevice) Queue(family QueueFamily) vk.Queue {
	return d.Queues[family]
}

func (d *VulkanDevice) CommandPool(family QueueFamily) vk.CommandPool {
	return d.CommandPools[d.QueueIndices[family]]
}

// UniqueQueueFamilyIndices returns the distinct family indices used by the
// given roles, in first-seen order.
func (d *VulkanDevice) UniqueQueueFamilyIndices(families ...QueueFamily) []uint32 {
	return uniqueIndices(d.QueueIndices, families...)
}

func uniqueIndices(indices [QueueFamilyCount]uint32, families ...QueueFamily) []uint32 {
	out := make([]uint32, 0, len(families))
	for _, f := range families {
		idx := indices[f]
		seen := false
		for _, o := range out {
			if o == idx {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, idx)
		}
	}
	return out
}

// CreateCommandPools creates a resettable command pool for every unique queue
// family index and registers the family with the lock pool.
func CreateCommandPools(context *VulkanContext) error {
	device := context.Device
	for _, index := range device.UniqueQueueFamilyIndices(QueueFamilyGraphics, QueueFamilyCompute, QueueFamilyTransfer, QueueFamilyPresent) {
		context.Locks.SetQueueFamily(index)
		if _, exists := device.CommandPools[index]; exists {
			continue
		}
		poolCreateInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: index,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		}
		var pool vk.CommandPool
		if err := context.Locks.SafeCall(CommandPoolManagement, func() error {
			if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
				return ResultError(res, "vkCreateCommandPool")
			}
			return nil
		}); err != nil {
			return core.NewInitError(core.InitErrorCommandBuffer, err, "command pool for queue family %d", index)
		}
		device.CommandPools[index] = pool
		core.LogDebug("Command pool created for queue family %d.", index)
	}
	return nil
}

func DestroyCommandPools(context *VulkanContext) {
	core.LogInfo("Destroying command pools...")
	_ = context.Locks.SafeCall(CommandPoolManagement, func() error {
		for index, pool := range context.Device.CommandPools {
			vk.DestroyCommandPool(context.Device.LogicalDevice, pool, context.Allocator)
			delete(context.Device.CommandPools, index)
		}
		return nil
	})
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if (vk.FormatFeatureFlagBits(properties.LinearTilingFeatures)&flags) == flags ||
			(vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags) == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}
