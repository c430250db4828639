package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

// VulkanContext is the shared state every Vulkan object is created against.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	Device *VulkanDevice
	Locks  *VulkanLockPool

	Metrics *core.Metrics
}

// NewVulkanContext wraps a device created by the application and creates the
// command pools for its queue families.
func NewVulkanContext(instance vk.Instance, device *VulkanDevice, metrics *core.Metrics) (*VulkanContext, error) {
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	vc := &VulkanContext{
		Instance: instance,
		Device:   device,
		Locks:    NewVulkanLockPool(),
		Metrics:  metrics,
	}
	if err := CreateCommandPools(vc); err != nil {
		return nil, err
	}
	return vc, nil
}

// Destroy waits for the device to go idle and releases the command pools.
// The device and instance stay with the application.
func (vc *VulkanContext) Destroy() {
	if err := vc.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}
	DestroyCommandPools(vc)
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// Submit hands submits to the queue playing the given role. Submissions to
// the same family index are serialized.
func (vc *VulkanContext) Submit(family QueueFamily, submits []vk.SubmitInfo, fence vk.Fence) error {
	queue := vc.Device.Queue(family)
	return vc.Locks.SafeQueueCall(vc.Device.QueueFamilyIndex(family), func() error {
		if res := vk.QueueSubmit(queue, uint32(len(submits)), submits, fence); res != vk.Success {
			err := ResultError(res, "vkQueueSubmit")
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

func (vc *VulkanContext) WaitIdle() error {
	if res := vk.DeviceWaitIdle(vc.Device.LogicalDevice); res != vk.Success {
		return ResultError(res, "vkDeviceWaitIdle")
	}
	return nil
}
