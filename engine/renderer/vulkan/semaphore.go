package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

func (vc *VulkanContext) CreateSemaphore() (vk.Semaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := vc.Locks.SafeCall(SynchronizationManagement, func() error {
		if res := vk.CreateSemaphore(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &semaphore); res != vk.Success {
			return ResultError(res, "vkCreateSemaphore")
		}
		return nil
	}); err != nil {
		return vk.NullSemaphore, core.NewInitError(core.InitErrorSync, err, "semaphore")
	}
	return semaphore, nil
}

func (vc *VulkanContext) DestroySemaphore(semaphore vk.Semaphore) {
	if semaphore == vk.NullSemaphore {
		return
	}
	_ = vc.Locks.SafeCall(SynchronizationManagement, func() error {
		vk.DestroySemaphore(vc.Device.LogicalDevice, semaphore, vc.Allocator)
		return nil
	})
}

