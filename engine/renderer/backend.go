package renderer

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

// RendererBackend is the part of the graphics API the frame loop drives. It is
// implemented by *vulkan.VulkanContext.
type RendererBackend interface {
	CreateSemaphore() (vk.Semaphore, error)
	DestroySemaphore(semaphore vk.Semaphore)
	// Submit queues submits on the queue playing the given role, signaling
	// fence when all of them complete.
	Submit(family vulkan.QueueFamily, submits []vk.SubmitInfo, fence vk.Fence) error
}

var _ RendererBackend = (*vulkan.VulkanContext)(nil)
