package vulkan

import (
	"context"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

// fenceWaitSlice bounds a single vkWaitForFences call so cancellation is
// noticed while the GPU is still busy.
const fenceWaitSlice = 10 * time.Millisecond

type VulkanFence struct {
	Handle vk.Fence
}

func NewFence(vc *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(vc.Device.LogicalDevice, &fenceCreateInfo, vc.Allocator, &pFence); res != vk.Success {
		return nil, core.NewInitError(core.InitErrorSync, ResultError(res, "vkCreateFence"), "fence")
	}
	return &VulkanFence{Handle: pFence}, nil
}

func (vf *VulkanFence) Destroy(vc *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(vc.Device.LogicalDevice, vf.Handle, vc.Allocator)
		vf.Handle = vk.NullFence
	}
}

// WaitForFence blocks until fence is signaled, timeout elapses or ctx is done.
func (vc *VulkanContext) WaitForFence(ctx context.Context, fence vk.Fence, timeout time.Duration) error {
	err := waitBounded(ctx, timeout, fenceWaitSlice, func(ns uint64) vk.Result {
		return vk.WaitForFences(vc.Device.LogicalDevice, 1, []vk.Fence{fence}, vk.True, ns)
	})
	if err == core.ErrFenceTimeout {
		vc.Metrics.FenceTimeouts.Add(1)
	}
	return err
}

func (vc *VulkanContext) ResetFence(fence vk.Fence) error {
	if res := vk.ResetFences(vc.Device.LogicalDevice, 1, []vk.Fence{fence}); res != vk.Success {
		err := ResultError(res, "vkResetFences")
		core.LogError(err.Error())
		return err
	}
	return nil
}

// waitBounded calls poll with slices of at most step nanoseconds until it
// reports success, the overall timeout is spent or ctx is cancelled.
func waitBounded(ctx context.Context, timeout, step time.Duration, poll func(ns uint64) vk.Result) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		slice := step
		if remaining < slice {
			slice = remaining
		}

		switch result := poll(uint64(slice.Nanoseconds())); result {
		case vk.Success:
			return nil
		case vk.Timeout:
			if err := ctx.Err(); err != nil {
				return err
			}
			if remaining == 0 {
				core.LogWarn("vk_fence_wait - Timed out after %s", timeout)
				return core.ErrFenceTimeout
			}
		case vk.ErrorDeviceLost:
			core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
			return core.ErrDeviceLost
		default:
			err := ResultError(result, "vkWaitForFences")
			core.LogError(err.Error())
			return err
		}
	}
}
