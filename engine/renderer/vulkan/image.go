package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Format vk.Format
	Width  uint32
	Height uint32
}

type VulkanImageConfig struct {
	Format      vk.Format
	Width       uint32
	Height      uint32
	Usage       vk.ImageUsageFlags
	AspectFlags vk.ImageAspectFlags
	// Queue family indices sharing the image. More than one makes it concurrent.
	QueueFamilies []uint32
}

func NewImage(vc *VulkanContext, config *VulkanImageConfig) (*VulkanImage, error) {
	image := &VulkanImage{
		Format: config.Format,
		Width:  config.Width,
		Height: config.Height,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    config.Format,
		Extent: vk.Extent3D{
			Width:  config.Width,
			Height: config.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         config.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if len(config.QueueFamilies) > 1 {
		imageCreateInfo.SharingMode = vk.SharingModeConcurrent
		imageCreateInfo.QueueFamilyIndexCount = uint32(len(config.QueueFamilies))
		imageCreateInfo.PQueueFamilyIndices = config.QueueFamilies
	}

	if err := vc.Locks.SafeCall(ImageManagement, func() error {
		if res := vk.CreateImage(vc.Device.LogicalDevice, &imageCreateInfo, vc.Allocator, &image.Handle); res != vk.Success {
			return ResultError(res, "vkCreateImage")
		}
		return nil
	}); err != nil {
		return nil, core.NewInitError(core.InitErrorImage, err, "image %dx%d", config.Width, config.Height)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(vc.Device.LogicalDevice, image.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := vc.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryType == -1 {
		image.Destroy(vc)
		return nil, core.NewInitError(core.InitErrorImage, nil, "no device local memory for image %dx%d", config.Width, config.Height)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if err := vc.Locks.SafeCall(MemoryManagement, func() error {
		if res := vk.AllocateMemory(vc.Device.LogicalDevice, &allocateInfo, vc.Allocator, &image.Memory); res != vk.Success {
			return ResultError(res, "vkAllocateMemory")
		}
		if res := vk.BindImageMemory(vc.Device.LogicalDevice, image.Handle, image.Memory, 0); res != vk.Success {
			return ResultError(res, "vkBindImageMemory")
		}
		return nil
	}); err != nil {
		image.Destroy(vc)
		return nil, core.NewInitError(core.InitErrorImage, err, "image memory %dx%d", config.Width, config.Height)
	}

	if err := image.createView(vc, config.AspectFlags); err != nil {
		image.Destroy(vc)
		return nil, err
	}
	return image, nil
}

func (vi *VulkanImage) createView(vc *VulkanContext, aspectFlags vk.ImageAspectFlags) error {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vi.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   vi.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	return vc.Locks.SafeCall(ImageManagement, func() error {
		if res := vk.CreateImageView(vc.Device.LogicalDevice, &viewCreateInfo, vc.Allocator, &vi.View); res != vk.Success {
			return core.NewInitError(core.InitErrorImage, ResultError(res, "vkCreateImageView"), "image view")
		}
		return nil
	})
}

func (vi *VulkanImage) Destroy(vc *VulkanContext) {
	_ = vc.Locks.SafeCall(ImageManagement, func() error {
		if vi.View != vk.NullImageView {
			vk.DestroyImageView(vc.Device.LogicalDevice, vi.View, vc.Allocator)
			vi.View = vk.NullImageView
		}
		if vi.Memory != vk.NullDeviceMemory {
			vk.FreeMemory(vc.Device.LogicalDevice, vi.Memory, vc.Allocator)
			vi.Memory = vk.NullDeviceMemory
		}
		if vi.Handle != vk.NullImage {
			vk.DestroyImage(vc.Device.LogicalDevice, vi.Handle, vc.Allocator)
			vi.Handle = vk.NullImage
		}
		return nil
	})
}
