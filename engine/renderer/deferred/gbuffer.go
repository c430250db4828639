package deferred

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

type GBufferAttachment uint8

const (
	GBufferAlbedo GBufferAttachment = iota
	GBufferNormal
	GBufferPosition
	GBufferMaterial
)

func (a GBufferAttachment) String() string {
	switch a {
	case GBufferAlbedo:
		return "albedo"
	case GBufferNormal:
		return "normal"
	case GBufferPosition:
		return "position"
	case GBufferMaterial:
		return "material"
	default:
		return "unknown"
	}
}

var gbufferFormats = [vulkan.GBUFFER_ATTACHMENT_COUNT]vk.Format{
	GBufferAlbedo:   vk.FormatR8g8b8a8Unorm,
	GBufferNormal:   vk.FormatR16g16b16a16Sfloat,
	GBufferPosition: vk.FormatR32g32b32a32Sfloat,
	GBufferMaterial: vk.FormatR8g8b8a8Unorm,
}

// GBufferTargets are the images of one frame slot.
type GBufferTargets struct {
	Attachments [vulkan.GBUFFER_ATTACHMENT_COUNT]*vulkan.VulkanImage
	Depth       *vulkan.VulkanImage
}

/**
 * @brief Color and depth targets written by the geometry pass and read as
 * storage images by the ray tracing pass. Every frame slot owns its targets,
 * so one frame's geometry pass never writes what an earlier frame still
 * traces. The images are shared concurrently by every queue family touching
 * them.
 */
type GBuffer struct {
	Width  uint32
	Height uint32

	Frames []GBufferTargets

	descriptors *vulkan.VulkanDescriptorSet
}

func NewGBuffer(vc *vulkan.VulkanContext, width, height, framesInFlight uint32) (*GBuffer, error) {
	gb := &GBuffer{Width: width, Height: height, Frames: make([]GBufferTargets, framesInFlight)}
	families := vc.Device.UniqueQueueFamilyIndices(vulkan.QueueFamilyTransfer, vulkan.QueueFamilyCompute, vulkan.QueueFamilyGraphics)

	usage := vk.ImageUsageFlags(vk.ImageUsageStorageBit) | vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	for f := range gb.Frames {
		targets := &gb.Frames[f]
		for i, format := range gbufferFormats {
			image, err := vulkan.NewImage(vc, &vulkan.VulkanImageConfig{
				Format:        format,
				Width:         width,
				Height:        height,
				Usage:         usage,
				AspectFlags:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
				QueueFamilies: families,
			})
			if err != nil {
				gb.Destroy(vc)
				return nil, err
			}
			targets.Attachments[i] = image
		}

		depth, err := vulkan.NewImage(vc, &vulkan.VulkanImageConfig{
			Format:        vc.Device.DepthFormat,
			Width:         width,
			Height:        height,
			Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
			AspectFlags:   vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			QueueFamilies: families,
		})
		if err != nil {
			gb.Destroy(vc)
			return nil, err
		}
		targets.Depth = depth
	}

	bindings := make([]vk.DescriptorSetLayoutBinding, vulkan.GBUFFER_ATTACHMENT_COUNT)
	for i := range bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vulkan.RayTracingShaderStages),
		}
	}
	var err error
	gb.descriptors, err = vulkan.NewDescriptorSet(vc, bindings, framesInFlight)
	if err != nil {
		gb.Destroy(vc)
		return nil, err
	}
	for f := range gb.Frames {
		gb.descriptors.WriteStorageImages(vc, uint32(f), gb.ColorViews(uint32(f)))
	}

	core.LogDebug("G-buffer %dx%d created for %d frames, shared by %d queue families.", width, height, framesInFlight, len(families))
	return gb, nil
}

func (gb *GBuffer) Formats() []vk.Format {
	return gbufferFormats[:]
}

// ColorViews returns the color views of a frame slot in attachment order.
func (gb *GBuffer) ColorViews(frameIndex uint32) []vk.ImageView {
	targets := gb.Frames[frameIndex]
	views := make([]vk.ImageView, 0, vulkan.GBUFFER_ATTACHMENT_COUNT)
	for _, a := range targets.Attachments {
		views = append(views, a.View)
	}
	return views
}

// FramebufferViews returns the color views of a frame slot followed by its
// depth view.
func (gb *GBuffer) FramebufferViews(frameIndex uint32) []vk.ImageView {
	return append(gb.ColorViews(frameIndex), gb.Frames[frameIndex].Depth.View)
}

func (gb *GBuffer) DescriptorSetLayout() vk.DescriptorSetLayout {
	return gb.descriptors.Layout
}

func (gb *GBuffer) Bind(frameIndex uint32, cmd vk.CommandBuffer, layout vk.PipelineLayout, setIndex uint32, bindPoint vk.PipelineBindPoint) {
	sets := []vk.DescriptorSet{gb.descriptors.Sets[frameIndex]}
	vk.CmdBindDescriptorSets(cmd, bindPoint, layout, setIndex, 1, sets, 0, nil)
}

func (gb *GBuffer) Destroy(vc *vulkan.VulkanContext) {
	if gb.descriptors != nil {
		gb.descriptors.Destroy(vc)
		gb.descriptors = nil
	}
	for f := range gb.Frames {
		targets := &gb.Frames[f]
		if targets.Depth != nil {
			targets.Depth.Destroy(vc)
			targets.Depth = nil
		}
		for i, a := range targets.Attachments {
			if a != nil {
				a.Destroy(vc)
				targets.Attachments[i] = nil
			}
		}
	}
	gb.Frames = nil
}
