package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

type VulkanRenderpass struct {
	Handle     vk.RenderPass
	X, Y, W, H float32
	R, G, B, A float32
	Depth      float32
	Stencil    uint32

	ColorAttachmentCount uint32
}

type VulkanRenderpassConfig struct {
	ColorFormats []vk.Format
	DepthFormat  vk.Format
	// Layout the color attachments are left in once the pass ends.
	ColorFinalLayout vk.ImageLayout
	// Stages of later work reading the color attachments.
	ConsumerStages vk.PipelineStageFlags
	W, H           float32
	R, G, B, A     float32
	Depth          float32
	Stencil        uint32
}

func RenderpassCreate(vc *VulkanContext, config *VulkanRenderpassConfig) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{
		W:                    config.W,
		H:                    config.H,
		R:                    config.R,
		G:                    config.G,
		B:                    config.B,
		A:                    config.A,
		Depth:                config.Depth,
		Stencil:              config.Stencil,
		ColorAttachmentCount: uint32(len(config.ColorFormats)),
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, 0, len(config.ColorFormats)+1)
	colorAttachmentReferences := make([]vk.AttachmentReference, 0, len(config.ColorFormats))

	for i, format := range config.ColorFormats {
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined, // Do not expect any particular layout before render pass starts.
			FinalLayout:    config.ColorFinalLayout,
		})
		colorAttachmentReferences = append(colorAttachmentReferences, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	// Depth attachment
	depthIndex := uint32(len(config.ColorFormats))
	attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
		Format:         config.DepthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	})
	depthAttachmentReference := vk.AttachmentReference{
		Attachment: depthIndex,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorAttachmentReferences)),
		PColorAttachments:       colorAttachmentReferences,
		PDepthStencilAttachment: &depthAttachmentReference,
	}

	colorAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: 0,
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) | vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
			DstAccessMask: colorAccess | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
		},
		{
			// Make the attachments visible to whatever reads them next.
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstStageMask:  config.ConsumerStages,
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit) | vk.AccessFlags(vk.AccessShaderWriteBit),
		},
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var pRenderPass vk.RenderPass
	if err := vc.Locks.SafeCall(RenderpassManagement, func() error {
		if res := vk.CreateRenderPass(vc.Device.LogicalDevice, &renderpassCreateInfo, vc.Allocator, &pRenderPass); res != vk.Success {
			return ResultError(res, "vkCreateRenderPass")
		}
		return nil
	}); err != nil {
		return nil, core.NewInitError(core.InitErrorPipeline, err, "renderpass with %d color attachments", len(config.ColorFormats))
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) Destroy(vc *VulkanContext) {
	if vr.Handle != vk.NullRenderPass {
		_ = vc.Locks.SafeCall(RenderpassManagement, func() error {
			vk.DestroyRenderPass(vc.Device.LogicalDevice, vr.Handle, vc.Allocator)
			return nil
		})
		vr.Handle = vk.NullRenderPass
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer vk.CommandBuffer, frameBuffer vk.Framebuffer) {
	clearValues := make([]vk.ClearValue, vr.ColorAttachmentCount+1)
	color := []float32{vr.R, vr.G, vr.B, vr.A}
	for i := uint32(0); i < vr.ColorAttachmentCount; i++ {
		clearValues[i].SetColor(color)
	}
	clearValues[vr.ColorAttachmentCount].SetDepthStencil(vr.Depth, vr.Stencil)

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{
				X: int32(vr.X),
				Y: int32(vr.Y),
			},
			Extent: vk.Extent2D{
				Width:  uint32(vr.W),
				Height: uint32(vr.H),
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer, &beginInfo, vk.SubpassContentsInline)
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer vk.CommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer)
}
