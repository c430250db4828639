package deferred

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/raytracing"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

// MeshHandler owns vertex and index storage for every mesh.
type MeshHandler interface {
	raytracing.DescriptorBinder
	VertexLayout() (stride uint32, attributes []vk.VertexInputAttributeDescription)
	// Draw binds the mesh buffers and records its indexed draw.
	Draw(cmd vk.CommandBuffer, mesh metadata.MeshID) error
}

// Geometry pass descriptor sets.
const (
	geoSetSceneGlobals uint32 = iota
	geoSetMeshes
)

// drawConstants is pushed once per draw. The entity id lets the material
// target carry a per-pixel identity for picking.
type drawConstants struct {
	Model    mgl32.Mat4
	EntityID uint32
	_        [3]uint32
}

const drawConstantsSize = uint64(unsafe.Sizeof(drawConstants{}))

/**
 * @brief Rasterizes the scheduled meshes into the G-buffer.
 */
type DeferredGeoRenderer struct {
	renderpass *vulkan.VulkanRenderpass
	// One per frame slot, over that slot's G-buffer targets.
	framebuffers []*vulkan.VulkanFramebuffer
	pipeline     *vulkan.VulkanPipeline

	sceneGlobals raytracing.DescriptorBinder
	meshes       MeshHandler

	width  uint32
	height uint32
}

func NewDeferredGeoRenderer(vc *vulkan.VulkanContext, gbuffer *GBuffer, shaders raytracing.ShaderSource, vertexShader, fragmentShader string, sceneGlobals raytracing.DescriptorBinder, meshes MeshHandler) (*DeferredGeoRenderer, error) {
	geo := &DeferredGeoRenderer{
		sceneGlobals: sceneGlobals,
		meshes:       meshes,
		width:        gbuffer.Width,
		height:       gbuffer.Height,
	}

	var err error
	geo.renderpass, err = vulkan.RenderpassCreate(vc, &vulkan.VulkanRenderpassConfig{
		ColorFormats:     gbuffer.Formats(),
		DepthFormat:      vc.Device.DepthFormat,
		ColorFinalLayout: vk.ImageLayoutGeneral,
		ConsumerStages:   vk.PipelineStageFlags(vulkan.PipelineStageRayTracingShaderBit),
		W:                float32(gbuffer.Width),
		H:                float32(gbuffer.Height),
		Depth:            1.0,
	})
	if err != nil {
		return nil, err
	}

	for f := range gbuffer.Frames {
		fb, err := vulkan.FramebufferCreate(vc, geo.renderpass, gbuffer.Width, gbuffer.Height, gbuffer.FramebufferViews(uint32(f)))
		if err != nil {
			geo.Destroy(vc)
			return nil, err
		}
		geo.framebuffers = append(geo.framebuffers, fb)
	}

	stages := make([]*vulkan.VulkanShaderStage, 0, 2)
	defer func() {
		for _, s := range stages {
			s.Destroy(vc)
		}
	}()
	for _, src := range []struct {
		name string
		bit  vk.ShaderStageFlagBits
	}{
		{vertexShader, vk.ShaderStageVertexBit},
		{fragmentShader, vk.ShaderStageFragmentBit},
	} {
		code, err := shaders.LoadShader(src.name)
		if err != nil {
			geo.Destroy(vc)
			return nil, core.NewInitError(core.InitErrorShader, err, "geometry shader %s", src.name)
		}
		stage, err := vulkan.NewShaderStage(vc, src.name, code, src.bit)
		if err != nil {
			geo.Destroy(vc)
			return nil, err
		}
		stages = append(stages, stage)
	}

	stride, attributes := meshes.VertexLayout()
	createInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		createInfos[i] = s.ShaderStageCreateInfo
	}
	geo.pipeline, err = vulkan.NewGraphicsPipeline(vc, &vulkan.VulkanPipelineConfig{
		Renderpass:           geo.renderpass,
		Stride:               stride,
		Attributes:           attributes,
		DescriptorSetLayouts: []vk.DescriptorSetLayout{sceneGlobals.DescriptorSetLayout(), meshes.DescriptorSetLayout()},
		Stages:               createInfos,
		Viewport:             geo.viewport(),
		Scissor:              geo.scissor(),
		CullMode:             metadata.FaceCullModeBack,
		ShaderFlags:          metadata.SHADER_FLAG_DEPTH_TEST | metadata.SHADER_FLAG_DEPTH_WRITE,
		PushConstantRanges:   []*metadata.MemoryRange{metadata.GetAlignedRange(0, drawConstantsSize, 4)},
		PushConstantStages:   vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	})
	if err != nil {
		geo.Destroy(vc)
		return nil, err
	}
	return geo, nil
}

// Viewport is flipped so world up stays up with Vulkan's clip space.
func (geo *DeferredGeoRenderer) viewport() vk.Viewport {
	return vk.Viewport{
		X:        0,
		Y:        float32(geo.height),
		Width:    float32(geo.width),
		Height:   -float32(geo.height),
		MinDepth: 0,
		MaxDepth: 1,
	}
}

func (geo *DeferredGeoRenderer) scissor() vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: geo.width, Height: geo.height},
	}
}

// Record draws every command into the G-buffer. Meshes that fail to draw are
// logged and skipped so one bad mesh does not drop the frame.
func (geo *DeferredGeoRenderer) Record(frameIndex uint32, cmd vk.CommandBuffer, work []metadata.MeshRenderCommand) error {
	geo.renderpass.RenderpassBegin(cmd, geo.framebuffers[frameIndex].Handle)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{geo.viewport()})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{geo.scissor()})

	geo.pipeline.Bind(cmd, vk.PipelineBindPointGraphics)
	geo.sceneGlobals.Bind(frameIndex, cmd, geo.pipeline.PipelineLayout, geoSetSceneGlobals, vk.PipelineBindPointGraphics)
	geo.meshes.Bind(frameIndex, cmd, geo.pipeline.PipelineLayout, geoSetMeshes, vk.PipelineBindPointGraphics)

	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	var constants drawConstants
	for _, c := range work {
		constants.Model = c.Transform
		constants.EntityID = uint32(c.ID)
		vk.CmdPushConstants(cmd, geo.pipeline.PipelineLayout, stages, 0, uint32(drawConstantsSize), unsafe.Pointer(&constants))
		if err := geo.meshes.Draw(cmd, c.GeoID); err != nil {
			core.LogWarn("skipping mesh %d of entity %d: %s", c.GeoID, c.ID, err)
		}
	}

	geo.renderpass.RenderpassEnd(cmd)
	return nil
}

func (geo *DeferredGeoRenderer) Destroy(vc *vulkan.VulkanContext) {
	if geo.pipeline != nil {
		geo.pipeline.Destroy(vc)
		geo.pipeline = nil
	}
	for _, fb := range geo.framebuffers {
		fb.Destroy(vc)
	}
	geo.framebuffers = nil
	if geo.renderpass != nil {
		geo.renderpass.Destroy(vc)
		geo.renderpass = nil
	}
}
