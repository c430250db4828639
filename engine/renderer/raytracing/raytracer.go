package raytracing

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

type Stage uint8

const (
	StageUninitialized Stage = iota
	StageShadersLoaded
	StagePipelineBuilt
	StageBindingTableBuilt
	StageInstanceStructureAllocated
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageShadersLoaded:
		return "shaders loaded"
	case StagePipelineBuilt:
		return "pipeline built"
	case StageBindingTableBuilt:
		return "binding table built"
	case StageInstanceStructureAllocated:
		return "instance structure allocated"
	case StageReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Descriptor set indices of the ray tracing pipeline layout.
const (
	SetSceneGlobals uint32 = iota
	SetSamplers
	SetImages
	SetAccelerationStructures
	SetMeshes
	SetGBuffer
	SetCount
)

// Shader stage indices, in pipeline stage order.
const (
	stageRaygen uint32 = iota
	stageMiss
	stageShadowMiss
	stageClosestHit
	stageCount
)

const (
	missGroupCount = 2
	hitGroupCount  = 1
)

type Config struct {
	Width             uint32
	Height            uint32
	MaxInstances      uint32
	MaxRecursionDepth uint32

	RaygenShader     string
	MissShader       string
	ShadowMissShader string
	ClosestHitShader string
}

// Bindings are the externally owned descriptor sets bound next to the
// acceleration structures.
type Bindings struct {
	SceneGlobals DescriptorBinder
	Samplers     DescriptorBinder
	Images       DescriptorBinder
	Meshes       DescriptorBinder
	GBuffer      DescriptorBinder
}

// SBTEntry is one region of the shader binding table and the buffer backing it.
type SBTEntry struct {
	Buffer *vulkan.VulkanBuffer
	Region StridedDeviceAddressRegion
}

/**
 * @brief Owns the ray tracing pipeline, its shader binding table and the
 * per-frame instance structure, and records the trace pass.
 */
type RayTracer struct {
	stage   Stage
	config  Config
	metrics *core.Metrics

	device     RayTracingDevice
	structures AccelerationStructureHandler
	binders    [SetCount]DescriptorBinder

	layout   vk.PipelineLayout
	pipeline vk.Pipeline

	raygen SBTEntry
	miss   SBTEntry
	hit    SBTEntry

	instanceStructure metadata.InstanceStructureID
	// Scratch table reused across frames; Record is never called concurrently.
	instances []Instance
}

// NewRayTracer builds the pipeline, the shader binding table and the instance
// structure. On failure everything created so far is released.
func NewRayTracer(vc *vulkan.VulkanContext, config Config, device RayTracingDevice, structures AccelerationStructureHandler, shaders ShaderSource, bindings Bindings, metrics *core.Metrics) (*RayTracer, error) {
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	rt := &RayTracer{
		stage:             StageUninitialized,
		config:            config,
		metrics:           metrics,
		device:            device,
		structures:        structures,
		instanceStructure: metadata.InvalidInstanceStructureID,
	}
	rt.binders[SetSceneGlobals] = bindings.SceneGlobals
	rt.binders[SetSamplers] = bindings.Samplers
	rt.binders[SetImages] = bindings.Images
	rt.binders[SetMeshes] = bindings.Meshes
	rt.binders[SetGBuffer] = bindings.GBuffer

	stages, err := rt.loadShaders(vc, shaders)
	if err != nil {
		return nil, err
	}
	rt.stage = StageShadersLoaded

	err = rt.createPipeline(vc, stages)
	// Modules are baked into the pipeline and no longer needed either way.
	for _, s := range stages {
		s.Destroy(vc)
	}
	if err != nil {
		rt.Destroy(vc)
		return nil, err
	}
	rt.stage = StagePipelineBuilt

	if err := rt.createBindingTable(vc); err != nil {
		rt.Destroy(vc)
		return nil, err
	}
	rt.stage = StageBindingTableBuilt

	id, err := structures.AllocateInstanceStructure(config.MaxInstances)
	if err != nil {
		rt.Destroy(vc)
		return nil, core.NewInitError(core.InitErrorBuffer, err, "instance structure for %d instances", config.MaxInstances)
	}
	rt.instanceStructure = id
	rt.instances = make([]Instance, 0, config.MaxInstances)
	rt.stage = StageInstanceStructureAllocated

	rt.stage = StageReady
	core.LogDebug("Ray tracer ready (%dx%d, %d instances).", config.Width, config.Height, config.MaxInstances)
	return rt, nil
}

func (rt *RayTracer) loadShaders(vc *vulkan.VulkanContext, shaders ShaderSource) ([]*vulkan.VulkanShaderStage, error) {
	sources := [stageCount]struct {
		name string
		bit  vk.ShaderStageFlagBits
	}{
		stageRaygen:     {rt.config.RaygenShader, vulkan.ShaderStageRaygenBit},
		stageMiss:       {rt.config.MissShader, vulkan.ShaderStageMissBit},
		stageShadowMiss: {rt.config.ShadowMissShader, vulkan.ShaderStageMissBit},
		stageClosestHit: {rt.config.ClosestHitShader, vulkan.ShaderStageClosestHitBit},
	}

	stages := make([]*vulkan.VulkanShaderStage, 0, stageCount)
	for _, src := range sources {
		code, err := shaders.LoadShader(src.name)
		if err == nil {
			var stage *vulkan.VulkanShaderStage
			stage, err = vulkan.NewShaderStage(vc, src.name, code, src.bit)
			if err == nil {
				stages = append(stages, stage)
				continue
			}
		}
		for _, s := range stages {
			s.Destroy(vc)
		}
		return nil, core.NewInitError(core.InitErrorShader, err, "ray tracing shader %s", src.name)
	}
	return stages, nil
}

// shaderGroups returns raygen, the two miss groups and the triangle hit group
// in binding table order.
func shaderGroups() []ShaderGroup {
	general := func(shader uint32) ShaderGroup {
		return ShaderGroup{
			Type:               ShaderGroupTypeGeneral,
			GeneralShader:      shader,
			ClosestHitShader:   ShaderUnused,
			AnyHitShader:       ShaderUnused,
			IntersectionShader: ShaderUnused,
		}
	}
	return []ShaderGroup{
		general(stageRaygen),
		general(stageMiss),
		general(stageShadowMiss),
		{
			Type:               ShaderGroupTypeTrianglesHitGroup,
			GeneralShader:      ShaderUnused,
			ClosestHitShader:   stageClosestHit,
			AnyHitShader:       ShaderUnused,
			IntersectionShader: ShaderUnused,
		},
	}
}

// setLayouts orders the layouts as the shaders declare them.
func (rt *RayTracer) setLayouts() ([]vk.DescriptorSetLayout, error) {
	layouts := make([]vk.DescriptorSetLayout, SetCount)
	for i := uint32(0); i < SetCount; i++ {
		if i == SetAccelerationStructures {
			layouts[i] = rt.structures.DescriptorSetLayout()
			continue
		}
		if rt.binders[i] == nil {
			return nil, fmt.Errorf("descriptor set %d has no binder", i)
		}
		layouts[i] = rt.binders[i].DescriptorSetLayout()
	}
	return layouts, nil
}

func (rt *RayTracer) createPipeline(vc *vulkan.VulkanContext, stages []*vulkan.VulkanShaderStage) error {
	layouts, err := rt.setLayouts()
	if err != nil {
		return core.NewInitError(core.InitErrorDescriptor, err, "ray tracing pipeline layout")
	}
	rt.layout, err = vulkan.NewPipelineLayout(vc, layouts, nil, vk.ShaderStageFlags(vulkan.RayTracingShaderStages))
	if err != nil {
		return err
	}

	createInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		createInfos[i] = s.ShaderStageCreateInfo
	}

	depth := rt.config.MaxRecursionDepth
	if max := rt.device.Properties().MaxRayRecursionDepth; depth > max {
		core.LogWarn("ray recursion depth %d exceeds device limit, clamping to %d", depth, max)
		depth = max
	}
	rt.pipeline, err = rt.device.CreateRayTracingPipeline(rt.layout, createInfos, shaderGroups(), depth)
	if err != nil {
		return core.NewInitError(core.InitErrorPipeline, err, "ray tracing pipeline")
	}
	return nil
}

func (rt *RayTracer) createBindingTable(vc *vulkan.VulkanContext) error {
	props := rt.device.Properties()
	layout, err := ComputeSBTLayout(props, missGroupCount, hitGroupCount)
	if err != nil {
		return core.NewInitError(core.InitErrorBuffer, err, "shader binding table")
	}

	handles := make([]byte, uint64(layout.GroupCount())*layout.HandleSize)
	if err := rt.device.ShaderGroupHandles(rt.pipeline, 0, layout.GroupCount(), handles); err != nil {
		return core.NewInitError(core.InitErrorPipeline, err, "shader group handles")
	}

	for _, r := range []struct {
		region SBTRegionLayout
		entry  *SBTEntry
	}{
		{layout.Raygen, &rt.raygen},
		{layout.Miss, &rt.miss},
		{layout.Hit, &rt.hit},
	} {
		if err := rt.createBindingTableRegion(vc, handles, layout.HandleSize, r.region, r.entry); err != nil {
			return err
		}
	}
	return nil
}

func (rt *RayTracer) createBindingTableRegion(vc *vulkan.VulkanContext, handles []byte, handleSize uint64, region SBTRegionLayout, entry *SBTEntry) error {
	usage := vk.BufferUsageFlags(vulkan.BufferUsageShaderBindingTableBit) |
		vk.BufferUsageFlags(vulkan.BufferUsageShaderDeviceAddressBit) |
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	memory := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)

	buffer, err := vulkan.NewBuffer(vc, vk.DeviceSize(region.Size), usage, memory)
	if err != nil {
		return err
	}
	entry.Buffer = buffer
	if err := buffer.Write(vc, 0, packRegion(handles, handleSize, region)); err != nil {
		return core.NewInitError(core.InitErrorBuffer, err, "shader binding table upload")
	}
	entry.Region = StridedDeviceAddressRegion{
		DeviceAddress: rt.device.BufferDeviceAddress(buffer.Handle),
		Stride:        region.Stride,
		Size:          region.Size,
	}
	return nil
}

func (rt *RayTracer) Stage() Stage {
	return rt.stage
}

func (rt *RayTracer) Layout() vk.PipelineLayout {
	return rt.layout
}

func (rt *RayTracer) ImplementedFeatures() []metadata.RendererFeature {
	return []metadata.RendererFeature{metadata.RendererFeatureRayTracing, metadata.RendererFeatureShadows}
}

// Record rebuilds the instance table from work, updates the frame's instance
// structure and records one trace over the full G-buffer.
func (rt *RayTracer) Record(frameIndex uint32, cmd vk.CommandBuffer, work []metadata.MeshRenderCommand) error {
	if rt.stage != StageReady {
		return fmt.Errorf("ray tracer is %s: %w", rt.stage, core.ErrNotReady)
	}

	rt.instances = BuildInstances(rt.instances, work, rt.structures, rt.config.MaxInstances, rt.metrics)
	if err := rt.structures.UpdateInstanceStructure(frameIndex, cmd, rt.instanceStructure, rt.instances); err != nil {
		return err
	}

	rt.device.CmdBindRayTracingPipeline(cmd, rt.pipeline)
	for i := uint32(0); i < SetCount; i++ {
		if i == SetAccelerationStructures {
			rt.structures.BindInstanceStructures(frameIndex, cmd, rt.layout, i, vulkan.PipelineBindPointRayTracing)
			continue
		}
		rt.binders[i].Bind(frameIndex, cmd, rt.layout, i, vulkan.PipelineBindPointRayTracing)
	}

	var callable StridedDeviceAddressRegion
	rt.device.CmdTraceRays(cmd, &rt.raygen.Region, &rt.miss.Region, &rt.hit.Region, &callable, rt.config.Width, rt.config.Height, 1)
	return nil
}

// Resize changes the trace extent. The G-buffer binder is expected to point
// at the resized images by the next Record.
func (rt *RayTracer) Resize(width, height uint32) {
	rt.config.Width = width
	rt.config.Height = height
}

func (rt *RayTracer) Destroy(vc *vulkan.VulkanContext) {
	if rt.instanceStructure.Valid() {
		rt.structures.FreeInstanceStructure(rt.instanceStructure)
		rt.instanceStructure = metadata.InvalidInstanceStructureID
	}
	for _, e := range []*SBTEntry{&rt.raygen, &rt.miss, &rt.hit} {
		if e.Buffer != nil {
			e.Buffer.Destroy(vc)
			e.Buffer = nil
		}
		e.Region = StridedDeviceAddressRegion{}
	}
	if rt.pipeline != vk.NullPipeline || rt.layout != vk.NullPipelineLayout {
		p := vulkan.VulkanPipeline{Handle: rt.pipeline, PipelineLayout: rt.layout}
		p.Destroy(vc)
		rt.pipeline = vk.NullPipeline
		rt.layout = vk.NullPipelineLayout
	}
	rt.stage = StageUninitialized
}
