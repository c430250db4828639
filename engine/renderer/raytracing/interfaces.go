package raytracing

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
)

// DescriptorBinder is anything owning one descriptor set layout and binding
// its per-frame set.
type DescriptorBinder interface {
	DescriptorSetLayout() vk.DescriptorSetLayout
	Bind(frameIndex uint32, cmd vk.CommandBuffer, layout vk.PipelineLayout, setIndex uint32, bindPoint vk.PipelineBindPoint)
}

// AccelerationStructureHandler owns the bottom level structures of every mesh
// and the per-frame top level structures built from instance tables.
type AccelerationStructureHandler interface {
	BottomLevelLookup

	DescriptorSetLayout() vk.DescriptorSetLayout
	AllocateInstanceStructure(maxInstances uint32) (metadata.InstanceStructureID, error)
	FreeInstanceStructure(id metadata.InstanceStructureID)
	// UpdateInstanceStructure uploads instances into the frame's instance
	// buffer and records the top level build into cmd, including the barrier
	// that makes it visible to ray tracing shaders. The slice is only valid
	// for the duration of the call.
	UpdateInstanceStructure(frameIndex uint32, cmd vk.CommandBuffer, id metadata.InstanceStructureID, instances []Instance) error
	BindInstanceStructures(frameIndex uint32, cmd vk.CommandBuffer, layout vk.PipelineLayout, setIndex uint32, bindPoint vk.PipelineBindPoint)
}

type ShaderGroupType uint32

const (
	ShaderGroupTypeGeneral            ShaderGroupType = 0
	ShaderGroupTypeTrianglesHitGroup  ShaderGroupType = 1
	ShaderGroupTypeProceduralHitGroup ShaderGroupType = 2
)

// ShaderUnused marks an empty shader slot in a group.
const ShaderUnused = ^uint32(0)

type ShaderGroup struct {
	Type               ShaderGroupType
	GeneralShader      uint32
	ClosestHitShader   uint32
	AnyHitShader       uint32
	IntersectionShader uint32
}

// RayTracingDevice exposes the VK_KHR_ray_tracing_pipeline and
// VK_KHR_buffer_device_address entry points, loaded by the application.
type RayTracingDevice interface {
	Properties() PipelineProperties
	CreateRayTracingPipeline(layout vk.PipelineLayout, stages []vk.PipelineShaderStageCreateInfo, groups []ShaderGroup, maxRecursionDepth uint32) (vk.Pipeline, error)
	ShaderGroupHandles(pipeline vk.Pipeline, firstGroup, groupCount uint32, data []byte) error
	BufferDeviceAddress(buffer vk.Buffer) uint64
	CmdBindRayTracingPipeline(cmd vk.CommandBuffer, pipeline vk.Pipeline)
	CmdTraceRays(cmd vk.CommandBuffer, raygen, miss, hit, callable *StridedDeviceAddressRegion, width, height, depth uint32)
}

// ShaderSource provides compiled SPIR-V by name.
type ShaderSource interface {
	LoadShader(name string) ([]byte, error)
}
