package vulkan

import vk "github.com/goki/vulkan"

// Ray tracing enumerants from VK_KHR_ray_tracing_pipeline,
// VK_KHR_acceleration_structure and VK_KHR_buffer_device_address, spelled out
// as raw values so they do not depend on the binding's header version.
const (
	PipelineBindPointRayTracing = vk.PipelineBindPoint(1000165000)

	PipelineStageRayTracingShaderBit          = vk.PipelineStageFlagBits(0x00200000)
	PipelineStageAccelerationStructureBuildBit = vk.PipelineStageFlagBits(0x02000000)

	ShaderStageRaygenBit     = vk.ShaderStageFlagBits(0x00000100)
	ShaderStageAnyHitBit     = vk.ShaderStageFlagBits(0x00000200)
	ShaderStageClosestHitBit = vk.ShaderStageFlagBits(0x00000400)
	ShaderStageMissBit       = vk.ShaderStageFlagBits(0x00000800)

	BufferUsageShaderDeviceAddressBit                     = vk.BufferUsageFlagBits(0x00020000)
	BufferUsageShaderBindingTableBit                      = vk.BufferUsageFlagBits(0x00000400)
	BufferUsageAccelerationStructureBuildInputReadOnlyBit = vk.BufferUsageFlagBits(0x00080000)
	BufferUsageAccelerationStructureStorageBit            = vk.BufferUsageFlagBits(0x00100000)

	MemoryAllocateDeviceAddressBit = vk.MemoryAllocateFlagBits(0x00000002)

	DescriptorTypeAccelerationStructure = vk.DescriptorType(1000150000)
)

// Shader stages that may touch G-buffer and scene descriptors in either pass.
const RayTracingShaderStages = ShaderStageRaygenBit | ShaderStageMissBit | ShaderStageClosestHitBit | ShaderStageAnyHitBit

const (
	// Number of G-buffer color attachments (albedo, normal, position, material).
	GBUFFER_ATTACHMENT_COUNT = 4
	// Frames that may be in flight at once.
	MAX_FRAMES_IN_FLIGHT = 3
)
