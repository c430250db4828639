package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

const spirvMagic uint32 = 0x07230203

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief Name the module was loaded under. */
	Name string
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage creates a shader module from SPIR-V bytes.
func NewShaderStage(vc *VulkanContext, name string, code []byte, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	createInfo, err := shaderModuleCreateInfo(code)
	if err != nil {
		return nil, core.NewInitError(core.InitErrorShader, err, "shader %s", name)
	}

	out := &VulkanShaderStage{Name: name}
	if err := vc.Locks.SafeCall(ShaderManagement, func() error {
		if res := vk.CreateShaderModule(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &out.Handle); res != vk.Success {
			return ResultError(res, "vkCreateShaderModule")
		}
		return nil
	}); err != nil {
		return nil, core.NewInitError(core.InitErrorShader, err, "shader %s", name)
	}

	out.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: out.Handle,
		PName:  VulkanSafeString("main"),
	}
	core.LogDebug("Shader module %s created.", name)
	return out, nil
}

func (s *VulkanShaderStage) Destroy(vc *VulkanContext) {
	if s.Handle == vk.NullShaderModule {
		return
	}
	_ = vc.Locks.SafeCall(ShaderManagement, func() error {
		vk.DestroyShaderModule(vc.Device.LogicalDevice, s.Handle, vc.Allocator)
		s.Handle = vk.NullShaderModule
		return nil
	})
}

// spirvWords reinterprets little endian SPIR-V bytes as words and checks the
// magic number.
// CodeSize is in bytes, PCode in words.
func shaderModuleCreateInfo(code []byte) (vk.ShaderModuleCreateInfo, error) {
	words, err := spirvWords(code)
	if err != nil {
		return vk.ShaderModuleCreateInfo{}, err
	}
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}, nil
}

func spirvWords(code []byte) ([]uint32, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return nil, fmt.Errorf("spir-v size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bad spir-v magic 0x%08x", words[0])
	}
	return words, nil
}
