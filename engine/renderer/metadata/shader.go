package metadata

import "fmt"

/**
 * @brief The stage a shader module is bound to. Ray tracing stages are
 * only valid in a ray tracing pipeline.
 */
type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageFragment
	ShaderStageCompute
	ShaderStageRaygen
	ShaderStageMiss
	ShaderStageClosestHit
	ShaderStageAnyHit
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	case ShaderStageRaygen:
		return "raygen"
	case ShaderStageMiss:
		return "miss"
	case ShaderStageClosestHit:
		return "closest_hit"
	case ShaderStageAnyHit:
		return "any_hit"
	default:
		return fmt.Sprintf("shader_stage(%d)", uint32(s))
	}
}

// ShaderStageFromExtension maps the glslc source extension the compiled
// module was built from (".rgen" for "raytrace.rgen.spv").
func ShaderStageFromExtension(ext string) (ShaderStage, error) {
	switch ext {
	case ".vert":
		return ShaderStageVertex, nil
	case ".frag":
		return ShaderStageFragment, nil
	case ".comp":
		return ShaderStageCompute, nil
	case ".rgen":
		return ShaderStageRaygen, nil
	case ".rmiss":
		return ShaderStageMiss, nil
	case ".rchit":
		return ShaderStageClosestHit, nil
	case ".rahit":
		return ShaderStageAnyHit, nil
	default:
		return 0, fmt.Errorf("unknown shader stage extension %q", ext)
	}
}

type ShaderFlagBits uint32

const (
	SHADER_FLAG_NONE        ShaderFlagBits = 0x0
	SHADER_FLAG_DEPTH_TEST  ShaderFlagBits = 0x1
	SHADER_FLAG_DEPTH_WRITE ShaderFlagBits = 0x2
)
