package metadata

import "github.com/go-gl/mathgl/mgl32"

/** @brief Determines face culling mode during rendering. */
type FaceCullMode int

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

/**
 * @brief Request to draw one mesh instance this frame. Pushed by producers,
 * read by both the rasterization and the ray tracing pass.
 */
type MeshRenderCommand struct {
	/** @brief Geometry to draw. */
	GeoID MeshID
	/** @brief Entity the instance belongs to. Becomes the instance custom index. */
	ID EntityID
	/** @brief Model to world transform. */
	Transform mgl32.Mat4
}

/** @brief A capability a worker system implements. */
type RendererFeature uint32

const (
	RendererFeatureRasterization RendererFeature = iota
	RendererFeatureDeferredShading
	RendererFeatureRayTracing
	RendererFeatureShadows
)

func (f RendererFeature) String() string {
	switch f {
	case RendererFeatureRasterization:
		return "rasterization"
	case RendererFeatureDeferredShading:
		return "deferred_shading"
	case RendererFeatureRayTracing:
		return "ray_tracing"
	case RendererFeatureShadows:
		return "shadows"
	default:
		return "unknown"
	}
}
