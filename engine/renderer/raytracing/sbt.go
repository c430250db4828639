package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
)

// StridedDeviceAddressRegion mirrors VkStridedDeviceAddressRegionKHR.
type StridedDeviceAddressRegion struct {
	DeviceAddress uint64
	Stride        uint64
	Size          uint64
}

type PipelineProperties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MaxRayRecursionDepth       uint32
}

type SBTRegionLayout struct {
	// First shader group of the region.
	FirstGroup uint32
	Count      uint32
	Stride     uint64
	Size       uint64
}

type SBTLayout struct {
	HandleSize uint64
	Raygen     SBTRegionLayout
	Miss       SBTRegionLayout
	Hit        SBTRegionLayout
}

func (l SBTLayout) GroupCount() uint32 {
	return l.Raygen.Count + l.Miss.Count + l.Hit.Count
}

// ComputeSBTLayout sizes the three regions for shader groups laid out as
// raygen, then miss, then hit. Handle strides are aligned to the handle
// alignment and region sizes to the base alignment. The raygen region holds a
// single record whose stride must equal its size.
func ComputeSBTLayout(props PipelineProperties, missCount, hitCount uint32) (SBTLayout, error) {
	if props.ShaderGroupHandleSize == 0 {
		return SBTLayout{}, fmt.Errorf("shader group handle size is zero")
	}
	handleSize := uint64(props.ShaderGroupHandleSize)
	stride := metadata.GetAligned(handleSize, uint64(props.ShaderGroupHandleAlignment))
	base := uint64(props.ShaderGroupBaseAlignment)

	raygenSize := metadata.GetAligned(stride, base)
	return SBTLayout{
		HandleSize: handleSize,
		Raygen: SBTRegionLayout{
			FirstGroup: 0,
			Count:      1,
			Stride:     raygenSize,
			Size:       raygenSize,
		},
		Miss: SBTRegionLayout{
			FirstGroup: 1,
			Count:      missCount,
			Stride:     stride,
			Size:       metadata.GetAligned(uint64(missCount)*stride, base),
		},
		Hit: SBTRegionLayout{
			FirstGroup: 1 + missCount,
			Count:      hitCount,
			Stride:     stride,
			Size:       metadata.GetAligned(uint64(hitCount)*stride, base),
		},
	}, nil
}

// packRegion copies the region's handles out of the tightly packed handle
// blob returned by the driver, placing handle i at i*stride.
func packRegion(handles []byte, handleSize uint64, region SBTRegionLayout) []byte {
	out := make([]byte, region.Size)
	for i := uint64(0); i < uint64(region.Count); i++ {
		src := (uint64(region.FirstGroup) + i) * handleSize
		copy(out[i*region.Stride:i*region.Stride+handleSize], handles[src:src+handleSize])
	}
	return out
}
