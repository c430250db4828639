package raytracing

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
)

// InstanceSize is the size of an encoded Instance, matching
// VkAccelerationStructureInstanceKHR.
const InstanceSize = 64

const (
	// Custom index and SBT offset share a word with an 8 bit field.
	maxCustomIndex = 1<<24 - 1

	InstanceMaskAll                 uint8 = 0xFF
	InstanceFlagTriangleCullDisable uint8 = 0x01
	InstanceFlagForceOpaque         uint8 = 0x04
)

// Instance is one entry of the top level instance table.
type Instance struct {
	// Row major 3x4 object to world transform.
	Transform [12]float32
	// Low 24 bits are visible to shaders as gl_InstanceCustomIndexEXT.
	CustomIndex uint32
	Mask        uint8
	// Low 24 bits select the hit group record.
	SBTRecordOffset uint32
	Flags           uint8
	// Device address of the bottom level structure.
	AccelerationStructureReference uint64
}

// TransformFromMat4 converts a column major mgl32 matrix into the row major
// 3x4 layout, dropping the projective row.
func TransformFromMat4(m mgl32.Mat4) [12]float32 {
	var out [12]float32
	t := m.Transpose()
	copy(out[:], t[:12])
	return out
}

// Mat4 rebuilds the affine matrix from Transform.
func (in *Instance) Mat4() mgl32.Mat4 {
	var t mgl32.Mat4
	copy(t[:12], in.Transform[:])
	t[15] = 1
	return t.Transpose()
}

// Encode writes the GPU layout of the instance into dst, which must hold at
// least InstanceSize bytes.
func (in *Instance) Encode(dst []byte) {
	_ = dst[InstanceSize-1]
	for i, f := range in.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], in.CustomIndex&maxCustomIndex|uint32(in.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], in.SBTRecordOffset&maxCustomIndex|uint32(in.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], in.AccelerationStructureReference)
}

func DecodeInstance(src []byte) Instance {
	_ = src[InstanceSize-1]
	var in Instance
	for i := range in.Transform {
		in.Transform[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	w := binary.LittleEndian.Uint32(src[48:])
	in.CustomIndex = w & maxCustomIndex
	in.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(src[52:])
	in.SBTRecordOffset = w & maxCustomIndex
	in.Flags = uint8(w >> 24)
	in.AccelerationStructureReference = binary.LittleEndian.Uint64(src[56:])
	return in
}

func EncodeInstances(instances []Instance) []byte {
	out := make([]byte, len(instances)*InstanceSize)
	for i := range instances {
		instances[i].Encode(out[i*InstanceSize:])
	}
	return out
}

// BottomLevelLookup resolves the bottom level structure built for a mesh.
type BottomLevelLookup interface {
	BottomLevelAddress(mesh metadata.MeshID) (uint64, bool)
}

// BuildInstances appends one instance per command to dst, in command order.
// Commands whose mesh has no bottom level structure, or whose entity ID does
// not fit the 24 bit custom index, are skipped. Once maxInstances entries
// exist the remaining commands are dropped. Every case is counted in metrics.
func BuildInstances(dst []Instance, work []metadata.MeshRenderCommand, blas BottomLevelLookup, maxInstances uint32, metrics *core.Metrics) []Instance {
	dst = dst[:0]
	for i, cmd := range work {
		if uint32(len(dst)) == maxInstances {
			dropped := len(work) - i
			if metrics != nil {
				metrics.InstancesTruncated.Add(uint64(dropped))
			}
			core.LogWarn("instance table full (%d), dropping %d instances", maxInstances, dropped)
			break
		}
		address, ok := blas.BottomLevelAddress(cmd.GeoID)
		if !ok {
			if metrics != nil {
				metrics.InstancesSkipped.Add(1)
			}
			continue
		}
		if uint32(cmd.ID) > maxCustomIndex {
			if metrics != nil {
				metrics.InstanceIndexOverflows.Add(1)
			}
			core.LogWarn("entity %d does not fit the instance custom index, skipped", cmd.ID)
			continue
		}
		dst = append(dst, Instance{
			Transform:                      TransformFromMat4(cmd.Transform),
			CustomIndex:                    uint32(cmd.ID),
			Mask:                           InstanceMaskAll,
			SBTRecordOffset:                0,
			Flags:                          InstanceFlagTriangleCullDisable,
			AccelerationStructureReference: address,
		})
	}
	return dst
}
