package metadata

import "math"

// Handles into storage owned by different subsystems. Each one is its own type
// so a MeshID can never be passed where an ImageID is expected.
type (
	MeshID              uint32
	ImageID             uint32
	EntityID            uint32
	InstanceStructureID uint32
)

const (
	InvalidMeshID              MeshID              = math.MaxUint32
	InvalidImageID             ImageID             = math.MaxUint32
	InvalidEntityID            EntityID            = math.MaxUint32
	InvalidInstanceStructureID InstanceStructureID = math.MaxUint32
)

func (id MeshID) Valid() bool              { return id != InvalidMeshID }
func (id ImageID) Valid() bool             { return id != InvalidImageID }
func (id EntityID) Valid() bool            { return id != InvalidEntityID }
func (id InstanceStructureID) Valid() bool { return id != InvalidInstanceStructureID }
