package loaders

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const spirvMagic uint32 = 0x07230203

// ShaderLoader reads compiled SPIR-V modules.
type ShaderLoader struct {
	BinaryLoader
}

func (sl *ShaderLoader) Load(path string) ([]byte, error) {
	data, err := sl.BinaryLoader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateSPIRV(data); err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	return data, nil
}

// ValidateSPIRV checks the module is word aligned and little endian SPIR-V.
func ValidateSPIRV(data []byte) error {
	if len(data) < 20 || len(data)%4 != 0 {
		return errors.Errorf("invalid SPIR-V size %d", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != spirvMagic {
		return errors.Errorf("invalid SPIR-V magic %#08x", magic)
	}
	return nil
}
