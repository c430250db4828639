package loaders

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

type BinaryLoader struct{}

// Load reads the whole file at path.
func (bl *BinaryLoader) Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return buf, nil
}
