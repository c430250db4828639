package assets

// Loader reads the bytes of one asset type from disk.
type Loader interface {
	Load(path string) ([]byte, error)
}
