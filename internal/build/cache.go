package build

import (
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// Cache stores finished layer tars keyed by a digest of the inputs that
// produced them, not of the bytes themselves: a hit means the stage that
// would have produced the layer is skipped entirely.
type Cache struct {
	dir string
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) Get(key digest.Digest) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Cache) Put(key digest.Digest, data []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	// Write-then-rename so a torn write never poisons the cache.
	tmp, err := os.CreateTemp(c.dir, "layer-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

func (c *Cache) path(key digest.Digest) string {
	return filepath.Join(c.dir, key.Algorithm().String()+"-"+key.Encoded()+".tar")
}
