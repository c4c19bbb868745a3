package build

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// layout writes an OCI image layout directory piece by piece.
type layout struct {
	dir string
}

func newLayout(dir string) (*layout, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs", digest.Canonical.String()), 0755); err != nil {
		return nil, err
	}
	return &layout{dir: dir}, nil
}

// putBlob stores data content-addressed and returns its descriptor.
func (l *layout) putBlob(mediaType string, data []byte) (v1.Descriptor, error) {
	dgst := digest.FromBytes(data)
	p := blobPath(filepath.Join(l.dir, "blobs"), dgst)

	if _, err := os.Stat(p); os.IsNotExist(err) {
		if err := os.WriteFile(p, data, 0644); err != nil {
			return v1.Descriptor{}, err
		}
	}

	return v1.Descriptor{
		MediaType: mediaType,
		Digest:    dgst,
		Size:      int64(len(data)),
	}, nil
}

// copyBlob carries a base layer blob over from the base's layout.
func (l *layout) copyBlob(srcBlobDir string, desc v1.Descriptor) error {
	dst := blobPath(filepath.Join(l.dir, "blobs"), desc.Digest)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	src, err := os.Open(blobPath(srcBlobDir, desc.Digest))
	if err != nil {
		return fmt.Errorf("base blob %s: %w", desc.Digest, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// finish writes the image config, manifest, index, and the oci-layout
// marker, completing the layout.
func (l *layout) finish(config v1.Image, layers []v1.Descriptor) (digest.Digest, error) {
	configData, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	configDesc, err := l.putBlob(v1.MediaTypeImageConfig, configData)
	if err != nil {
		return "", err
	}

	manifest := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    layers,
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	manifestDesc, err := l.putBlob(v1.MediaTypeImageManifest, manifestData)
	if err != nil {
		return "", err
	}

	index := v1.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageIndex,
		Manifests: []v1.Descriptor{manifestDesc},
	}
	indexData, err := json.Marshal(index)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(l.dir, "index.json"), indexData, 0644); err != nil {
		return "", err
	}

	marker, err := json.Marshal(v1.ImageLayout{Version: v1.ImageLayoutVersion})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(l.dir, v1.ImageLayoutFile), marker, 0644); err != nil {
		return "", err
	}

	return manifestDesc.Digest, nil
}
