package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// baseImage is a resolved base: its platform, config environment, and the
// layers the built image stacks on top of.
type baseImage struct {
	ref     string
	arch    string
	os      string
	env     []string
	layers  []v1.Descriptor
	diffIDs []digest.Digest
	blobDir string
}

// resolveBase resolves a pinned reference against a local OCI layout.
// "scratch" resolves to an empty base for the host platform. Anything that
// prevents resolution aborts the build with ErrBaseResolve.
func resolveBase(ref, layoutDir string) (*baseImage, error) {
	if ref == "scratch" {
		return &baseImage{ref: ref, arch: goruntime.GOARCH, os: "linux"}, nil
	}

	if layoutDir == "" {
		return nil, fmt.Errorf("%w: no local layout configured for %q", ErrBaseResolve, ref)
	}

	idxData, err := os.ReadFile(filepath.Join(layoutDir, "index.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBaseResolve, ref, err)
	}
	var idx v1.Index
	if err := json.Unmarshal(idxData, &idx); err != nil {
		return nil, fmt.Errorf("%w: %q: index: %v", ErrBaseResolve, ref, err)
	}
	if len(idx.Manifests) == 0 {
		return nil, fmt.Errorf("%w: %q: layout has no manifests", ErrBaseResolve, ref)
	}

	blobDir := filepath.Join(layoutDir, "blobs")

	var manifest v1.Manifest
	if err := readBlobJSON(blobDir, idx.Manifests[0].Digest, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %q: manifest: %v", ErrBaseResolve, ref, err)
	}

	var config v1.Image
	if err := readBlobJSON(blobDir, manifest.Config.Digest, &config); err != nil {
		return nil, fmt.Errorf("%w: %q: config: %v", ErrBaseResolve, ref, err)
	}

	base := &baseImage{
		ref:     ref,
		arch:    config.Architecture,
		os:      config.OS,
		env:     config.Config.Env,
		layers:  manifest.Layers,
		diffIDs: config.RootFS.DiffIDs,
		blobDir: blobDir,
	}
	if base.arch == "" {
		base.arch = goruntime.GOARCH
	}
	if base.os == "" {
		base.os = "linux"
	}
	return base, nil
}

func readBlobJSON(blobDir string, dgst digest.Digest, out any) error {
	data, err := os.ReadFile(blobPath(blobDir, dgst))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func blobPath(blobDir string, dgst digest.Digest) string {
	return filepath.Join(blobDir, dgst.Algorithm().String(), dgst.Encoded())
}
