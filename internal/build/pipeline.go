// Package build turns a base image plus a build context into an OCI image
// layout, in five fixed stages: resolve base, establish workdir, stage the
// dependency manifest, install dependencies, stage the project tree. Each
// stage commits one content-addressed layer, so rebuilds that only touch
// application files reuse the cached install layer.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Options controls one pipeline run.
type Options struct {
	Context  string // build context root
	Recipe   *Recipe
	Executor Executor    // nil means run install commands on the host
	Logger   *log.Logger // nil means the default logger
}

// Result describes a finished build.
type Result struct {
	Output        string
	Manifest      digest.Digest // digest of the image manifest blob
	Layers        []v1.Descriptor
	Requirements  []Requirement
	InstallCached bool
}

// Run executes the pipeline. Stages run strictly in order and any failure
// aborts the whole build: no partial image is produced.
func Run(ctx context.Context, opts Options) (*Result, error) {
	r := opts.Recipe
	if r == nil {
		r = DefaultRecipe()
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	executor := opts.Executor
	if executor == nil {
		executor = NewExecutor()
	}

	contextDir, err := filepath.Abs(opts.Context)
	if err != nil {
		return nil, err
	}
	outputDir := resolvePath(contextDir, r.Output)
	cacheDir := resolvePath(contextDir, r.Cache)
	baseLayout := ""
	if r.BaseLayout != "" {
		baseLayout = resolvePath(contextDir, r.BaseLayout)
	}

	cache := NewCache(cacheDir)
	wd := path.Clean(r.Workdir)

	// Stage 1: resolve base.
	base, err := resolveBase(r.Base, baseLayout)
	if err != nil {
		return nil, err
	}
	logger.Info("base resolved", "ref", r.Base, "layers", len(base.layers))

	// Stage 2: establish working directory. The directory itself is an
	// entry of the manifest layer; here it only needs recording.
	logger.Debug("workdir", "path", wd)

	// Stage 3: stage the dependency manifest.
	manifestData, err := os.ReadFile(filepath.Join(contextDir, r.Manifest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, r.Manifest)
		}
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	reqs, err := ParseRequirements(manifestData)
	if err != nil {
		return nil, err
	}
	logger.Info("manifest staged", "file", r.Manifest, "requirements", len(reqs))

	manifestDigest := digest.FromBytes(manifestData)
	manifestKey := stageKey("manifest", wd, r.Manifest, manifestDigest.String())
	manifestTar, _, err := cachedLayer(cache, manifestKey, func() ([]byte, error) {
		b := newLayerBuilder()
		if err := b.AddDir(wd); err != nil {
			return nil, err
		}
		if err := b.AddBytes(path.Join(wd, r.Manifest), 0644, manifestData); err != nil {
			return nil, err
		}
		return b.Bytes()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: manifest layer: %v", ErrBuild, err)
	}

	// Stage 4: install dependencies. The cache key covers everything the
	// installer sees; a hit skips the installer entirely, which is what
	// makes application-only rebuilds cheap.
	installKey := stageKey("install", base.ref, wd,
		argvKey(r.Upgrade), argvKey(r.Install), manifestDigest.String())
	installTar, installCached, err := cachedLayer(cache, installKey, func() ([]byte, error) {
		return runInstall(ctx, executor, r, wd, manifestData, logger)
	})
	if err != nil {
		return nil, err
	}
	if installCached {
		logger.Info("install layer reused from cache")
	}

	// Stage 5: stage the full project tree. Entries shadow the manifest
	// layer's copy; the output, cache, and base layout never ship.
	files, err := ScanContext(contextDir, []string{outputDir, cacheDir, baseLayout})
	if err != nil {
		return nil, fmt.Errorf("%w: scan context: %v", ErrBuild, err)
	}

	projectKey := stageKey("project", wd, TreeDigest(files).String())
	projectTar, _, err := cachedLayer(cache, projectKey, func() ([]byte, error) {
		b := newLayerBuilder()
		if err := b.AddDir(wd); err != nil {
			return nil, err
		}
		for _, f := range files {
			if err := b.AddFile(path.Join(wd, f.Rel), f.Mode, filepath.Join(contextDir, f.Rel)); err != nil {
				return nil, err
			}
		}
		return b.Bytes()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: project layer: %v", ErrBuild, err)
	}
	logger.Info("project tree staged", "files", len(files))

	// Stage 6: declare the entry point and assemble the image.
	result, err := assemble(outputDir, base, r, wd, [][]byte{manifestTar, installTar, projectTar})
	if err != nil {
		return nil, err
	}
	result.Requirements = reqs
	result.InstallCached = installCached

	logger.Info("image built", "output", outputDir, "manifest", result.Manifest)
	return result, nil
}

// runInstall stages the manifest into a scratch root and runs the upgrade
// and install commands there, then captures the root as a layer.
func runInstall(ctx context.Context, executor Executor, r *Recipe, wd string, manifestData []byte, logger *log.Logger) ([]byte, error) {
	staging, err := os.MkdirTemp("", "remnabot-install-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if err := os.WriteFile(filepath.Join(staging, r.Manifest), manifestData, 0644); err != nil {
		return nil, err
	}

	for _, argv := range [][]string{r.Upgrade, r.Install} {
		if len(argv) == 0 {
			continue
		}
		logger.Info("running installer", "command", argv)
		if err := executor.Run(ctx, argv, staging); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInstall, err)
		}
	}

	installed, err := ScanContext(staging, nil)
	if err != nil {
		return nil, err
	}

	b := newLayerBuilder()
	if err := b.AddDir(wd); err != nil {
		return nil, err
	}
	for _, f := range installed {
		if err := b.AddFile(path.Join(wd, f.Rel), f.Mode, filepath.Join(staging, f.Rel)); err != nil {
			return nil, err
		}
	}
	return b.Bytes()
}

// assemble writes the OCI layout: base layers first, then the three stage
// layers, topped by a config whose Cmd is exactly the recipe entrypoint.
func assemble(outputDir string, base *baseImage, r *Recipe, wd string, stageTars [][]byte) (*Result, error) {
	l, err := newLayout(outputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	for _, desc := range base.layers {
		if err := l.copyBlob(base.blobDir, desc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuild, err)
		}
	}

	layers := append([]v1.Descriptor(nil), base.layers...)
	diffIDs := append([]digest.Digest(nil), base.diffIDs...)
	for _, data := range stageTars {
		desc, err := l.putBlob(v1.MediaTypeImageLayer, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuild, err)
		}
		layers = append(layers, desc)
		// Uncompressed layers: the diff ID is the blob digest.
		diffIDs = append(diffIDs, desc.Digest)
	}

	config := v1.Image{
		Platform: v1.Platform{
			Architecture: base.arch,
			OS:           base.os,
		},
		Config: v1.ImageConfig{
			Cmd:        r.Entrypoint,
			WorkingDir: wd,
			Env:        base.env,
		},
		RootFS: v1.RootFS{
			Type:    "layers",
			DiffIDs: diffIDs,
		},
		History: []v1.History{
			{CreatedBy: "remnabot build: stage manifest " + r.Manifest},
			{CreatedBy: "remnabot build: install dependencies"},
			{CreatedBy: "remnabot build: stage project tree"},
		},
	}

	manifestDigest, err := l.finish(config, layers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	return &Result{
		Output:   outputDir,
		Manifest: manifestDigest,
		Layers:   layers,
	}, nil
}

// cachedLayer returns the cached layer for key, or produces, stores, and
// returns a fresh one. The second return reports a cache hit.
func cachedLayer(cache *Cache, key digest.Digest, produce func() ([]byte, error)) ([]byte, bool, error) {
	if data, ok := cache.Get(key); ok {
		return data, true, nil
	}

	data, err := produce()
	if err != nil {
		return nil, false, err
	}
	if err := cache.Put(key, data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func stageKey(parts ...string) digest.Digest {
	h := digest.Canonical.Digester()
	for _, p := range parts {
		io.WriteString(h.Hash(), p)
		h.Hash().Write([]byte{0})
	}
	return h.Digest()
}

func argvKey(argv []string) string {
	data, _ := json.Marshal(argv)
	return string(data)
}

func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// ReadImageConfig loads the image config back out of a finished layout.
func ReadImageConfig(layoutDir string) (*v1.Image, error) {
	idxData, err := os.ReadFile(filepath.Join(layoutDir, "index.json"))
	if err != nil {
		return nil, err
	}
	var idx v1.Index
	if err := json.Unmarshal(idxData, &idx); err != nil {
		return nil, err
	}
	if len(idx.Manifests) == 0 {
		return nil, fmt.Errorf("layout %s has no manifests", layoutDir)
	}

	blobDir := filepath.Join(layoutDir, "blobs")

	var manifest v1.Manifest
	if err := readBlobJSON(blobDir, idx.Manifests[0].Digest, &manifest); err != nil {
		return nil, err
	}

	config := new(v1.Image)
	if err := readBlobJSON(blobDir, manifest.Config.Digest, config); err != nil {
		return nil, err
	}
	return config, nil
}
