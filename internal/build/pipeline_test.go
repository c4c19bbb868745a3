package build

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	digest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeExecutor records install invocations and drops a file into the
// staging root, standing in for a package installer.
type fakeExecutor struct {
	calls [][]string
	fail  bool
}

func (f *fakeExecutor) Run(ctx context.Context, argv []string, dir string) error {
	f.calls = append(f.calls, argv)
	if f.fail {
		return errors.New("package index unreachable")
	}
	if err := os.MkdirAll(filepath.Join(dir, "requests"), 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "requests", "__init__.py"), []byte("# requests\n"), 0644)
}

func testRecipe() *Recipe {
	return &Recipe{
		Base:       "scratch",
		Workdir:    "/app",
		Manifest:   "requirements.txt",
		Upgrade:    []string{"pip", "install", "--upgrade", "pip"},
		Install:    []string{"pip", "install", "--no-cache-dir", "-r", "requirements.txt", "--target", "."},
		Entrypoint: []string{"python", "bot.py"},
		Output:     "image",
		Cache:      ".cache",
	}
}

func writeContext(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runBuild(t *testing.T, contextDir string, recipe *Recipe, exec *fakeExecutor) *Result {
	t.Helper()
	result, err := Run(context.Background(), Options{
		Context:  contextDir,
		Recipe:   recipe,
		Executor: exec,
		Logger:   log.New(io.Discard),
	})
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func layerDigests(layers []v1.Descriptor) []digest.Digest {
	var out []digest.Digest
	for _, l := range layers {
		out = append(out, l.Digest)
	}
	return out
}

func TestBuildScenario(t *testing.T) {
	// The canonical case: requirements.txt with one pin, one module file.
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
		"bot.py":           "print('hi')\n",
	})
	exec := &fakeExecutor{}

	result := runBuild(t, dir, testRecipe(), exec)

	// Upgrade runs before install, nothing else runs.
	if len(exec.calls) != 2 {
		t.Fatalf("executor calls = %d, want 2", len(exec.calls))
	}
	if exec.calls[0][2] != "--upgrade" {
		t.Errorf("first call should be the upgrade: %v", exec.calls[0])
	}
	if exec.calls[1][1] != "install" || exec.calls[1][2] != "--no-cache-dir" {
		t.Errorf("second call should be the install: %v", exec.calls[1])
	}

	if len(result.Requirements) != 1 || result.Requirements[0].String() != "requests==2.31.0" {
		t.Errorf("requirements = %v", result.Requirements)
	}
	if len(result.Layers) != 3 {
		t.Fatalf("layers = %d, want 3 (manifest, install, project)", len(result.Layers))
	}

	// Entry-point fidelity: the config commands exactly the declared module.
	config, err := ReadImageConfig(result.Output)
	if err != nil {
		t.Fatal(err)
	}
	if len(config.Config.Cmd) != 2 || config.Config.Cmd[0] != "python" || config.Config.Cmd[1] != "bot.py" {
		t.Errorf("Cmd = %v, want [python bot.py]", config.Config.Cmd)
	}
	if config.Config.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q", config.Config.WorkingDir)
	}
	if len(config.RootFS.DiffIDs) != 3 {
		t.Errorf("DiffIDs = %d, want 3", len(config.RootFS.DiffIDs))
	}

	// Layer blobs actually exist in the layout.
	for _, l := range result.Layers {
		p := filepath.Join(result.Output, "blobs", l.Digest.Algorithm().String(), l.Digest.Encoded())
		if _, err := os.Stat(p); err != nil {
			t.Errorf("layer blob missing: %v", err)
		}
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
		"bot.py":           "print('hi')\n",
	})
	recipe := testRecipe()

	first := runBuild(t, dir, recipe, &fakeExecutor{})

	second := &fakeExecutor{}
	result := runBuild(t, dir, recipe, second)

	// Unchanged snapshot: the installer never runs again and every layer
	// comes out byte-identical.
	if len(second.calls) != 0 {
		t.Fatalf("executor ran %d times on unchanged rebuild", len(second.calls))
	}
	if !result.InstallCached {
		t.Error("install layer not served from cache")
	}

	a, b := layerDigests(first.Layers), layerDigests(result.Layers)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("layer %d digest changed: %s -> %s", i, a[i], b[i])
		}
	}
}

func TestAppChangeKeepsInstallLayer(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
		"bot.py":           "print('hi')\n",
	})
	recipe := testRecipe()

	first := runBuild(t, dir, recipe, &fakeExecutor{})

	// Touch only application code.
	if err := os.WriteFile(filepath.Join(dir, "bot.py"), []byte("print('v2')\n"), 0644); err != nil {
		t.Fatal(err)
	}

	second := &fakeExecutor{}
	result := runBuild(t, dir, recipe, second)

	if len(second.calls) != 0 {
		t.Fatalf("install stage re-ran after an application-only change")
	}
	if first.Layers[1].Digest != result.Layers[1].Digest {
		t.Error("install layer digest changed")
	}
	if first.Layers[2].Digest == result.Layers[2].Digest {
		t.Error("project layer digest should have changed")
	}
}

func TestManifestChangeInvalidatesInstallLayer(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
		"bot.py":           "print('hi')\n",
	})
	recipe := testRecipe()

	runBuild(t, dir, recipe, &fakeExecutor{})

	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("requests==2.32.0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	second := &fakeExecutor{}
	result := runBuild(t, dir, recipe, second)

	if len(second.calls) != 2 {
		t.Fatalf("executor calls = %d, want 2 after manifest change", len(second.calls))
	}
	if result.InstallCached {
		t.Error("install layer must not come from cache after manifest change")
	}
}

func TestMissingManifestFailsFast(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"bot.py": "print('hi')\n",
	})
	exec := &fakeExecutor{}

	_, err := Run(context.Background(), Options{
		Context:  dir,
		Recipe:   testRecipe(),
		Executor: exec,
		Logger:   log.New(io.Discard),
	})
	if !errors.Is(err, ErrManifestMissing) {
		t.Fatalf("err = %v, want ErrManifestMissing", err)
	}

	// Fail-fast: installation never attempted, no partial image produced.
	if len(exec.calls) != 0 {
		t.Errorf("executor ran %d times", len(exec.calls))
	}
	if _, err := os.Stat(filepath.Join(dir, "image", "index.json")); !os.IsNotExist(err) {
		t.Error("partial image produced")
	}
}

func TestMalformedManifestFailsBeforeInstall(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "this is not a pin\n",
		"bot.py":           "print('hi')\n",
	})
	exec := &fakeExecutor{}

	_, err := Run(context.Background(), Options{
		Context:  dir,
		Recipe:   testRecipe(),
		Executor: exec,
		Logger:   log.New(io.Discard),
	})
	if !errors.Is(err, ErrManifestSyntax) {
		t.Fatalf("err = %v, want ErrManifestSyntax", err)
	}
	if len(exec.calls) != 0 {
		t.Errorf("executor ran %d times", len(exec.calls))
	}
}

func TestInstallFailureAbortsBuild(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
		"bot.py":           "print('hi')\n",
	})

	_, err := Run(context.Background(), Options{
		Context:  dir,
		Recipe:   testRecipe(),
		Executor: &fakeExecutor{fail: true},
		Logger:   log.New(io.Discard),
	})
	if !errors.Is(err, ErrInstall) {
		t.Fatalf("err = %v, want ErrInstall", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "image", "index.json")); !os.IsNotExist(err) {
		t.Error("partial image produced")
	}
}

func TestUnresolvableBaseAbortsBuild(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
	})
	recipe := testRecipe()
	recipe.Base = "python:3.11-slim" // pinned, but no layout to resolve it from

	exec := &fakeExecutor{}
	_, err := Run(context.Background(), Options{
		Context:  dir,
		Recipe:   recipe,
		Executor: exec,
		Logger:   log.New(io.Discard),
	})
	if !errors.Is(err, ErrBaseResolve) {
		t.Fatalf("err = %v, want ErrBaseResolve", err)
	}
	if len(exec.calls) != 0 {
		t.Errorf("executor ran %d times", len(exec.calls))
	}
}

func TestBuildOnLocalBaseLayout(t *testing.T) {
	dir := writeContext(t, map[string]string{
		"requirements.txt": "requests==2.31.0\n",
		"bot.py":           "print('hi')\n",
	})

	// Hand-roll a one-layer base layout.
	baseDir := filepath.Join(dir, "base")
	l, err := newLayout(baseDir)
	if err != nil {
		t.Fatal(err)
	}
	b := newLayerBuilder()
	if err := b.AddBytes("/usr/bin/python", 0755, []byte("#!ELF\n")); err != nil {
		t.Fatal(err)
	}
	tarData, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	layerDesc, err := l.putBlob(v1.MediaTypeImageLayer, tarData)
	if err != nil {
		t.Fatal(err)
	}
	baseConfig := v1.Image{
		Platform: v1.Platform{Architecture: "amd64", OS: "linux"},
		Config:   v1.ImageConfig{Env: []string{"PATH=/usr/bin"}},
		RootFS:   v1.RootFS{Type: "layers", DiffIDs: []digest.Digest{layerDesc.Digest}},
	}
	if _, err := l.finish(baseConfig, []v1.Descriptor{layerDesc}); err != nil {
		t.Fatal(err)
	}

	recipe := testRecipe()
	recipe.Base = "python:3.11-slim"
	recipe.BaseLayout = "base"

	result := runBuild(t, dir, recipe, &fakeExecutor{})

	if len(result.Layers) != 4 {
		t.Fatalf("layers = %d, want 4 (base + 3 stages)", len(result.Layers))
	}
	if result.Layers[0].Digest != layerDesc.Digest {
		t.Error("base layer must come first")
	}

	config, err := ReadImageConfig(result.Output)
	if err != nil {
		t.Fatal(err)
	}
	if len(config.Config.Env) != 1 || config.Config.Env[0] != "PATH=/usr/bin" {
		t.Errorf("base env not carried over: %v", config.Config.Env)
	}
	if config.Architecture != "amd64" {
		t.Errorf("architecture = %q", config.Architecture)
	}

	// The base layer blob was carried into the output layout.
	p := filepath.Join(result.Output, "blobs", layerDesc.Digest.Algorithm().String(), layerDesc.Digest.Encoded())
	if _, err := os.Stat(p); err != nil {
		t.Errorf("base blob missing from output: %v", err)
	}
}
