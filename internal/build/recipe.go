package build

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Recipe describes one image build: a pinned base, a working directory, a
// dependency manifest with the commands that install it, the project tree,
// and the entry point recorded on the result.
type Recipe struct {
	Base       string   `toml:"base"`        // image reference, must carry a tag (or "scratch")
	BaseLayout string   `toml:"base_layout"` // local OCI layout dir the base resolves from
	Workdir    string   `toml:"workdir"`
	Manifest   string   `toml:"manifest"`
	Upgrade    []string `toml:"upgrade"` // installer self-upgrade, run before install
	Install    []string `toml:"install"`
	Entrypoint []string `toml:"entrypoint"`
	Output     string   `toml:"output"`
	Cache      string   `toml:"cache"`
}

// DefaultRecipe mirrors the build descriptor the project originally shipped
// with.
func DefaultRecipe() *Recipe {
	return &Recipe{
		Base:       "python:3.11-slim",
		Workdir:    "/app",
		Manifest:   "requirements.txt",
		Upgrade:    []string{"pip", "install", "--upgrade", "pip"},
		Install:    []string{"pip", "install", "--no-cache-dir", "-r", "requirements.txt", "--target", "."},
		Entrypoint: []string{"python", "bot.py"},
		Output:     "image",
		Cache:      ".remnabot-cache",
	}
}

// LoadRecipe reads a TOML recipe over the defaults and validates it.
func LoadRecipe(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}

	r := DefaultRecipe()
	if err := toml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecipe, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recipe) Validate() error {
	if r.Base == "" {
		return fmt.Errorf("%w: base is required", ErrRecipe)
	}
	if r.Base != "scratch" && !refPinned(r.Base) {
		return fmt.Errorf("%w: base %q is not version-pinned", ErrRecipe, r.Base)
	}
	if !path.IsAbs(r.Workdir) {
		return fmt.Errorf("%w: workdir %q must be absolute", ErrRecipe, r.Workdir)
	}
	if r.Manifest == "" {
		return fmt.Errorf("%w: manifest is required", ErrRecipe)
	}
	if strings.Contains(r.Manifest, "/") {
		return fmt.Errorf("%w: manifest %q must be a file at the context root", ErrRecipe, r.Manifest)
	}
	if len(r.Install) == 0 {
		return fmt.Errorf("%w: install command is required", ErrRecipe)
	}
	if len(r.Entrypoint) == 0 {
		return fmt.Errorf("%w: entrypoint is required", ErrRecipe)
	}
	if r.Output == "" {
		return fmt.Errorf("%w: output is required", ErrRecipe)
	}
	return nil
}

// refPinned reports whether an image reference carries an explicit tag.
func refPinned(ref string) bool {
	name := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		name = ref[i+1:]
	}
	i := strings.Index(name, ":")
	return i > 0 && i < len(name)-1
}
