package build

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRecipeValidate(t *testing.T) {
	valid := func() *Recipe { return DefaultRecipe() }

	t.Run("Default", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Fatal(err)
		}
	})

	cases := []struct {
		name   string
		mutate func(*Recipe)
	}{
		{"NoBase", func(r *Recipe) { r.Base = "" }},
		{"UnpinnedBase", func(r *Recipe) { r.Base = "python" }},
		{"EmptyTag", func(r *Recipe) { r.Base = "python:" }},
		{"RelativeWorkdir", func(r *Recipe) { r.Workdir = "app" }},
		{"NoManifest", func(r *Recipe) { r.Manifest = "" }},
		{"NestedManifest", func(r *Recipe) { r.Manifest = "deps/requirements.txt" }},
		{"NoInstall", func(r *Recipe) { r.Install = nil }},
		{"NoEntrypoint", func(r *Recipe) { r.Entrypoint = nil }},
		{"NoOutput", func(r *Recipe) { r.Output = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid()
			tc.mutate(r)
			if err := r.Validate(); !errors.Is(err, ErrRecipe) {
				t.Fatalf("err = %v, want ErrRecipe", err)
			}
		})
	}

	t.Run("RegistryPortIsNotATag", func(t *testing.T) {
		r := valid()
		r.Base = "registry.example.org:5000/python:3.11-slim"
		if err := r.Validate(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Scratch", func(t *testing.T) {
		r := valid()
		r.Base = "scratch"
		if err := r.Validate(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoadRecipe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.toml")
	content := `base = "python:3.12-slim"
workdir = "/srv/bot"
entrypoint = ["python", "main.py"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRecipe(path)
	if err != nil {
		t.Fatal(err)
	}

	if r.Base != "python:3.12-slim" {
		t.Errorf("base = %q", r.Base)
	}
	if r.Workdir != "/srv/bot" {
		t.Errorf("workdir = %q", r.Workdir)
	}
	// Unset fields keep their defaults.
	if r.Manifest != "requirements.txt" {
		t.Errorf("manifest = %q", r.Manifest)
	}
	if len(r.Entrypoint) != 2 || r.Entrypoint[1] != "main.py" {
		t.Errorf("entrypoint = %v", r.Entrypoint)
	}
}

func TestLoadRecipeRejectsBadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.toml")
	if err := os.WriteFile(path, []byte("base = [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadRecipe(path); !errors.Is(err, ErrRecipe) {
		t.Fatalf("err = %v, want ErrRecipe", err)
	}
}
