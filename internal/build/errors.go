package build

import "errors"

var (
	ErrRecipe          = errors.New("invalid recipe")
	ErrBaseResolve     = errors.New("base image resolve failed")
	ErrManifestMissing = errors.New("dependency manifest not found")
	ErrManifestSyntax  = errors.New("dependency manifest syntax error")
	ErrInstall         = errors.New("dependency install failed")
	ErrBuild           = errors.New("build failed")
)
