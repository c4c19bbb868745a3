package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs the dependency install commands against a staging root.
// The pipeline only ever calls it from the install stage; tests substitute
// a recording fake.
type Executor interface {
	Run(ctx context.Context, argv []string, dir string) error
}

type localExecutor struct{}

// NewExecutor returns the default Executor, running commands directly on
// the host with the staging root as working directory.
func NewExecutor() Executor {
	return localExecutor{}
}

func (localExecutor) Run(ctx context.Context, argv []string, dir string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, bytes.TrimSpace(out))
	}
	return nil
}
