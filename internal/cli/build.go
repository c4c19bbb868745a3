package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/officialvpn/remnabot/internal/build"
)

func buildCmd() *cobra.Command {
	var (
		recipePath string
		contextDir string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a deployment image from the build context",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("build")

			recipe := build.DefaultRecipe()
			if _, err := os.Stat(recipePath); err == nil {
				recipe, err = build.LoadRecipe(recipePath)
				if err != nil {
					return err
				}
				logger.Debug("recipe loaded", "path", recipePath)
			} else if cmd.Flags().Changed("recipe") {
				return fmt.Errorf("recipe %s: %w", recipePath, err)
			}

			result, err := build.Run(cmd.Context(), build.Options{
				Context: contextDir,
				Recipe:  recipe,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "built %s (%d layers, %d requirements)\n",
				result.Manifest, len(result.Layers), len(result.Requirements))
			return nil
		},
	}

	cmd.Flags().StringVarP(&recipePath, "recipe", "r", "deploy.toml", "build recipe file")
	cmd.Flags().StringVarP(&contextDir, "context", "C", ".", "build context directory")
	return cmd
}
