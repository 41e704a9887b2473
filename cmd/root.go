package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Luneo19/luneo-platform-sub027/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "arconvert",
	Short: "3D asset conversion and optimization pipeline",
	Long: `arconvert converts uploaded 3D models (FBX/OBJ/glTF/GLB) into
delivery formats (glTF/GLB, USDZ, Draco-compressed GLB) with optional
mesh/texture optimization and LOD generation, behind a Redis job queue.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
