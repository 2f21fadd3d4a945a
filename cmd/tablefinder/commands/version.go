package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, build.String())
		if verbose {
			fmt.Fprintf(w, "  go:     %s\n", runtime.Version())
			if cfg, err := loadConfig(); err != nil {
				fmt.Fprintf(w, "  config: (unavailable: %v)\n", err)
			} else if cfg.Path == "" {
				fmt.Fprintln(w, "  config: (defaults)")
			} else {
				fmt.Fprintf(w, "  config: %s\n", cfg.Path)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
