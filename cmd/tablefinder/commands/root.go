package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/app"
	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/config"
	"github.com/tablefinder/tablefinder/pkg/cli"
	"github.com/tablefinder/tablefinder/pkg/genx/modelloader"
)

var (
	// Global flags
	configPath string
	verbose    bool
	outputFlag string

	outputFormat cli.OutputFormat
)

var rootCmd = &cobra.Command{
	Use:   "tablefinder",
	Short: "Restaurant finder agent",
	Long: `tablefinder - find restaurants and book tables with model agents.

Answers stream as progress messages followed by one final answer. In UI
mode the final answer carries an A2UI JSON payload after the
---a2ui_JSON--- delimiter and is validated before it is returned.

Configuration is read from ~/.tablefinder/config.yaml unless --config is
given. Without a config file only 'validate' and 'version' are useful.

Examples:
  # Ask the single agent
  tablefinder ask "Top 5 chinese restaurants in New York"

  # Ask the three-stage pipeline, retrying invalid UI answers
  tablefinder graph --retry "Dim sum near NY"

  # Serve on localhost:10002
  tablefinder serve

  # Check an answer
  tablefinder validate answer.txt`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		modelloader.Verbose = verbose

		f, err := cli.ParseFormat(outputFlag)
		if err != nil {
			return err
		}
		outputFormat = f
		return nil
	},
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.tablefinder/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "output format: text, json, yaml or raw")
}

// loadConfig reads the config selected by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// loadApp reads the config and builds the runtime. The caller must Close the
// returned App.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return a, nil
}

// output writes a command result in the selected format.
func output(w io.Writer, result any) error {
	return cli.Output(result, cli.OutputOptions{Format: outputFormat, Writer: w})
}
