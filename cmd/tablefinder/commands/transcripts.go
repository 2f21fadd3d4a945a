package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/app"
	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/config"
	"github.com/tablefinder/tablefinder/pkg/cli"
	"github.com/tablefinder/tablefinder/pkg/transcript"
)

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts [session]",
	Short: "Show recorded attempts",
	Long: `Without arguments, list the sessions with recorded attempts. With a
session id, show every attempt of that session.

Only the badger driver keeps transcripts between runs; the memory driver
starts empty.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Transcripts.Driver != config.DriverBadger {
			return errors.New("transcripts are only persisted with transcripts.driver: badger")
		}
		store, err := app.Transcripts(cfg.Transcripts)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		w := cmd.OutOrStdout()
		if len(args) == 0 {
			return listSessions(ctx, w, store)
		}
		return showSession(ctx, w, store, args[0])
	},
}

func listSessions(ctx context.Context, w io.Writer, store transcript.Store) error {
	ids, err := store.Sessions(ctx)
	if err != nil {
		return err
	}
	if outputFormat != cli.FormatText {
		return output(w, ids)
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

func showSession(ctx context.Context, w io.Writer, store transcript.Store, session string) error {
	recs, err := store.List(ctx, session)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("session %q has no recorded attempts", session)
	}
	if outputFormat != cli.FormatText {
		return output(w, recs)
	}
	for _, r := range recs {
		a := r.Attempt
		fmt.Fprintf(w, "#%d %-14s next=%-10s tokens=%-6s events=%-3d took=%s agent=%s\n",
			a.N, a.Outcome, a.Next, cli.FormatTokens(a.Tokens), a.Events,
			cli.FormatDuration(a.Finished.Sub(a.Started)), r.Agent)
		if a.Reason != "" {
			fmt.Fprintf(w, "   reason: %s\n", a.Reason)
		}
		if a.TransientRetries > 0 {
			fmt.Fprintf(w, "   transient retries: %d\n", a.TransientRetries)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(transcriptsCmd)
}
