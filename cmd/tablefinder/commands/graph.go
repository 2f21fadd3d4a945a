package commands

import (
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/config"
	"github.com/tablefinder/tablefinder/pkg/convo"
)

var (
	graphSession string
	graphRetry   bool
	graphText    bool
)

var graphCmd = &cobra.Command{
	Use:   "graph <query...>",
	Short: "Ask the search, data, presenter pipeline",
	Long: `Run the query through three agents in order: the finder searches, the
data agent enriches the finder's answer and the presenter writes the final
answer. With --retry (or pipeline.retry in the config) the pipeline runs
under the retry controller and invalid UI answers are re-prompted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := queryArg(args)
		if query == "" {
			return fmt.Errorf("query is empty")
		}
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if graphText {
			a.Config.Pipeline.Mode = config.ModeText
		}

		p, err := a.Pipeline()
		if err != nil {
			return err
		}
		session := sessionOrNew(graphSession)
		var updates iter.Seq2[convo.Update, error]
		if graphRetry || a.Config.Pipeline.Retry {
			updates = seq(a.Controller(p.Assembled(), a.Config.Pipeline.UI()).Stream(ctx, query, session))
		} else {
			updates = p.Stream(ctx, query, session)
		}
		return render(ctx, cmd.OutOrStdout(), session, updates)
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphSession, "session", "s", "", "session id (default: random)")
	graphCmd.Flags().BoolVar(&graphRetry, "retry", false, "run the pipeline under the retry controller")
	graphCmd.Flags().BoolVar(&graphText, "text", false, "answer in plain text instead of A2UI")
	rootCmd.AddCommand(graphCmd)
}
