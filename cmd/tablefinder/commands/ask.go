package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/config"
)

var (
	askSession string
	askText    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query...>",
	Short: "Ask the restaurant agent",
	Long: `Ask the single restaurant agent. The agent may call get_restaurants,
make_reservation and any configured HTTP tools. In UI mode the answer is
validated and the agent is re-prompted up to agent.max_attempts times.`,
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
		if askText {
			a.Config.Agent.Mode = config.ModeText
		}

		ag, err := a.Agent()
		if err != nil {
			return err
		}
		ctrl := a.Controller(ag, a.Config.Agent.UI())
		session := sessionOrNew(askSession)
		return render(ctx, cmd.OutOrStdout(), session, seq(ctrl.Stream(ctx, query, session)))
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id (default: random)")
	askCmd.Flags().BoolVar(&askText, "text", false, "answer in plain text instead of A2UI")
	rootCmd.AddCommand(askCmd)
}
