package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/app"
	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/cli"
)

var (
	validateSchema string
	validateRepair bool
)

// errInvalidAnswer makes the command exit non-zero after printing the result.
var errInvalidAnswer = errors.New("answer does not satisfy the A2UI contract")

type validateResult struct {
	Valid   bool   `json:"valid" yaml:"valid"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`
	Payload any    `json:"payload,omitempty" yaml:"payload,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check an answer against the A2UI contract",
	Long: `Check an answer read from file, or stdin when no file or "-" is given.

A valid answer is narrative text, the ---a2ui_JSON--- delimiter, then a JSON
array of A2UI messages (optionally fenced with ` + "```json" + `) that satisfies the
message schema. The schema comes from --schema, else the configured
resources, else the built-in copy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		schema, err := loadSchema(cmd)
		if err != nil {
			return err
		}
		var opts []a2ui.Option
		if validateRepair {
			opts = append(opts, a2ui.WithRepair())
		}
		v, err := a2ui.NewValidator(schema, opts...)
		if err != nil {
			return err
		}

		res := v.Validate(string(content))
		w := cmd.OutOrStdout()
		if outputFormat == cli.FormatText {
			if res.Valid() {
				cli.PrintSuccess(w, "valid A2UI answer")
				if res.Content != string(content) {
					fmt.Fprintln(w, res.Content)
				}
				return nil
			}
			return fmt.Errorf("%w: %s", errInvalidAnswer, res.Reason())
		}
		if err := output(w, validateResult{
			Valid:   res.Valid(),
			Reason:  res.Reason(),
			Text:    res.Text,
			Payload: res.Data,
			Content: res.Content,
		}); err != nil {
			return err
		}
		if !res.Valid() {
			return errInvalidAnswer
		}
		return nil
	},
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func loadSchema(cmd *cobra.Command) ([]byte, error) {
	if validateSchema != "" {
		return os.ReadFile(validateSchema)
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Schema(cmd.Context(), cfg.Resources)
}

func init() {
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "A2UI message schema file")
	validateCmd.Flags().BoolVar(&validateRepair, "repair", false, "repair near-miss JSON before validating")
	rootCmd.AddCommand(validateCmd)
}
