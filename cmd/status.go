package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"discowatch/internal/clix"
	"discowatch/internal/services"
)

var statusCmd = &cobra.Command{
	Use:   "status <kind>...",
	Short: "Check the current status of one or more resources",
	Long: `Issues one status request per kind and prints the status and how it is classified.
Kinds: stopwords, tokenization_dictionary, collection, document.`,
	Example: `  discowatch status stopwords tokenization -c <collection-id>
  discowatch status document -c <collection-id> -d <document-id>`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}
		env, err := resolveEnvironment(appInstance)
		if err != nil {
			return err
		}
		resources, err := clix.ParseResources(cmd.Flags(), args, env)
		if err != nil {
			return err
		}

		if len(resources) == 1 {
			res := resources[0]
			status, err := appInstance.WatchService.CheckStatus(ctx, res)
			if err != nil {
				return fmt.Errorf("checking %s: %w", res, err)
			}
			outcome := services.EvaluatorFor(res.Kind)(status)
			fmt.Printf("%s: %s (%s)\n", res, colorOutcome(outcome, status), outcome)
			return nil
		}

		table := newTable(os.Stdout, "Resource", "Status", "Outcome", "Error")
		var firstErr error
		for _, res := range resources {
			status, err := appInstance.WatchService.CheckStatus(ctx, res)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("checking %s: %w", res, err)
				}
				table.Append([]string{res.String(), "-", "", err.Error()})
				continue
			}
			outcome := services.EvaluatorFor(res.Kind)(status)
			table.Append([]string{res.String(), colorOutcome(outcome, status), outcome.String(), ""})
		}
		table.Render()
		return firstErr
	},
}

func init() {
	clix.AddResourceFlags(statusCmd.Flags())
	rootCmd.AddCommand(statusCmd)
}
