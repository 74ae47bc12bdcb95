package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"discowatch/internal/clix"
	"discowatch/internal/models"
)

var (
	historyLimit   int
	historyKind    string
	historyWatchID string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded status checks",
	Long: `Displays status checks recorded in the history store, newest first. Filter by resource
with --kind and --collection-id, or by watch with --watch-id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}

		var checks []*models.StatusCheck
		switch {
		case historyWatchID != "":
			id, err := uuid.Parse(historyWatchID)
			if err != nil {
				return fmt.Errorf("invalid watch id %q: %w", historyWatchID, err)
			}
			checks, err = appInstance.WatchService.WatchHistory(ctx, id, historyLimit)
			if err != nil {
				return fmt.Errorf("error listing checks: %w", err)
			}
		case historyKind != "":
			env, err := resolveEnvironment(appInstance)
			if err != nil {
				return err
			}
			resources, err := clix.ParseResources(cmd.Flags(), []string{historyKind}, env)
			if err != nil {
				return err
			}
			checks, err = appInstance.WatchService.History(ctx, &resources[0], historyLimit)
			if err != nil {
				return fmt.Errorf("error listing checks: %w", err)
			}
		default:
			checks, err = appInstance.WatchService.History(ctx, nil, historyLimit)
			if err != nil {
				return fmt.Errorf("error listing checks: %w", err)
			}
		}

		if len(checks) == 0 {
			fmt.Println("No status checks found.")
			return nil
		}
		renderChecks(os.Stdout, checks)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of checks to show")
	historyCmd.Flags().StringVarP(&historyKind, "kind", "k", "", "Only checks of this resource kind")
	historyCmd.Flags().StringVar(&historyWatchID, "watch-id", "", "Only checks made by this watch")
	clix.AddResourceFlags(historyCmd.Flags())

	rootCmd.AddCommand(historyCmd)
}
