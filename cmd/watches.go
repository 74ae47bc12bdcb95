package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var watchesCmd = &cobra.Command{
	Use:   "watches",
	Short: "Inspect and cancel watches",
	Long:  `Lists watches recorded in the history store, including ones queued for the worker.`,
}

var listWatchesCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent watches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		watches, err := appInstance.WatchService.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing watches: %w", err)
		}
		if len(watches) == 0 {
			fmt.Println("No watches found.")
			return nil
		}
		renderWatches(os.Stdout, watches)
		return nil
	},
}

var getWatchCmd = &cobra.Command{
	Use:   "get <watch-id>",
	Short: "Show one watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid watch id %q: %w", args[0], err)
		}
		w, err := appInstance.WatchService.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		describeWatch(os.Stdout, w)
		return nil
	},
}

var cancelWatchCmd = &cobra.Command{
	Use:   "cancel <watch-id>",
	Short: "Cancel a queued or running watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid watch id %q: %w", args[0], err)
		}
		w, err := appInstance.WatchService.Cancel(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Watch %s is %s\n", w.ID, colorState(w.State))
		return nil
	},
}

func init() {
	watchesCmd.AddCommand(listWatchesCmd, getWatchCmd, cancelWatchCmd)
	rootCmd.AddCommand(watchesCmd)
}
