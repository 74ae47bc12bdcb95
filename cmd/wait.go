package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"discowatch/internal/app"
	"discowatch/internal/clix"
	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/services"
)

var (
	waitAsync bool
	waitQuiet bool
)

var waitCmd = &cobra.Command{
	Use:   "wait <kind>...",
	Short: "Poll resources until they are ready or fail",
	Long: `Polls every given kind concurrently, one status request per interval each, until the
resource reaches a terminal status. Exits 2 when a resource fails and 3 when the check budget
or --timeout runs out.

With --async the watches are queued for the worker process instead and the command returns
immediately.`,
	Example: `  discowatch wait stopwords tokenization -c <collection-id> --interval 10s --timeout 30m
  discowatch wait document -c <collection-id> -d <document-id> --async`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
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
		opts, err := clix.ParseWatchOptions(cmd.Flags())
		if err != nil {
			return err
		}

		if waitAsync {
			return enqueueWatches(cmd.Context(), appInstance, resources, opts)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return waitForResources(ctx, appInstance, resources, opts, !waitQuiet)
	},
}

func enqueueWatches(ctx context.Context, appInstance *app.App, resources []models.Resource, opts services.WatchOptions) error {
	for _, res := range resources {
		w, err := appInstance.WatchService.Enqueue(ctx, res, opts)
		if err != nil {
			return fmt.Errorf("queueing %s: %w", res, err)
		}
		fmt.Printf("Queued %s as watch %s\n", res, color.CyanString(w.ID.String()))
	}
	return nil
}

// waitForResources runs one poll loop per resource and returns the first error.
// Every loop runs to its own end; a failure of one resource does not cancel the others.
func waitForResources(ctx context.Context, appInstance *app.App, resources []models.Resource, opts services.WatchOptions, verbose bool) error {
	var mu sync.Mutex
	printf := func(format string, a ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Printf(format, a...)
	}

	var g errgroup.Group
	for _, res := range resources {
		res := res
		g.Go(func() error {
			var progress poller.Observer
			if verbose {
				progress = func(c poller.Check) {
					if c.Err != nil {
						printf("  %s check %d: %s\n", res, c.Attempt, color.RedString(c.Err.Error()))
						return
					}
					printf("  %s check %d: %s\n", res, c.Attempt, colorOutcome(c.Outcome, c.Status))
				}
			}

			result, err := appInstance.WatchService.Wait(ctx, res, opts, progress)
			if err != nil {
				printf("%s %s: %v\n", color.RedString("✗"), res, err)
				return fmt.Errorf("%s: %w", res, err)
			}
			printf("%s %s is %s after %d checks (%s)\n", color.GreenString("✓"), res,
				colorOutcome(poller.Done, result.Status), result.Checks, result.Elapsed.Round(time.Second))
			return nil
		})
	}
	return g.Wait()
}

func init() {
	clix.AddResourceFlags(waitCmd.Flags())
	clix.AddPollFlags(waitCmd.Flags())
	waitCmd.Flags().BoolVar(&waitAsync, "async", false, "Queue the watches for the worker and return")
	waitCmd.Flags().BoolVarP(&waitQuiet, "quiet", "q", false, "Only print final results")
	rootCmd.AddCommand(waitCmd)
}
