package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"discowatch/internal/app"
	"discowatch/internal/config"
)

var (
	configPath    string
	environmentID string
)

// currentApp is the app built for the running command. run closes it.
var currentApp *app.App

var rootCmd = &cobra.Command{
	Use:   "discowatch",
	Short: "Watch Discovery jobs until they settle",
	Long: `discowatch polls Watson Discovery for the status of asynchronous jobs
(stopword lists, tokenization dictionaries, collections and documents) and
reports when they become ready or fail.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	// PersistentPreRunE runs before any subcommand's RunE
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipAppInit(cmd) {
			return nil
		}

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appInstance, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		currentApp = appInstance
		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
}

func skipAppInit(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}

func Execute() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// run executes the command line given by args. The app is closed whether or
// not the command succeeds; cobra skips post-run hooks after a RunE error.
func run(ctx context.Context, args []string) error {
	defer closeApp()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func closeApp() {
	if currentApp != nil {
		currentApp.Close()
		currentApp = nil
	}
}

// Define a custom type for the context key to avoid collisions.
type contextKey string

const appKey contextKey = "app"

// GetAppFromContext retrieves the app instance stored by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

// resolveEnvironment returns --environment-id or the configured environment.
func resolveEnvironment(appInstance *app.App) (string, error) {
	return appInstance.EnvironmentID(environmentID)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&environmentID, "environment-id", "e", "", "Discovery environment ID (default from config)")

	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check Discovery, history store and Redis connectivity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}

		fmt.Println("Checking Discovery connectivity...")
		envs, err := appInstance.Discovery.ListEnvironments(ctx)
		if err != nil {
			return fmt.Errorf("discovery request failed: %w", err)
		}
		fmt.Printf("%s %d environment(s) visible.\n", color.GreenString("OK"), len(envs.Environments))

		fmt.Println("Checking history store...")
		if appInstance.Config.Database.History.DSN == "" {
			fmt.Println(color.YellowString("SKIP"), "no history DSN configured.")
		} else if err := appInstance.History.Ping(ctx); err != nil {
			return fmt.Errorf("history store ping failed: %w", err)
		} else {
			fmt.Println(color.GreenString("OK"), "history store reachable.")
		}

		fmt.Println("Checking Redis...")
		if appInstance.Config.Redis.Address == "" {
			fmt.Println(color.YellowString("SKIP"), "no redis address configured.")
			return nil
		}
		inspector := asynq.NewInspector(appInstance.RedisOpt())
		defer inspector.Close()
		queues, err := inspector.Queues()
		if err != nil {
			return fmt.Errorf("redis check failed: %w", err)
		}
		fmt.Printf("%s redis reachable, %d queue(s).\n", color.GreenString("OK"), len(queues))
		return nil
	},
}
