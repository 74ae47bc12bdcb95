package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"discowatch/internal/app"
	"discowatch/internal/clix"
	"discowatch/internal/models"
	"discowatch/internal/services"
)

var (
	wordListCollectionID string
	wordListWait         bool
)

var stopwordsCmd = &cobra.Command{
	Use:   "stopwords",
	Short: "Manage a collection's custom stopword list",
}

var createStopwordsCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Upload a stopword list (one word per line)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, env, err := wordListTarget(cmd)
		if err != nil {
			return err
		}
		res, status, err := appInstance.ResourceService.CreateStopwordsFromFile(cmd.Context(), env, wordListCollectionID, args[0])
		if err != nil {
			return fmt.Errorf("creating stopword list: %w", err)
		}
		fmt.Printf("Stopword list submitted for %s, status %s\n", res, color.YellowString(string(status)))
		return waitIfRequested(cmd, appInstance, res)
	},
}

var tokenizationCmd = &cobra.Command{
	Use:     "tokenization",
	Aliases: []string{"tokenization-dictionary"},
	Short:   "Manage a collection's tokenization dictionary",
}

var createTokenizationCmd = &cobra.Command{
	Use:   "create <rules.json>",
	Short: "Upload tokenization rules",
	Long: `Uploads tokenization rules from a JSON file. The file holds either an array of rules or
an object with a "tokenization_rules" array. Each rule has text, tokens, optional readings and
part_of_speech.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, env, err := wordListTarget(cmd)
		if err != nil {
			return err
		}
		rules, err := services.LoadTokenizationRules(args[0])
		if err != nil {
			return err
		}
		res, status, err := appInstance.ResourceService.CreateTokenizationDictionary(cmd.Context(), env, wordListCollectionID, rules)
		if err != nil {
			return fmt.Errorf("creating tokenization dictionary: %w", err)
		}
		fmt.Printf("Tokenization dictionary submitted for %s (%d rules), status %s\n", res, len(rules), color.YellowString(string(status)))
		return waitIfRequested(cmd, appInstance, res)
	},
}

func deleteWordListCmd(kind models.ResourceKind) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: fmt.Sprintf("Delete the %s of a collection", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, env, err := wordListTarget(cmd)
			if err != nil {
				return err
			}
			res := models.Resource{Kind: kind, EnvironmentID: env, CollectionID: wordListCollectionID}
			if err := appInstance.ResourceService.Delete(cmd.Context(), res); err != nil {
				return fmt.Errorf("deleting %s: %w", res, err)
			}
			fmt.Printf("Deleted %s\n", res)
			return nil
		},
	}
}

func wordListTarget(cmd *cobra.Command) (*app.App, string, error) {
	appInstance, err := GetAppFromContext(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	env, err := resolveEnvironment(appInstance)
	if err != nil {
		return nil, "", err
	}
	if wordListCollectionID == "" {
		return nil, "", fmt.Errorf("--collection-id is required")
	}
	return appInstance, env, nil
}

func waitIfRequested(cmd *cobra.Command, appInstance *app.App, res models.Resource) error {
	if !wordListWait {
		return nil
	}
	opts, err := clix.ParseWatchOptions(cmd.Flags())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return waitForResources(ctx, appInstance, []models.Resource{res}, opts, true)
}

func addWordListCommands(parent, create *cobra.Command, kind models.ResourceKind) {
	parent.PersistentFlags().StringVarP(&wordListCollectionID, "collection-id", "c", "", "Collection ID (required)")
	create.Flags().BoolVar(&wordListWait, "wait", false, "Poll until the upload is processed")
	clix.AddPollFlags(create.Flags())
	parent.AddCommand(create, deleteWordListCmd(kind))
	rootCmd.AddCommand(parent)
}

func init() {
	addWordListCommands(stopwordsCmd, createStopwordsCmd, models.KindStopwords)
	addWordListCommands(tokenizationCmd, createTokenizationCmd, models.KindTokenizationDictionary)
}
