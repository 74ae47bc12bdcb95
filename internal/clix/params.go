package clix

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/services"
)

// AddResourceFlags registers the flags ParseResources reads.
func AddResourceFlags(flags *pflag.FlagSet) {
	flags.StringP("collection-id", "c", "", "Collection ID (required)")
	flags.StringP("document-id", "d", "", "Document ID (for kind document)")
}

// AddPollFlags registers the flags ParseWatchOptions reads.
func AddPollFlags(flags *pflag.FlagSet) {
	flags.Duration("interval", 0, "Wait before each status check (default from config, 30s)")
	flags.Int("max-checks", 0, "Give up after this many checks (0 polls until settled)")
	flags.Int("max-errors", 0, "Failed status requests tolerated in a row")
	flags.Duration("timeout", 0, "Overall deadline (0 for none)")
}

// ParseResources builds one resource per kind argument. Kinds may also be given
// comma-separated. environmentID is the resolved environment.
func ParseResources(flags *pflag.FlagSet, kinds []string, environmentID string) ([]models.Resource, error) {
	collectionID, _ := flags.GetString("collection-id")
	documentID, _ := flags.GetString("document-id")

	var resources []models.Resource
	seen := make(map[models.ResourceKind]bool)
	for _, arg := range kinds {
		for _, raw := range strings.Split(arg, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			kind, err := models.ParseKind(raw)
			if err != nil {
				return nil, err
			}
			if seen[kind] {
				continue
			}
			seen[kind] = true
			res := models.Resource{Kind: kind, EnvironmentID: environmentID, CollectionID: collectionID}
			if kind == models.KindDocument {
				res.DocumentID = documentID
			}
			if err := res.Validate(); err != nil {
				return nil, err
			}
			resources = append(resources, res)
		}
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("at least one kind is required (%s)", joinKinds())
	}
	return resources, nil
}

// ParseWatchOptions reads the poll flags. Unset flags keep the configured defaults.
func ParseWatchOptions(flags *pflag.FlagSet) (services.WatchOptions, error) {
	interval, _ := flags.GetDuration("interval")
	maxChecks, _ := flags.GetInt("max-checks")
	maxErrors, _ := flags.GetInt("max-errors")
	timeout, _ := flags.GetDuration("timeout")
	if interval < 0 || maxChecks < 0 || maxErrors < 0 || timeout < 0 {
		return services.WatchOptions{}, fmt.Errorf("poll flags must not be negative")
	}
	return services.WatchOptions{
		Config: poller.Config{
			Interval:             interval,
			MaxChecks:            maxChecks,
			MaxConsecutiveErrors: maxErrors,
		},
		Timeout: timeout,
	}, nil
}

func joinKinds() string {
	names := make([]string, len(models.Kinds))
	for i, k := range models.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
