package app

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"discowatch/internal/config"
	"discowatch/internal/discovery"
	"discowatch/internal/poller"
	"discowatch/internal/services"
	"discowatch/internal/store"
	"discowatch/internal/store/primary"
)

type App struct {
	Config *config.Config
	Logger *log.Logger

	Discovery *discovery.Client
	Poller    *poller.Poller
	History   store.HistoryStore
	JobClient store.JobClient // nil unless redis.address is set

	// --- Initialized Services ---
	WatchService    *services.WatchService
	ResourceService *services.ResourceService
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app := &App{Config: cfg}

	if err := app.initLogger(); err != nil {
		return nil, err
	}
	if err := app.initDiscoveryClient(); err != nil {
		return nil, err
	}
	if err := app.initHistoryStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initJobClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initServices()

	log.Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initLogger() error {
	level, err := log.ParseLevel(a.Config.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := log.StandardLogger()
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if a.Config.Log.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	a.Logger = logger
	return nil
}

func (a *App) initDiscoveryClient() error {
	cfg := a.Config.Discovery
	opts := discovery.Options{
		URL:      cfg.URL,
		Version:  cfg.Version,
		Headers:  cfg.Headers,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
		RetryMax: cfg.RetryMax,
		Logger:   a.Logger,
	}
	if cfg.BearerToken != "" {
		opts.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"})
	}
	client, err := discovery.New(opts)
	if err != nil {
		return fmt.Errorf("init discovery client: %w", err)
	}
	a.Discovery = client
	return nil
}

func (a *App) initHistoryStore(ctx context.Context) error {
	db := a.Config.Database.History
	if db.DSN == "" {
		log.Debug("No history DSN configured, status checks will not be recorded.")
		a.History = store.NewNoopHistoryStore()
		return nil
	}
	hs, err := primary.NewPrimaryStore(ctx, db.Driver, db.DSN)
	if err != nil {
		return fmt.Errorf("init history store: %w", err)
	}
	a.History = hs
	return nil
}

func (a *App) initJobClient() error {
	if a.Config.Redis.Address == "" {
		return nil
	}
	jc, err := store.NewAsynqJobClient(a.RedisOpt(), config.QueueStatusChecks)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	return nil
}

func (a *App) initServices() {
	cfg := a.Config
	a.Poller = poller.New(poller.Config{
		Interval:             cfg.Poller.Interval,
		MaxChecks:            cfg.Poller.MaxChecks,
		MaxConsecutiveErrors: cfg.Poller.MaxConsecutiveErrors,
	}, poller.WithLogger(a.Logger))

	a.WatchService = services.NewWatchService(services.WatchServiceDeps{
		Checker:   a.Discovery,
		Poller:    a.Poller,
		History:   a.History,
		JobClient: a.JobClient,
		Timeout:   cfg.Poller.Timeout,
		Logger:    a.Logger,
	})
	a.ResourceService = services.NewResourceService(a.Discovery, a.Logger)
}

// RedisOpt returns the asynq connection settings.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// EnvironmentID returns override when set, else the configured environment.
func (a *App) EnvironmentID(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if a.Config.Discovery.EnvironmentID == "" {
		return "", fmt.Errorf("no environment id: pass --environment-id or set DISCOVERY_ENVIRONMENT_ID")
	}
	return a.Config.Discovery.EnvironmentID, nil
}

// Close releases the history store and the job client.
func (a *App) Close() {
	a.cleanupPartialInit()
}

func (a *App) cleanupPartialInit() {
	if a.JobClient != nil {
		if err := a.JobClient.Close(); err != nil {
			log.Printf("Error closing job client: %v", err)
		}
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			log.Printf("Error closing history store: %v", err)
		}
	}
}
