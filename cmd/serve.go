package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"discowatch/internal/apihandlers"
	"discowatch/internal/app"
)

var (
	serveAddr string // Listen address
	servePort string // Listen port
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run discowatch as an HTTP API server",
	Long: `Starts an HTTP server to start, inspect and cancel watches and to run one-shot status
checks over a RESTful API.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		addr := serveAddr
		if !cmd.Flags().Changed("addr") {
			addr = appInstance.Config.Server.Addr
		}
		port := servePort
		if !cmd.Flags().Changed("port") {
			port = appInstance.Config.Server.Port
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, port))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serveAPI(ctx, appInstance, ln)
	},
}

// serveAPI serves the API on ln until ctx is done, then shuts down gracefully.
func serveAPI(ctx context.Context, appInstance *app.App, ln net.Listener) error {
	if appInstance.Logger.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	apihandlers.RegisterRoutes(router, apihandlers.NewAPIHandler(appInstance))

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	appInstance.Logger.Infof("Starting discowatch API server on http://%s", ln.Addr())

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to run API server: %w", err)
	case <-ctx.Done():
	}

	appInstance.Logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run API server: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost", "Address to listen on (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (default from config)")
}
