package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"test-asset-service/internal/app"
	"test-asset-service/internal/handler"
	"test-asset-service/internal/service"
	"test-asset-service/internal/websocket"
)

var (
	configPath string
	envPath    string
)

func main() {
	root := &cobra.Command{
		Use:           "asset-server",
		Short:         "Test asset hierarchy and lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the TOML config file (default $CONFIG_FILE or config.toml)")
	root.Flags().StringVar(&envPath, "env-file", ".env", "optional dotenv file loaded before the config")

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := app.LoadEnv(envPath); err != nil {
		return err
	}
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := app.SetupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}

	store, closeDB, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	assets := service.NewAssetService(store, cfg.Asset, hub)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestID(), corsMiddleware())

	handler.NewAssetHandler(assets, nil).RegisterRoutes(r)
	handler.NewWebSocketHandler(hub).RegisterRoutes(r)

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "test-asset-service",
		})
	})

	srv := &http.Server{
		Addr:              cfg.Server.GetAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("starting test asset service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "failed to start server")
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With, "+handler.OperatorHeader+", "+handler.RequestIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
