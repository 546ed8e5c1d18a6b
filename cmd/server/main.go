package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
	"github.com/ifuryst/autopost/internal/server"
	"github.com/ifuryst/autopost/internal/service"
	"github.com/ifuryst/autopost/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"

	reconcileOlderThan time.Duration
	reconcileTarget    string
	seedReplace        bool
)

var rootCmd = &cobra.Command{
	Use:   "autopost",
	Short: "Autopost - Scheduled LinkedIn post publisher",
	Long:  `Autopost stores posts and caption templates and publishes scheduled posts to LinkedIn through browser automation.`,
	RunE:  runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduler",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Autopost %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve posts stuck in publishing",
	Long: `Moves posts that have been publishing for longer than --older-than to failed
(reason "interrupted") or back to scheduled. Check LinkedIn first: a post
moved back to scheduled may be published twice.`,
	RunE: runReconcile,
}

var seedTemplatesCmd = &cobra.Command{
	Use:   "seed-templates",
	Short: "Insert the built-in caption templates",
	RunE:  runSeedTemplates,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")

	reconcileCmd.Flags().DurationVar(&reconcileOlderThan, "older-than", 15*time.Minute, "only posts claimed longer ago than this, at least publisher.timeout plus 10s")
	reconcileCmd.Flags().StringVar(&reconcileTarget, "target", string(service.ReconcileToFailed), "status to move stale posts to: failed or scheduled")
	seedTemplatesCmd.Flags().BoolVar(&seedReplace, "replace", false, "delete existing templates first")

	rootCmd.AddCommand(serveCmd, versionCmd, reconcileCmd, seedTemplatesCmd)
}

// setup loads .env and the config file and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	// A missing .env is fine; the config file may reference plain env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, appLogger, nil
}

// initSentry returns nil when no DSN is configured.
func initSentry(cfg *config.SentryConfig) (*sentry.Hub, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     "autopost@" + version,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry.Init: %w", err)
	}
	return sentry.CurrentHub(), nil
}

func runServer(*cobra.Command, []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	hub, err := initSentry(&cfg.Sentry)
	if err != nil {
		return err
	}
	defer sentry.Flush(2 * time.Second)

	appLogger.Info("Starting Autopost server", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create server
	srv, err := server.NewServer(ctx, cfg, appLogger, hub)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runReconcile(*cobra.Command, []string) error {
	target, err := service.ParseReconcileTarget(reconcileTarget)
	if err != nil {
		return err
	}

	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	ctx := context.Background()
	srv, err := server.NewServer(ctx, cfg, appLogger, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close(ctx)

	result, err := srv.Scheduler.Reconcile(ctx, reconcileOlderThan, target)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runSeedTemplates(*cobra.Command, []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	ctx := context.Background()
	srv, err := server.NewServer(ctx, cfg, appLogger, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close(ctx)

	created, err := srv.Templates.Seed(ctx, seedReplace)
	if err != nil {
		return err
	}
	for _, tpl := range created {
		fmt.Printf("  - %s (%s)\n", tpl.Name, tpl.Category)
	}
	fmt.Printf("Seeded %d templates\n", len(created))
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
