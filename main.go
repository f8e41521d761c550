package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"churnsight/config"
	"churnsight/db"
	chttp "churnsight/http"
	"churnsight/logger"
	"churnsight/ml"
	"churnsight/monitoring"
	"churnsight/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "churnsight",
		Short:        "Customer churn prediction dashboard",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(newServeCmd(opts), newPredictCmd(opts), newSchemaCmd(opts))
	return root
}

// loadConfig reads .env then the YAML file. A missing file falls back to defaults.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", o.envFile, err)
	}
	cfg, err := config.Load(o.configPath, true)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newRegistry(cfg *config.Config, log *zap.Logger) *ml.Registry {
	registry := ml.NewRegistry(cfg.Model.Type, cfg.Model.Path, cfg.Model.FeaturesPath, log)
	if len(cfg.Model.NumericFeatures) > 0 {
		registry.SetNumericFeatures(cfg.Model.NumericFeatures)
	}
	return registry
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Encoding:   cfg.Log.Encoding,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Model artifacts. Without them there is nothing to serve.
	registry := newRegistry(cfg, log)
	if err := registry.Load(); err != nil {
		log.Error("failed to load model artifacts", zap.Error(err))
		return err
	}
	if cfg.Model.Watch {
		watcher, err := ml.NewWatcher(registry, cfg.Model.WatchDebounce, log)
		if err != nil {
			log.Warn("model watcher disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	// 2. Prediction log
	deps := chttp.Deps{
		Artifacts: registry,
		Sessions:  session.NewStore(cfg.Session.MaxSessions, cfg.Session.TTL),
		Logger:    log,
	}
	if cfg.Database.Path != "" {
		predictionLog, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open prediction log: %w", err)
		}
		defer predictionLog.Close()
		deps.Predictions = predictionLog
		log.Info("prediction log opened", zap.String("path", cfg.Database.Path))
	}

	// 3. Live dashboard updates
	hub := monitoring.NewHub(log)
	hub.SetCheckOrigin(chttp.WebsocketOriginCheck(cfg.Http.AllowedOrigins))
	go hub.Run()
	defer hub.Stop()
	deps.Hub = hub

	// 4. HTTP server
	server, err := chttp.NewServer(chttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		RateLimit:      cfg.Http.RateLimit,
		RateBurst:      cfg.Http.RateBurst,
		CookieName:     cfg.Session.CookieName,
		Dashboard: chttp.DashboardSettings{
			Title:          cfg.Dashboard.Title,
			ModelAUC:       cfg.Dashboard.ModelAUC,
			DefaultRevenue: cfg.Dashboard.DefaultRevenue,
			DefaultChurn:   cfg.Dashboard.DefaultChurn,
			ExplainTop:     cfg.Dashboard.ExplainTop,
		},
	}, deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	if err := server.Stop(); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	return nil
}
