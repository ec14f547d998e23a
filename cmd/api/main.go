package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mondayease/api/internal/app"
	"mondayease/api/internal/config"
	"mondayease/api/internal/email"
	"mondayease/api/internal/files"
	"mondayease/api/internal/jobs"
	"mondayease/api/internal/logging"
	"mondayease/api/internal/monday"
	"mondayease/api/internal/oauth"
	"mondayease/api/internal/search"
	"mondayease/api/internal/session"
	"mondayease/api/internal/store"
	"mondayease/api/internal/telemetry"
	"mondayease/api/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mondayease-api",
		Short:         "MondayEase API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed workflow templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if down {
				rolledBack, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				logger.Info("migrations rolled back", zap.Strings("migrations", rolledBack))
				return nil
			}
			return migrate(ctx, db, cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every applied migration")
	return cmd
}

func migrate(ctx context.Context, db *sql.DB, cfg config.Config, logger *zap.Logger) error {
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	templates, err := workflow.Catalog()
	if err != nil {
		return err
	}
	pg := store.NewPostgresStore(db)
	for _, tmpl := range templates {
		if err := pg.UpsertTemplate(ctx, tmpl); err != nil {
			return fmt.Errorf("seed template %s: %w", tmpl.Key, err)
		}
	}
	logger.Info("database ready", zap.Strings("applied", applied), zap.Int("templates", len(templates)))
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		tp, err := telemetry.Init(ctx)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := migrate(ctx, db, cfg, logger); err != nil {
		return err
	}
	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	mondayClient := monday.NewClient(cfg.MondayAPIURL, nil)
	flow := oauth.NewFlow(oauth.Config{
		ClientID:     cfg.MondayClientID,
		ClientSecret: cfg.MondayClientSecret,
		RedirectURL:  cfg.MondayRedirectURL,
		AuthURL:      cfg.MondayAuthURL,
		TokenURL:     cfg.MondayTokenURL,
		AppURL:       cfg.AppURL,
	}, sessions, mondayClient, dataStore, logger)
	if !flow.Configured() {
		logger.Warn("monday oauth is not configured; connect will be unavailable")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	runner := workflow.NewRunner(dataStore, nil, mailer, logger)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFallback(db), logger)

	deps := app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Monday:   mondayClient,
		OAuth:    flow,
		Runner:   runner,
		Mailer:   mailer,
		Search:   searchService,
		Logger:   logger,
	}
	objects, err := files.New(ctx, files.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}, logger)
	switch {
	case errors.Is(err, files.ErrNotConfigured):
		logger.Info("object storage not configured; exports are streamed")
	case err != nil:
		logger.Warn("object storage unavailable; exports are streamed", zap.Error(err))
	default:
		deps.Files = objects
	}
	service := app.New(cfg, deps)

	scheduler := jobs.NewScheduler(logger, time.Minute)
	for _, job := range []jobs.Job{
		jobs.StaleExecutions(dataStore, cfg.ExecutionTimeout, nil, logger),
		jobs.SearchReindex(searchService),
	} {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}
	scheduler.Start()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("MondayEase API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}
