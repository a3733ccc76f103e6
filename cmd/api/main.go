package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/njprem/Profile_APP_BackEnd/internal/config"
	"github.com/njprem/Profile_APP_BackEnd/internal/logging"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/minio"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/postgres"
	"github.com/njprem/Profile_APP_BackEnd/internal/service"
	transporthttp "github.com/njprem/Profile_APP_BackEnd/internal/transport/http"
	"github.com/njprem/Profile_APP_BackEnd/internal/transport/logto"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, closeLogger, err := logging.New(cfg.LogLevel, cfg.LogstashTCPAddr)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer closeLogger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("profile api stopped")
		closeLogger()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.DatabaseURL, postgres.Options{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	var storage ports.ObjectStorage
	if cfg.MinIO.Enabled() {
		client, err := minio.NewClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.UseSSL)
		if err != nil {
			return err
		}
		archive := minio.NewStorage(client)
		if err := archive.EnsureBucket(ctx, cfg.MinIO.BucketImports); err != nil {
			return err
		}
		storage = archive
	}

	tx := postgres.NewTxManager(db)
	profileRepo := postgres.NewProfileRepo(db)
	detailsRepo := postgres.NewProfileDetailsRepo(db)
	importRepo := postgres.NewProfileImportRepo(db)

	apiTokens := util.NewJWTManager(cfg.APIJWTSecret, time.Hour)
	jobTokens := util.NewJWTManager(cfg.JobTokenSecret, cfg.JobTokenTTL)

	identityHTTP := &http.Client{Timeout: cfg.Identity.RequestTimeout + 5*time.Second}
	identityClients := logto.NewClientCache(cfg.Logto.ClientCacheSize, cfg.Logto.ClientCacheTTL, func(organizationID string) ports.IdentityClient {
		return logto.NewClient(organizationID, logto.Options{
			Endpoint:   cfg.Logto.Endpoint,
			AppID:      cfg.Logto.AppID,
			AppSecret:  cfg.Logto.AppSecret,
			Resource:   cfg.Logto.Resource,
			HTTPClient: identityHTTP,
			Logger:     logger,
			Retry: util.RetryOptions{
				Attempts:     cfg.Identity.RetryAttempts,
				InitialDelay: cfg.Identity.RetryInitialDelay,
				Timeout:      cfg.Identity.RequestTimeout,
			},
		})
	})
	defer identityClients.Close()

	profileSvc := service.NewProfileService(profileRepo, detailsRepo)
	detailsSvc := service.NewProfileDetailsService(tx, profileRepo, detailsRepo)
	completionSvc := service.NewImportCompletionService(importRepo, logger)
	provisioner := service.NewIdentityProvisioner(identityClients, service.IdentityProvisionerConfig{
		BatchSize:     cfg.Identity.BatchSize,
		BatchInterval: cfg.Identity.BatchInterval,
	}, logger)
	importSvc := service.NewProfileImportService(tx, importRepo, profileRepo, detailsSvc, provisioner, completionSvc, jobTokens, storage,
		service.ProfileImportServiceConfig{
			Bucket:       cfg.MinIO.BucketImports,
			MaxRows:      cfg.Import.MaxRows,
			MaxFileBytes: cfg.Import.MaxFileBytes,
		}, logger)
	webhookSvc := service.NewWebhookService(tx, profileRepo, importRepo, detailsSvc, completionSvc, logger)

	dispatcher := service.NewImportDispatcher(importSvc, cfg.Import.Workers, cfg.Import.QueueSize, logger)
	importSvc.UseQueue(dispatcher)
	dispatcher.Start()

	sweeper := service.NewImportSweeper(importRepo, completionSvc, cfg.Import.PendingTTL, logger)
	if err := sweeper.Start(cfg.Import.SweepSchedule); err != nil {
		return err
	}

	e := transporthttp.NewRouter(cfg.AllowOrigins, logger)
	if cfg.MetricsEnabled {
		transporthttp.RegisterMetrics(e, cfg.MetricsPath)
	}
	transporthttp.RegisterSwagger(e, "")
	transporthttp.RegisterProfiles(e, apiTokens, profileSvc)
	transporthttp.RegisterProfileImports(e, apiTokens, importSvc, cfg.Import.MaxFileBytes)
	transporthttp.RegisterImportJobs(e, importSvc)
	transporthttp.RegisterWebhooks(e, cfg.Logto.WebhookSigningKey, webhookSvc)

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("profile api listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	sweeper.Stop()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("import dispatcher stopped before queue drained")
	}
	return nil
}
