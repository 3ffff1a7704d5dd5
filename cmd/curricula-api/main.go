package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyceum-labs/curricula/backend/internal/auth"
	"github.com/lyceum-labs/curricula/backend/internal/blob"
	"github.com/lyceum-labs/curricula/backend/internal/config"
	"github.com/lyceum-labs/curricula/backend/internal/curriculum"
	"github.com/lyceum-labs/curricula/backend/internal/database"
	"github.com/lyceum-labs/curricula/backend/internal/logging"
	"github.com/lyceum-labs/curricula/backend/internal/media"
	"github.com/lyceum-labs/curricula/backend/internal/publish"
	"github.com/lyceum-labs/curricula/backend/internal/server"
	"github.com/lyceum-labs/curricula/backend/internal/vault"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "curricula-api",
		Short: "Curricula local-first course authoring service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("publish-base-url", defaults.GetString("publish.base_url"), "LMS backend base URL for publish")
	cmd.PersistentFlags().String("signing-secret", "", "Editor token signing secret (overrides env)")
	cmd.PersistentFlags().String("editor-key", "", "Editor access key (overrides env)")
	cmd.PersistentFlags().String("vault-key", "", "Hex-encoded 32-byte snapshot encryption key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "publish.base_url", "publish-base-url")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.editor_key", "editor-key")
	bindFlag(cmd, "vault.key", "vault-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	blobStore, err := blob.NewStore(blob.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	vaultStore, err := vault.NewStore(vault.StoreConfig{
		Database: db,
		Key:      appConfig.VaultKey,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	registry, err := curriculum.NewRegistry(curriculum.RegistryConfig{
		Snapshots:  vaultStore,
		Blobs:      blobStore,
		IDProvider: curriculum.NewUUIDProvider(),
		Prober:     &media.FFProbe{},
		Logger:     logger,
		OnChange: func(courseID curriculum.CourseID) {
			dispatcher.Publish(server.RealtimeMessage{
				CourseID:  courseID.String(),
				EventType: server.RealtimeEventCurriculumChanged,
				Timestamp: time.Now(),
			})
		},
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "curricula-auth",
		Audience:      "curricula-api",
	})
	if err != nil {
		return err
	}

	var publisher server.CoursePublisher
	if appConfig.PublishBaseURL != "" {
		configured, err := publish.NewPublisher(publish.PublisherConfig{
			BaseURL: appConfig.PublishBaseURL,
			Blobs:   blobStore,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		publisher = configured
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		EditorKey:    appConfig.EditorKey,
		Registry:     registry,
		Publisher:    publisher,
		Blobs:        blobStore,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
