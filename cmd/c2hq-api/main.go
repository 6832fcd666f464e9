package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c2hq/backend/internal/analysis"
	"github.com/c2hq/backend/internal/auth"
	"github.com/c2hq/backend/internal/config"
	"github.com/c2hq/backend/internal/credentials"
	"github.com/c2hq/backend/internal/database"
	"github.com/c2hq/backend/internal/ingest"
	"github.com/c2hq/backend/internal/logging"
	"github.com/c2hq/backend/internal/server"
	"github.com/c2hq/backend/internal/users"
	"github.com/c2hq/backend/internal/youtube"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "c2hq-api",
		Short: "C2HQ creator analytics backend service",
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
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-redirect-url", defaults.GetString("google.redirect_url"), "OAuth redirect URL")
	cmd.PersistentFlags().String("analysis-base-url", defaults.GetString("analysis.base_url"), "ML analysis service base URL")
	cmd.PersistentFlags().Int("video-page-size", defaults.GetInt("sync.video_page_size"), "Videos fetched per sync")
	cmd.PersistentFlags().Int("comment-page-size", defaults.GetInt("sync.comment_page_size"), "Comments fetched per video")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.redirect_url", "google-redirect-url")
	bindFlag(cmd, "analysis.base_url", "analysis-base-url")
	bindFlag(cmd, "sync.video_page_size", "video-page-size")
	bindFlag(cmd, "sync.comment_page_size", "comment-page-size")
	bindFlag(cmd, "log.level", "log-level")
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

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
	})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	credentialManager, err := credentials.NewManager(credentials.ManagerConfig{
		Database:       db,
		Logger:         logger,
		ClientID:       appConfig.GoogleClientID,
		ClientSecret:   appConfig.GoogleClientSecret,
		TokenURL:       appConfig.GoogleTokenURL,
		RefreshBuffer:  appConfig.RefreshBuffer,
		FallbackExpiry: appConfig.FallbackExpiry,
	})
	if err != nil {
		return err
	}

	analysisClient, err := analysis.NewClient(analysis.ClientConfig{
		BaseURL: appConfig.AnalysisBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	syncService, err := ingest.NewService(ingest.ServiceConfig{
		Database:        db,
		Tokens:          server.NewFallbackTokenProvider(credentialManager),
		Source:          youtube.NewClient(youtube.ClientConfig{}),
		Analyzer:        analysisClient,
		Logger:          logger,
		VideoPageSize:   appConfig.VideoPageSize,
		CommentPageSize: appConfig.CommentPageSize,
	})
	if err != nil {
		return err
	}

	oauthConfig := &oauth2.Config{
		ClientID:     appConfig.GoogleClientID,
		ClientSecret: appConfig.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  appConfig.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/youtube.readonly",
			"https://www.googleapis.com/auth/youtube.force-ssl",
		},
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Identities:       identityService,
		SyncService:      syncService,
		Credentials:      credentialManager,
		OAuth:            oauthConfig,
		Logger:           logger,
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
