package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/frith/blog/internal/auth"
	"github.com/frith/blog/internal/config"
	"github.com/frith/blog/internal/database"
	"github.com/frith/blog/internal/joinqueue"
	"github.com/frith/blog/internal/logging"
	"github.com/frith/blog/internal/posts"
	"github.com/frith/blog/internal/server"
	"github.com/frith/blog/internal/storage"
	"github.com/frith/blog/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blog-api",
		Short: "Blog backend service",
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
	cmd.PersistentFlags().String("allowed-origin", defaults.GetString("http.allowed_origin"), "Origin allowed by CORS and the upload socket")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "Directory holding posts and user profiles")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Int("max-concurrent-jobs", defaults.GetInt("jobs.max_concurrent"), "Jobs run at once per post")
	cmd.PersistentFlags().String("upload-secret", "", "Upload ticket signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origin", "allowed-origin")
	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "jobs.max_concurrent", "max-concurrent-jobs")
	bindFlag(cmd, "upload.signing_secret", "upload-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := storage.NewFileStore(appConfig.StorePath)
	if err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, store.Root(), logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pool := joinqueue.NewBlockingPool(appConfig.BlockingWorkers)

	postService, err := posts.NewService(posts.ServiceConfig{
		Store:             store,
		Pool:              pool,
		MaxConcurrentJobs: appConfig.MaxConcurrentJobs,
		IncompleteTTL:     appConfig.IncompletePostTTL,
		Clock:             time.Now,
		IDProvider:        posts.NewRandomIDProvider(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	restored, err := postService.RestoreIncomplete(ctx)
	if err != nil {
		return err
	}
	swept := postService.SweepStale(ctx)
	logger.Info("incomplete posts reconciled", zap.Int("restored", restored), zap.Int("swept", swept))

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Store:    store,
		Pool:     pool,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tickets, err := auth.NewTicketIssuer(auth.TicketIssuerConfig{
		SigningSecret: []byte(appConfig.UploadSecret),
		TicketTTL:     appConfig.UploadTicketTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Posts:            postService,
		Users:            userService,
		Sessions:         auth.NewSessionStore(appConfig.SessionTTL, time.Now),
		Invites:          auth.NewInviteStore(appConfig.InviteTTL, time.Now),
		Tickets:          tickets,
		AllowedOrigin:    appConfig.AllowedOrigin,
		UploadSocketTTL:  appConfig.UploadSocketTTL,
		UploadMessageTTL: appConfig.UploadMessageTTL,
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
