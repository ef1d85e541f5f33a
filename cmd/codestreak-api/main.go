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

	"github.com/codestreak/backend/internal/accounts"
	"github.com/codestreak/backend/internal/auth"
	"github.com/codestreak/backend/internal/config"
	"github.com/codestreak/backend/internal/database"
	"github.com/codestreak/backend/internal/logging"
	"github.com/codestreak/backend/internal/notify"
	"github.com/codestreak/backend/internal/probe"
	"github.com/codestreak/backend/internal/scheduler"
	"github.com/codestreak/backend/internal/server"
	"github.com/codestreak/backend/internal/streak"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codestreak-api",
		Short: "CodeStreak streak reconciliation service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context())
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
	cmd.PersistentFlags().String("timezone", defaults.GetString("reconcile.timezone"), "Reconciliation time zone")
	cmd.PersistentFlags().String("finalize-at", defaults.GetString("reconcile.finalize_at"), "Daily finalization time (HH:MM)")
	cmd.PersistentFlags().String("warning-at", defaults.GetString("reconcile.warning_at"), "Daily warning time (HH:MM)")
	cmd.PersistentFlags().Duration("instant-interval", defaults.GetDuration("reconcile.instant_interval"), "Instant-credit sweep interval")
	cmd.PersistentFlags().Int("sweep-workers", defaults.GetInt("reconcile.sweep_workers"), "Concurrent users per sweep")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("service-secret", "", "Shared secret for token issuance (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "reconcile.timezone", "timezone")
	bindFlag(cmd, "reconcile.finalize_at", "finalize-at")
	bindFlag(cmd, "reconcile.warning_at", "warning-at")
	bindFlag(cmd, "reconcile.instant_interval", "instant-interval")
	bindFlag(cmd, "reconcile.sweep_workers", "sweep-workers")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.service_secret", "service-secret")
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

func runService(ctx context.Context) error {
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

	store, err := streak.NewStore(db, logger)
	if err != nil {
		return err
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	var notifier interface {
		streak.Notifier
		scheduler.WarningNotifier
	}
	if appConfig.SMTPHost != "" {
		emailNotifier, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:     appConfig.SMTPHost,
			Port:     appConfig.SMTPPort,
			Username: appConfig.SMTPUser,
			Password: appConfig.SMTPPass,
			From:     appConfig.MailFrom,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		notifier = emailNotifier
	} else {
		logger.Warn("smtp is not configured, streak notifications go to the log only")
		notifier = notify.NewLogNotifier(logger)
	}

	probes := probe.NewDefaultSet(probe.Options{
		Client: probe.NewClient(probe.ClientConfig{
			Timeout: appConfig.ProbeTimeout,
			Logger:  logger,
		}),
		Location: appConfig.Timezone,
	})

	reconciler, err := streak.NewReconciler(streak.ReconcilerConfig{
		Store:    store,
		Probes:   probes,
		Notifier: notifier,
		Location: appConfig.Timezone,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	finalizeAt, err := config.ParseWallClock(appConfig.FinalizeAt)
	if err != nil {
		return err
	}
	warningAt, err := config.ParseWallClock(appConfig.WarningAt)
	if err != nil {
		return err
	}

	sweeps, err := scheduler.New(scheduler.Config{
		Store:           store,
		Reconciler:      reconciler,
		Notifier:        notifier,
		Location:        appConfig.Timezone,
		Logger:          logger,
		FinalizeAt:      finalizeAt,
		WarningAt:       warningAt,
		InstantInterval: appConfig.InstantInterval,
		Workers:         appConfig.SweepWorkers,
		PageSize:        appConfig.SweepPageSize,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "codestreak-auth",
		Audience:      "codestreak-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Store:         store,
		Accounts:      accountService,
		Reconciler:    reconciler,
		ServiceSecret: appConfig.ServiceSecret,
		Location:      appConfig.Timezone,
		Logger:        logger,
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

	// Catch up on days missed while the service was down, then start the
	// recurring sweeps.
	sweeps.RunStartup(signalCtx)
	sweeps.Start(signalCtx)
	defer sweeps.Stop()

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
