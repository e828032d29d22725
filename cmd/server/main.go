package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payroll-closing-backend/internal/config"
	"payroll-closing-backend/internal/lock"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/repository/memory"
	"payroll-closing-backend/internal/routes"
	service "payroll-closing-backend/internal/services/reconciliation"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	storeKind string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "closing",
		Short: "Payroll closing reconciliation backend",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServer,
	}
	serveCmd.Flags().StringVar(&storeKind, "store", "", "Storage backend: postgres or memory (overrides server.store)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadSettings() (*config.Settings, error) {
	s, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if storeKind != "" {
		s.Server.Store = storeKind
		s.Database.Enabled = storeKind == "postgres"
		if err := config.Validate(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := config.NewLogger(settings.Log.Level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store repository.Store
	if settings.Database.Enabled {
		db, err := config.InitDB(settings.Database)
		if err != nil {
			return err
		}
		store = repository.NewGormStore(db, settings.Database.LockTimeout)
	} else {
		logger.Warn("using in-memory store, data is lost on exit")
		store = memory.New()
	}

	var locker lock.Locker = lock.Noop{}
	rdb, err := config.ConnectRedis(ctx, settings.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, settings.Redis.LockTTL)
	}

	reconService := service.NewReconciliationService(store, locker, logger, service.SettingsFrom(settings.Engine))

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     settings.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, reconService, logger)

	srv := &http.Server{Addr: settings.Server.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":  settings.Server.Addr,
		"store": settings.Server.Store,
		"redis": rdb != nil,
	}).Info("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if !settings.Database.Enabled {
		return errors.New("migrate needs the postgres store")
	}
	logger := config.NewLogger(settings.Log.Level)

	db, err := config.InitDB(settings.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("schema migrated")
	return nil
}
