package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/remote-host-console/backend/api/handlers"
	"github.com/remote-host-console/backend/internal/audit"
	"github.com/remote-host-console/backend/internal/config"
	"github.com/remote-host-console/backend/internal/db"
	"github.com/remote-host-console/backend/internal/dispatch"
	"github.com/remote-host-console/backend/internal/registry"
	"github.com/remote-host-console/backend/internal/relay"
	"github.com/remote-host-console/backend/internal/session"
	"github.com/remote-host-console/backend/internal/transport"
	"github.com/remote-host-console/backend/internal/ws"
	"github.com/remote-host-console/backend/pkg/driver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewParser().LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	logger := log.Logger

	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create database directory")
		return err
	}

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize database")
		return err
	}
	defer database.Close()

	reg := registry.New(database)

	auditLog, err := audit.NewLog(cfg.Audit.Dir, logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize audit log")
		return err
	}
	defer auditLog.Close()

	eventRelay := relay.New(relay.Options{
		BufferEvents:     cfg.Relay.BufferEvents,
		SubscriberBuffer: cfg.Relay.SubscriberBuffer,
	}, logger)
	defer eventRelay.Close()

	pool := session.NewPool(reg, transport.NewSSHDialer(), eventRelay, session.PoolConfig{
		IdleTimeout:    cfg.Pool.IdleTimeout,
		ReapInterval:   cfg.Pool.ReapInterval,
		MaxOutputBytes: cfg.Dispatch.MaxOutputBytes,
	}, logger)
	defer pool.Close()

	dispatcher := dispatch.New(pool, auditLog, dispatch.Options{
		PerHostCommands: cfg.Dispatch.PerHostCommands,
		Policy:          cfg.Dispatch.Policy,
		DefaultTimeout:  cfg.Dispatch.DefaultTimeout,
	}, logger)

	wsHandler := ws.NewHandler(eventRelay, dispatcher, logger)

	hostHandler := handlers.NewHostHandler(reg, pool)
	commandHandler := handlers.NewCommandHandler(dispatcher, auditLog)
	chatHandler := handlers.NewChatHandler(driver.Unconfigured{}, dispatcher)
	websocketHandler := handlers.NewWebSocketHandler(reg, wsHandler)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		hostHandler.RegisterRoutes(api)
		commandHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		websocketHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}

	return nil
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
