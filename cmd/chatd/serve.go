package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/remote-chat/backend/internal/config"
	"github.com/remote-chat/backend/internal/db"
	framelog "github.com/remote-chat/backend/internal/logger"
	"github.com/remote-chat/backend/internal/metrics"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/repository"
	"github.com/remote-chat/backend/internal/session"
	"github.com/remote-chat/backend/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var port, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port (overrides CHATD_PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path (overrides CHATD_DB_PATH)")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.CloseDB()
	journal := repository.NewConnectionEventRepository(database)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessionID := uuid.New().String()
	opts := []session.Option{
		session.WithSessionID(sessionID),
		session.WithLogger(logger),
		session.WithMetrics(metrics.New(reg)),
		session.WithJournal(journal),
	}

	if cfg.Record {
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create transcript directory: %w", err)
		}
		recorder, err := framelog.NewFrameRecorder(filepath.Join(cfg.LogDir, sessionID+".jsonl"))
		if err != nil {
			return err
		}
		defer recorder.Close()
		if err := recorder.WriteHeader(sessionID, cfg.ServerURL); err != nil {
			return err
		}
		opts = append(opts, session.WithRecorder(recorder))
	}

	sess := session.New(cfg.SessionConfig(), opts...)

	if len(cfg.AllowedOrigins) > 0 {
		ws.SetCheckOrigin(ws.AllowOrigins(cfg.AllowedOrigins...))
	}
	bridge := ws.NewService(logger)
	bridge.Attach(sess)
	defer bridge.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(routerDeps{
			session:    sess,
			credential: cfg.Credential,
			journal:    journal,
			bridge:     bridge,
			gatherer:   reg,
		}),
	}

	if cfg.AutoConnect {
		if err := sess.Connect(cfg.Credential); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "session_id", sessionID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			sess.Disconnect(model.CloseNormal, "server failed")
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	sess.Disconnect(model.CloseNormal, "shutdown")
	return nil
}
