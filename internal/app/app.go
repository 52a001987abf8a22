package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/store"
	"github.com/nhle/onebox/internal/sync"
)

const shutdownTimeout = 10 * time.Second

// App runs the sync engine, the message pipeline and the HTTP API.
type App struct {
	cfg      *model.AppConfig
	logger   *zap.Logger
	store    *store.SQLiteStore
	engine   *sync.Engine
	pipeline *pipeline.Pipeline
	server   *echo.Echo
}

// New creates an App from its components.
func New(
	cfg *model.AppConfig,
	logger *zap.Logger,
	s *store.SQLiteStore,
	engine *sync.Engine,
	p *pipeline.Pipeline,
	server *echo.Echo,
) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		engine:   engine,
		pipeline: p,
		server:   server,
	}
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down: the API stops accepting requests, the
// engine stops all accounts and the pipeline drains what was already
// emitted.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}

	pctx, pcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pcancel()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		a.pipeline.Run(pctx, a.engine.Messages())
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTP.Addr))
		if err := a.server.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
		a.logger.Error("HTTP server failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown", zap.Error(err))
	}

	a.engine.StopAll()

	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("pipeline did not drain in time")
		pcancel()
		<-pipelineDone
	}

	stats := a.pipeline.Stats()
	a.logger.Info("shutdown complete",
		zap.Int64("processed", stats.Processed),
		zap.Int64("saved", stats.Saved),
		zap.Int64("failed", stats.Failed),
	)

	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	return runErr
}
