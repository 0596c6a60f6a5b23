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

	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/api/handlers"
	"github.com/linesmerrill/bloodbond-api/config"
)

func main() {
	a := handlers.App{}
	a.Config = *config.New()
	defer zap.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Initialize(ctx); err != nil { //initialize database and router
		zap.S().Fatalw("failed to initialize", "error", err)
	}

	go func() {
		if err := a.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zap.S().Errorw("blood request watcher stopped", "error", err)
		}
	}()
	if err := a.Scheduler.Start(); err != nil {
		zap.S().Errorw("broadcast scheduler not started", "error", err)
	} else {
		defer a.Scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%v", a.Config.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.S().Warnw("http shutdown", "error", err)
		}
		if err := a.Close(shutdownCtx); err != nil {
			zap.S().Warnw("database disconnect", "error", err)
		}
	}()

	zap.S().Infow("bloodbond-api is up and running",
		"port", a.Config.Port,
		"url", a.Config.BaseURL,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Fatalw("http server failed", "error", err)
	}
}
