package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/talentloop/interviewd/internal/bootstrap"
	"github.com/talentloop/interviewd/internal/config"
	"github.com/talentloop/interviewd/internal/httpserver"
	"github.com/talentloop/interviewd/internal/logging"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogJSON)

	app := bootstrap.New(cfg)
	e := httpserver.New(app)

	go func() {
		logrus.WithField("addr", cfg.HTTPAddress).Info("http server listening")
		if err := e.Start(cfg.HTTPAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.Shutdown(ctx)
	if err := e.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("http server shutdown")
	}
	logrus.Info("server stopped")
}
