// Package main runs the DuMoney wallet service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/app"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/config"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/httpapi"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("server", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	application, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	handler := httpapi.NewHandler(httpapi.Services{
		Ledger:    application.Ledger,
		Accrual:   application.Accrual,
		Referrals: application.Referrals,
		Activity:  application.Activity,
	}, cfg.Server.AdminToken, log.WithField("component", "httpapi"))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}

	log.Info("stopped")
}
