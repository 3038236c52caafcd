package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ArvalTIKS/evolution-assistant/config"
	"github.com/ArvalTIKS/evolution-assistant/internal/adminapi"
	"github.com/ArvalTIKS/evolution-assistant/internal/app"
	"github.com/ArvalTIKS/evolution-assistant/internal/assistant"
	"github.com/ArvalTIKS/evolution-assistant/internal/bot"
	"github.com/ArvalTIKS/evolution-assistant/internal/evolution"
	"github.com/ArvalTIKS/evolution-assistant/internal/notify"
	"github.com/ArvalTIKS/evolution-assistant/internal/webserver"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

var (
	cfile   = flag.String("c", "/etc/evolution-assistant.yml", "config file")
	initdb  = flag.Bool("initdb", false, "drop and recreate the database schema")
	showVer = flag.Bool("v", false, "print version and exit")
)

var version = "latest"

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("evolution-assistant", version)
		return
	}

	cfg := config.LoadConfig(*cfile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database schema recreated")
		return
	}

	gateway := evolution.NewGateway(cfg.Evolution.BaseURL, cfg.Evolution.APIKey)
	cache := evolution.NewClientCache(gateway)
	sessions := assistant.NewSessionManager(application.DB(), assistant.NewOpenaiBackend)
	bus := EventBus.New()

	engine := bot.NewEngine(application.DB(), gateway, cache, sessions, bus, cfg.Evolution.WebhookBase)
	gate := bot.NewGate(application.DB(), bus)
	dispatcher := bot.NewDispatcher(application.DB(), engine, gate, sessions)

	hub := notify.NewHub(bus)
	notify.NewMailer(cfg.Smtp, bus)

	monitor := bot.NewMonitor(application.DB(), engine, gateway, bus)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		zap.L().Error("recovery monitor failed to start", zap.Error(err))
	}

	webserver.Init(cfg, application.DB(), engine, dispatcher, hub)
	adminapi.Register()

	errChan := make(chan error, 1)
	go func() {
		errChan <- webserver.Listen()
	}()

	select {
	case <-ctx.Done():
		zap.L().Info("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			zap.L().Error("web server failed", zap.Error(err))
		}
	}

	monitor.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webserver.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("web server shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
