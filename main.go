package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"listing-bot/config"
	"listing-bot/internal/bot"
	"listing-bot/internal/conversation"
	"listing-bot/internal/localization"
	"listing-bot/internal/logger"
	"listing-bot/internal/metrics"
	"listing-bot/internal/moderation"
	"listing-bot/internal/notify"
	"listing-bot/internal/scheduler"
	"listing-bot/internal/storage"
	"listing-bot/internal/workflow"
)

//go:embed locales
var localeFiles embed.FS

func main() {
	if err := run(); err != nil {
		slog.Error("listing bot stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)
	log.Info("starting listing bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbStorage, err := storage.NewStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if cerr := dbStorage.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close database: %w", cerr))
		}
	}()

	localizer, err := localization.NewLocalizer(localeFiles)
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, log); err != nil {
				log.Error("metrics endpoint failed", slog.String("error", err.Error()))
			}
		}()
	}

	tracker := conversation.NewTracker()
	appScheduler, err := scheduler.NewScheduler(log)
	if err != nil {
		return err
	}
	sweep := scheduler.DraftSweepJob(tracker, cfg.DraftTTL, collector, log)
	if err := appScheduler.AddJob(scheduler.DraftSweepTag, cfg.DraftSweepInterval, sweep); err != nil {
		return err
	}
	appScheduler.Start()
	defer func() {
		if serr := appScheduler.Shutdown(); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	log.Info("authorized on account", slog.String("username", api.Self.UserName))

	settings := cfg.Settings()
	if len(settings.Admins()) == 0 {
		log.Warn("ADMIN_IDS is empty; listings will be stored but nobody can review them")
	}
	if _, ok := settings.Channel(); !ok {
		log.Warn("CHANNEL_ID is empty; approved listings will be sent to the admins instead")
	}

	gateway := bot.NewGateway(api, cfg.SendRatePerSecond)
	notifier := notify.NewNotifier(gateway, cfg.SendTimeout, collector, log)
	coordinator := moderation.NewCoordinator(dbStorage, notifier, settings, localizer, cfg.DefaultLanguage, collector, log)
	submissions := workflow.NewService(workflow.Deps{
		Tracker:   tracker,
		Store:     dbStorage,
		Notifier:  notifier,
		Settings:  settings,
		Reviews:   coordinator,
		Localizer: localizer,
		Lang:      cfg.DefaultLanguage,
		Metrics:   collector,
		Logger:    log,
	})

	dispatcher := bot.NewDispatcher(submissions, coordinator, gateway, notifier, settings, localizer, cfg.DefaultLanguage, log)
	telegramBot := bot.NewBot(api, dispatcher, log)
	telegramBot.Start(ctx)
	log.Info("shutdown complete")
	return nil
}
