package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klubadudel/device-status-central/internal/activity"
	"github.com/klubadudel/device-status-central/internal/config"
	"github.com/klubadudel/device-status-central/internal/engine"
	"github.com/klubadudel/device-status-central/internal/httpapi"
	"github.com/klubadudel/device-status-central/internal/model"
	mqttpkg "github.com/klubadudel/device-status-central/internal/mqtt"
	"github.com/klubadudel/device-status-central/internal/notify"
	"github.com/klubadudel/device-status-central/internal/realtime"
	"github.com/klubadudel/device-status-central/internal/service"
	"github.com/klubadudel/device-status-central/internal/store"
)

func main() {
	cfg := config.Load()
	slog.SetLogLoggerLevel(logLevel(cfg.LogLevel))

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.Postgres.Host, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Port)
	repo, err := store.NewRepository(dsn)
	if err != nil {
		slog.Error("db init failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	cache := store.NewStateCache(rdb)

	mClient, err := mqttpkg.Connect(cfg.MQTTBrokerURL)
	if err != nil {
		slog.Error("mqtt init failed", "error", err)
		os.Exit(1)
	}
	feed := realtime.NewFeed(mClient)

	notifier := notify.Multi{notify.NewMQTTNotifier(mClient)}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			slog.Warn("telegram notifier disabled", "error", err)
		} else {
			notifier = append(notifier, tg)
		}
	}

	logWriter := activity.NewWriter(repo, notifier)
	watcher := store.NewWatcher(repo, cfg.PollInterval)
	mirror := service.NewStateMirror(repo, cache, feed)
	eng := engine.New(watcher, feed, logWriter, notifier, engine.Options{
		Sink:             mirror,
		RTDBOnlyDeviceID: cfg.RTDBOnlyDeviceID,
	})

	// The resident all-devices subscription keeps the state mirror warm even
	// while no dashboard is open.
	cancelAll := eng.Subscribe(model.Scope{}, func(recs []model.MergedDevice) {
		slog.Debug("merged snapshot published", "devices", len(recs))
	})

	svc := service.NewDeviceService(repo, feed, logWriter, watcher)

	mux := http.NewServeMux()
	httpapi.NewServer(repo, svc, cache).Register(mux)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()
	slog.Info("device-status-central started", "port", cfg.Port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	cancelAll()
	logWriter.Flush()
	mirror.Flush()
	mClient.Close()
	slog.Info("device-status-central stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
