package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tg-feed-digest/internal/adapters/repo"
	"tg-feed-digest/internal/infra/config"
	"tg-feed-digest/internal/infra/db"
	applog "tg-feed-digest/internal/infra/log"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/infra/queue"
	"tg-feed-digest/internal/parser"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("collector: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	updates, err := queue.NewRabbitUpdateQueue(cfg.RabbitURL, cfg.Queues.Updates)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: не удалось инициализировать очередь")
	}
	defer updates.Close()

	repoAdapter := repo.NewPostgres(pool)
	sink := parser.NewBotSink(repoAdapter, repoAdapter, logger.With().Str("component", "botsink").Logger())

	logger.Info().Str("queue", cfg.Queues.Updates).Msg("collector: старт")
	for {
		upd, ack, err := updates.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info().Msg("collector: остановка")
				return
			}
			logger.Error().Err(err).Msg("collector: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		_, err = sink.ApplyUpdate(ctx, upd)
		if err != nil {
			logger.Error().Err(err).Int64("chat", upd.TGChatID).Str("kind", string(upd.Kind)).Msg("collector: обновление не применено")
		}
		if ackErr := ack(err == nil); ackErr != nil {
			logger.Error().Err(ackErr).Msg("collector: подтверждение не удалось")
		}
	}
}
