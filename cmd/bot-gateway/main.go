package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-feed-digest/internal/adapters/bot"
	"tg-feed-digest/internal/infra/config"
	applog "tg-feed-digest/internal/infra/log"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("bot-gateway: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	updates, err := queue.NewRabbitUpdateQueue(cfg.RabbitURL, cfg.Queues.Updates)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать очередь")
	}
	defer updates.Close()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	handler := bot.NewHandler(updates, logger.With().Str("component", "bot").Logger())

	updCfg := tgbotapi.NewUpdate(0)
	updCfg.Timeout = 30
	updCfg.AllowedUpdates = []string{"channel_post", "my_chat_member"}
	updatesCh := botAPI.GetUpdatesChan(updCfg)

	logger.Info().Str("bot", botAPI.Self.UserName).Msg("bot-gateway: старт")
	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
			logger.Info().Msg("bot-gateway: остановка")
			return
		case upd, ok := <-updatesCh:
			if !ok {
				logger.Info().Msg("bot-gateway: канал апдейтов закрыт")
				return
			}
			handler.HandleUpdate(ctx, upd)
		}
	}
}
