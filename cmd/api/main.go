package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-feed-digest/internal/adapters/api"
	"tg-feed-digest/internal/adapters/llm"
	"tg-feed-digest/internal/adapters/mtproto"
	"tg-feed-digest/internal/adapters/repo"
	"tg-feed-digest/internal/infra/cache"
	"tg-feed-digest/internal/infra/config"
	"tg-feed-digest/internal/infra/crypto"
	"tg-feed-digest/internal/infra/db"
	httpinfra "tg-feed-digest/internal/infra/http"
	"tg-feed-digest/internal/infra/log"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/parser"
	"tg-feed-digest/internal/usecase/ingest"
	"tg-feed-digest/internal/usecase/schedule"
	"tg-feed-digest/internal/usecase/session"
	"tg-feed-digest/internal/usecase/summarygen"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	encryptor, err := crypto.NewAESEncryptor(cfg.SessionKeyHex)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректный ключ шифрования")
	}

	redisCache := cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	repoAdapter := repo.NewPostgres(pool)
	gateway := mtproto.NewGateway(cfg.Telegram.APIID, cfg.Telegram.APIHash, logger.With().Str("component", "mtproto").Logger())

	factory := parser.NewFactory(
		parser.NewPublicTelegram(logger.With().Str("component", "parser_tg").Logger()),
		parser.NewRSS(logger.With().Str("component", "parser_rss").Logger()),
		parser.NewDirectTelegram(repoAdapter, gateway, encryptor, logger.With().Str("component", "parser_direct").Logger()),
		parser.NewBotSink(repoAdapter, repoAdapter, logger.With().Str("component", "parser_bot").Logger()),
	)

	generator := llm.NewOpenAI(llm.Options{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	})

	ingestService := ingest.NewService(repoAdapter, repoAdapter, factory, redisCache, logger.With().Str("component", "ingest").Logger())
	summaryService := summarygen.NewService(repoAdapter, repoAdapter, repoAdapter, generator, cfg.Limits.SummaryPosts, logger.With().Str("component", "summarygen").Logger())
	sessionService := session.NewService(repoAdapter, repoAdapter, gateway, encryptor, redisCache, cfg.Limits.AuthCodeWindow, logger.With().Str("component", "session").Logger())
	jobs := schedule.NewJobs(repoAdapter, repoAdapter, ingestService, summaryService, cfg.Limits.FetchPosts, logger.With().Str("component", "schedule").Logger())

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler := api.NewHandler(ingestService, sessionService, summaryService, jobs, cfg.SchedulerToken, logger.With().Str("component", "api").Logger())
	handler.Routes(srv.Router)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
