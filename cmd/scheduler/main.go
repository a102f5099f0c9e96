package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-feed-digest/internal/adapters/llm"
	"tg-feed-digest/internal/adapters/mtproto"
	"tg-feed-digest/internal/adapters/repo"
	"tg-feed-digest/internal/infra/cache"
	"tg-feed-digest/internal/infra/config"
	"tg-feed-digest/internal/infra/crypto"
	"tg-feed-digest/internal/infra/db"
	applog "tg-feed-digest/internal/infra/log"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/parser"
	"tg-feed-digest/internal/usecase/ingest"
	"tg-feed-digest/internal/usecase/schedule"
	"tg-feed-digest/internal/usecase/summarygen"
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
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	encryptor, err := crypto.NewAESEncryptor(cfg.SessionKeyHex)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректный ключ шифрования")
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
	jobs := schedule.NewJobs(repoAdapter, repoAdapter, ingestService, summaryService, cfg.Limits.FetchPosts, logger.With().Str("component", "schedule").Logger())

	fetchTicker := time.NewTicker(cfg.Scheduler.FetchInterval)
	defer fetchTicker.Stop()
	summaryTicker := time.NewTicker(time.Hour)
	defer summaryTicker.Stop()

	logger.Info().Dur("fetch_interval", cfg.Scheduler.FetchInterval).Msg("scheduler: старт")

	var lastDaily, lastWeekly string
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-fetchTicker.C:
			if _, err := jobs.RunFetchAll(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler: прогон fetch-all не удался")
			}
		case <-summaryTicker.C:
			now := time.Now().UTC()

			// Дневные сводки — раз в сутки начиная с настроенного часа;
			// ключ дня защищает от повторного запуска в тот же день.
			if day := now.Format("2006-01-02"); now.Hour() >= cfg.Scheduler.DailyHour && lastDaily != day {
				if _, err := jobs.RunDailySummaries(ctx); err != nil {
					logger.Error().Err(err).Msg("scheduler: прогон дневных сводок не удался")
				} else {
					lastDaily = day
				}
			}

			if week := weekKey(now); now.Weekday() == cfg.Scheduler.WeeklyDay && now.Hour() >= cfg.Scheduler.DailyHour && lastWeekly != week {
				if _, err := jobs.RunWeeklySummaries(ctx); err != nil {
					logger.Error().Err(err).Msg("scheduler: прогон недельных сводок не удался")
				} else {
					lastWeekly = week
				}
			}
		}
	}
}

func weekKey(t time.Time) string {
	return summarygen.WeeklyPeriodKey(t)
}
