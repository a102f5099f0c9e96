// Package schedule — батч-задачи планировщика. Тела задач — чистые
// функции без привязки к триггеру: тикер и авторизованный ручной вызов
// исполняют один и тот же код.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/parser"
	"tg-feed-digest/internal/usecase/ingest"
	"tg-feed-digest/internal/usecase/summarygen"
)

// Jobs исполняет три независимых списка работ: fetch-all, daily, weekly.
// Элементы обрабатываются последовательно, чтобы не устраивать штормы
// лимитов у источников и генеративного сервиса; сбой одного элемента
// никогда не прерывает прогон.
type Jobs struct {
	channels   domain.ChannelRepo
	users      domain.UserRepo
	ingestor   *ingest.Service
	summaries  *summarygen.Service
	fetchLimit int
	log        zerolog.Logger
}

// NewJobs создаёт исполнителя батч-задач.
func NewJobs(channels domain.ChannelRepo, users domain.UserRepo, ingestor *ingest.Service, summaries *summarygen.Service, fetchLimit int, logger zerolog.Logger) *Jobs {
	if fetchLimit <= 0 {
		fetchLimit = 50
	}
	return &Jobs{
		channels:   channels,
		users:      users,
		ingestor:   ingestor,
		summaries:  summaries,
		fetchLimit: fetchLimit,
		log:        logger,
	}
}

func newReport(job string) domain.RunReport {
	return domain.RunReport{
		RunID:     uuid.NewString(),
		Job:       job,
		StartedAt: time.Now().UTC(),
	}
}

// RunFetchAll прогоняет загрузку постов по всем активным каналам.
func (j *Jobs) RunFetchAll(ctx context.Context) (domain.RunReport, error) {
	report := newReport("fetch_all")
	channels, err := j.channels.ListActiveChannels(ctx)
	if err != nil {
		return report, fmt.Errorf("список активных каналов: %w", err)
	}

	for _, ch := range channels {
		start := time.Now()
		added, skipped, err := j.ingestor.FetchAndSaveChannelPosts(ctx, ch.ID, parser.FetchOptions{Limit: j.fetchLimit})
		report.Items = append(report.Items, itemResult(strconv.FormatInt(ch.ID, 10), added, skipped, err, start))
		metrics.IncJobItem(report.Job, err)
		if err != nil {
			j.log.Error().Err(err).Int64("channel", ch.ID).Str("run", report.RunID).Msg("schedule: канал не обработан")
		}
	}

	report.FinishedAt = time.Now().UTC()
	j.logRun(report)
	return report, nil
}

// RunDailySummaries строит дневные сводки для пользователей с дневной
// каденцией. Дни без постов и уже существующие сводки пропускаются.
func (j *Jobs) RunDailySummaries(ctx context.Context) (domain.RunReport, error) {
	return j.runSummaries(ctx, "daily_summaries", domain.CadenceDaily)
}

// RunWeeklySummaries строит недельные сводки по скользящему окну 7 дней.
func (j *Jobs) RunWeeklySummaries(ctx context.Context) (domain.RunReport, error) {
	return j.runSummaries(ctx, "weekly_summaries", domain.CadenceWeekly)
}

func (j *Jobs) runSummaries(ctx context.Context, job string, cadence domain.SummaryCadence) (domain.RunReport, error) {
	report := newReport(job)
	users, err := j.users.ListByCadence(ctx, cadence)
	if err != nil {
		return report, fmt.Errorf("список пользователей каденции %s: %w", cadence, err)
	}

	for _, user := range users {
		start := time.Now()
		_, err := j.summaries.Generate(ctx, user.ID, cadence)
		if errors.Is(err, domain.ErrNoContent) {
			// Пустой период — не сбой: пользователю нечего дайджестить.
			err = nil
		}
		report.Items = append(report.Items, itemResult(strconv.FormatInt(user.ID, 10), 0, 0, err, start))
		metrics.IncJobItem(report.Job, err)
		if err != nil {
			j.log.Error().Err(err).Int64("user", user.ID).Str("run", report.RunID).Msg("schedule: сводка не построена")
		}
	}

	report.FinishedAt = time.Now().UTC()
	j.logRun(report)
	return report, nil
}

func itemResult(key string, added, skipped int, err error, start time.Time) domain.ItemResult {
	item := domain.ItemResult{
		Key:      key,
		Added:    added,
		Skipped:  skipped,
		Duration: time.Since(start),
	}
	if err != nil {
		item.Err = err.Error()
	}
	return item
}

func (j *Jobs) logRun(report domain.RunReport) {
	j.log.Info().
		Str("run", report.RunID).
		Str("job", report.Job).
		Int("total", len(report.Items)).
		Int("failed", report.Failed()).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("schedule: прогон завершён")
}
