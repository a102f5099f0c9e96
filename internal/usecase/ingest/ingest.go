// Package ingest — оркестратор загрузки постов: канал → парсер →
// дедупликация → хранилище.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/parser"
)

const sourceInfoCacheTTL = 10 * time.Minute

// Service связывает фабрику парсеров с хранилищем постов.
type Service struct {
	channels domain.ChannelRepo
	posts    domain.PostRepo
	factory  *parser.Factory
	cache    domain.Cache
	log      zerolog.Logger
}

// NewService создаёт оркестратор.
func NewService(channels domain.ChannelRepo, posts domain.PostRepo, factory *parser.Factory, cache domain.Cache, logger zerolog.Logger) *Service {
	return &Service{channels: channels, posts: posts, factory: factory, cache: cache, log: logger}
}

// ValidatedSource — результат предварительной проверки источника.
type ValidatedSource struct {
	Type domain.SourceType `json:"type"`
	Info domain.SourceInfo `json:"info"`
}

// ValidateAndGetSourceInfo подбирает парсер по форме идентификатора
// и загружает превью источника. Нераспознанный ввод отклоняется:
// неподдерживаемый источник — бизнес-правило, а не повод для дефолта.
// Успешный результат ненадолго кэшируется: форма добавления канала
// дёргает проверку на каждое изменение поля.
func (s *Service) ValidateAndGetSourceInfo(ctx context.Context, rawURL string) (ValidatedSource, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidatedSource{}, domain.NewParseError(domain.ParseErrInvalidURL, rawURL, domain.ErrUnsupportedSource)
	}

	cacheKey := "source_info:" + rawURL
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		var out ValidatedSource
		if err := json.Unmarshal(cached, &out); err == nil {
			return out, nil
		}
	}

	p, err := s.factory.Resolve(rawURL)
	if err != nil {
		return ValidatedSource{}, err
	}
	info, err := p.SourceInfo(ctx, rawURL)
	if err != nil {
		return ValidatedSource{}, err
	}

	out := ValidatedSource{Type: p.Type(), Info: info}
	if payload, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, cacheKey, payload, sourceInfoCacheTTL); err != nil {
			s.log.Debug().Err(err).Str("url", rawURL).Msg("ingest: кэш превью недоступен")
		}
	}
	return out, nil
}

// FetchAndSaveChannelPosts загружает свежие посты канала и сохраняет их
// с дедупликацией по (channel_id, external_id). Каждая запись идемпотентна:
// сбой посреди батча теряет только необработанный хвост и безопасен
// для повторного запуска.
func (s *Service) FetchAndSaveChannelPosts(ctx context.Context, channelID int64, opts parser.FetchOptions) (added, skipped int, err error) {
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return 0, 0, fmt.Errorf("получение канала: %w", err)
	}

	p, err := s.factory.ByType(ch.SourceType)
	if err != nil {
		return 0, 0, err
	}

	posts, err := p.FetchPosts(ctx, ch, opts)
	if err != nil {
		s.recordFetchFailure(ctx, ch, err)
		return 0, 0, err
	}

	for _, post := range posts {
		created, err := s.posts.UpsertPost(ctx, post)
		if err != nil {
			return added, skipped, fmt.Errorf("сохранение поста %s: %w", post.ExternalID, err)
		}
		if created {
			added++
		} else {
			skipped++
		}
		metrics.IncPostsIngested(string(ch.SourceType), created)
	}

	s.log.Debug().
		Int64("channel", ch.ID).
		Int("added", added).
		Int("skipped", skipped).
		Msg("ingest: канал обработан")
	return added, skipped, nil
}

// recordFetchFailure классифицирует сбой загрузки. Постоянно отсутствующий
// источник деактивируется, чтобы планировщик не бился об него каждый цикл.
func (s *Service) recordFetchFailure(ctx context.Context, ch domain.Channel, err error) {
	perr, ok := domain.AsParseError(err)
	if !ok {
		return
	}
	metrics.IncParseError(string(ch.SourceType), string(perr.Kind))

	if perr.Kind == domain.ParseErrSourceNotFound {
		if offErr := s.channels.SetChannelActive(ctx, ch.ID, false); offErr != nil {
			s.log.Error().Err(offErr).Int64("channel", ch.ID).Msg("ingest: не удалось деактивировать канал")
			return
		}
		s.log.Warn().Int64("channel", ch.ID).Str("url", ch.SourceURL).Msg("ingest: источник не найден, канал деактивирован")
	}
}
