package parser

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

// BotSink — приёмник пуш-обновлений для каналов, где бот состоит участником.
// Вариант не опрашивается по расписанию: посты приходят входящими событиями
// и проходят тот же upsert по ключу (channel_id, external_id).
type BotSink struct {
	channels domain.ChannelRepo
	posts    domain.PostRepo
	log      zerolog.Logger
}

// NewBotSink создаёт приёмник.
func NewBotSink(channels domain.ChannelRepo, posts domain.PostRepo, logger zerolog.Logger) *BotSink {
	return &BotSink{channels: channels, posts: posts, log: logger}
}

// Type возвращает дискриминатор варианта.
func (b *BotSink) Type() domain.SourceType { return domain.SourceTypeBotTelegram }

// IsValidSource всегда false: бот-канал создаётся явным типом.
func (b *BotSink) IsValidSource(string) bool { return false }

// SourceInfo не ходит в сеть: метаданные бот-канала приходят вместе
// с событием добавления бота.
func (b *BotSink) SourceInfo(_ context.Context, identifier string) (domain.SourceInfo, error) {
	handle := TelegramHandle(identifier)
	if handle == "" {
		return domain.SourceInfo{}, domain.NewParseError(domain.ParseErrInvalidURL, identifier, domain.ErrUnsupportedSource)
	}
	return domain.SourceInfo{
		Name:         handle,
		CanonicalURL: fmt.Sprintf("%s/%s", publicPreviewBase, handle),
	}, nil
}

// FetchPosts ничего не тянет: бот-канал наполняется пушем.
func (b *BotSink) FetchPosts(context.Context, domain.Channel, FetchOptions) ([]domain.Post, error) {
	return nil, nil
}

// ApplyUpdate применяет входящее обновление: пост проходит upsert,
// события членства переключают флаг доступа бота.
func (b *BotSink) ApplyUpdate(ctx context.Context, upd domain.ChannelUpdate) (bool, error) {
	switch upd.Kind {
	case domain.UpdateBotAdded:
		return false, b.channels.SetBotAccess(ctx, upd.TGChatID, true)
	case domain.UpdateBotRemoved:
		return false, b.channels.SetBotAccess(ctx, upd.TGChatID, false)
	case domain.UpdatePost:
	default:
		return false, fmt.Errorf("неизвестный тип обновления: %s", upd.Kind)
	}

	ch, err := b.channels.GetChannelByChatID(ctx, upd.TGChatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			b.log.Debug().Int64("chat", upd.TGChatID).Msg("botsink: пост неотслеживаемого канала пропущен")
			return false, nil
		}
		return false, fmt.Errorf("поиск канала: %w", err)
	}
	if !ch.IsActive {
		return false, nil
	}

	publishedAt := upd.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = upd.ReceivedAt
	}
	post := domain.Post{
		ChannelID:   ch.ID,
		ExternalID:  strconv.FormatInt(upd.MsgID, 10),
		Title:       firstLine(upd.Text),
		Preview:     clipRunes(upd.Text, 300),
		Content:     upd.Text,
		URL:         fmt.Sprintf("%s/%s/%d", publicPreviewBase, TelegramHandle(ch.SourceURL), upd.MsgID),
		Author:      upd.Author,
		PublishedAt: publishedAt,
	}
	added, err := b.posts.UpsertPost(ctx, post)
	if err != nil {
		return false, fmt.Errorf("сохранение поста: %w", err)
	}
	metrics.IncPostsIngested(string(domain.SourceTypeBotTelegram), added)
	return added, nil
}
