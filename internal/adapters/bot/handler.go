// Package bot переводит апдейты Telegram-бота во внутренние обновления
// каналов и публикует их в очередь. Обработка отделена от приёма:
// гейтвей только конвертирует и публикует, применяет коллектор.
package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
)

// Handler принимает апдейты бота.
type Handler struct {
	queue domain.UpdateQueue
	log   zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(queue domain.UpdateQueue, logger zerolog.Logger) *Handler {
	return &Handler{queue: queue, log: logger}
}

// HandleUpdate конвертирует апдейт и публикует его в очередь.
// Неинтересные апдейты (личные сообщения, коллбэки) пропускаются молча.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	converted, ok := Convert(upd)
	if !ok {
		return
	}
	if err := h.queue.Publish(ctx, converted); err != nil {
		h.log.Error().Err(err).Int64("chat", converted.TGChatID).Str("kind", string(converted.Kind)).Msg("bot: публикация обновления не удалась")
		return
	}
	h.log.Debug().Int64("chat", converted.TGChatID).Str("kind", string(converted.Kind)).Msg("bot: обновление опубликовано")
}

// Convert превращает апдейт бота во внутреннее обновление канала.
// Возвращает false, если апдейт системе не интересен.
func Convert(upd tgbotapi.Update) (domain.ChannelUpdate, bool) {
	now := time.Now().UTC()

	if post := upd.ChannelPost; post != nil && post.Chat != nil {
		text := post.Text
		if text == "" {
			text = post.Caption
		}
		if text == "" {
			return domain.ChannelUpdate{}, false
		}
		return domain.ChannelUpdate{
			Kind:        domain.UpdatePost,
			TGChatID:    post.Chat.ID,
			MsgID:       int64(post.MessageID),
			Text:        text,
			Author:      post.AuthorSignature,
			PublishedAt: time.Unix(int64(post.Date), 0).UTC(),
			ReceivedAt:  now,
		}, true
	}

	if member := upd.MyChatMember; member != nil && member.Chat.IsChannel() {
		switch member.NewChatMember.Status {
		case "administrator", "member":
			return domain.ChannelUpdate{
				Kind:       domain.UpdateBotAdded,
				TGChatID:   member.Chat.ID,
				ReceivedAt: now,
			}, true
		case "left", "kicked":
			return domain.ChannelUpdate{
				Kind:       domain.UpdateBotRemoved,
				TGChatID:   member.Chat.ID,
				ReceivedAt: now,
			}, true
		}
	}

	return domain.ChannelUpdate{}, false
}
