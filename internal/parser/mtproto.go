package parser

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
)

// DirectTelegram читает историю канала через MTProto от имени пользователя.
// Вариант выбирается только явным типом: по URL его не отличить от публичного.
type DirectTelegram struct {
	sessions domain.SessionRepo
	gateway  domain.TelegramGateway
	enc      domain.Encryptor
	log      zerolog.Logger
}

// NewDirectTelegram создаёт парсер прямого протокола.
func NewDirectTelegram(sessions domain.SessionRepo, gateway domain.TelegramGateway, enc domain.Encryptor, logger zerolog.Logger) *DirectTelegram {
	return &DirectTelegram{sessions: sessions, gateway: gateway, enc: enc, log: logger}
}

// Type возвращает дискриминатор варианта.
func (d *DirectTelegram) Type() domain.SourceType { return domain.SourceTypeDirectTelegram }

// IsValidSource всегда false: канал прямого протокола создаётся из списка
// диалогов пользователя, а не по произвольной ссылке.
func (d *DirectTelegram) IsValidSource(string) bool { return false }

// SourceInfo не ходит в сеть: метаданные прямого канала приходят из
// списка диалогов при добавлении.
func (d *DirectTelegram) SourceInfo(_ context.Context, identifier string) (domain.SourceInfo, error) {
	handle := TelegramHandle(identifier)
	if handle == "" {
		return domain.SourceInfo{}, domain.NewParseError(domain.ParseErrInvalidURL, identifier, domain.ErrUnsupportedSource)
	}
	return domain.SourceInfo{
		Name:         handle,
		CanonicalURL: fmt.Sprintf("%s/%s", publicPreviewBase, handle),
	}, nil
}

// FetchPosts выбирает историю канала по сохранённой сессии владельца.
// Отозванная сессия гасится сразу, чтобы следующие вызовы падали быстро.
func (d *DirectTelegram) FetchPosts(ctx context.Context, ch domain.Channel, opts FetchOptions) ([]domain.Post, error) {
	session, err := d.sessions.GetSession(ctx, ch.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoActiveSession
		}
		return nil, fmt.Errorf("получение сессии: %w", err)
	}
	if !session.IsActive {
		return nil, domain.ErrNoActiveSession
	}
	blob, err := d.enc.Decrypt(session.SessionEnc)
	if err != nil {
		return nil, fmt.Errorf("расшифровка сессии: %w", err)
	}
	accessHash, err := d.decryptAccessHash(ch)
	if err != nil {
		return nil, err
	}

	messages, err := d.gateway.ChannelHistory(ctx, blob, ch.TGChatID, accessHash, opts.Limit)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			if offErr := d.sessions.SetSessionActive(ctx, ch.UserID, false); offErr != nil {
				d.log.Error().Err(offErr).Int64("user", ch.UserID).Msg("mtproto: не удалось деактивировать сессию")
			}
		}
		return nil, err
	}
	if err := d.sessions.TouchSession(ctx, ch.UserID); err != nil {
		d.log.Error().Err(err).Int64("user", ch.UserID).Msg("mtproto: не удалось обновить last_used_at")
	}

	posts := make([]domain.Post, 0, len(messages))
	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}
		posts = append(posts, domain.Post{
			ChannelID:   ch.ID,
			ExternalID:  strconv.FormatInt(msg.MsgID, 10),
			Title:       firstLine(msg.Text),
			Preview:     clipRunes(msg.Text, 300),
			Content:     msg.Text,
			URL:         fmt.Sprintf("%s/c/%d/%d", publicPreviewBase, ch.TGChatID, msg.MsgID),
			Author:      msg.Author,
			PublishedAt: msg.PublishedAt,
		})
	}
	return posts, nil
}

func (d *DirectTelegram) decryptAccessHash(ch domain.Channel) (int64, error) {
	if len(ch.AccessHashEnc) == 0 {
		return 0, domain.NewParseError(domain.ParseErrAccessDenied, ch.SourceURL, fmt.Errorf("канал без учётных данных доступа"))
	}
	raw, err := d.enc.Decrypt(ch.AccessHashEnc)
	if err != nil {
		return 0, fmt.Errorf("расшифровка access hash: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("неожиданная длина access hash: %d", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// EncodeAccessHash сериализует access hash для шифрования.
func EncodeAccessHash(hash int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(hash))
	return buf
}
