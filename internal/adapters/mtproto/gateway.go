// Package mtproto инкапсулирует работу с Telegram через gotd.
// Каждый вызов шлюза открывает собственное соединение и закрывает его
// на любом пути выхода: долгоживущий клиент на сессию пользователя
// исчерпал бы лимиты соединений аккаунта.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

// Gateway реализует domain.TelegramGateway поверх gotd.
type Gateway struct {
	apiID   int
	apiHash string
	log     zerolog.Logger
}

var _ domain.TelegramGateway = (*Gateway)(nil)

// NewGateway создаёт шлюз на базе токенов приложения.
func NewGateway(apiID int, apiHash string, logger zerolog.Logger) *Gateway {
	return &Gateway{apiID: apiID, apiHash: apiHash, log: logger}
}

func (g *Gateway) run(ctx context.Context, storage *memorySession, fn func(ctx context.Context, client *telegram.Client) error) error {
	client := telegram.NewClient(g.apiID, g.apiHash, telegram.Options{SessionStorage: storage})
	return client.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, client)
	})
}

// SendCode запрашивает код подтверждения. Возвращает hash кода и транзитное
// состояние сессии: оба нужны на шаге SignIn, в БД они не попадают.
func (g *Gateway) SendCode(ctx context.Context, phone string) (string, []byte, error) {
	storage := &memorySession{}
	var codeHash string
	start := time.Now()
	err := g.run(ctx, storage, func(ctx context.Context, client *telegram.Client) error {
		sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
		if err != nil {
			return err
		}
		code, ok := sent.(*tg.AuthSentCode)
		if !ok {
			return fmt.Errorf("неожиданный ответ на запрос кода: %T", sent)
		}
		codeHash = code.PhoneCodeHash
		return nil
	})
	metrics.ObserveNetworkRequest("mtproto", "send_code", "auth", start, err)
	if err != nil {
		return "", nil, translateTelegramError(err)
	}
	return codeHash, storage.Bytes(), nil
}

// SignIn завершает вход по коду. Если аккаунт защищён облачным паролем
// и пароль не передан, возвращает ErrNeeds2FA, не сохраняя ничего.
func (g *Gateway) SignIn(ctx context.Context, transient []byte, phone, code, codeHash, password string) ([]byte, error) {
	storage := &memorySession{data: transient}
	start := time.Now()
	err := g.run(ctx, storage, func(ctx context.Context, client *telegram.Client) error {
		_, err := client.Auth().SignIn(ctx, phone, code, codeHash)
		if err == nil {
			return nil
		}
		if !errors.Is(err, auth.ErrPasswordAuthNeeded) {
			return err
		}
		if password == "" {
			return domain.ErrNeeds2FA
		}
		_, err = client.Auth().Password(ctx, password)
		return err
	})
	metrics.ObserveNetworkRequest("mtproto", "sign_in", "auth", start, err)
	if err != nil {
		return nil, translateTelegramError(err)
	}
	return storage.Bytes(), nil
}

// ListChannelDialogs возвращает каналы из диалогов аккаунта. Группы
// и личные чаты отбрасываются.
func (g *Gateway) ListChannelDialogs(ctx context.Context, sessionBlob []byte) ([]domain.TrackedDialog, error) {
	storage := &memorySession{data: sessionBlob}
	var dialogs []domain.TrackedDialog
	start := time.Now()
	err := g.run(ctx, storage, func(ctx context.Context, client *telegram.Client) error {
		resp, err := client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      200,
		})
		if err != nil {
			return err
		}

		var chats []tg.ChatClass
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			chats = d.Chats
		case *tg.MessagesDialogsSlice:
			chats = d.Chats
		case *tg.MessagesDialogsNotModified:
			return nil
		default:
			return fmt.Errorf("неожиданный ответ на запрос диалогов: %T", resp)
		}

		for _, chat := range chats {
			channel, ok := chat.(*tg.Channel)
			if !ok || !channel.Broadcast {
				continue
			}
			dialogs = append(dialogs, domain.TrackedDialog{
				TGChatID:   channel.ID,
				AccessHash: channel.AccessHash,
				Title:      channel.Title,
				Username:   channel.Username,
			})
		}
		return nil
	})
	metrics.ObserveNetworkRequest("mtproto", "get_dialogs", "dialogs", start, err)
	if err != nil {
		return nil, translateTelegramError(err)
	}
	return dialogs, nil
}

// ChannelHistory выбирает последние сообщения канала, новые первыми.
// Сервисные сообщения и сообщения без текста отбрасываются.
func (g *Gateway) ChannelHistory(ctx context.Context, sessionBlob []byte, tgChatID, accessHash int64, limit int) ([]domain.ChannelMessage, error) {
	storage := &memorySession{data: sessionBlob}
	var messages []domain.ChannelMessage
	start := time.Now()
	err := g.run(ctx, storage, func(ctx context.Context, client *telegram.Client) error {
		history, err := client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer: &tg.InputPeerChannel{
				ChannelID:  tgChatID,
				AccessHash: accessHash,
			},
			Limit: limit,
		})
		if err != nil {
			return err
		}

		var raw []tg.MessageClass
		switch h := history.(type) {
		case *tg.MessagesChannelMessages:
			raw = h.Messages
		case *tg.MessagesMessages:
			raw = h.Messages
		case *tg.MessagesMessagesSlice:
			raw = h.Messages
		case *tg.MessagesMessagesNotModified:
			return nil
		default:
			return fmt.Errorf("неожиданный ответ на запрос истории: %T", history)
		}

		for _, m := range raw {
			msg, ok := m.(*tg.Message)
			if !ok || msg.Message == "" {
				continue
			}
			messages = append(messages, domain.ChannelMessage{
				MsgID:       int64(msg.ID),
				Text:        msg.Message,
				Author:      msg.PostAuthor,
				PublishedAt: time.Unix(int64(msg.Date), 0).UTC(),
			})
		}
		return nil
	})
	metrics.ObserveNetworkRequest("mtproto", "get_history", "history", start, err)
	if err != nil {
		return nil, translateTelegramError(err)
	}
	return messages, nil
}

// LogOut отзывает сессию на стороне Telegram.
func (g *Gateway) LogOut(ctx context.Context, sessionBlob []byte) error {
	storage := &memorySession{data: sessionBlob}
	start := time.Now()
	err := g.run(ctx, storage, func(ctx context.Context, client *telegram.Client) error {
		_, err := client.API().AuthLogOut(ctx)
		return err
	})
	metrics.ObserveNetworkRequest("mtproto", "log_out", "auth", start, err)
	if err != nil {
		return translateTelegramError(err)
	}
	return nil
}

// translateTelegramError переводит ошибки протокола в общую таксономию.
func translateTelegramError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNeeds2FA) || errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return domain.ErrNeeds2FA
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		perr := domain.NewParseError(domain.ParseErrRateLimited, "telegram", err)
		perr.RetryAfter = wait
		return perr
	}
	if tgerr.Is(err, "PHONE_CODE_INVALID") || tgerr.Is(err, "PHONE_CODE_EXPIRED") || tgerr.Is(err, "PHONE_CODE_EMPTY") {
		return domain.ErrCodeInvalid
	}
	if tgerr.Is(err, "PASSWORD_HASH_INVALID") {
		return domain.ErrCodeInvalid
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED") || tgerr.Is(err, "SESSION_REVOKED") || tgerr.Is(err, "SESSION_EXPIRED") || tgerr.Is(err, "USER_DEACTIVATED") {
		return domain.ErrSessionExpired
	}
	if tgerr.Is(err, "CHANNEL_PRIVATE") || tgerr.Is(err, "CHANNEL_INVALID") {
		return domain.NewParseError(domain.ParseErrAccessDenied, "telegram", err)
	}
	if tgerr.Is(err, "PHONE_NUMBER_INVALID") {
		return fmt.Errorf("некорректный номер телефона: %w", err)
	}
	return err
}
