// Package session — менеджер MTProto-сессий пользователей.
//
// Машина состояний авторизации: Unauthenticated → CodeSent(codeHash,
// транзитный блоб) → {Authenticated | Needs2FA} → Authenticated.
// Менеджер не хранит состояние между HTTP-шагами: транзитный блоб ходит
// туда-обратно через клиента в зашифрованном виде.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/parser"
)

const authCodeWindow = 10 * time.Minute

// Service реализует многошаговую авторизацию и операции с активной сессией.
type Service struct {
	sessions  domain.SessionRepo
	channels  domain.ChannelRepo
	gateway   domain.TelegramGateway
	enc       domain.Encryptor
	cache     domain.Cache
	codeLimit int
	log       zerolog.Logger
}

// NewService создаёт менеджер сессий.
func NewService(sessions domain.SessionRepo, channels domain.ChannelRepo, gateway domain.TelegramGateway, enc domain.Encryptor, cache domain.Cache, codeLimit int, logger zerolog.Logger) *Service {
	if codeLimit <= 0 {
		codeLimit = 3
	}
	return &Service{
		sessions:  sessions,
		channels:  channels,
		gateway:   gateway,
		enc:       enc,
		cache:     cache,
		codeLimit: codeLimit,
		log:       logger,
	}
}

// CodeSent — результат шага запроса кода. Handle — зашифрованный транзитный
// блоб, который клиент обязан вернуть на шаге SignIn.
type CodeSent struct {
	CodeHash string `json:"code_hash"`
	Handle   []byte `json:"handle"`
}

// SendAuthCode запрашивает код подтверждения на телефон. Операция
// чувствительная, поэтому обложена фиксированным окном в общем кэше:
// лимит действует и при нескольких экземплярах сервиса.
func (s *Service) SendAuthCode(ctx context.Context, userID int64, phone string) (CodeSent, error) {
	count, err := s.cache.IncrWindow(ctx, fmt.Sprintf("auth_code:%d", userID), authCodeWindow)
	if err != nil {
		s.log.Error().Err(err).Int64("user", userID).Msg("session: счётчик лимита недоступен")
	} else if count > int64(s.codeLimit) {
		return CodeSent{}, domain.ErrRateLimited
	}

	codeHash, transient, err := s.gateway.SendCode(ctx, phone)
	if err != nil {
		return CodeSent{}, err
	}
	handle, err := s.enc.Encrypt(transient)
	if err != nil {
		return CodeSent{}, fmt.Errorf("шифрование транзитного состояния: %w", err)
	}
	return CodeSent{CodeHash: codeHash, Handle: handle}, nil
}

// SignIn завершает вход по коду и возвращает зашифрованный handle
// авторизованной сессии, ничего не сохраняя: запись в БД — отдельный
// явный шаг SaveSession. Требование облачного пароля без переданного
// пароля возвращается как ErrNeeds2FA: клиент повторяет шаг с паролем
// и тем же handle. При любой ошибке состояние не меняется.
func (s *Service) SignIn(ctx context.Context, handle []byte, phone, code, codeHash, password string) ([]byte, error) {
	transient, err := s.enc.Decrypt(handle)
	if err != nil {
		return nil, fmt.Errorf("расшифровка транзитного состояния: %w", err)
	}

	blob, err := s.gateway.SignIn(ctx, transient, phone, code, codeHash, password)
	if err != nil {
		return nil, err
	}
	sessionHandle, err := s.enc.Encrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("шифрование сессии: %w", err)
	}
	return sessionHandle, nil
}

// SaveSession сохраняет сессию после явного подтверждения пользователя.
// Handle приходит с шага SignIn уже зашифрованным, телефон шифруется
// непосредственно перед записью.
func (s *Service) SaveSession(ctx context.Context, userID int64, sessionHandle []byte, phone string) error {
	// Handle обязан расшифровываться нашим ключом: чужой или битый блоб
	// не должен попасть в БД.
	if _, err := s.enc.Decrypt(sessionHandle); err != nil {
		return fmt.Errorf("проверка handle сессии: %w", err)
	}
	phoneEnc, err := s.enc.Encrypt([]byte(phone))
	if err != nil {
		return fmt.Errorf("шифрование телефона: %w", err)
	}
	if err := s.sessions.SaveSession(ctx, domain.Session{
		UserID:     userID,
		SessionEnc: sessionHandle,
		PhoneEnc:   phoneEnc,
		IsActive:   true,
	}); err != nil {
		return fmt.Errorf("сохранение сессии: %w", err)
	}
	s.log.Info().Int64("user", userID).Msg("session: сессия сохранена")
	return nil
}

// activeBlob читает и расшифровывает активную сессию пользователя.
func (s *Service) activeBlob(ctx context.Context, userID int64) ([]byte, error) {
	session, err := s.sessions.GetSession(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoActiveSession
		}
		return nil, fmt.Errorf("получение сессии: %w", err)
	}
	if !session.IsActive {
		return nil, domain.ErrNoActiveSession
	}
	blob, err := s.enc.Decrypt(session.SessionEnc)
	if err != nil {
		return nil, fmt.Errorf("расшифровка сессии: %w", err)
	}
	return blob, nil
}

// deactivateOnExpiry гасит сессию при отозванных учётных данных, чтобы
// следующие вызовы падали быстро с понятным сигналом на переавторизацию.
func (s *Service) deactivateOnExpiry(ctx context.Context, userID int64, err error) {
	if !errors.Is(err, domain.ErrSessionExpired) {
		return
	}
	if offErr := s.sessions.SetSessionActive(ctx, userID, false); offErr != nil {
		s.log.Error().Err(offErr).Int64("user", userID).Msg("session: не удалось деактивировать сессию")
	}
}

// ListChannels возвращает каналы из диалогов аккаунта, помечая уже
// отслеживаемые. Группы отфильтрованы шлюзом.
func (s *Service) ListChannels(ctx context.Context, userID int64) ([]domain.TrackedDialog, error) {
	blob, err := s.activeBlob(ctx, userID)
	if err != nil {
		return nil, err
	}

	dialogs, err := s.gateway.ListChannelDialogs(ctx, blob)
	if err != nil {
		s.deactivateOnExpiry(ctx, userID, err)
		return nil, err
	}
	if err := s.sessions.TouchSession(ctx, userID); err != nil {
		s.log.Error().Err(err).Int64("user", userID).Msg("session: не удалось обновить last_used_at")
	}

	tracked, err := s.channels.ListUserChannels(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("список каналов пользователя: %w", err)
	}
	trackedIDs := lo.SliceToMap(tracked, func(ch domain.Channel) (int64, struct{}) {
		return ch.TGChatID, struct{}{}
	})
	for i := range dialogs {
		_, dialogs[i].Tracked = trackedIDs[dialogs[i].TGChatID]
	}
	return dialogs, nil
}

// TrackDialog создаёт канал прямого протокола из диалога пользователя.
// Access hash шифруется и хранится при канале: публичной превью-страницы
// у такого канала может не быть.
func (s *Service) TrackDialog(ctx context.Context, userID int64, dialog domain.TrackedDialog) (domain.Channel, error) {
	if _, err := s.activeBlob(ctx, userID); err != nil {
		return domain.Channel{}, err
	}

	hashEnc, err := s.enc.Encrypt(parser.EncodeAccessHash(dialog.AccessHash))
	if err != nil {
		return domain.Channel{}, fmt.Errorf("шифрование access hash: %w", err)
	}
	sourceURL := fmt.Sprintf("tg://channel/%d", dialog.TGChatID)
	if dialog.Username != "" {
		sourceURL = "https://t.me/" + dialog.Username
	}
	ch, err := s.channels.CreateChannel(ctx, domain.Channel{
		UserID:        userID,
		SourceURL:     sourceURL,
		SourceType:    domain.SourceTypeDirectTelegram,
		Name:          dialog.Title,
		IsActive:      true,
		TGChatID:      dialog.TGChatID,
		AccessHashEnc: hashEnc,
	})
	if err != nil {
		return domain.Channel{}, fmt.Errorf("создание канала: %w", err)
	}
	return ch, nil
}

// Disconnect отзывает сессию на стороне Telegram и гасит её локально.
// Локальная деактивация выполняется даже при сбое удалённого выхода.
func (s *Service) Disconnect(ctx context.Context, userID int64) error {
	blob, err := s.activeBlob(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.gateway.LogOut(ctx, blob); err != nil && !errors.Is(err, domain.ErrSessionExpired) {
		s.log.Warn().Err(err).Int64("user", userID).Msg("session: удалённый выход не удался")
	}
	if err := s.sessions.SetSessionActive(ctx, userID, false); err != nil {
		return fmt.Errorf("деактивация сессии: %w", err)
	}
	return nil
}
