package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListByCadence(ctx context.Context, cadence SummaryCadence) ([]User, error)
}

// ChannelRepo управляет каналами.
type ChannelRepo interface {
	GetChannel(ctx context.Context, id int64) (Channel, error)
	GetChannelByChatID(ctx context.Context, tgChatID int64) (Channel, error)
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	ListUserChannels(ctx context.Context, userID int64, onlyActive bool) ([]Channel, error)
	CreateChannel(ctx context.Context, ch Channel) (Channel, error)
	UpdateChannelMeta(ctx context.Context, id int64, name, description, imageURL string) error
	SetChannelActive(ctx context.Context, id int64, active bool) error
	SetBotAccess(ctx context.Context, tgChatID int64, hasAccess bool) error
}

// PostRepo управляет постами.
type PostRepo interface {
	// UpsertPost сохраняет пост по ключу (channel_id, external_id).
	// Возвращает true, если запись создана, и false при коллизии
	// (тогда обновляются только изменяемые поля).
	UpsertPost(ctx context.Context, post Post) (bool, error)
	ListPostsForPeriod(ctx context.Context, userID int64, from, to time.Time) ([]Post, error)
}

// SummaryRepo управляет сводками.
type SummaryRepo interface {
	GetSummaryByPeriod(ctx context.Context, userID int64, period string) (Summary, error)
	CreateSummary(ctx context.Context, summary Summary) (Summary, error)
}

// SessionRepo управляет зашифрованными MTProto-сессиями.
type SessionRepo interface {
	GetSession(ctx context.Context, userID int64) (Session, error)
	SaveSession(ctx context.Context, session Session) error
	SetSessionActive(ctx context.Context, userID int64, active bool) error
	TouchSession(ctx context.Context, userID int64) error
}

// Cache используется для TTL-хранилищ и фиксированных окон лимитов.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrWindow увеличивает счётчик фиксированного окна и возвращает новое значение.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// TextGenerator — внешний генеративный сервис: (prompt, language) -> structured text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, language string) (string, error)
}

// TelegramGateway инкапсулирует MTProto-вызовы. Каждый вызов открывает
// и закрывает собственное соединение; блобы сессий передаются в открытом виде,
// шифрование — забота вызывающего.
type TelegramGateway interface {
	SendCode(ctx context.Context, phone string) (codeHash string, transient []byte, err error)
	SignIn(ctx context.Context, transient []byte, phone, code, codeHash, password string) (session []byte, err error)
	ListChannelDialogs(ctx context.Context, session []byte) ([]TrackedDialog, error)
	ChannelHistory(ctx context.Context, session []byte, tgChatID, accessHash int64, limit int) ([]ChannelMessage, error)
	LogOut(ctx context.Context, session []byte) error
}

// Encryptor шифрует чувствительные блобы перед сохранением.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// UpdateQueue — входящий пуш-канал обновлений от бота.
type UpdateQueue interface {
	Publish(ctx context.Context, upd ChannelUpdate) error
	Receive(ctx context.Context) (ChannelUpdate, AckFunc, error)
}
