package domain

import "time"

// SourceType определяет способ получения постов канала.
type SourceType string

const (
	// SourceTypePublicTelegram — скрейпинг публичной превью-страницы t.me.
	SourceTypePublicTelegram SourceType = "public_telegram"
	// SourceTypeRSS — RSS/Atom лента.
	SourceTypeRSS SourceType = "rss"
	// SourceTypeBotTelegram — посты приходят пушем от бота-участника канала.
	SourceTypeBotTelegram SourceType = "bot_telegram"
	// SourceTypeDirectTelegram — доступ через MTProto от имени пользователя.
	SourceTypeDirectTelegram SourceType = "direct_telegram"
)

// SummaryCadence определяет периодичность сводок пользователя.
type SummaryCadence string

const (
	// CadenceDaily — ежедневная сводка.
	CadenceDaily SummaryCadence = "daily"
	// CadenceWeekly — еженедельная сводка.
	CadenceWeekly SummaryCadence = "weekly"
	// CadenceOff — сводки отключены.
	CadenceOff SummaryCadence = "off"
)

// User описывает пользователя системы.
type User struct {
	ID        int64
	TGUserID  int64
	Locale    string
	Cadence   SummaryCadence
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Channel описывает отслеживаемый источник пользователя.
// Инвариант: пара (UserID, SourceURL) уникальна.
type Channel struct {
	ID            int64
	UserID        int64
	SourceURL     string
	SourceType    SourceType
	Name          string
	Description   string
	ImageURL      string
	IsActive      bool
	TGChatID      int64
	BotHasAccess  bool
	AccessHashEnc []byte
	CreatedAt     time.Time
}

// Post представляет один нормализованный пост источника.
// Инвариант: пара (ChannelID, ExternalID) уникальна — ключ дедупликации.
// Identity и PublishedAt неизменяемы; контент может обновляться при повторной выборке.
type Post struct {
	ID          int64
	ChannelID   int64
	ExternalID  string
	Title       string
	Preview     string
	Content     string
	URL         string
	Author      string
	PublishedAt time.Time
	CreatedAt   time.Time
	// ChannelName — имя канала-источника; заполняется выборками с join,
	// в таблице постов не хранится.
	ChannelName string
}

// Summary содержит сгенерированную сводку за период.
// Инвариант: пара (UserID, Period) уникальна — генерация это get-or-create.
type Summary struct {
	ID        int64
	UserID    int64
	Period    string
	Title     string
	Content   string
	Topics    []string
	PostIDs   []int64
	CreatedAt time.Time
}

// Session хранит зашифрованные учётные данные MTProto (1:1 с пользователем).
// Блоб сессии непрозрачен и никогда не попадает в логи и тексты ошибок.
type Session struct {
	UserID     int64
	SessionEnc []byte
	PhoneEnc   []byte
	IsActive   bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SourceInfo — метаданные источника для превью перед добавлением канала.
type SourceInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	CanonicalURL string `json:"canonical_url"`
	Subscribers  int    `json:"subscribers,omitempty"`
}

// TrackedDialog описывает канал-диалог аккаунта пользователя.
type TrackedDialog struct {
	TGChatID   int64  `json:"tg_chat_id"`
	AccessHash int64  `json:"-"`
	Title      string `json:"title"`
	Username   string `json:"username,omitempty"`
	Tracked    bool   `json:"tracked"`
}

// ChannelMessage — сообщение канала, полученное через MTProto.
type ChannelMessage struct {
	MsgID       int64
	Text        string
	Author      string
	PublishedAt time.Time
}

// AuthCode — результат запроса кода подтверждения.
// Handle переносит состояние транзитной сессии между шагами входа
// и уже зашифрован менеджером сессий.
type AuthCode struct {
	CodeHash string `json:"code_hash"`
	Handle   []byte `json:"handle"`
}
