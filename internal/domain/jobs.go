package domain

import "time"

// ChannelUpdateKind определяет тип входящего обновления от бота.
type ChannelUpdateKind string

const (
	// UpdatePost — новый пост канала.
	UpdatePost ChannelUpdateKind = "post"
	// UpdateBotAdded — бота добавили в канал.
	UpdateBotAdded ChannelUpdateKind = "bot_added"
	// UpdateBotRemoved — бота удалили из канала.
	UpdateBotRemoved ChannelUpdateKind = "bot_removed"
)

// ChannelUpdate — одно обновление, доставленное пуш-каналом бота.
type ChannelUpdate struct {
	Kind        ChannelUpdateKind `json:"kind"`
	TGChatID    int64             `json:"tg_chat_id"`
	MsgID       int64             `json:"msg_id,omitempty"`
	Text        string            `json:"text,omitempty"`
	Author      string            `json:"author,omitempty"`
	PublishedAt time.Time         `json:"published_at,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// AckFunc подтверждает обработку обновления или возвращает его в очередь.
type AckFunc func(success bool) error

// ItemResult — результат обработки одного элемента батч-задачи.
type ItemResult struct {
	Key      string        `json:"key"`
	Added    int           `json:"added,omitempty"`
	Skipped  int           `json:"skipped,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunReport — структурированный отчёт батч-задачи. Позволяет вызывающему
// отличить «нечего делать» от частичного и полного провала.
type RunReport struct {
	RunID      string       `json:"run_id"`
	Job        string       `json:"job"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Items      []ItemResult `json:"items"`
}

// Succeeded возвращает количество успешно обработанных элементов.
func (r RunReport) Succeeded() int {
	n := 0
	for _, item := range r.Items {
		if item.Err == "" {
			n++
		}
	}
	return n
}

// Failed возвращает количество элементов, завершившихся ошибкой.
func (r RunReport) Failed() int {
	return len(r.Items) - r.Succeeded()
}
