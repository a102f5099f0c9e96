package bot

import (
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-feed-digest/internal/domain"
)

func channelChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "channel"}
}

func TestConvertChannelPost(t *testing.T) {
	upd := tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID:       42,
		Chat:            channelChat(-100123),
		Text:            "Новый релиз",
		AuthorSignature: "редакция",
		Date:            1704103200, // 2024-01-01 10:00:00 UTC
	}}

	got, ok := Convert(upd)
	if !ok {
		t.Fatalf("ожидали конвертацию поста")
	}
	if got.Kind != domain.UpdatePost {
		t.Fatalf("ожидали kind=post, получили %s", got.Kind)
	}
	if got.TGChatID != -100123 || got.MsgID != 42 {
		t.Fatalf("неожиданные идентификаторы: %+v", got)
	}
	if got.Text != "Новый релиз" || got.Author != "редакция" {
		t.Fatalf("неожиданное содержимое: %+v", got)
	}
	expected := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !got.PublishedAt.Equal(expected) {
		t.Fatalf("ожидали %v, получили %v", expected, got.PublishedAt)
	}
}

func TestConvertChannelPostCaptionFallback(t *testing.T) {
	upd := tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 43,
		Chat:      channelChat(-100123),
		Caption:   "Подпись к фото",
	}}

	got, ok := Convert(upd)
	if !ok {
		t.Fatalf("ожидали конвертацию поста с подписью")
	}
	if got.Text != "Подпись к фото" {
		t.Fatalf("ожидали текст из подписи, получили %q", got.Text)
	}
}

func TestConvertSkipsEmptyPost(t *testing.T) {
	upd := tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 44,
		Chat:      channelChat(-100123),
	}}

	if _, ok := Convert(upd); ok {
		t.Fatalf("пост без текста должен пропускаться")
	}
}

func TestConvertMyChatMember(t *testing.T) {
	cases := map[string]domain.ChannelUpdateKind{
		"administrator": domain.UpdateBotAdded,
		"member":        domain.UpdateBotAdded,
		"left":          domain.UpdateBotRemoved,
		"kicked":        domain.UpdateBotRemoved,
	}
	for status, expected := range cases {
		upd := tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: -100123, Type: "channel"},
			NewChatMember: tgbotapi.ChatMember{Status: status},
		}}
		got, ok := Convert(upd)
		if !ok {
			t.Fatalf("ожидали конвертацию статуса %s", status)
		}
		if got.Kind != expected {
			t.Fatalf("для %s ожидали %s, получили %s", status, expected, got.Kind)
		}
		if got.TGChatID != -100123 {
			t.Fatalf("неожиданный chat id: %d", got.TGChatID)
		}
	}
}

func TestConvertSkipsNonChannelMember(t *testing.T) {
	upd := tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: 555, Type: "private"},
		NewChatMember: tgbotapi.ChatMember{Status: "member"},
	}}
	if _, ok := Convert(upd); ok {
		t.Fatalf("личный чат должен пропускаться")
	}
}

func TestConvertSkipsUnrelatedUpdates(t *testing.T) {
	cases := map[string]tgbotapi.Update{
		"пустой апдейт":    {},
		"личное сообщение": {Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1, Type: "private"}, Text: "привет"}},
		"коллбэк":          {CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb"}},
	}
	for name, upd := range cases {
		if _, ok := Convert(upd); ok {
			t.Fatalf("%s не должен конвертироваться", name)
		}
	}
}
