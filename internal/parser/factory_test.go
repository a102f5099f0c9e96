package parser

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
)

func testFactory() *Factory {
	logger := zerolog.Nop()
	return NewFactory(
		NewPublicTelegram(logger),
		NewRSS(logger),
	)
}

func TestResolveRouting(t *testing.T) {
	factory := testFactory()
	cases := map[string]domain.SourceType{
		"https://t.me/example":         domain.SourceTypePublicTelegram,
		"t.me/s/golang_news":           domain.SourceTypePublicTelegram,
		"@example":                     domain.SourceTypePublicTelegram,
		"https://example.com/feed.xml": domain.SourceTypeRSS,
		"https://example.com/rss":      domain.SourceTypeRSS,
		"https://example.com/feeds/a":  domain.SourceTypeRSS,
	}
	for input, expected := range cases {
		p, err := factory.Resolve(input)
		if err != nil {
			t.Fatalf("не ожидали ошибку для %s: %v", input, err)
		}
		if p.Type() != expected {
			t.Fatalf("для %s ожидали %s, получили %s", input, expected, p.Type())
		}
	}
}

func TestResolveRejectsUnsupported(t *testing.T) {
	factory := testFactory()
	for _, input := range []string{"https://example.com", "просто текст", ""} {
		_, err := factory.Resolve(input)
		if err == nil {
			t.Fatalf("ожидали отказ для %q", input)
		}
		if !errors.Is(err, domain.ErrUnsupportedSource) {
			t.Fatalf("ожидали ErrUnsupportedSource, получили %v", err)
		}
	}
}

func TestByTypeExplicitWins(t *testing.T) {
	factory := testFactory()
	p, err := factory.ByType(domain.SourceTypeRSS)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if p.Type() != domain.SourceTypeRSS {
		t.Fatalf("ожидали rss, получили %s", p.Type())
	}
	if _, err := factory.ByType(domain.SourceTypeDirectTelegram); err == nil {
		t.Fatalf("ожидали ошибку для незарегистрированного типа")
	}
}

func TestTelegramHandle(t *testing.T) {
	cases := map[string]string{
		"@golang_news":               "golang_news",
		"https://t.me/golang_news":   "golang_news",
		"https://t.me/s/golang_news": "golang_news",
		"t.me/golang_news/":          "golang_news",
		"golang_news":                "golang_news",
		"https://example.com/feed":   "",
		"@ab":                        "",
	}
	for input, expected := range cases {
		if got := TelegramHandle(input); got != expected {
			t.Fatalf("для %q ожидали %q, получили %q", input, expected, got)
		}
	}
}
