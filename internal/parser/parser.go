// Package parser содержит варианты парсеров источников и фабрику,
// выбирающую вариант по идентификатору или явному типу.
package parser

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"tg-feed-digest/internal/domain"
)

// FetchOptions параметризует выборку постов.
type FetchOptions struct {
	Limit int
}

// SourceParser — единый интерфейс варианта источника.
// FetchPosts возвращает нормализованные посты, новые первыми.
type SourceParser interface {
	Type() domain.SourceType
	IsValidSource(identifier string) bool
	SourceInfo(ctx context.Context, identifier string) (domain.SourceInfo, error)
	FetchPosts(ctx context.Context, ch domain.Channel, opts FetchOptions) ([]domain.Post, error)
}

// Factory выбирает парсер: явный тип всегда выигрывает, иначе варианты
// опрашиваются в порядке приоритета. Отсутствие совпадения — бизнес-правило,
// а не повод для парсера по умолчанию.
type Factory struct {
	ordered []SourceParser
	byType  map[domain.SourceType]SourceParser
}

// NewFactory создаёт фабрику. Порядок аргументов задаёт приоритет матчинга.
func NewFactory(parsers ...SourceParser) *Factory {
	byType := make(map[domain.SourceType]SourceParser, len(parsers))
	for _, p := range parsers {
		byType[p.Type()] = p
	}
	return &Factory{ordered: parsers, byType: byType}
}

// ByType возвращает парсер для явно указанного типа.
func (f *Factory) ByType(t domain.SourceType) (SourceParser, error) {
	p, ok := f.byType[t]
	if !ok {
		return nil, domain.NewParseError(domain.ParseErrInvalidURL, string(t), domain.ErrUnsupportedSource)
	}
	return p, nil
}

// Resolve подбирает парсер по идентификатору.
func (f *Factory) Resolve(identifier string) (SourceParser, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, domain.NewParseError(domain.ParseErrInvalidURL, identifier, domain.ErrUnsupportedSource)
	}
	for _, p := range f.ordered {
		if p.IsValidSource(trimmed) {
			return p, nil
		}
	}
	return nil, domain.NewParseError(domain.ParseErrInvalidURL, identifier, domain.ErrUnsupportedSource)
}

var telegramHandleRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/(?:s/)?|t\.me/(?:s/)?)?([a-z][a-z0-9_]{4,31})/?$`)

// TelegramHandle извлекает алиас канала из @alias, t.me/alias или t.me/s/alias.
func TelegramHandle(identifier string) string {
	matches := telegramHandleRegex.FindStringSubmatch(strings.TrimSpace(identifier))
	if len(matches) < 2 {
		return ""
	}
	return strings.ToLower(matches[1])
}

var feedMarkers = []string{"/feed", "/rss", "/feeds/", "atom"}

// LooksLikeFeed определяет ленту по типовым маркерам URL.
func LooksLikeFeed(identifier string) bool {
	parsed, err := url.Parse(strings.TrimSpace(identifier))
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	lowered := strings.ToLower(parsed.Path)
	if strings.HasSuffix(lowered, ".xml") {
		return true
	}
	for _, marker := range feedMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
