package parser

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

const publicPreviewBase = "https://t.me"

// PublicTelegram скрейпит неавторизованную превью-страницу t.me/s/<alias>.
type PublicTelegram struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	log     zerolog.Logger
}

// NewPublicTelegram создаёт парсер публичных каналов.
func NewPublicTelegram(logger zerolog.Logger) *PublicTelegram {
	return &PublicTelegram{
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL: publicPreviewBase,
		log:     logger,
	}
}

// Type возвращает дискриминатор варианта.
func (p *PublicTelegram) Type() domain.SourceType { return domain.SourceTypePublicTelegram }

// IsValidSource принимает @alias и ссылки t.me.
func (p *PublicTelegram) IsValidSource(identifier string) bool {
	return TelegramHandle(identifier) != ""
}

// SourceInfo загружает метаданные канала с превью-страницы.
func (p *PublicTelegram) SourceInfo(ctx context.Context, identifier string) (domain.SourceInfo, error) {
	handle := TelegramHandle(identifier)
	if handle == "" {
		return domain.SourceInfo{}, domain.NewParseError(domain.ParseErrInvalidURL, identifier, domain.ErrUnsupportedSource)
	}
	doc, err := p.fetchPreview(ctx, handle)
	if err != nil {
		return domain.SourceInfo{}, err
	}

	info := domain.SourceInfo{
		Name:         strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text()),
		Description:  strings.TrimSpace(doc.Find(".tgme_channel_info_description").First().Text()),
		CanonicalURL: fmt.Sprintf("%s/%s", publicPreviewBase, handle),
	}
	if src, ok := doc.Find(".tgme_page_photo_image img").First().Attr("src"); ok {
		info.ImageURL = src
	}
	if counter := doc.Find(".tgme_channel_info_counter .counter_value").First().Text(); counter != "" {
		info.Subscribers = parseCounter(counter)
	}

	if info.Name == "" {
		// Страница пришла, но блока канала нет: либо канала не существует,
		// либо разметка уехала.
		if doc.Find(".tgme_page").Length() > 0 || doc.Find(".tgme_page_wrap").Length() > 0 {
			return domain.SourceInfo{}, domain.NewParseError(domain.ParseErrSourceNotFound, handle, nil)
		}
		return domain.SourceInfo{}, domain.NewParseError(domain.ParseErrParseFailed, handle, fmt.Errorf("блок канала не найден в разметке"))
	}
	return info, nil
}

// FetchPosts собирает последние сообщения превью-страницы, новые первыми.
func (p *PublicTelegram) FetchPosts(ctx context.Context, ch domain.Channel, opts FetchOptions) ([]domain.Post, error) {
	handle := TelegramHandle(ch.SourceURL)
	if handle == "" {
		return nil, domain.NewParseError(domain.ParseErrInvalidURL, ch.SourceURL, domain.ErrUnsupportedSource)
	}
	doc, err := p.fetchPreview(ctx, handle)
	if err != nil {
		return nil, err
	}

	if doc.Find(".tgme_channel_info").Length() == 0 {
		return nil, domain.NewParseError(domain.ParseErrSourceNotFound, handle, nil)
	}

	var posts []domain.Post
	var drift bool
	doc.Find(".tgme_widget_message").Each(func(_ int, sel *goquery.Selection) {
		dataPost, ok := sel.Attr("data-post")
		if !ok {
			drift = true
			return
		}
		parts := strings.Split(dataPost, "/")
		msgID := parts[len(parts)-1]
		if _, err := strconv.ParseInt(msgID, 10, 64); err != nil {
			drift = true
			return
		}
		text := strings.TrimSpace(sel.Find(".tgme_widget_message_text").First().Text())
		publishedAt := time.Now().UTC()
		if ts, ok := sel.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				publishedAt = parsed.UTC()
			}
		}
		posts = append(posts, domain.Post{
			ChannelID:   ch.ID,
			ExternalID:  msgID,
			Title:       firstLine(text),
			Preview:     clipRunes(text, 300),
			Content:     text,
			URL:         fmt.Sprintf("%s/%s/%s", publicPreviewBase, handle, msgID),
			Author:      handle,
			PublishedAt: publishedAt,
		})
	})

	if len(posts) == 0 && drift {
		return nil, domain.NewParseError(domain.ParseErrParseFailed, handle, fmt.Errorf("сообщения без data-post"))
	}

	// На странице сообщения идут от старых к новым.
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].PublishedAt.After(posts[j].PublishedAt) })
	if opts.Limit > 0 && len(posts) > opts.Limit {
		posts = posts[:opts.Limit]
	}
	return posts, nil
}

func (p *PublicTelegram) fetchPreview(ctx context.Context, handle string) (*goquery.Document, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, domain.NewParseError(domain.ParseErrNetwork, handle, err)
	}
	endpoint := fmt.Sprintf("%s/s/%s", p.baseURL, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrUnknown, handle, err)
	}
	start := time.Now()
	resp, err := p.http.Do(req)
	metrics.ObserveNetworkRequest("telegram_web", "preview", handle, start, err)
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrNetwork, handle, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewParseError(domain.ParseErrSourceNotFound, handle, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		perr := domain.NewParseError(domain.ParseErrRateLimited, handle, nil)
		if wait, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			perr.RetryAfter = time.Duration(wait) * time.Second
		}
		return nil, perr
	case resp.StatusCode >= 400:
		return nil, domain.NewParseError(domain.ParseErrNetwork, handle, fmt.Errorf("status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrParseFailed, handle, err)
	}
	return doc, nil
}

func parseCounter(raw string) int {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	multiplier := 1.0
	switch {
	case strings.HasSuffix(raw, "K"):
		multiplier = 1_000
		raw = strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		multiplier = 1_000_000
		raw = strings.TrimSuffix(raw, "M")
	}
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, ",", ".")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int(value * multiplier)
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	return clipRunes(strings.TrimSpace(text), 200)
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
