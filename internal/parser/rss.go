package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

const feedUserAgent = "tg-feed-digest/1.0 (+feed fetcher)"

// RSS разбирает RSS/Atom ленты через gofeed.
type RSS struct {
	parser  *gofeed.Parser
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewRSS создаёт парсер лент.
func NewRSS(logger zerolog.Logger) *RSS {
	p := gofeed.NewParser()
	p.UserAgent = feedUserAgent
	p.Client = &http.Client{Timeout: 20 * time.Second}
	return &RSS{
		parser:  p,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Type возвращает дискриминатор варианта.
func (r *RSS) Type() domain.SourceType { return domain.SourceTypeRSS }

// IsValidSource принимает URL с типовыми маркерами лент.
func (r *RSS) IsValidSource(identifier string) bool {
	return LooksLikeFeed(identifier)
}

// SourceInfo загружает заголовок ленты.
func (r *RSS) SourceInfo(ctx context.Context, identifier string) (domain.SourceInfo, error) {
	feed, err := r.fetchFeed(ctx, identifier)
	if err != nil {
		return domain.SourceInfo{}, err
	}
	info := domain.SourceInfo{
		Name:         strings.TrimSpace(feed.Title),
		Description:  strings.TrimSpace(feed.Description),
		CanonicalURL: identifier,
	}
	if feed.Image != nil {
		info.ImageURL = feed.Image.URL
	}
	if info.Name == "" {
		info.Name = identifier
	}
	return info, nil
}

// FetchPosts возвращает записи ленты, новые первыми. Битые записи
// пропускаются: частичный успех предпочтительнее полного отказа.
func (r *RSS) FetchPosts(ctx context.Context, ch domain.Channel, opts FetchOptions) ([]domain.Post, error) {
	feed, err := r.fetchFeed(ctx, ch.SourceURL)
	if err != nil {
		return nil, err
	}

	type entry struct {
		post    domain.Post
		hasDate bool
	}
	entries := make([]entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		post, ok := r.normalizeItem(ch, item)
		if !ok {
			r.log.Debug().Str("feed", ch.SourceURL).Msg("rss: запись без идентификаторов пропущена")
			continue
		}
		entries = append(entries, entry{post: post, hasDate: !post.PublishedAt.IsZero()})
	}

	// Записи с датой сортируются по убыванию, записи без даты стабильной
	// сортировкой уходят в хвост в порядке документа.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].post.PublishedAt.After(entries[j].post.PublishedAt)
	})

	posts := make([]domain.Post, 0, len(entries))
	for _, e := range entries {
		if !e.hasDate {
			// Штамп «сейчас» попадает в БД только при первой вставке:
			// при коллизии published_at не обновляется.
			e.post.PublishedAt = r.now()
		}
		posts = append(posts, e.post)
	}
	if opts.Limit > 0 && len(posts) > opts.Limit {
		posts = posts[:opts.Limit]
	}
	return posts, nil
}

func (r *RSS) normalizeItem(ch domain.Channel, item *gofeed.Item) (domain.Post, bool) {
	content := strings.TrimSpace(item.Content)
	if content == "" {
		content = strings.TrimSpace(item.Description)
	}

	externalID := strings.TrimSpace(item.GUID)
	if externalID == "" {
		externalID = strings.TrimSpace(item.Link)
	}
	if externalID == "" {
		if item.Title == "" && content == "" {
			return domain.Post{}, false
		}
		sum := sha256.Sum256([]byte(item.Title + "\n" + content))
		externalID = hex.EncodeToString(sum[:])
	}

	var publishedAt time.Time
	if item.PublishedParsed != nil {
		publishedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		publishedAt = item.UpdatedParsed.UTC()
	}

	var author string
	if item.Author != nil {
		author = strings.TrimSpace(item.Author.Name)
	}

	return domain.Post{
		ChannelID:   ch.ID,
		ExternalID:  externalID,
		Title:       clipRunes(strings.TrimSpace(item.Title), 200),
		Preview:     clipRunes(stripTags(content), 300),
		Content:     content,
		URL:         strings.TrimSpace(item.Link),
		Author:      author,
		PublishedAt: publishedAt,
	}, true
}

func (r *RSS) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if !LooksLikeFeed(feedURL) {
		return nil, domain.NewParseError(domain.ParseErrInvalidURL, feedURL, domain.ErrUnsupportedSource)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.NewParseError(domain.ParseErrNetwork, feedURL, err)
	}
	start := time.Now()
	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	metrics.ObserveNetworkRequest("rss", "fetch", feedURL, start, err)
	if err != nil {
		return nil, classifyFeedError(feedURL, err)
	}
	return feed, nil
}

func classifyFeedError(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone:
			return domain.NewParseError(domain.ParseErrSourceNotFound, feedURL, err)
		case httpErr.StatusCode == http.StatusForbidden || httpErr.StatusCode == http.StatusUnauthorized:
			return domain.NewParseError(domain.ParseErrAccessDenied, feedURL, err)
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return domain.NewParseError(domain.ParseErrRateLimited, feedURL, err)
		default:
			return domain.NewParseError(domain.ParseErrNetwork, feedURL, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewParseError(domain.ParseErrNetwork, feedURL, err)
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return domain.NewParseError(domain.ParseErrParseFailed, feedURL, err)
	}
	return domain.NewParseError(domain.ParseErrParseFailed, feedURL, fmt.Errorf("разбор ленты: %w", err))
}

var tagReplacer = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n")

func stripTags(content string) string {
	content = tagReplacer.Replace(content)
	var b strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
