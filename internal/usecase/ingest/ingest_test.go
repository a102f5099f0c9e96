package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/parser"
)

type stubChannelRepo struct {
	channels    map[int64]domain.Channel
	deactivated []int64
}

func (s *stubChannelRepo) GetChannel(_ context.Context, id int64) (domain.Channel, error) {
	ch, ok := s.channels[id]
	if !ok {
		return domain.Channel{}, domain.ErrNotFound
	}
	return ch, nil
}

func (s *stubChannelRepo) GetChannelByChatID(context.Context, int64) (domain.Channel, error) {
	return domain.Channel{}, domain.ErrNotFound
}

func (s *stubChannelRepo) ListActiveChannels(context.Context) ([]domain.Channel, error) {
	return nil, nil
}

func (s *stubChannelRepo) ListUserChannels(context.Context, int64, bool) ([]domain.Channel, error) {
	return nil, nil
}

func (s *stubChannelRepo) CreateChannel(_ context.Context, ch domain.Channel) (domain.Channel, error) {
	return ch, nil
}

func (s *stubChannelRepo) UpdateChannelMeta(context.Context, int64, string, string, string) error {
	return nil
}

func (s *stubChannelRepo) SetChannelActive(_ context.Context, id int64, active bool) error {
	if !active {
		s.deactivated = append(s.deactivated, id)
	}
	return nil
}

func (s *stubChannelRepo) SetBotAccess(context.Context, int64, bool) error { return nil }

type stubPostRepo struct {
	seen map[string]bool
}

func newStubPostRepo() *stubPostRepo {
	return &stubPostRepo{seen: map[string]bool{}}
}

func (s *stubPostRepo) UpsertPost(_ context.Context, post domain.Post) (bool, error) {
	key := post.ExternalID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubPostRepo) ListPostsForPeriod(context.Context, int64, time.Time, time.Time) ([]domain.Post, error) {
	return nil, nil
}

type stubCache struct {
	data map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{data: map[string][]byte{}}
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (s *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.data[key] = value
	return nil
}

func (s *stubCache) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

type stubParser struct {
	sourceType domain.SourceType
	posts      []domain.Post
	fetchErr   error
	info       domain.SourceInfo
	infoCalls  int
}

func (s *stubParser) Type() domain.SourceType { return s.sourceType }

func (s *stubParser) IsValidSource(identifier string) bool {
	return parser.TelegramHandle(identifier) != ""
}

func (s *stubParser) SourceInfo(context.Context, string) (domain.SourceInfo, error) {
	s.infoCalls++
	return s.info, nil
}

func (s *stubParser) FetchPosts(context.Context, domain.Channel, parser.FetchOptions) ([]domain.Post, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.posts, nil
}

func testChannel() domain.Channel {
	return domain.Channel{ID: 10, UserID: 7, SourceURL: "t.me/golang_news", SourceType: domain.SourceTypePublicTelegram, IsActive: true}
}

func testService(p *stubParser) (*Service, *stubChannelRepo, *stubPostRepo) {
	channels := &stubChannelRepo{channels: map[int64]domain.Channel{10: testChannel()}}
	posts := newStubPostRepo()
	svc := NewService(channels, posts, parser.NewFactory(p), newStubCache(), zerolog.Nop())
	return svc, channels, posts
}

func TestFetchAndSaveDeduplicates(t *testing.T) {
	p := &stubParser{
		sourceType: domain.SourceTypePublicTelegram,
		posts: []domain.Post{
			{ChannelID: 10, ExternalID: "101", Title: "раз"},
			{ChannelID: 10, ExternalID: "102", Title: "два"},
		},
	}
	svc, _, _ := testService(p)

	added, skipped, err := svc.FetchAndSaveChannelPosts(context.Background(), 10, parser.FetchOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if added != 2 || skipped != 0 {
		t.Fatalf("ожидали added=2 skipped=0, получили %d/%d", added, skipped)
	}

	// Повторная загрузка того же батча: всё уже есть.
	added, skipped, err = svc.FetchAndSaveChannelPosts(context.Background(), 10, parser.FetchOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if added != 0 || skipped != 2 {
		t.Fatalf("ожидали added=0 skipped=2, получили %d/%d", added, skipped)
	}
}

func TestFetchUnknownChannel(t *testing.T) {
	svc, _, _ := testService(&stubParser{sourceType: domain.SourceTypePublicTelegram})

	_, _, err := svc.FetchAndSaveChannelPosts(context.Background(), 999, parser.FetchOptions{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestFetchSourceNotFoundDeactivates(t *testing.T) {
	p := &stubParser{
		sourceType: domain.SourceTypePublicTelegram,
		fetchErr:   domain.NewParseError(domain.ParseErrSourceNotFound, "t.me/golang_news", errors.New("канал удалён")),
	}
	svc, channels, _ := testService(p)

	_, _, err := svc.FetchAndSaveChannelPosts(context.Background(), 10, parser.FetchOptions{})
	if err == nil {
		t.Fatalf("ожидали ошибку загрузки")
	}
	if len(channels.deactivated) != 1 || channels.deactivated[0] != 10 {
		t.Fatalf("ожидали деактивацию канала 10, получили %v", channels.deactivated)
	}
}

func TestFetchTransientErrorKeepsChannelActive(t *testing.T) {
	p := &stubParser{
		sourceType: domain.SourceTypePublicTelegram,
		fetchErr:   domain.NewParseError(domain.ParseErrRateLimited, "t.me/golang_news", errors.New("429")),
	}
	svc, channels, _ := testService(p)

	_, _, err := svc.FetchAndSaveChannelPosts(context.Background(), 10, parser.FetchOptions{})
	if err == nil {
		t.Fatalf("ожидали ошибку загрузки")
	}
	if len(channels.deactivated) != 0 {
		t.Fatalf("временная ошибка не должна деактивировать канал: %v", channels.deactivated)
	}
}

func TestValidateAndGetSourceInfo(t *testing.T) {
	p := &stubParser{
		sourceType: domain.SourceTypePublicTelegram,
		info:       domain.SourceInfo{Name: "Go Новости", Subscribers: 100},
	}
	svc, _, _ := testService(p)

	got, err := svc.ValidateAndGetSourceInfo(context.Background(), "t.me/golang_news")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Type != domain.SourceTypePublicTelegram || got.Info.Name != "Go Новости" {
		t.Fatalf("неожиданный результат: %+v", got)
	}

	// Повтор уходит в кэш, парсер не дёргается.
	if _, err := svc.ValidateAndGetSourceInfo(context.Background(), "t.me/golang_news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if p.infoCalls != 1 {
		t.Fatalf("ожидали один вызов SourceInfo, получили %d", p.infoCalls)
	}
}

func TestValidateRejectsUnsupported(t *testing.T) {
	svc, _, _ := testService(&stubParser{sourceType: domain.SourceTypePublicTelegram})

	for _, input := range []string{"", "   ", "https://example.com"} {
		_, err := svc.ValidateAndGetSourceInfo(context.Background(), input)
		if !errors.Is(err, domain.ErrUnsupportedSource) {
			t.Fatalf("для %q ожидали ErrUnsupportedSource, получили %v", input, err)
		}
	}
}
