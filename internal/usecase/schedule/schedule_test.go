package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/parser"
	"tg-feed-digest/internal/usecase/ingest"
	"tg-feed-digest/internal/usecase/summarygen"
)

type stubChannelRepo struct {
	channels []domain.Channel
}

func (s *stubChannelRepo) GetChannel(_ context.Context, id int64) (domain.Channel, error) {
	for _, ch := range s.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (s *stubChannelRepo) GetChannelByChatID(context.Context, int64) (domain.Channel, error) {
	return domain.Channel{}, domain.ErrNotFound
}

func (s *stubChannelRepo) ListActiveChannels(context.Context) ([]domain.Channel, error) {
	return s.channels, nil
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

func (s *stubChannelRepo) SetChannelActive(context.Context, int64, bool) error { return nil }

func (s *stubChannelRepo) SetBotAccess(context.Context, int64, bool) error { return nil }

type stubUserRepo struct {
	users []domain.User
}

func (s *stubUserRepo) GetUser(_ context.Context, id int64) (domain.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *stubUserRepo) ListByCadence(context.Context, domain.SummaryCadence) ([]domain.User, error) {
	return s.users, nil
}

type stubPostRepo struct {
	byUser map[int64][]domain.Post
	saved  int
}

func (s *stubPostRepo) UpsertPost(context.Context, domain.Post) (bool, error) {
	s.saved++
	return true, nil
}

func (s *stubPostRepo) ListPostsForPeriod(_ context.Context, userID int64, _, _ time.Time) ([]domain.Post, error) {
	return s.byUser[userID], nil
}

type stubSummaryRepo struct {
	created int
}

func (s *stubSummaryRepo) GetSummaryByPeriod(context.Context, int64, string) (domain.Summary, error) {
	return domain.Summary{}, domain.ErrNotFound
}

func (s *stubSummaryRepo) CreateSummary(_ context.Context, summary domain.Summary) (domain.Summary, error) {
	s.created++
	summary.ID = int64(s.created)
	return summary, nil
}

type stubCache struct{}

func (stubCache) Get(context.Context, string) ([]byte, error) { return nil, domain.ErrNotFound }

func (stubCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (stubCache) IncrWindow(context.Context, string, time.Duration) (int64, error) { return 1, nil }

type stubGenerator struct {
	calls int
}

func (s *stubGenerator) GenerateText(context.Context, string, string) (string, error) {
	s.calls++
	return `{"title":"Т","summary":"С","topics":[]}`, nil
}

// flakyParser падает на одном канале, остальные обслуживает.
type flakyParser struct {
	failChannel int64
}

func (flakyParser) Type() domain.SourceType { return domain.SourceTypePublicTelegram }

func (flakyParser) IsValidSource(string) bool { return true }

func (flakyParser) SourceInfo(context.Context, string) (domain.SourceInfo, error) {
	return domain.SourceInfo{}, nil
}

func (p flakyParser) FetchPosts(_ context.Context, ch domain.Channel, _ parser.FetchOptions) ([]domain.Post, error) {
	if ch.ID == p.failChannel {
		return nil, domain.NewParseError(domain.ParseErrNetwork, ch.SourceURL, errors.New("таймаут"))
	}
	return []domain.Post{{ChannelID: ch.ID, ExternalID: "1", Title: "пост"}}, nil
}

func TestRunFetchAllIsolatesFailures(t *testing.T) {
	channels := &stubChannelRepo{channels: []domain.Channel{
		{ID: 1, SourceType: domain.SourceTypePublicTelegram, IsActive: true},
		{ID: 2, SourceType: domain.SourceTypePublicTelegram, IsActive: true},
		{ID: 3, SourceType: domain.SourceTypePublicTelegram, IsActive: true},
	}}
	posts := &stubPostRepo{}
	ingestor := ingest.NewService(channels, posts, parser.NewFactory(flakyParser{failChannel: 2}), stubCache{}, zerolog.Nop())
	jobs := NewJobs(channels, &stubUserRepo{}, ingestor, nil, 50, zerolog.Nop())

	report, err := jobs.RunFetchAll(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку прогона: %v", err)
	}
	if len(report.Items) != 3 {
		t.Fatalf("ожидали 3 элемента, получили %d", len(report.Items))
	}
	if report.Failed() != 1 || report.Succeeded() != 2 {
		t.Fatalf("ожидали 1 сбой и 2 успеха, получили failed=%d succeeded=%d", report.Failed(), report.Succeeded())
	}
	// Каналы после упавшего всё равно обработаны.
	if posts.saved != 2 {
		t.Fatalf("ожидали 2 сохранённых поста, получили %d", posts.saved)
	}
}

func TestRunDailySummariesSkipsEmptyPeriods(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{
		{ID: 1, Locale: "ru", Cadence: domain.CadenceDaily},
		{ID: 2, Locale: "ru", Cadence: domain.CadenceDaily},
	}}
	posts := &stubPostRepo{byUser: map[int64][]domain.Post{
		1: {{ID: 11, ChannelID: 1, Title: "пост", Content: "текст"}},
		// У пользователя 2 постов нет.
	}}
	summaries := &stubSummaryRepo{}
	gen := &stubGenerator{}
	sumSvc := summarygen.NewService(users, posts, summaries, gen, 100, zerolog.Nop())
	jobs := NewJobs(&stubChannelRepo{}, users, nil, sumSvc, 50, zerolog.Nop())

	report, err := jobs.RunDailySummaries(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку прогона: %v", err)
	}
	if len(report.Items) != 2 {
		t.Fatalf("ожидали 2 элемента, получили %d", len(report.Items))
	}
	// Пустой период — не сбой.
	if report.Failed() != 0 {
		t.Fatalf("не ожидали сбоев, получили %d", report.Failed())
	}
	if summaries.created != 1 {
		t.Fatalf("ожидали одну сводку, получили %d", summaries.created)
	}
	if gen.calls != 1 {
		t.Fatalf("генератор должен вызываться только для непустого периода, вызовов: %d", gen.calls)
	}
}

func TestRunWeeklySummariesReportsJob(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{{ID: 1, Locale: "ru", Cadence: domain.CadenceWeekly}}}
	posts := &stubPostRepo{byUser: map[int64][]domain.Post{1: {{ID: 11, ChannelID: 1, Title: "пост"}}}}
	sumSvc := summarygen.NewService(users, posts, &stubSummaryRepo{}, &stubGenerator{}, 100, zerolog.Nop())
	jobs := NewJobs(&stubChannelRepo{}, users, nil, sumSvc, 50, zerolog.Nop())

	report, err := jobs.RunWeeklySummaries(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку прогона: %v", err)
	}
	if report.Job != "weekly_summaries" {
		t.Fatalf("ожидали job weekly_summaries, получили %s", report.Job)
	}
	if report.RunID == "" {
		t.Fatalf("ожидали идентификатор прогона")
	}
	if report.Failed() != 0 {
		t.Fatalf("не ожидали сбоев, получили %d", report.Failed())
	}
}
