// Package summarygen собирает дайджест постов пользователя за период
// и отдаёт его генеративному сервису. Генерация идемпотентна по ключу
// (user_id, period): повторный вызов возвращает сохранённый результат.
package summarygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
	"tg-feed-digest/internal/usecase/topics"
)

// Service строит и сохраняет дайджесты.
type Service struct {
	users     domain.UserRepo
	posts     domain.PostRepo
	summaries domain.SummaryRepo
	generator domain.TextGenerator
	maxPosts  int
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт генератор дайджестов.
func NewService(users domain.UserRepo, posts domain.PostRepo, summaries domain.SummaryRepo, generator domain.TextGenerator, maxPosts int, logger zerolog.Logger) *Service {
	if maxPosts <= 0 {
		maxPosts = 100
	}
	return &Service{
		users:     users,
		posts:     posts,
		summaries: summaries,
		generator: generator,
		maxPosts:  maxPosts,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DailyPeriodKey возвращает ключ дневного периода: daily-2006-01-02.
func DailyPeriodKey(t time.Time) string {
	return "daily-" + t.UTC().Format("2006-01-02")
}

// WeeklyPeriodKey возвращает ключ недельного периода по ISO-неделе:
// weekly-2024-W05.
func WeeklyPeriodKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("weekly-%d-W%02d", year, week)
}

// periodWindow вычисляет ключ и окно выборки постов для каденции.
func (s *Service) periodWindow(cadence domain.SummaryCadence) (key string, from, to time.Time, err error) {
	now := s.now()
	switch cadence {
	case domain.CadenceDaily:
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return DailyPeriodKey(now), from, now, nil
	case domain.CadenceWeekly:
		return WeeklyPeriodKey(now), now.Add(-7 * 24 * time.Hour), now, nil
	default:
		return "", time.Time{}, time.Time{}, fmt.Errorf("неподдерживаемая каденция: %s", cadence)
	}
}

// generated — структура ответа модели.
type generated struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Generate возвращает дайджест пользователя за текущий период, создавая
// его при отсутствии. Пустой период — ошибка ErrNoContent, в БД при этом
// ничего не пишется. Сбой генерации не ретраится на месте: решение
// за вызывающей стороной.
func (s *Service) Generate(ctx context.Context, userID int64, cadence domain.SummaryCadence) (domain.Summary, error) {
	period, from, to, err := s.periodWindow(cadence)
	if err != nil {
		return domain.Summary{}, err
	}

	if existing, err := s.summaries.GetSummaryByPeriod(ctx, userID, period); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Summary{}, fmt.Errorf("поиск дайджеста: %w", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("получение пользователя: %w", err)
	}

	posts, err := s.posts.ListPostsForPeriod(ctx, userID, from, to)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("выборка постов: %w", err)
	}
	if len(posts) == 0 {
		return domain.Summary{}, domain.ErrNoContent
	}
	if len(posts) > s.maxPosts {
		posts = posts[:s.maxPosts]
	}

	start := time.Now()
	raw, err := s.generator.GenerateText(ctx, buildPrompt(posts), user.Locale)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("генерация дайджеста: %w", err)
	}
	metrics.SummaryBuildSeconds.Observe(time.Since(start).Seconds())

	parsed := parseGenerated(raw)
	if parsed.Summary == "" {
		return domain.Summary{}, fmt.Errorf("генерация дайджеста: пустое содержимое в ответе модели")
	}
	topicList := normalizeTopics(parsed.Topics)
	if len(topicList) == 0 {
		// Модель не вернула тем: размечаем исходный корпус сами.
		topicList = topics.Extract(joinPostText(posts))
	}
	title := parsed.Title
	if title == "" {
		title = defaultTitle(cadence, s.now())
	}

	summary := domain.Summary{
		UserID:  userID,
		Period:  period,
		Title:   title,
		Content: parsed.Summary,
		Topics:  topicList,
		PostIDs: lo.Map(posts, func(p domain.Post, _ int) int64 { return p.ID }),
	}
	saved, err := s.summaries.CreateSummary(ctx, summary)
	if err != nil {
		// Параллельный запуск мог успеть первым: ключ (user_id, period)
		// уникален, возвращаем выигравшую запись.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.summaries.GetSummaryByPeriod(ctx, userID, period)
		}
		return domain.Summary{}, fmt.Errorf("сохранение дайджеста: %w", err)
	}
	s.log.Info().Int64("user", userID).Str("period", period).Int("posts", len(posts)).Msg("summarygen: дайджест создан")
	return saved, nil
}

// buildPrompt собирает единственный запрос к модели: нумерованные посты
// с источником и ссылкой плюс требуемый формат ответа.
func buildPrompt(posts []domain.Post) string {
	var b strings.Builder
	b.WriteString("Составь дайджест по постам ниже.\n")
	b.WriteString(`Верни JSON формата {"title": "...", "summary": "...", "topics": ["..."]} без пояснений.`)
	b.WriteString("\nПосты:\n")
	for i, p := range posts {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, clipRunes(p.Title, 200)))
		if content := strings.TrimSpace(p.Content); content != "" {
			b.WriteString(clipRunes(content, 600))
			b.WriteString("\n")
		}
		if p.ChannelName != "" {
			b.WriteString("Источник: " + p.ChannelName + "\n")
		}
		if p.URL != "" {
			b.WriteString("Ссылка: " + p.URL + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseGenerated(raw string) generated {
	var out generated
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Ответ не распарсился как JSON: принимаем сырой текст как прозу,
		// темы извлечёт словарь.
		return generated{Summary: strings.TrimSpace(raw)}
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	return out
}

func normalizeTopics(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if !topics.IsKnown(t) {
			continue
		}
		name := topics.Normalize(t)
		if !lo.Contains(out, name) {
			out = append(out, name)
		}
	}
	if len(out) > topics.MaxTopics {
		out = out[:topics.MaxTopics]
	}
	return out
}

func joinPostText(posts []domain.Post) string {
	var b strings.Builder
	for _, p := range posts {
		b.WriteString(p.Title)
		b.WriteString("\n")
		b.WriteString(p.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func defaultTitle(cadence domain.SummaryCadence, now time.Time) string {
	if cadence == domain.CadenceWeekly {
		return "Дайджест за неделю " + now.Format("02.01.2006")
	}
	return "Дайджест за " + now.Format("02.01.2006")
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
