// Package repo реализует репозитории домена поверх pgxpool.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

// Postgres реализует все репозитории домена.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo    = (*Postgres)(nil)
	_ domain.ChannelRepo = (*Postgres)(nil)
	_ domain.PostRepo    = (*Postgres)(nil)
	_ domain.SummaryRepo = (*Postgres)(nil)
	_ domain.SessionRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tg_user_id, locale, cadence, created_at, updated_at
FROM users WHERE id = $1
`, id).Scan(&user.ID, &user.TGUserID, &user.Locale, &user.Cadence, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return user, err
}

// ListByCadence возвращает пользователей с заданной каденцией сводок,
// у которых есть хотя бы один активный канал.
func (p *Postgres) ListByCadence(ctx context.Context, cadence domain.SummaryCadence) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT u.id, u.tg_user_id, u.locale, u.cadence, u.created_at, u.updated_at
FROM users u
JOIN channels c ON c.user_id = u.id AND c.is_active
WHERE u.cadence = $1
ORDER BY u.id
`, cadence)
	metrics.ObserveNetworkRequest("postgres", "users_by_cadence", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.TGUserID, &user.Locale, &user.Cadence, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

const channelColumns = `id, user_id, source_url, source_type, name, description, image_url, is_active, tg_chat_id, bot_has_access, access_hash_enc, created_at`

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var ch domain.Channel
	err := row.Scan(&ch.ID, &ch.UserID, &ch.SourceURL, &ch.SourceType, &ch.Name, &ch.Description, &ch.ImageURL, &ch.IsActive, &ch.TGChatID, &ch.BotHasAccess, &ch.AccessHashEnc, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, domain.ErrNotFound
	}
	return ch, err
}

// GetChannel реализует domain.ChannelRepo.
func (p *Postgres) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "channels_get", "channels", start, err)
	return ch, err
}

// GetChannelByChatID находит канал по числовому идентификатору чата Telegram.
func (p *Postgres) GetChannelByChatID(ctx context.Context, tgChatID int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE tg_chat_id = $1`, tgChatID))
	metrics.ObserveNetworkRequest("postgres", "channels_get_by_chat", "channels", start, err)
	return ch, err
}

func (p *Postgres) queryChannels(ctx context.Context, operation, query string, args ...any) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ListActiveChannels возвращает все активные каналы для батч-загрузки.
func (p *Postgres) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	return p.queryChannels(ctx, "channels_list_active",
		`SELECT `+channelColumns+` FROM channels WHERE is_active ORDER BY id`)
}

// ListUserChannels возвращает каналы пользователя.
func (p *Postgres) ListUserChannels(ctx context.Context, userID int64, onlyActive bool) ([]domain.Channel, error) {
	return p.queryChannels(ctx, "channels_list_user",
		`SELECT `+channelColumns+` FROM channels WHERE user_id = $1 AND (NOT $2 OR is_active) ORDER BY id`,
		userID, onlyActive)
}

// CreateChannel сохраняет новый канал. Дубль по (user_id, source_url)
// возвращается как ErrAlreadyExists.
func (p *Postgres) CreateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO channels (user_id, source_url, source_type, name, description, image_url, is_active, tg_chat_id, bot_has_access, access_hash_enc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, created_at
`, ch.UserID, ch.SourceURL, ch.SourceType, ch.Name, ch.Description, ch.ImageURL, ch.IsActive, ch.TGChatID, ch.BotHasAccess, ch.AccessHashEnc).Scan(&ch.ID, &ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_insert", "channels", start, err)
	if isUniqueViolation(err) {
		return domain.Channel{}, domain.ErrAlreadyExists
	}
	return ch, err
}

// UpdateChannelMeta обновляет отображаемые метаданные канала.
func (p *Postgres) UpdateChannelMeta(ctx context.Context, id int64, name, description, imageURL string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE channels SET name = $2, description = $3, image_url = $4 WHERE id = $1
`, id, name, description, imageURL)
	metrics.ObserveNetworkRequest("postgres", "channels_update_meta", "channels", start, err)
	return err
}

// SetChannelActive переключает активность канала.
func (p *Postgres) SetChannelActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE channels SET is_active = $2 WHERE id = $1`, id, active)
	metrics.ObserveNetworkRequest("postgres", "channels_set_active", "channels", start, err)
	return err
}

// SetBotAccess переключает флаг членства бота по идентификатору чата.
func (p *Postgres) SetBotAccess(ctx context.Context, tgChatID int64, hasAccess bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE channels SET bot_has_access = $2 WHERE tg_chat_id = $1`, tgChatID, hasAccess)
	metrics.ObserveNetworkRequest("postgres", "channels_set_bot_access", "channels", start, err)
	return err
}

// UpsertPost реализует domain.PostRepo. Ключ (channel_id, external_id);
// при коллизии обновляются только изменяемые поля — identity
// и published_at после создания не трогаются.
func (p *Postgres) UpsertPost(ctx context.Context, post domain.Post) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var created bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO posts (channel_id, external_id, title, preview, content, url, author, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (channel_id, external_id) DO UPDATE SET
	title = EXCLUDED.title,
	preview = EXCLUDED.preview,
	content = EXCLUDED.content,
	url = EXCLUDED.url,
	author = EXCLUDED.author
RETURNING (xmax = 0) AS inserted
`, post.ChannelID, post.ExternalID, post.Title, post.Preview, post.Content, post.URL, post.Author, post.PublishedAt).Scan(&created)
	metrics.ObserveNetworkRequest("postgres", "posts_upsert", "posts", start, err)
	return created, err
}

// ListPostsForPeriod возвращает посты активных каналов пользователя
// в окне периода, старые первыми — порядок попадает в промпт.
func (p *Postgres) ListPostsForPeriod(ctx context.Context, userID int64, from, to time.Time) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT p.id, p.channel_id, p.external_id, p.title, p.preview, p.content, p.url, p.author, p.published_at, p.created_at, c.name
FROM posts p
JOIN channels c ON c.id = p.channel_id
WHERE c.user_id = $1 AND c.is_active AND p.published_at >= $2 AND p.published_at <= $3
ORDER BY p.published_at
`, userID, from, to)
	metrics.ObserveNetworkRequest("postgres", "posts_for_period", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		if err := rows.Scan(&post.ID, &post.ChannelID, &post.ExternalID, &post.Title, &post.Preview, &post.Content, &post.URL, &post.Author, &post.PublishedAt, &post.CreatedAt, &post.ChannelName); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// GetSummaryByPeriod реализует domain.SummaryRepo.
func (p *Postgres) GetSummaryByPeriod(ctx context.Context, userID int64, period string) (domain.Summary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var summary domain.Summary
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, period, title, content, topics, post_ids, created_at
FROM summaries WHERE user_id = $1 AND period = $2
`, userID, period).Scan(&summary.ID, &summary.UserID, &summary.Period, &summary.Title, &summary.Content, &summary.Topics, &summary.PostIDs, &summary.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "summaries_get", "summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Summary{}, domain.ErrNotFound
	}
	return summary, err
}

// CreateSummary вставляет сводку. Гонку по ключу (user_id, period)
// проигравший получает как ErrAlreadyExists и перечитывает запись.
func (p *Postgres) CreateSummary(ctx context.Context, summary domain.Summary) (domain.Summary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO summaries (user_id, period, title, content, topics, post_ids)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at
`, summary.UserID, summary.Period, summary.Title, summary.Content, summary.Topics, summary.PostIDs).Scan(&summary.ID, &summary.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "summaries_insert", "summaries", start, err)
	if isUniqueViolation(err) {
		return domain.Summary{}, domain.ErrAlreadyExists
	}
	return summary, err
}

// GetSession реализует domain.SessionRepo.
func (p *Postgres) GetSession(ctx context.Context, userID int64) (domain.Session, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var session domain.Session
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, session_enc, phone_enc, is_active, last_used_at, created_at, updated_at
FROM sessions WHERE user_id = $1
`, userID).Scan(&session.UserID, &session.SessionEnc, &session.PhoneEnc, &session.IsActive, &session.LastUsedAt, &session.CreatedAt, &session.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "sessions_get", "sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, err
}

// SaveSession сохраняет сессию, перезаписывая прежнюю: связь 1:1.
func (p *Postgres) SaveSession(ctx context.Context, session domain.Session) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO sessions (user_id, session_enc, phone_enc, is_active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
	session_enc = EXCLUDED.session_enc,
	phone_enc = EXCLUDED.phone_enc,
	is_active = EXCLUDED.is_active,
	updated_at = now()
`, session.UserID, session.SessionEnc, session.PhoneEnc, session.IsActive)
	metrics.ObserveNetworkRequest("postgres", "sessions_upsert", "sessions", start, err)
	return err
}

// SetSessionActive переключает активность сессии.
func (p *Postgres) SetSessionActive(ctx context.Context, userID int64, active bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE sessions SET is_active = $2, updated_at = now() WHERE user_id = $1
`, userID, active)
	metrics.ObserveNetworkRequest("postgres", "sessions_set_active", "sessions", start, err)
	return err
}

// TouchSession обновляет отметку последнего использования.
func (p *Postgres) TouchSession(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE sessions SET last_used_at = now(), updated_at = now() WHERE user_id = $1
`, userID)
	metrics.ObserveNetworkRequest("postgres", "sessions_touch", "sessions", start, err)
	return err
}
