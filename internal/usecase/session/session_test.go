package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
)

type stubSessionRepo struct {
	sessions map[int64]domain.Session
	touched  int
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: map[int64]domain.Session{}}
}

func (s *stubSessionRepo) GetSession(_ context.Context, userID int64) (domain.Session, error) {
	sess, ok := s.sessions[userID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *stubSessionRepo) SaveSession(_ context.Context, session domain.Session) error {
	s.sessions[session.UserID] = session
	return nil
}

func (s *stubSessionRepo) SetSessionActive(_ context.Context, userID int64, active bool) error {
	sess, ok := s.sessions[userID]
	if !ok {
		return domain.ErrNotFound
	}
	sess.IsActive = active
	s.sessions[userID] = sess
	return nil
}

func (s *stubSessionRepo) TouchSession(context.Context, int64) error {
	s.touched++
	return nil
}

type stubChannelRepo struct {
	userChannels []domain.Channel
	created      []domain.Channel
}

func (s *stubChannelRepo) GetChannel(context.Context, int64) (domain.Channel, error) {
	return domain.Channel{}, domain.ErrNotFound
}

func (s *stubChannelRepo) GetChannelByChatID(context.Context, int64) (domain.Channel, error) {
	return domain.Channel{}, domain.ErrNotFound
}

func (s *stubChannelRepo) ListActiveChannels(context.Context) ([]domain.Channel, error) {
	return nil, nil
}

func (s *stubChannelRepo) ListUserChannels(context.Context, int64, bool) ([]domain.Channel, error) {
	return s.userChannels, nil
}

func (s *stubChannelRepo) CreateChannel(_ context.Context, ch domain.Channel) (domain.Channel, error) {
	ch.ID = int64(len(s.created) + 1)
	s.created = append(s.created, ch)
	return ch, nil
}

func (s *stubChannelRepo) UpdateChannelMeta(context.Context, int64, string, string, string) error {
	return nil
}

func (s *stubChannelRepo) SetChannelActive(context.Context, int64, bool) error { return nil }

func (s *stubChannelRepo) SetBotAccess(context.Context, int64, bool) error { return nil }

type stubGateway struct {
	needs2FA    bool
	dialogs     []domain.TrackedDialog
	dialogsErr  error
	logOutErr   error
	logOutCalls int
	signInCalls int
}

func (s *stubGateway) SendCode(context.Context, string) (string, []byte, error) {
	return "hash-1", []byte("transient-state"), nil
}

func (s *stubGateway) SignIn(_ context.Context, transient []byte, _, _, _, password string) ([]byte, error) {
	s.signInCalls++
	if !bytes.Equal(transient, []byte("transient-state")) {
		return nil, errors.New("транзитное состояние повреждено")
	}
	if s.needs2FA && password == "" {
		return nil, domain.ErrNeeds2FA
	}
	return []byte("authorized-session"), nil
}

func (s *stubGateway) ListChannelDialogs(context.Context, []byte) ([]domain.TrackedDialog, error) {
	if s.dialogsErr != nil {
		return nil, s.dialogsErr
	}
	return s.dialogs, nil
}

func (s *stubGateway) ChannelHistory(context.Context, []byte, int64, int64, int) ([]domain.ChannelMessage, error) {
	return nil, nil
}

func (s *stubGateway) LogOut(context.Context, []byte) error {
	s.logOutCalls++
	return s.logOutErr
}

// stubEncryptor помечает шифротекст префиксом, чтобы отличать его от
// открытого текста в проверках.
type stubEncryptor struct{}

func (stubEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	return append([]byte("enc:"), plaintext...), nil
}

func (stubEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, []byte("enc:")) {
		return nil, errors.New("блоб не расшифровывается")
	}
	return ciphertext[4:], nil
}

type stubCache struct {
	counter int64
}

func (s *stubCache) Get(context.Context, string) ([]byte, error) { return nil, domain.ErrNotFound }

func (s *stubCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (s *stubCache) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	s.counter++
	return s.counter, nil
}

func testService(gw *stubGateway) (*Service, *stubSessionRepo, *stubChannelRepo, *stubCache) {
	sessions := newStubSessionRepo()
	channels := &stubChannelRepo{}
	cache := &stubCache{}
	svc := NewService(sessions, channels, gw, stubEncryptor{}, cache, 3, zerolog.Nop())
	return svc, sessions, channels, cache
}

func activeSession(userID int64) domain.Session {
	return domain.Session{
		UserID:     userID,
		SessionEnc: []byte("enc:authorized-session"),
		PhoneEnc:   []byte("enc:+70000000000"),
		IsActive:   true,
	}
}

func TestSendAuthCode(t *testing.T) {
	svc, _, _, _ := testService(&stubGateway{})

	sent, err := svc.SendAuthCode(context.Background(), 7, "+70000000000")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sent.CodeHash != "hash-1" {
		t.Fatalf("ожидали code hash от шлюза, получили %q", sent.CodeHash)
	}
	if !bytes.HasPrefix(sent.Handle, []byte("enc:")) {
		t.Fatalf("транзитный блоб должен быть зашифрован")
	}
}

func TestSendAuthCodeRateLimited(t *testing.T) {
	svc, _, _, cache := testService(&stubGateway{})
	cache.counter = 3 // лимит уже исчерпан

	_, err := svc.SendAuthCode(context.Background(), 7, "+70000000000")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
}

func TestSignInReturnsHandleWithoutPersisting(t *testing.T) {
	gw := &stubGateway{}
	svc, sessions, _, _ := testService(gw)

	handle, err := svc.SignIn(context.Background(), []byte("enc:transient-state"), "+70000000000", "12345", "hash-1", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !bytes.Equal(handle, []byte("enc:authorized-session")) {
		t.Fatalf("ожидали зашифрованную сессию, получили %q", handle)
	}
	if len(sessions.sessions) != 0 {
		t.Fatalf("SignIn не должен сохранять сессию")
	}
}

func TestSignInNeeds2FA(t *testing.T) {
	gw := &stubGateway{needs2FA: true}
	svc, sessions, _, _ := testService(gw)

	_, err := svc.SignIn(context.Background(), []byte("enc:transient-state"), "+70000000000", "12345", "hash-1", "")
	if !errors.Is(err, domain.ErrNeeds2FA) {
		t.Fatalf("ожидали ErrNeeds2FA, получили %v", err)
	}
	if len(sessions.sessions) != 0 {
		t.Fatalf("требование пароля не должно ничего сохранять")
	}

	// Повтор с паролем и тем же handle завершает вход.
	handle, err := svc.SignIn(context.Background(), []byte("enc:transient-state"), "+70000000000", "12345", "hash-1", "cloud-pass")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(handle) == 0 {
		t.Fatalf("ожидали handle сессии")
	}
}

func TestSignInRejectsForeignHandle(t *testing.T) {
	svc, _, _, _ := testService(&stubGateway{})

	if _, err := svc.SignIn(context.Background(), []byte("мусор"), "+70000000000", "12345", "hash-1", ""); err == nil {
		t.Fatalf("ожидали отказ для постороннего блоба")
	}
}

func TestSaveSession(t *testing.T) {
	svc, sessions, _, _ := testService(&stubGateway{})

	if err := svc.SaveSession(context.Background(), 7, []byte("enc:authorized-session"), "+70000000000"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	saved, ok := sessions.sessions[7]
	if !ok || !saved.IsActive {
		t.Fatalf("ожидали активную сохранённую сессию: %+v", saved)
	}
	if !bytes.HasPrefix(saved.PhoneEnc, []byte("enc:")) {
		t.Fatalf("телефон должен храниться зашифрованным")
	}

	if err := svc.SaveSession(context.Background(), 7, []byte("битый блоб"), "+70000000000"); err == nil {
		t.Fatalf("битый handle не должен попасть в БД")
	}
}

func TestListChannelsMarksTracked(t *testing.T) {
	gw := &stubGateway{dialogs: []domain.TrackedDialog{
		{TGChatID: -100123, Title: "Первый", Username: "first"},
		{TGChatID: -100456, Title: "Второй"},
	}}
	svc, sessions, channels, _ := testService(gw)
	sessions.sessions[7] = activeSession(7)
	channels.userChannels = []domain.Channel{{ID: 1, UserID: 7, TGChatID: -100456}}

	dialogs, err := svc.ListChannels(context.Background(), 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(dialogs) != 2 {
		t.Fatalf("ожидали 2 диалога, получили %d", len(dialogs))
	}
	if dialogs[0].Tracked || !dialogs[1].Tracked {
		t.Fatalf("ожидали пометку только второго диалога: %+v", dialogs)
	}
	if sessions.touched != 1 {
		t.Fatalf("ожидали обновление last_used_at")
	}
}

func TestListChannelsWithoutSession(t *testing.T) {
	svc, _, _, _ := testService(&stubGateway{})

	_, err := svc.ListChannels(context.Background(), 7)
	if !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("ожидали ErrNoActiveSession, получили %v", err)
	}
}

func TestListChannelsExpiredSessionDeactivates(t *testing.T) {
	gw := &stubGateway{dialogsErr: domain.ErrSessionExpired}
	svc, sessions, _, _ := testService(gw)
	sessions.sessions[7] = activeSession(7)

	_, err := svc.ListChannels(context.Background(), 7)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("ожидали ErrSessionExpired, получили %v", err)
	}
	if sessions.sessions[7].IsActive {
		t.Fatalf("отозванная сессия должна стать неактивной")
	}
}

func TestTrackDialog(t *testing.T) {
	svc, sessions, channels, _ := testService(&stubGateway{})
	sessions.sessions[7] = activeSession(7)

	ch, err := svc.TrackDialog(context.Background(), 7, domain.TrackedDialog{
		TGChatID: -100123,
		Title:    "Приватный",
		Username: "private_news",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ch.SourceType != domain.SourceTypeDirectTelegram {
		t.Fatalf("ожидали direct_telegram, получили %s", ch.SourceType)
	}
	if ch.SourceURL != "https://t.me/private_news" {
		t.Fatalf("неожиданный source_url: %s", ch.SourceURL)
	}
	if !bytes.HasPrefix(ch.AccessHashEnc, []byte("enc:")) {
		t.Fatalf("access hash должен храниться зашифрованным")
	}
	if len(channels.created) != 1 {
		t.Fatalf("ожидали создание одного канала")
	}
}

func TestTrackDialogWithoutUsername(t *testing.T) {
	svc, sessions, _, _ := testService(&stubGateway{})
	sessions.sessions[7] = activeSession(7)

	ch, err := svc.TrackDialog(context.Background(), 7, domain.TrackedDialog{TGChatID: -100123, Title: "Без алиаса"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ch.SourceURL != "tg://channel/-100123" {
		t.Fatalf("ожидали tg://-идентификатор, получили %s", ch.SourceURL)
	}
}

func TestDisconnect(t *testing.T) {
	gw := &stubGateway{}
	svc, sessions, _, _ := testService(gw)
	sessions.sessions[7] = activeSession(7)

	if err := svc.Disconnect(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gw.logOutCalls != 1 {
		t.Fatalf("ожидали удалённый выход")
	}
	if sessions.sessions[7].IsActive {
		t.Fatalf("сессия должна стать неактивной")
	}
}

func TestDisconnectSurvivesRemoteFailure(t *testing.T) {
	gw := &stubGateway{logOutErr: errors.New("сеть недоступна")}
	svc, sessions, _, _ := testService(gw)
	sessions.sessions[7] = activeSession(7)

	if err := svc.Disconnect(context.Background(), 7); err != nil {
		t.Fatalf("локальная деактивация не должна зависеть от удалённого выхода: %v", err)
	}
	if sessions.sessions[7].IsActive {
		t.Fatalf("сессия должна стать неактивной")
	}
}
