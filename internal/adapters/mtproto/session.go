package mtproto

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// memorySession держит байты сессии gotd в памяти на время одного вызова
// шлюза. Персистентность обеспечивает вызывающая сторона: зашифрованный
// блоб живёт в БД, сюда он попадает уже расшифрованным.
type memorySession struct {
	mu   sync.Mutex
	data []byte
}

// LoadSession отдаёт текущие байты сессии.
func (s *memorySession) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return s.data, nil
}

// StoreSession принимает обновлённые байты от клиента gotd.
func (s *memorySession) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// Bytes возвращает снимок сессии после завершения Run.
func (s *memorySession) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

var _ session.Storage = (*memorySession)(nil)
