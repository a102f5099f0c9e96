package mtproto

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/session"
)

func TestMemorySessionEmpty(t *testing.T) {
	var storage memorySession

	_, err := storage.LoadSession(context.Background())
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("для пустого хранилища ожидали session.ErrNotFound, получили %v", err)
	}
}

func TestMemorySessionRoundTrip(t *testing.T) {
	var storage memorySession
	payload := []byte("session-bytes")

	if err := storage.StoreSession(context.Background(), payload); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := storage.LoadSession(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ожидали %q, получили %q", payload, got)
	}
}

func TestMemorySessionBytesSnapshot(t *testing.T) {
	var storage memorySession
	if err := storage.StoreSession(context.Background(), []byte("first")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	snapshot := storage.Bytes()
	if err := storage.StoreSession(context.Background(), []byte("second")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !bytes.Equal(snapshot, []byte("first")) {
		t.Fatalf("снимок не должен меняться после записи: %q", snapshot)
	}
}
