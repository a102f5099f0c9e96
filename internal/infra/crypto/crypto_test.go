package crypto

import (
	"bytes"
	"testing"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKeyHex)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	plaintext := []byte("mtproto session blob")
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("не ожидали ошибку шифрования: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatalf("шифротекст не должен содержать открытый текст")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("не ожидали ошибку расшифровки: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("ожидали %q, получили %q", plaintext, got)
	}
}

func TestEncryptUniqueNonce(t *testing.T) {
	enc, err := NewAESEncryptor(testKeyHex)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	first, _ := enc.Encrypt([]byte("payload"))
	second, _ := enc.Encrypt([]byte("payload"))
	if bytes.Equal(first, second) {
		t.Fatalf("повторное шифрование должно давать разный шифротекст")
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	enc, err := NewAESEncryptor(testKeyHex)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	other, err := NewAESEncryptor("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	ciphertext, _ := enc.Encrypt([]byte("секрет"))
	if _, err := other.Decrypt(ciphertext); err == nil {
		t.Fatalf("чужой ключ не должен расшифровывать блоб")
	}
}

func TestDecryptTruncated(t *testing.T) {
	enc, err := NewAESEncryptor(testKeyHex)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := enc.Decrypt([]byte("short")); err == nil {
		t.Fatalf("ожидали ошибку для обрезанного шифротекста")
	}
}

func TestNewAESEncryptorRejectsBadKeys(t *testing.T) {
	cases := map[string]string{
		"не hex":       "zzzz",
		"короткий":     "0001",
		"пустой":       "",
		"длина не 32б": testKeyHex + "00",
	}
	for name, keyHex := range cases {
		if _, err := NewAESEncryptor(keyHex); err == nil {
			t.Fatalf("%s: ожидали ошибку для ключа %q", name, keyHex)
		}
	}
}
