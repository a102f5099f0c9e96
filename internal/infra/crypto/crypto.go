package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// AESEncryptor шифрует блобы AES-256-GCM. Нонс хранится префиксом шифротекста.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor создаёт шифратор из hex-ключа (32 байта).
func NewAESEncryptor(keyHex string) (*AESEncryptor, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("ключ шифрования не hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ожидается 32-байтный ключ, получено %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESEncryptor{aead: aead}, nil
}

// Encrypt шифрует блоб.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt расшифровывает блоб.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < e.aead.NonceSize() {
		return nil, errors.New("шифротекст короче нонса")
	}
	nonce := ciphertext[:e.aead.NonceSize()]
	return e.aead.Open(nil, nonce, ciphertext[e.aead.NonceSize():], nil)
}
