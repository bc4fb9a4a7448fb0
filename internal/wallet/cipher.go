package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCipherSecretEmpty = errors.New("wallet: key encryption secret is empty")
	ErrCiphertextInvalid = errors.New("wallet: ciphertext invalid")
)

// KeyCipher 一次性地址私钥的对称加密器（XChaCha20-Poly1305）
type KeyCipher struct {
	aeadKey [chacha20poly1305.KeySize]byte
}

// NewKeyCipher 从进程级密钥口令派生加密器
func NewKeyCipher(secret string) (*KeyCipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrCipherSecretEmpty
	}
	c := &KeyCipher{}
	c.aeadKey = sha256.Sum256([]byte(secret))
	return c, nil
}

// Encrypt 加密私钥明文，输出 base64(nonce || ciphertext)
func (c *KeyCipher) Encrypt(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.aeadKey[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("wallet: nonce generation failed: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出
func (c *KeyCipher) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, ErrCiphertextInvalid
	}
	aead, err := chacha20poly1305.NewX(c.aeadKey[:])
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	return plaintext, nil
}
