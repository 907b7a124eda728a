// Package secretbox encrypts user secrets before they reach durable
// storage. AES-CFB with a random IV prepended to the ciphertext,
// base64-encoded for storage in a string attribute.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Box holds the storage encryption key. The key must be 32 bytes
// (hex-encoded in configuration, 64 hex characters).
type Box struct {
	key []byte
}

func New(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode secret encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret encryption key must be 32 bytes, got %d", len(key))
	}
	return &Box{key: key}, nil
}

// Encrypt seals a secret for storage. A nil Box stores it as-is.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if b == nil {
		return plaintext, nil
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	ct := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(ct, []byte(plaintext))
	return base64.StdEncoding.EncodeToString(append(iv, ct...)), nil
}

// Decrypt reverses Encrypt. A nil Box returns the value unchanged.
func (b *Box) Decrypt(encoded string) (string, error) {
	if b == nil {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	pt := make([]byte, len(ct))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(pt, ct)
	return string(pt), nil
}
