package blob

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	cipherMetadataKey = "blob-cipher"
	cipherMethod      = "aes-gcm"
)

// cipherBox seals and opens whole payloads with AES-GCM. The nonce is
// prepended to the ciphertext.
type cipherBox struct {
	aead cipher.AEAD
}

func newCipherBox(raw string) (*cipherBox, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("files.encryption_key must be base64: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("files.encryption_key must decode to 16, 24 or 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &cipherBox{aead: aead}, nil
}

func (b *cipherBox) seal(r io.Reader) (io.Reader, int64, map[string]string, error) {
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, nil, err
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, 0, nil, err
	}
	payload := b.aead.Seal(nonce, nonce, plain, nil)
	meta := map[string]string{cipherMetadataKey: cipherMethod}
	return bytes.NewReader(payload), int64(len(plain)), meta, nil
}

func (b *cipherBox) open(r io.Reader) (io.ReadCloser, int64, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	nonceSize := b.aead.NonceSize()
	if len(payload) < nonceSize {
		return nil, 0, errors.New("sealed payload too short")
	}
	plain, err := b.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(plain)), int64(len(plain)), nil
}

func isSealed(meta map[string]string) bool {
	return meta[cipherMetadataKey] == cipherMethod
}
