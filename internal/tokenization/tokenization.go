/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tokenization protects platform credentials at rest and verifies the
// HMAC signatures commerce platforms attach to webhooks and OAuth redirects.
package tokenization

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// tokenPrefix marks values produced by Encrypt so plaintext never round-trips by accident.
const tokenPrefix = "enc:v1:"

var (
	ErrInvalidKey   = errors.New("encryption key must be 16, 24 or 32 bytes")
	ErrInvalidToken = errors.New("invalid encrypted token")
)

// TokenizationService seals secrets with AES-GCM under one key.
type TokenizationService struct {
	aead cipher.AEAD
}

func NewTokenizationService(encryptionKey []byte) (*TokenizationService, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenizationService{aead: gcm}, nil
}

// Encrypt returns "enc:v1:" followed by base64(nonce || ciphertext).
func (s *TokenizationService) Encrypt(value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return tokenPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *TokenizationService) Decrypt(token string) (string, error) {
	encoded, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", ErrInvalidToken
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: token too short", ErrInvalidToken)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return string(plaintext), nil
}

// Mask keeps the last four characters of a secret for logs.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
