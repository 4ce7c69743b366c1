// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// secretKeyEnv names the environment variable holding the key material
// for encrypted provider credentials.
const secretKeyEnv = "AMUX_SECRET_KEY"

// encPrefix marks a stored credential as AES-256-GCM encrypted:
// enc:base64(nonce || ciphertext).
const encPrefix = "enc:"

// DecryptFunc resolves a stored credential to its plaintext. Plaintext
// credentials pass through unchanged.
type DecryptFunc func(stored string) (string, error)

// NewDecryptFunc builds a DecryptFunc from key material. The AES-256 key
// is the SHA-256 of the material, so any passphrase length works. An
// empty material still passes plaintext credentials through but fails on
// encrypted ones.
func NewDecryptFunc(material string) DecryptFunc {
	return func(stored string) (string, error) {
		if !strings.HasPrefix(stored, encPrefix) {
			return stored, nil
		}
		if material == "" {
			return "", fmt.Errorf("credential is encrypted but %s is not set", secretKeyEnv)
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
		if err != nil {
			return "", fmt.Errorf("malformed encrypted credential: %w", err)
		}
		key := sha256.Sum256([]byte(material))
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return "", err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return "", err
		}
		if len(raw) < gcm.NonceSize() {
			return "", errors.New("malformed encrypted credential: short nonce")
		}
		nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
		plain, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return "", fmt.Errorf("cannot decrypt credential: %w", err)
		}
		return string(plain), nil
	}
}

// Encrypt is the inverse of the decrypt path, used by tooling and tests
// to produce enc: values.
func Encrypt(material, plaintext string, nonce []byte) (string, error) {
	key := sha256.Sum256([]byte(material))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes", gcm.NonceSize())
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(append(append([]byte{}, nonce...), sealed...)), nil
}
