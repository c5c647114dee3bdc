// Package secrets seals small secrets, such as the external database
// password, before they are written to the local store.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// sealPrefix versions the sealed format.
	sealPrefix = "v1:"
	keySize    = 32
	nonceSize  = 24
)

// ErrOpen is returned for any sealed value that cannot be opened: wrong
// key, tampered ciphertext, or a malformed encoding.
var ErrOpen = errors.New("secrets: cannot open sealed value")

// Sealer encrypts with NaCl secretbox under a key derived from a
// passphrase with HKDF-SHA256.
type Sealer struct {
	key [keySize]byte
}

// NewSealer derives the sealing key from passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	passphrase = strings.TrimSpace(passphrase)
	if passphrase == "" {
		return nil, errors.New("secrets: settings key is required")
	}

	s := &Sealer{}
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("voxdesk:external-db-settings"))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext with a random nonce and returns a printable token.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return nil, ErrOpen
	}
	box, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}
