package apikeys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// TokenPrefix marks every live credential.
	TokenPrefix = "mc_live_"

	secretBytes   = 32
	displayLength = len(TokenPrefix) + 8
	minPepperSize = 16
)

var errMalformedToken = errors.New("malformed api key")

// Hasher derives the stored lookup hash of a credential. The pepper keys a
// BLAKE2b-256 MAC so a leaked table cannot be matched without it.
type Hasher struct {
	key []byte
}

// NewHasher validates the pepper length accepted by keyed BLAKE2b.
func NewHasher(pepper string) (*Hasher, error) {
	if len(pepper) < minPepperSize || len(pepper) > blake2b.Size {
		return nil, fmt.Errorf("api key pepper must be between %d and %d bytes", minPepperSize, blake2b.Size)
	}
	return &Hasher{key: []byte(pepper)}, nil
}

// Hash returns the hex digest stored for token.
func (h *Hasher) Hash(token string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// unreachable: the key length is checked in NewHasher
		panic(err)
	}
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateToken returns a new plaintext credential and its display prefix.
func GenerateToken() (token, display string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = TokenPrefix + hex.EncodeToString(buf)
	return token, token[:displayLength], nil
}

func validateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return errMalformedToken
	}
	secret := token[len(TokenPrefix):]
	if len(secret) != secretBytes*2 {
		return errMalformedToken
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return errMalformedToken
	}
	return nil
}
