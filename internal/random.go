package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// SessionToken is the raw 128-bit session identifier.
type SessionToken [16]byte

// NewSessionToken draws a fresh token from crypto/rand.
func NewSessionToken() (SessionToken, error) {
	var tok SessionToken
	_, err := rand.Read(tok[:])
	return tok, err
}

func (s SessionToken) Bytes() []byte {
	return s[:]
}

func (s SessionToken) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionToken decodes the string form produced by String.
func ParseSessionToken(token string) (SessionToken, error) {
	var tok SessionToken

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return tok, err
	}
	if len(raw) != len(tok) {
		return tok, errors.New("invalid session token size")
	}

	copy(tok[:], raw)
	return tok, nil
}
