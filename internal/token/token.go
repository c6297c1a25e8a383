// Package token mints and verifies the self-signed opaque tokens printed on tickets and coupons.
//
// Format: "ngt_" + base64url(18 random bytes) + "." + base64url(HMAC-SHA256(secret, prefix+body)[:16]).
// A token that verifies is well formed and was minted by us; whether it is still redeemable is a
// database question.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	Prefix     = "ngt_"
	randomSize = 18
	sigSize    = 16
)

var (
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("invalid token signature")
)

var enc = base64.RawURLEncoding

type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("token signing secret must be at least 16 bytes")
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) New() (string, error) {
	buf := make([]byte, randomSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	body := enc.EncodeToString(buf)
	return Prefix + body + "." + enc.EncodeToString(s.sign(body)), nil
}

func (s *Signer) Verify(tok string) error {
	rest, ok := strings.CutPrefix(tok, Prefix)
	if !ok {
		return ErrMalformed
	}
	body, sig, ok := strings.Cut(rest, ".")
	if !ok {
		return ErrMalformed
	}
	raw, err := enc.DecodeString(body)
	if err != nil || len(raw) != randomSize {
		return ErrMalformed
	}
	given, err := enc.DecodeString(sig)
	if err != nil || len(given) != sigSize {
		return ErrMalformed
	}
	if !hmac.Equal(given, s.sign(body)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Signer) sign(body string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Prefix + body))
	return mac.Sum(nil)[:sigSize]
}

// Short returns a log-safe prefix of a token.
func Short(tok string) string {
	if len(tok) <= len(Prefix)+6 {
		return tok
	}
	return tok[:len(Prefix)+6] + "…"
}
