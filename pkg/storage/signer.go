package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid is returned when a token is malformed or its
	// signature does not verify.
	ErrTokenInvalid = errors.New("download token invalid")
	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("download token expired")
)

// Signer issues and verifies time-limited HMAC tokens for stored export
// files. The token itself is the download credential, so the endpoint that
// accepts it needs no session.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner constructs a Signer. A non-positive ttl defaults to 24 hours.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Generate returns a signed token for the given file name along with its
// expiry. Token layout: expiryUnix.base64url(fileName).hexHMAC.
func (s *Signer) Generate(fileName string) (string, time.Time, error) {
	if fileName == "" {
		return "", time.Time{}, errors.New("file name is required")
	}
	expiresAt := time.Now().Add(s.ttl)
	payload := fmt.Sprintf("%d.%s", expiresAt.Unix(), base64.RawURLEncoding.EncodeToString([]byte(fileName)))
	return payload + "." + s.sign(payload), expiresAt, nil
}

// Parse verifies the token signature and expiry and returns the file name
// it was issued for.
func (s *Signer) Parse(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrTokenInvalid
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(s.sign(payload)), []byte(parts[2])) {
		return "", ErrTokenInvalid
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if time.Now().After(time.Unix(expiry, 0)) {
		return "", ErrTokenExpired
	}
	name, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrTokenInvalid
	}
	return string(name), nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
