package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

// passwordAlphabet excludes visually ambiguous symbols (0/O, 1/I/l). At 12
// characters the generated password carries ~69 bits of entropy.
const (
	passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	passwordLength   = 12

	// maxUsernameAttempts bounds suffix probing so a corrupted store
	// cannot spin the generator forever.
	maxUsernameAttempts = 1000
)

type usernameChecker interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// CredentialService derives login names from display names and mints
// random initial passwords. It is the single home for the collide-and-
// suffix logic shared by enrollment approval and direct staff creation.
type CredentialService struct {
	users usernameChecker
}

// NewCredentialService constructs CredentialService.
func NewCredentialService(users usernameChecker) *CredentialService {
	return &CredentialService{users: users}
}

// GenerateUsername builds a candidate from the display name (first letter
// of the first token plus the last token, lowercased) and appends numeric
// suffixes 2, 3, ... until the name is free.
func (s *CredentialService) GenerateUsername(ctx context.Context, fullName string) (string, error) {
	base := usernameBase(fullName)
	if base == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "display name must contain at least one letter or digit")
	}

	candidate := base
	for attempt := 2; attempt <= maxUsernameAttempts+1; attempt++ {
		taken, err := s.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username availability")
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(attempt)
	}
	return "", appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("could not derive a unique username from %q", fullName))
}

// GeneratePassword returns a fixed-length random password from the
// unambiguous alphabet, using crypto/rand for uniformity.
func (s *CredentialService) GeneratePassword() (string, error) {
	var sb strings.Builder
	sb.Grow(passwordLength)
	alphabetLen := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < passwordLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate password")
		}
		sb.WriteByte(passwordAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// usernameBase lowercases and strips anything that is not an ASCII letter
// or digit, so "Joana da Silva" becomes "jsilva".
func usernameBase(fullName string) string {
	tokens := strings.Fields(fullName)
	if len(tokens) == 0 {
		return ""
	}

	first := sanitizeToken(tokens[0])
	last := sanitizeToken(tokens[len(tokens)-1])
	if len(tokens) == 1 {
		return first
	}
	if first == "" || last == "" {
		if first != "" {
			return first
		}
		return last
	}
	return first[:1] + last
}

func sanitizeToken(token string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(token) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
