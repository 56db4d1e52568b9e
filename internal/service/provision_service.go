package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sgescolar/sge-api/internal/models"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

// ProvisionService assembles login accounts for newly admitted people: a
// unique username, a bcrypt hash of a random initial password, and the
// forced password-change flag. Persistence stays with the caller so the
// insert can join the caller's transaction.
type ProvisionService struct {
	credentials *CredentialService
	logger      *zap.Logger
}

// NewProvisionService constructs ProvisionService.
func NewProvisionService(credentials *CredentialService, logger *zap.Logger) *ProvisionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisionService{credentials: credentials, logger: logger}
}

// Provision returns the prepared account and the plaintext initial
// password. The plaintext is handed to the caller exactly once for
// delivery to the user and is never stored or logged.
func (s *ProvisionService) Provision(ctx context.Context, fullName, email string, role models.UserRole) (*models.User, string, error) {
	username, err := s.credentials.GenerateUsername(ctx, fullName)
	if err != nil {
		return nil, "", err
	}

	password, err := s.credentials.GeneratePassword()
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash initial password")
	}

	account := &models.User{
		Username:           username,
		Email:              email,
		PasswordHash:       string(hash),
		FullName:           fullName,
		Role:               role,
		MustChangePassword: true,
		Active:             true,
	}

	s.logger.Info("account provisioned",
		zap.String("username", username),
		zap.String("role", string(role)),
	)

	return account, password, nil
}
