package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	"github.com/sgescolar/sge-api/internal/repository"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	CreateWithAccount(ctx context.Context, teacher *models.Teacher, account *models.User) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Deactivate(ctx context.Context, id string) error
}

// CreateTeacherRequest describes administrative creation of a teacher.
type CreateTeacherRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
	Expertise string `json:"expertise"`
}

// UpdateTeacherRequest holds mutable teacher fields.
type UpdateTeacherRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
	Expertise string `json:"expertise"`
	Active    *bool  `json:"active"`
}

// CreatedTeacher pairs the new teacher with its initial credentials.
type CreatedTeacher struct {
	Teacher         *models.Teacher `json:"teacher"`
	Username        string          `json:"username"`
	InitialPassword string          `json:"initial_password"`
}

// TeacherService manages teaching staff and their login accounts.
type TeacherService struct {
	repo        teacherRepository
	provisioner accountProvisioner
	notifier    applicantNotifier
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewTeacherService constructs TeacherService.
func NewTeacherService(repo teacherRepository, provisioner accountProvisioner, notifier applicantNotifier, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{repo: repo, provisioner: provisioner, notifier: notifier, validator: validate, logger: logger}
}

// List returns teachers with pagination metadata.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return teachers, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single teacher. Admins may read any record; everyone else
// may only read the record linked to their own login account.
func (s *TeacherService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Teacher, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if actor != nil && actor.Role != models.RoleAdmin {
		if teacher.UserID == nil || *teacher.UserID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers may only view their own profile")
		}
	}
	return teacher, nil
}

// Create registers a teacher and provisions a login account in the same
// transaction.
func (s *TeacherService) Create(ctx context.Context, req CreateTeacherRequest) (*CreatedTeacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	account, password, err := s.provisioner.Provision(ctx, req.FullName, req.Email, models.RoleTeacher)
	if err != nil {
		return nil, err
	}

	teacher := &models.Teacher{
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
		Expertise: req.Expertise,
		Active:    true,
	}
	if err := s.repo.CreateWithAccount(ctx, teacher, account); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "login name already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teacher")
	}

	s.notifier.Notify(teacher.Email,
		"Acesso ao portal criado",
		fmt.Sprintf("Olá %s,\n\nseu acesso ao portal foi criado.\nUsuário: %s\nSenha inicial: %s\n\nTroque sua senha no primeiro acesso.", teacher.FullName, account.Username, password),
	)

	return &CreatedTeacher{Teacher: teacher, Username: account.Username, InitialPassword: password}, nil
}

// Update persists mutable teacher fields.
func (s *TeacherService) Update(ctx context.Context, id string, req UpdateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	teacher.FullName = req.FullName
	teacher.Email = req.Email
	teacher.Phone = req.Phone
	teacher.Expertise = req.Expertise
	if req.Active != nil {
		teacher.Active = *req.Active
	}

	if err := s.repo.Update(ctx, teacher); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teacher")
	}
	return teacher, nil
}

// Deactivate marks a teacher inactive.
func (s *TeacherService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate teacher")
	}
	return nil
}
