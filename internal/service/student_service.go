package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	"github.com/sgescolar/sge-api/internal/repository"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	CreateWithAccount(ctx context.Context, student *models.Student, account *models.User) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

// CreateStudentRequest describes direct administrative creation of a student.
type CreateStudentRequest struct {
	Code         string     `json:"code" validate:"required"`
	FullName     string     `json:"full_name" validate:"required"`
	Email        string     `json:"email" validate:"required,email"`
	Phone        string     `json:"phone"`
	BirthDate    *time.Time `json:"birth_date"`
	Address      string     `json:"address"`
	GuardianName string     `json:"guardian_name"`
	Section      string     `json:"section" validate:"required"`
}

// UpdateStudentRequest holds mutable student fields.
type UpdateStudentRequest struct {
	FullName     string     `json:"full_name" validate:"required"`
	Email        string     `json:"email" validate:"required,email"`
	Phone        string     `json:"phone"`
	BirthDate    *time.Time `json:"birth_date"`
	Address      string     `json:"address"`
	GuardianName string     `json:"guardian_name"`
	Section      string     `json:"section" validate:"required"`
	Active       *bool      `json:"active"`
}

// CreatedStudent pairs the new student with its initial credentials.
type CreatedStudent struct {
	Student         *models.Student `json:"student"`
	Username        string          `json:"username"`
	InitialPassword string          `json:"initial_password"`
}

// StudentService manages student records and their login accounts.
type StudentService struct {
	repo        studentRepository
	provisioner accountProvisioner
	notifier    applicantNotifier
	audits      auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentRepository, provisioner accountProvisioner, notifier applicantNotifier, audits auditWriter, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, provisioner: provisioner, notifier: notifier, audits: audits, validator: validate, logger: logger}
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single student. Staff may read any record; a student actor
// may only read the record linked to their own login account.
func (s *StudentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if actor != nil && actor.Role == models.RoleStudent {
		if student.UserID == nil || *student.UserID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own profile")
		}
	}
	return student, nil
}

// Create registers a student directly, provisioning a login account in the
// same transaction. Used by the secretariat for transfers that bypass the
// public enrollment flow.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor *models.JWTClaims) (*CreatedStudent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	taken, err := s.repo.CodeExists(ctx, req.Code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student code already in use")
	}

	account, password, err := s.provisioner.Provision(ctx, req.FullName, req.Email, models.RoleStudent)
	if err != nil {
		return nil, err
	}

	student := &models.Student{
		Code:         req.Code,
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        req.Phone,
		BirthDate:    req.BirthDate,
		Address:      req.Address,
		GuardianName: req.GuardianName,
		Section:      req.Section,
		Active:       true,
	}
	if err := s.repo.CreateWithAccount(ctx, student, account); err != nil {
		switch {
		case errors.Is(err, repository.ErrStudentCodeTaken):
			return nil, appErrors.Clone(appErrors.ErrConflict, "student code already in use")
		case errors.Is(err, repository.ErrUsernameTaken):
			return nil, appErrors.Clone(appErrors.ErrConflict, "login name already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	s.recordCreate(ctx, student, actor)

	s.notifier.Notify(student.Email,
		"Acesso ao portal criado",
		fmt.Sprintf("Olá %s,\n\nseu acesso ao portal foi criado.\nUsuário: %s\nSenha inicial: %s\n\nTroque sua senha no primeiro acesso.", student.FullName, account.Username, password),
	)

	return &CreatedStudent{Student: student, Username: account.Username, InitialPassword: password}, nil
}

// Update persists mutable student fields.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	student.FullName = req.FullName
	student.Email = req.Email
	student.Phone = req.Phone
	student.BirthDate = req.BirthDate
	student.Address = req.Address
	student.GuardianName = req.GuardianName
	student.Section = req.Section
	if req.Active != nil {
		student.Active = *req.Active
	}

	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Deactivate marks a student inactive. Records are kept for history.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	return nil
}

func (s *StudentService) recordCreate(ctx context.Context, student *models.Student, actor *models.JWTClaims) {
	if s.audits == nil {
		return
	}
	var userID *string
	if actor != nil {
		userID = &actor.UserID
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     models.AuditActionUserCreate,
		Resource:   "students",
		ResourceID: &student.ID,
	}); err != nil {
		s.logger.Warn("failed to record student creation audit log", zap.Error(err))
	}
}
