package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	"github.com/sgescolar/sge-api/internal/repository"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, request *models.EnrollmentRequest) error
	FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRequest, int, error)
	Approve(ctx context.Context, params repository.ApproveParams) error
	Reject(ctx context.Context, id, reviewNote, reviewedBy string) error
}

type studentCodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

type accountProvisioner interface {
	Provision(ctx context.Context, fullName, email string, role models.UserRole) (*models.User, string, error)
}

type applicantNotifier interface {
	Notify(to, subject, body string)
}

type notificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SubmitEnrollmentRequest describes a public enrollment submission.
type SubmitEnrollmentRequest struct {
	FullName     string     `json:"full_name" validate:"required"`
	Email        string     `json:"email" validate:"required,email"`
	Phone        string     `json:"phone" validate:"required"`
	BirthDate    *time.Time `json:"birth_date"`
	Address      string     `json:"address" validate:"required"`
	GuardianName string     `json:"guardian_name"`
}

// ResolveEnrollmentRequest carries the reviewer's decision.
type ResolveEnrollmentRequest struct {
	Decision    models.EnrollmentDecision `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	StudentCode string                    `json:"student_code"`
	Section     string                    `json:"section"`
	Note        string                    `json:"note"`
}

// ResolveResult is the final state of a resolved request. On approval it
// also carries the provisioned login account, minus the password, which
// only ever reaches the applicant by email.
type ResolveResult struct {
	Request *models.EnrollmentRequest `json:"request"`
	Student *models.Student           `json:"student,omitempty"`
	Account *models.UserInfo          `json:"account,omitempty"`
}

// EnrollmentService orchestrates the enrollment-request workflow: public
// submission and the pending → approved/rejected transition with account
// provisioning.
type EnrollmentService struct {
	repo          enrollmentRepository
	students      studentCodeChecker
	provisioner   accountProvisioner
	notifier      applicantNotifier
	notifications notificationWriter
	audits        auditWriter
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(
	repo enrollmentRepository,
	students studentCodeChecker,
	provisioner accountProvisioner,
	notifier applicantNotifier,
	notifications notificationWriter,
	audits auditWriter,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:          repo,
		students:      students,
		provisioner:   provisioner,
		notifier:      notifier,
		notifications: notifications,
		audits:        audits,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
	}
}

// Submit validates and persists a new pending request, then sends a
// best-effort confirmation to the applicant.
func (s *EnrollmentService) Submit(ctx context.Context, req SubmitEnrollmentRequest) (*models.EnrollmentRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	request := &models.EnrollmentRequest{
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        req.Phone,
		BirthDate:    req.BirthDate,
		Address:      req.Address,
		GuardianName: req.GuardianName,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment request")
	}

	s.notifier.Notify(request.Email,
		"Solicitação de matrícula recebida",
		fmt.Sprintf("Olá %s,\n\nsua solicitação de matrícula foi recebida e aguarda análise da secretaria. O protocolo é %s.", request.FullName, request.ID),
	)

	return request, nil
}

// List returns enrollment requests with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRequest, *models.Pagination, error) {
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return requests, pagination, nil
}

// Get returns a single enrollment request.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	return request, nil
}

// Resolve applies the reviewer's decision to a pending request. Approval
// creates the student and its login account in the same transaction that
// moves the request out of PENDING; rejection only records the verdict.
// The applicant is notified afterwards on a best-effort basis.
func (s *EnrollmentService) Resolve(ctx context.Context, id string, req ResolveEnrollmentRequest, actor *models.JWTClaims) (*ResolveResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolution payload")
	}

	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if request.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment request already resolved")
	}

	reviewedBy := ""
	if actor != nil {
		reviewedBy = actor.UserID
	}

	var student *models.Student
	var account *models.User
	var initialPassword string

	switch req.Decision {
	case models.DecisionApprove:
		student, account, initialPassword, err = s.approve(ctx, request, req, reviewedBy)
	case models.DecisionReject:
		err = s.reject(ctx, request, req, reviewedBy)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown decision")
	}
	if err != nil {
		return nil, err
	}

	resolved, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload enrollment request")
	}

	s.recordAudit(ctx, resolved, reviewedBy)
	s.metrics.RecordEnrollmentResolved(string(req.Decision))
	s.notifyOutcome(resolved, student, account, initialPassword)

	result := &ResolveResult{Request: resolved, Student: student}
	if account != nil {
		result.Account = &models.UserInfo{
			ID:                 account.ID,
			Username:           account.Username,
			Email:              account.Email,
			FullName:           account.FullName,
			Role:               account.Role,
			MustChangePassword: account.MustChangePassword,
		}
	}
	return result, nil
}

func (s *EnrollmentService) approve(ctx context.Context, request *models.EnrollmentRequest, req ResolveEnrollmentRequest, reviewedBy string) (*models.Student, *models.User, string, error) {
	if req.StudentCode == "" || req.Section == "" {
		return nil, nil, "", appErrors.Clone(appErrors.ErrValidation, "approval requires student_code and section")
	}

	taken, err := s.students.CodeExists(ctx, req.StudentCode)
	if err != nil {
		return nil, nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student code")
	}
	if taken {
		return nil, nil, "", appErrors.Clone(appErrors.ErrConflict, "student code already in use")
	}

	account, password, err := s.provisioner.Provision(ctx, request.FullName, request.Email, models.RoleStudent)
	if err != nil {
		return nil, nil, "", err
	}

	student := &models.Student{
		Code:         req.StudentCode,
		FullName:     request.FullName,
		Email:        request.Email,
		Phone:        request.Phone,
		BirthDate:    request.BirthDate,
		Address:      request.Address,
		GuardianName: request.GuardianName,
		Section:      req.Section,
		Active:       true,
	}

	err = s.repo.Approve(ctx, repository.ApproveParams{
		RequestID:  request.ID,
		ReviewNote: req.Note,
		ReviewedBy: reviewedBy,
		Student:    student,
		Account:    account,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyResolved):
			return nil, nil, "", appErrors.Clone(appErrors.ErrInvalidState, "enrollment request already resolved")
		case errors.Is(err, repository.ErrStudentCodeTaken):
			return nil, nil, "", appErrors.Clone(appErrors.ErrConflict, "student code already in use")
		case errors.Is(err, repository.ErrUsernameTaken):
			return nil, nil, "", appErrors.Clone(appErrors.ErrConflict, "login name already in use")
		}
		return nil, nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment request")
	}

	if s.notifications != nil {
		welcome := &models.Notification{
			UserID: account.ID,
			Title:  "Bem-vindo ao portal",
			Body:   fmt.Sprintf("Sua matrícula %s na turma %s está ativa. Troque sua senha no primeiro acesso.", student.Code, student.Section),
		}
		if err := s.notifications.Create(ctx, welcome); err != nil {
			s.logger.Warn("failed to create welcome notification", zap.Error(err))
		}
	}

	return student, account, password, nil
}

func (s *EnrollmentService) reject(ctx context.Context, request *models.EnrollmentRequest, req ResolveEnrollmentRequest, reviewedBy string) error {
	if err := s.repo.Reject(ctx, request.ID, req.Note, reviewedBy); err != nil {
		if errors.Is(err, repository.ErrAlreadyResolved) {
			return appErrors.Clone(appErrors.ErrInvalidState, "enrollment request already resolved")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject enrollment request")
	}
	return nil
}

func (s *EnrollmentService) recordAudit(ctx context.Context, request *models.EnrollmentRequest, reviewedBy string) {
	if s.audits == nil {
		return
	}
	values, _ := json.Marshal(map[string]interface{}{"status": request.Status})
	var userID *string
	if reviewedBy != "" {
		userID = &reviewedBy
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     models.AuditActionEnrollmentResolve,
		Resource:   "enrollment_requests",
		ResourceID: &request.ID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record enrollment audit log", zap.Error(err))
	}
}

// notifyOutcome emails the applicant the verdict. On approval the message
// carries the login name and the initial password; this is the only place
// the plaintext leaves the process.
func (s *EnrollmentService) notifyOutcome(request *models.EnrollmentRequest, student *models.Student, account *models.User, initialPassword string) {
	if request.Status == models.EnrollmentStatusApproved && student != nil && account != nil {
		s.notifier.Notify(request.Email,
			"Matrícula aprovada",
			fmt.Sprintf("Olá %s,\n\nsua matrícula foi aprovada. Código: %s, turma: %s.\nUsuário: %s\nSenha inicial: %s\n\nAcesse o portal e troque sua senha no primeiro acesso.",
				request.FullName, student.Code, student.Section, account.Username, initialPassword),
		)
		return
	}
	s.notifier.Notify(request.Email,
		"Solicitação de matrícula indeferida",
		fmt.Sprintf("Olá %s,\n\nsua solicitação de matrícula foi indeferida. %s", request.FullName, request.ReviewNote),
	)
}
