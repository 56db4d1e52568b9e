package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type gradeRepository interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, error)
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	Upsert(ctx context.Context, grade *models.Grade) error
	Delete(ctx context.Context, id string) error
	ListSubjects(ctx context.Context) ([]models.Subject, error)
}

type studentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// scopeStudentFilter restricts a studentId filter to the actor's own record
// when the actor is a student. Staff actors pass the filter through untouched.
func scopeStudentFilter(ctx context.Context, students studentFinder, actor *models.JWTClaims, studentID string) (string, error) {
	if actor == nil || actor.Role != models.RoleStudent {
		return studentID, nil
	}
	own, err := students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrForbidden, "no student record linked to this account")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student account")
	}
	if studentID != "" && studentID != own.ID {
		return "", appErrors.Clone(appErrors.ErrForbidden, "students may only view their own records")
	}
	return own.ID, nil
}

// UpsertGradeRequest records a score for a student, subject and term.
type UpsertGradeRequest struct {
	StudentID string  `json:"student_id" validate:"required,uuid"`
	SubjectID string  `json:"subject_id" validate:"required,uuid"`
	Term      string  `json:"term" validate:"required,oneof=1B 2B 3B 4B"`
	Score     float64 `json:"score" validate:"gte=0,lte=10"`
}

// GradeService manages grade entries and subject listings.
type GradeService struct {
	repo      gradeRepository
	students  studentFinder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(repo gradeRepository, students studentFinder, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{repo: repo, students: students, validator: validate, logger: logger}
}

// List returns grades filtered by student, subject and term. Student actors
// only ever see their own grades regardless of the requested filter.
func (s *GradeService) List(ctx context.Context, filter models.GradeFilter, actor *models.JWTClaims) ([]models.GradeDetail, error) {
	scoped, err := scopeStudentFilter(ctx, s.students, actor, filter.StudentID)
	if err != nil {
		return nil, err
	}
	filter.StudentID = scoped

	grades, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return grades, nil
}

// Upsert records or overwrites the score for the (student, subject, term) key.
func (s *GradeService) Upsert(ctx context.Context, req UpsertGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	grade := &models.Grade{
		StudentID: req.StudentID,
		SubjectID: req.SubjectID,
		Term:      req.Term,
		Score:     req.Score,
	}
	if err := s.repo.Upsert(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save grade")
	}
	return grade, nil
}

// Delete removes a grade entry.
func (s *GradeService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade")
	}
	return nil
}

// ListSubjects returns the subject catalogue.
func (s *GradeService) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	subjects, err := s.repo.ListSubjects(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}
