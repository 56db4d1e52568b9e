package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	"github.com/sgescolar/sge-api/internal/repository"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	requests   map[string]models.EnrollmentRequest
	approveErr error
	rejectErr  error
	approved   *repository.ApproveParams
	rejected   bool
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, request *models.EnrollmentRequest) error {
	if m.requests == nil {
		m.requests = make(map[string]models.EnrollmentRequest)
	}
	if request.ID == "" {
		request.ID = "req-new"
	}
	request.Status = models.EnrollmentStatusPending
	m.requests[request.ID] = *request
	return nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRequest, int, error) {
	var out []models.EnrollmentRequest
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockEnrollmentRepo) Approve(ctx context.Context, params repository.ApproveParams) error {
	if m.approveErr != nil {
		return m.approveErr
	}
	m.approved = &params
	if r, ok := m.requests[params.RequestID]; ok {
		now := time.Now().UTC()
		r.Status = models.EnrollmentStatusApproved
		r.ReviewNote = params.ReviewNote
		r.ReviewedBy = &params.ReviewedBy
		r.ReviewedAt = &now
		m.requests[params.RequestID] = r
	}
	if params.Account.ID == "" {
		params.Account.ID = "user-new"
	}
	if params.Student.ID == "" {
		params.Student.ID = "stu-new"
	}
	return nil
}

func (m *mockEnrollmentRepo) Reject(ctx context.Context, id, reviewNote, reviewedBy string) error {
	if m.rejectErr != nil {
		return m.rejectErr
	}
	m.rejected = true
	if r, ok := m.requests[id]; ok {
		now := time.Now().UTC()
		r.Status = models.EnrollmentStatusRejected
		r.ReviewNote = reviewNote
		r.ReviewedBy = &reviewedBy
		r.ReviewedAt = &now
		m.requests[id] = r
	}
	return nil
}

type mockCodeChecker struct {
	taken map[string]bool
}

func (m *mockCodeChecker) CodeExists(ctx context.Context, code string) (bool, error) {
	return m.taken[code], nil
}

type mockProvisioner struct {
	err error
}

func (m *mockProvisioner) Provision(ctx context.Context, fullName, email string, role models.UserRole) (*models.User, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return &models.User{
		Username:           "msilva",
		Email:              email,
		PasswordHash:       "hashed",
		FullName:           fullName,
		Role:               role,
		MustChangePassword: true,
		Active:             true,
	}, "initialpw123", nil
}

type sentMessage struct {
	to      string
	subject string
	body    string
}

type mockNotifier struct {
	sent []sentMessage
}

func (m *mockNotifier) Notify(to, subject, body string) {
	m.sent = append(m.sent, sentMessage{to: to, subject: subject, body: body})
}

type mockNotificationWriter struct {
	created []models.Notification
}

func (m *mockNotificationWriter) Create(ctx context.Context, notification *models.Notification) error {
	m.created = append(m.created, *notification)
	return nil
}

type mockAuditWriter struct {
	logs []models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type enrollmentFixture struct {
	svc           *EnrollmentService
	repo          *mockEnrollmentRepo
	codes         *mockCodeChecker
	provisioner   *mockProvisioner
	notifier      *mockNotifier
	notifications *mockNotificationWriter
	audits        *mockAuditWriter
}

func newEnrollmentFixture() *enrollmentFixture {
	f := &enrollmentFixture{
		repo:          &mockEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)},
		codes:         &mockCodeChecker{taken: make(map[string]bool)},
		provisioner:   &mockProvisioner{},
		notifier:      &mockNotifier{},
		notifications: &mockNotificationWriter{},
		audits:        &mockAuditWriter{},
	}
	f.svc = NewEnrollmentService(f.repo, f.codes, f.provisioner, f.notifier, f.notifications, f.audits, nil, validator.New(), zap.NewNop())
	return f
}

func (f *enrollmentFixture) seedPending(id string) {
	f.repo.requests[id] = models.EnrollmentRequest{
		ID:       id,
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11 99999-0000",
		Address:  "Rua A, 100",
		Status:   models.EnrollmentStatusPending,
	}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Username: "admin", Role: models.RoleAdmin}
}

func TestSubmitCreatesPendingAndConfirms(t *testing.T) {
	f := newEnrollmentFixture()

	request, err := f.svc.Submit(context.Background(), SubmitEnrollmentRequest{
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11 99999-0000",
		Address:  "Rua A, 100",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, request.Status)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "maria@example.com", f.notifier.sent[0].to)
	assert.Contains(t, f.notifier.sent[0].body, request.ID)
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.svc.Submit(context.Background(), SubmitEnrollmentRequest{
		FullName: "Maria Silva",
		Email:    "not-an-email",
		Phone:    "11 99999-0000",
		Address:  "Rua A, 100",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.notifier.sent)
}

func TestResolveNotFound(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.svc.Resolve(context.Background(), "missing", ResolveEnrollmentRequest{
		Decision: models.DecisionApprove, StudentCode: "RA100", Section: "2A",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestResolveAlreadyResolved(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")
	r := f.repo.requests["req-1"]
	r.Status = models.EnrollmentStatusRejected
	f.repo.requests["req-1"] = r

	_, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: models.DecisionApprove, StudentCode: "RA100", Section: "2A",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestResolveApprove(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")

	result, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision:    models.DecisionApprove,
		StudentCode: "RA100",
		Section:     "2A",
		Note:        "documentos conferidos",
	}, adminClaims())
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusApproved, result.Request.Status)
	require.NotNil(t, result.Student)
	assert.Equal(t, "RA100", result.Student.Code)
	assert.Equal(t, "2A", result.Student.Section)
	require.NotNil(t, result.Account)
	assert.Equal(t, "msilva", result.Account.Username)
	assert.True(t, result.Account.MustChangePassword)

	require.NotNil(t, f.repo.approved)
	assert.Equal(t, "admin-1", f.repo.approved.ReviewedBy)
	assert.Equal(t, models.RoleStudent, f.repo.approved.Account.Role)
	assert.True(t, f.repo.approved.Account.MustChangePassword)

	// Applicant gets the credentials exactly once, by email.
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].body, "msilva")
	assert.Contains(t, f.notifier.sent[0].body, "initialpw123")

	require.Len(t, f.notifications.created, 1)
	assert.Equal(t, "user-new", f.notifications.created[0].UserID)

	require.Len(t, f.audits.logs, 1)
	assert.Equal(t, models.AuditActionEnrollmentResolve, f.audits.logs[0].Action)
}

func TestResolveApproveRequiresCodeAndSection(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")

	_, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: models.DecisionApprove,
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusPending, f.repo.requests["req-1"].Status)
}

func TestResolveApproveCodeAlreadyInUse(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")
	f.codes.taken["RA100"] = true

	_, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: models.DecisionApprove, StudentCode: "RA100", Section: "2A",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusPending, f.repo.requests["req-1"].Status)
	assert.Empty(t, f.notifier.sent)
}

func TestResolveApproveStoreConflictLeavesPending(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")
	f.repo.approveErr = repository.ErrStudentCodeTaken

	_, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: models.DecisionApprove, StudentCode: "RA100", Section: "2A",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusPending, f.repo.requests["req-1"].Status)
}

func TestResolveApproveRacedTransition(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")
	f.repo.approveErr = repository.ErrAlreadyResolved

	_, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: models.DecisionApprove, StudentCode: "RA100", Section: "2A",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestResolveReject(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")

	result, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: models.DecisionReject,
		Note:     "documentação incompleta",
	}, adminClaims())
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusRejected, result.Request.Status)
	assert.Nil(t, result.Student)
	assert.True(t, f.repo.rejected)

	require.Len(t, f.notifier.sent, 1)
	assert.True(t, strings.Contains(f.notifier.sent[0].body, "documentação incompleta"))
	assert.Empty(t, f.notifications.created)
}

func TestResolveRejectsUnknownDecision(t *testing.T) {
	f := newEnrollmentFixture()
	f.seedPending("req-1")

	_, err := f.svc.Resolve(context.Background(), "req-1", ResolveEnrollmentRequest{
		Decision: "MAYBE",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
