package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/middleware"
	"github.com/sgescolar/sge-api/internal/models"
	"github.com/sgescolar/sge-api/internal/repository"
	"github.com/sgescolar/sge-api/internal/service"
)

type stubEnrollmentRepo struct {
	requests map[string]models.EnrollmentRequest
}

func (s *stubEnrollmentRepo) Create(ctx context.Context, request *models.EnrollmentRequest) error {
	request.ID = "req-new"
	request.Status = models.EnrollmentStatusPending
	s.requests[request.ID] = *request
	return nil
}

func (s *stubEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	if r, ok := s.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRequest, int, error) {
	var out []models.EnrollmentRequest
	for _, r := range s.requests {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (s *stubEnrollmentRepo) Approve(ctx context.Context, params repository.ApproveParams) error {
	r, ok := s.requests[params.RequestID]
	if !ok || r.Status != models.EnrollmentStatusPending {
		return repository.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	r.Status = models.EnrollmentStatusApproved
	r.ReviewedAt = &now
	s.requests[params.RequestID] = r
	params.Account.ID = "user-new"
	params.Student.ID = "stu-new"
	return nil
}

func (s *stubEnrollmentRepo) Reject(ctx context.Context, id, reviewNote, reviewedBy string) error {
	r, ok := s.requests[id]
	if !ok || r.Status != models.EnrollmentStatusPending {
		return repository.ErrAlreadyResolved
	}
	r.Status = models.EnrollmentStatusRejected
	r.ReviewNote = reviewNote
	s.requests[id] = r
	return nil
}

type stubCodeChecker struct{}

func (stubCodeChecker) CodeExists(ctx context.Context, code string) (bool, error) { return false, nil }

type stubProvisioner struct{}

func (stubProvisioner) Provision(ctx context.Context, fullName, email string, role models.UserRole) (*models.User, string, error) {
	return &models.User{Username: "msilva", Email: email, FullName: fullName, Role: role, Active: true}, "initialpw123", nil
}

type stubNotifier struct{}

func (stubNotifier) Notify(to, subject, body string) {}

type stubNotificationWriter struct{}

func (stubNotificationWriter) Create(ctx context.Context, notification *models.Notification) error {
	return nil
}

type stubAuditWriter struct{}

func (stubAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error { return nil }

type enrollmentProvisioner interface {
	Provision(ctx context.Context, fullName, email string, role models.UserRole) (*models.User, string, error)
}

func newEnrollmentRouter(t *testing.T, repo *stubEnrollmentRepo) *gin.Engine {
	return newEnrollmentRouterWith(t, repo, stubProvisioner{})
}

func newEnrollmentRouterWith(t *testing.T, repo *stubEnrollmentRepo, provisioner enrollmentProvisioner) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := service.NewEnrollmentService(repo, stubCodeChecker{}, provisioner, stubNotifier{}, stubNotificationWriter{}, stubAuditWriter{}, nil, validator.New(), zap.NewNop())
	h := NewEnrollmentHandler(svc)

	router := gin.New()
	router.POST("/enrollment-requests", h.Submit)
	authed := router.Group("/", func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Username: "admin", Role: models.RoleAdmin})
	})
	authed.GET("/enrollment-requests/:id", h.Get)
	authed.POST("/enrollment-requests/:id/resolve", h.Resolve)
	return router
}

func seedPendingRequest(repo *stubEnrollmentRepo, id string) {
	repo.requests[id] = models.EnrollmentRequest{
		ID:       id,
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11 99999-0000",
		Address:  "Rua A, 100",
		Status:   models.EnrollmentStatusPending,
	}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEndpointCreatesRequest(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	router := newEnrollmentRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/enrollment-requests", gin.H{
		"full_name": "Maria Silva",
		"email":     "maria@example.com",
		"phone":     "11 99999-0000",
		"address":   "Rua A, 100",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data models.EnrollmentRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, models.EnrollmentStatusPending, envelope.Data.Status)
	assert.NotEmpty(t, envelope.Data.ID)
}

func TestSubmitEndpointRejectsInvalidPayload(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	router := newEnrollmentRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/enrollment-requests", gin.H{
		"full_name": "Maria Silva",
		"email":     "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEndpointNotFound(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	router := newEnrollmentRouter(t, repo)

	rec := doJSON(t, router, http.MethodGet, "/enrollment-requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveEndpointApproves(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	seedPendingRequest(repo, "req-1")
	router := newEnrollmentRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/enrollment-requests/req-1/resolve", gin.H{
		"decision":     "Approve",
		"student_code": "RA100",
		"section":      "2A",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data service.ResolveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, models.EnrollmentStatusApproved, envelope.Data.Request.Status)
	require.NotNil(t, envelope.Data.Student)
	assert.Equal(t, "RA100", envelope.Data.Student.Code)
}

type memoryUsernameStore struct {
	taken map[string]bool
}

func (s *memoryUsernameStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.taken[username], nil
}

// Submission through approval with the real credential and provisioning
// services: the applicant's name yields the login and the account comes
// back flagged for a forced password change.
func TestEnrollmentApprovalProvisionsCredentials(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	credentials := service.NewCredentialService(&memoryUsernameStore{taken: make(map[string]bool)})
	provisioner := service.NewProvisionService(credentials, zap.NewNop())
	router := newEnrollmentRouterWith(t, repo, provisioner)

	rec := doJSON(t, router, http.MethodPost, "/enrollment-requests", gin.H{
		"full_name": "Ana Souza",
		"email":     "ana@example.com",
		"phone":     "11 98888-0000",
		"address":   "Rua B, 200",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var submitted struct {
		Data models.EnrollmentRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Equal(t, models.EnrollmentStatusPending, submitted.Data.Status)

	rec = doJSON(t, router, http.MethodPost, "/enrollment-requests/"+submitted.Data.ID+"/resolve", gin.H{
		"decision":     "APPROVE",
		"student_code": "RA100",
		"section":      "2A",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resolved struct {
		Data service.ResolveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, models.EnrollmentStatusApproved, resolved.Data.Request.Status)
	require.NotNil(t, resolved.Data.Student)
	assert.Equal(t, "RA100", resolved.Data.Student.Code)
	assert.Equal(t, "2A", resolved.Data.Student.Section)
	require.NotNil(t, resolved.Data.Account)
	assert.Equal(t, "asouza", resolved.Data.Account.Username)
	assert.Equal(t, models.RoleStudent, resolved.Data.Account.Role)
	assert.True(t, resolved.Data.Account.MustChangePassword)
}

func TestResolveEndpointConflictWhenResolved(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	seedPendingRequest(repo, "req-1")
	r := repo.requests["req-1"]
	r.Status = models.EnrollmentStatusApproved
	repo.requests["req-1"] = r
	router := newEnrollmentRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/enrollment-requests/req-1/resolve", gin.H{
		"decision": "REJECT",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveEndpointValidatesDecision(t *testing.T) {
	repo := &stubEnrollmentRepo{requests: make(map[string]models.EnrollmentRequest)}
	seedPendingRequest(repo, "req-1")
	router := newEnrollmentRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/enrollment-requests/req-1/resolve", gin.H{
		"decision": "MAYBE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
