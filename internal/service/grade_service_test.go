package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgescolar/sge-api/internal/models"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type mockGradeRepo struct {
	grades     []models.GradeDetail
	lastFilter *models.GradeFilter
	listCalls  int
}

func (m *mockGradeRepo) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, error) {
	m.listCalls++
	m.lastFilter = &filter
	return m.grades, nil
}

func (m *mockGradeRepo) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	return nil, sql.ErrNoRows
}

func (m *mockGradeRepo) Upsert(ctx context.Context, grade *models.Grade) error { return nil }

func (m *mockGradeRepo) Delete(ctx context.Context, id string) error { return nil }

func (m *mockGradeRepo) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	return nil, nil
}

type mockStudentDirectory struct {
	byID     map[string]*models.Student
	byUserID map[string]*models.Student
}

func (m *mockStudentDirectory) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentDirectory) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if s, ok := m.byUserID[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func linkedStudent(id, userID string) *models.Student {
	return &models.Student{ID: id, UserID: &userID, Active: true}
}

func studentClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Username: "aluno", Role: models.RoleStudent}
}

func newStudentDirectory(students ...*models.Student) *mockStudentDirectory {
	dir := &mockStudentDirectory{byID: make(map[string]*models.Student), byUserID: make(map[string]*models.Student)}
	for _, s := range students {
		dir.byID[s.ID] = s
		if s.UserID != nil {
			dir.byUserID[*s.UserID] = s
		}
	}
	return dir
}

func TestGradeListScopesStudentToOwnRecord(t *testing.T) {
	repo := &mockGradeRepo{}
	svc := NewGradeService(repo, newStudentDirectory(linkedStudent("stu-1", "user-1")), nil, nil)

	_, err := svc.List(context.Background(), models.GradeFilter{}, studentClaims("user-1"))
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter)
	assert.Equal(t, "stu-1", repo.lastFilter.StudentID)
}

func TestGradeListRejectsForeignStudentFilter(t *testing.T) {
	repo := &mockGradeRepo{}
	svc := NewGradeService(repo, newStudentDirectory(
		linkedStudent("stu-1", "user-1"),
		linkedStudent("stu-2", "user-2"),
	), nil, nil)

	_, err := svc.List(context.Background(), models.GradeFilter{StudentID: "stu-2"}, studentClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Zero(t, repo.listCalls)
}

func TestGradeListStudentWithoutRecordForbidden(t *testing.T) {
	repo := &mockGradeRepo{}
	svc := NewGradeService(repo, newStudentDirectory(), nil, nil)

	_, err := svc.List(context.Background(), models.GradeFilter{}, studentClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGradeListStaffFilterPassesThrough(t *testing.T) {
	repo := &mockGradeRepo{}
	svc := NewGradeService(repo, newStudentDirectory(), nil, nil)

	_, err := svc.List(context.Background(), models.GradeFilter{StudentID: "stu-2", Term: "1B"}, adminClaims())
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter)
	assert.Equal(t, "stu-2", repo.lastFilter.StudentID)
	assert.Equal(t, "1B", repo.lastFilter.Term)
}
