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

type mockStudentRepo struct {
	students map[string]*models.Student
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	return nil, 0, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	return false, nil
}

func (m *mockStudentRepo) CreateWithAccount(ctx context.Context, student *models.Student, account *models.User) error {
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error { return nil }

func (m *mockStudentRepo) Deactivate(ctx context.Context, id string) error { return nil }

func newStudentGetFixture() *StudentService {
	repo := &mockStudentRepo{students: map[string]*models.Student{
		"stu-1": linkedStudent("stu-1", "user-1"),
		"stu-2": linkedStudent("stu-2", "user-2"),
	}}
	return NewStudentService(repo, &mockProvisioner{}, &mockNotifier{}, &mockAuditWriter{}, nil, nil)
}

func TestStudentGetOwnProfile(t *testing.T) {
	svc := newStudentGetFixture()

	student, err := svc.Get(context.Background(), "stu-1", studentClaims("user-1"))
	require.NoError(t, err)
	assert.Equal(t, "stu-1", student.ID)
}

func TestStudentGetForeignProfileForbidden(t *testing.T) {
	svc := newStudentGetFixture()

	_, err := svc.Get(context.Background(), "stu-2", studentClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestStudentGetUnlinkedRecordForbiddenForStudent(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]*models.Student{
		"stu-3": {ID: "stu-3", Active: true},
	}}
	svc := NewStudentService(repo, &mockProvisioner{}, &mockNotifier{}, &mockAuditWriter{}, nil, nil)

	_, err := svc.Get(context.Background(), "stu-3", studentClaims("user-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestStudentGetStaffReadsAnyProfile(t *testing.T) {
	svc := newStudentGetFixture()

	student, err := svc.Get(context.Background(), "stu-2", adminClaims())
	require.NoError(t, err)
	assert.Equal(t, "stu-2", student.ID)

	teacher := &models.JWTClaims{UserID: "user-9", Username: "prof", Role: models.RoleTeacher}
	student, err = svc.Get(context.Background(), "stu-1", teacher)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", student.ID)
}

func TestStudentGetNotFound(t *testing.T) {
	svc := newStudentGetFixture()

	_, err := svc.Get(context.Background(), "missing", adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
