package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgescolar/sge-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func pendingRequest() *models.EnrollmentRequest {
	return &models.EnrollmentRequest{
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11 99999-0000",
		Address:  "Rua A, 100",
	}
}

func TestEnrollmentRepositoryCreateForcesPending(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollment_requests").WillReturnResult(sqlmock.NewResult(1, 1))

	request := pendingRequest()
	request.Status = models.EnrollmentStatusApproved

	err := repo.Create(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, request.Status)
	assert.NotEmpty(t, request.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApprove(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	student := &models.Student{Code: "RA100", FullName: "Maria Silva", Section: "2A", Active: true}
	account := &models.User{Username: "msilva", Email: "maria@example.com", Role: models.RoleStudent}

	err := repo.Approve(context.Background(), ApproveParams{
		RequestID:  "req-1",
		ReviewedBy: "admin-1",
		Student:    student,
		Account:    account,
	})
	require.NoError(t, err)
	require.NotNil(t, student.UserID)
	assert.Equal(t, account.ID, *student.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApproveAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Approve(context.Background(), ApproveParams{
		RequestID: "req-1",
		Student:   &models.Student{Code: "RA100"},
		Account:   &models.User{Username: "msilva"},
	})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApproveUsernameTakenRollsBack(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})
	mock.ExpectRollback()

	err := repo.Approve(context.Background(), ApproveParams{
		RequestID: "req-1",
		Student:   &models.Student{Code: "RA100"},
		Account:   &models.User{Username: "msilva"},
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApproveStudentCodeTakenRollsBack(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_code_key"})
	mock.ExpectRollback()

	err := repo.Approve(context.Background(), ApproveParams{
		RequestID: "req-1",
		Student:   &models.Student{Code: "RA100"},
		Account:   &models.User{Username: "msilva"},
	})
	assert.ErrorIs(t, err, ErrStudentCodeTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRejectAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollment_requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reject(context.Background(), "req-1", "incomplete docs", "admin-1")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollment_requests WHERE status`).
		WithArgs(models.EnrollmentStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountByStatus(context.Background(), models.EnrollmentStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryList(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "full_name", "email", "phone", "birth_date", "address", "guardian_name", "status", "review_note", "reviewed_by", "reviewed_at", "created_at"}).
		AddRow("req-1", "Maria Silva", "maria@example.com", "11 99999-0000", nil, "Rua A, 100", "", models.EnrollmentStatusPending, "", nil, nil, now)
	mock.ExpectQuery("SELECT id, full_name, email").
		WithArgs(models.EnrollmentStatusPending).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollment_requests`).
		WithArgs(models.EnrollmentStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	requests, total, err := repo.List(context.Background(), models.EnrollmentFilter{Status: models.EnrollmentStatusPending})
	require.NoError(t, err)
	assert.Len(t, requests, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
