package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgescolar/sge-api/internal/models"
)

func TestStudentCodeExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT 1 FROM students WHERE code").
		WithArgs("RA100").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM students WHERE code").
		WithArgs("RA999").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.CodeExists(context.Background(), "RA100")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.CodeExists(context.Background(), "RA999")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentCreateWithAccount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	student := &models.Student{Code: "RA100", FullName: "Maria Silva", Section: "2A", Active: true}
	account := &models.User{Username: "msilva", Email: "maria@example.com", Role: models.RoleStudent}

	err := repo.CreateWithAccount(context.Background(), student, account)
	require.NoError(t, err)
	require.NotNil(t, student.UserID)
	assert.Equal(t, account.ID, *student.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentCreateWithAccountCodeTaken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_code_key"})
	mock.ExpectRollback()

	err := repo.CreateWithAccount(context.Background(),
		&models.Student{Code: "RA100"},
		&models.User{Username: "msilva"})
	assert.ErrorIs(t, err, ErrStudentCodeTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentDeactivate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("UPDATE students SET active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Deactivate(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
