package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgescolar/sge-api/internal/models"
)

func TestAttendanceUpsertSetsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.Attendance{
		StudentID: "stu-1",
		Date:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:    models.AttendancePresent,
	}
	require.NoError(t, repo.Upsert(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceUpsertConflictClause(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	// Same-day writes must converge on one row instead of erroring.
	mock.ExpectExec(`ON CONFLICT \(student_id, date\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.Attendance{
		StudentID: "stu-1",
		Date:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:    models.AttendanceLate,
		Note:      "chegou após o intervalo",
	}
	require.NoError(t, repo.Upsert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceListByDateWindow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "student_id", "date", "status", "note", "created_at", "updated_at"}).
		AddRow("att-1", "stu-1", from.AddDate(0, 0, 9), string(models.AttendanceAbsent), "", now, now)
	mock.ExpectQuery(`date >= \$2 AND date <= \$3`).
		WithArgs("stu-1", from, to).
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), models.AttendanceFilter{
		StudentID: "stu-1",
		From:      &from,
		To:        &to,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.AttendanceAbsent, records[0].Status)
}
