package models

import "time"

// AttendanceStatus enumerates the per-day attendance outcomes.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
)

// Attendance is one record per student per calendar date. Writes go
// through an upsert keyed on (student_id, date).
type Attendance struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	Note      string           `db:"note" json:"note"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceFilter selects attendance records for listings.
type AttendanceFilter struct {
	StudentID string
	Date      *time.Time
	From      *time.Time
	To        *time.Time
}
