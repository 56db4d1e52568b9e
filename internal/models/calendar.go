package models

import "time"

// CalendarAudience restricts who sees an event.
type CalendarAudience string

const (
	AudienceAll      CalendarAudience = "ALL"
	AudienceTeachers CalendarAudience = "TEACHERS"
	AudienceStudents CalendarAudience = "STUDENTS"
)

// CalendarEvent is a school calendar entry.
type CalendarEvent struct {
	ID          string           `db:"id" json:"id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	StartsAt    time.Time        `db:"starts_at" json:"starts_at"`
	EndsAt      time.Time        `db:"ends_at" json:"ends_at"`
	Audience    CalendarAudience `db:"audience" json:"audience"`
	CreatedBy   *string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// CalendarFilter selects events within a window.
type CalendarFilter struct {
	From     *time.Time
	To       *time.Time
	Audience CalendarAudience
}
