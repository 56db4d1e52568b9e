package models

import "time"

// Student represents a learner registered in the institution. Code is the
// unique enrollment code (RA) assigned at admission.
type Student struct {
	ID           string     `db:"id" json:"id"`
	Code         string     `db:"code" json:"code"`
	FullName     string     `db:"full_name" json:"full_name"`
	Email        string     `db:"email" json:"email"`
	Phone        string     `db:"phone" json:"phone"`
	BirthDate    *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Address      string     `db:"address" json:"address"`
	GuardianName string     `db:"guardian_name" json:"guardian_name"`
	Section      string     `db:"section" json:"section"`
	UserID       *string    `db:"user_id" json:"user_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Section   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
