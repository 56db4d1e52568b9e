package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment request.
type EnrollmentStatus string

// Possible enrollment request statuses. Transitions are one-way and
// singular: PENDING moves to exactly one of the terminal states.
const (
	EnrollmentStatusPending  EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
)

// EnrollmentRequest is an applicant's unreviewed submission asking to
// become a student. Requests are never deleted.
type EnrollmentRequest struct {
	ID           string           `db:"id" json:"id"`
	FullName     string           `db:"full_name" json:"full_name"`
	Email        string           `db:"email" json:"email"`
	Phone        string           `db:"phone" json:"phone"`
	BirthDate    *time.Time       `db:"birth_date" json:"birth_date,omitempty"`
	Address      string           `db:"address" json:"address"`
	GuardianName string           `db:"guardian_name" json:"guardian_name"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	ReviewNote   string           `db:"review_note" json:"review_note"`
	ReviewedBy   *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

// EnrollmentFilter provides filters for listing enrollment requests.
type EnrollmentFilter struct {
	Status    EnrollmentStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentDecision is the reviewer's verdict on a pending request.
type EnrollmentDecision string

const (
	DecisionApprove EnrollmentDecision = "APPROVE"
	DecisionReject  EnrollmentDecision = "REJECT"
)
