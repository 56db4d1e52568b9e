package models

import "time"

// Grade stores a score for a student in a subject for a grading term
// (bimester labels 1B through 4B).
type Grade struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	Term      string    `db:"term" json:"term"`
	Score     float64   `db:"score" json:"score"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GradeDetail enriches Grade with subject info for listings.
type GradeDetail struct {
	Grade
	SubjectName string `db:"subject_name" json:"subject_name"`
	SubjectCode string `db:"subject_code" json:"subject_code"`
}

// GradeFilter provides filters for listing grades.
type GradeFilter struct {
	StudentID string
	SubjectID string
	Term      string
}
