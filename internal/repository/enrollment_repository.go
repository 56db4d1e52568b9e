package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sgescolar/sge-api/internal/models"
)

// ErrAlreadyResolved is returned when a status transition finds the
// request no longer pending.
var ErrAlreadyResolved = errors.New("enrollment request already resolved")

// EnrollmentRepository handles persistence of enrollment requests.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create persists a new enrollment request in the pending state.
func (r *EnrollmentRepository) Create(ctx context.Context, request *models.EnrollmentRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.Status = models.EnrollmentStatusPending
	const query = `INSERT INTO enrollment_requests (id, full_name, email, phone, birth_date, address, guardian_name, status, review_note, created_at)
        VALUES (:id, :full_name, :email, :phone, :birth_date, :address, :guardian_name, :status, :review_note, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create enrollment request: %w", err)
	}
	return nil
}

// FindByID returns an enrollment request by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	const query = `SELECT id, full_name, email, phone, birth_date, address, guardian_name, status, review_note, reviewed_by, reviewed_at, created_at
        FROM enrollment_requests WHERE id = $1`
	var request models.EnrollmentRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns enrollment requests filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRequest, int, error) {
	base := `FROM enrollment_requests`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(email) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "created_at",
		"full_name":  "full_name",
		"status":     "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, full_name, email, phone, birth_date, address, guardian_name, status, review_note, reviewed_by, reviewed_at, created_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var requests []models.EnrollmentRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment requests: %w", err)
	}
	return requests, total, nil
}

// ApproveParams carries the writes performed by an approval.
type ApproveParams struct {
	RequestID  string
	ReviewNote string
	ReviewedBy string
	Student    *models.Student
	Account    *models.User
}

// Approve performs the approval as a single transaction: the request is
// conditionally moved out of PENDING, then the account and student rows
// are inserted. The conditional update doubles as the concurrency guard;
// a raced second approval sees zero affected rows and the whole unit
// rolls back. Unique-constraint races on the student code or username
// surface as ErrStudentCodeTaken / ErrUsernameTaken.
func (r *EnrollmentRepository) Approve(ctx context.Context, params ApproveParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	const transition = `UPDATE enrollment_requests SET status = $2, review_note = $3, reviewed_by = $4, reviewed_at = $5
        WHERE id = $1 AND status = $6`
	res, err := tx.ExecContext(ctx, transition,
		params.RequestID, models.EnrollmentStatusApproved, params.ReviewNote, params.ReviewedBy, now, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("transition enrollment request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify enrollment transition: %w", err)
	}
	if affected == 0 {
		err = ErrAlreadyResolved
		return err
	}

	account := params.Account
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	const insertAccount = `INSERT INTO users (id, username, email, password_hash, full_name, role, must_change_password, active, created_at, updated_at)
        VALUES (:id, :username, :email, :password_hash, :full_name, :role, :must_change_password, :active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertAccount, account); err != nil {
		if isUniqueViolation(err, "users_username_key") {
			err = ErrUsernameTaken
			return err
		}
		return fmt.Errorf("insert account: %w", err)
	}

	student := params.Student
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.UserID = &account.ID
	student.CreatedAt = now
	student.UpdatedAt = now
	const insertStudent = `INSERT INTO students (id, code, full_name, email, phone, birth_date, address, guardian_name, section, user_id, active, created_at, updated_at)
        VALUES (:id, :code, :full_name, :email, :phone, :birth_date, :address, :guardian_name, :section, :user_id, :active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertStudent, student); err != nil {
		if isUniqueViolation(err, "students_code_key") {
			err = ErrStudentCodeTaken
			return err
		}
		return fmt.Errorf("insert student: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit approval: %w", err)
	}
	return nil
}

// Reject conditionally moves a pending request to REJECTED.
func (r *EnrollmentRepository) Reject(ctx context.Context, id, reviewNote, reviewedBy string) error {
	const query = `UPDATE enrollment_requests SET status = $2, review_note = $3, reviewed_by = $4, reviewed_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query,
		id, models.EnrollmentStatusRejected, reviewNote, reviewedBy, time.Now().UTC(), models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("reject enrollment request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify enrollment rejection: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// CountByStatus returns how many requests sit in the given status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, status models.EnrollmentStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollment_requests WHERE status = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, status); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count enrollment requests: %w", err)
	}
	return total, nil
}
