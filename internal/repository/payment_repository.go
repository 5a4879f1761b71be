package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const paymentColumns = `id, school_id, student_id, type_id, mode_id,
        receipt_year, receipt_seq, receipt_no, amount, payment_date, external_reference,
        status, created_by, created_at, validated_by, validated_at, observations`

// PaymentRepository handles payment and allocation persistence.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByID returns a payment by primary key.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByID loads a payment under a row lock; concurrent validations of the
// same payment serialise here.
func (r *PaymentRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 FOR UPDATE`, paymentColumns)
	var payment models.Payment
	if err := tx.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// NextReceiptSeq computes max-plus-one for the year bucket. The unique index
// on (receipt_year, receipt_seq) is the real guarantee; callers retry on
// conflict.
func (r *PaymentRepository) NextReceiptSeq(ctx context.Context, year int) (int, error) {
	const query = `SELECT COALESCE(MAX(receipt_seq), 0) + 1 FROM payments WHERE receipt_year = $1`
	var seq int
	if err := r.db.GetContext(ctx, &seq, query, year); err != nil {
		return 0, fmt.Errorf("next receipt seq: %w", err)
	}
	return seq, nil
}

// Create inserts a PENDING payment. Returns a conflict-flavoured error when
// the receipt number is already taken so the service can retry.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO payments (id, school_id, student_id, type_id, mode_id,
            receipt_year, receipt_seq, receipt_no, amount, payment_date, external_reference,
            status, created_by, created_at, validated_by, validated_at, observations)
        VALUES (:id, :school_id, :student_id, :type_id, :mode_id,
            :receipt_year, :receipt_seq, :receipt_no, :amount, :payment_date, :external_reference,
            :status, :created_by, :created_at, :validated_by, :validated_at, :observations)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// IsUniqueViolation reports a Postgres unique-constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// SetStatus stamps a status transition inside tx.
func (r *PaymentRepository) SetStatus(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	const query = `UPDATE payments SET status = :status, validated_by = :validated_by,
            validated_at = :validated_at, observations = :observations
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return nil
}

// InsertAllocations records how a validated payment landed on tranches.
func (r *PaymentRepository) InsertAllocations(ctx context.Context, tx *sqlx.Tx, allocations []models.PaymentAllocation) error {
	const query = `INSERT INTO payment_allocations (id, payment_id, tranche, amount, late, created_at)
        VALUES (:id, :payment_id, :tranche, :amount, :late, :created_at)`
	for i := range allocations {
		if allocations[i].ID == "" {
			allocations[i].ID = uuid.NewString()
		}
		allocations[i].CreatedAt = time.Now().UTC()
		if _, err := tx.NamedExecContext(ctx, query, allocations[i]); err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
	}
	return nil
}

// AllocationsByPayment returns the recorded allocations of one payment.
func (r *PaymentRepository) AllocationsByPayment(ctx context.Context, tx *sqlx.Tx, paymentID string) ([]models.PaymentAllocation, error) {
	const query = `SELECT id, payment_id, tranche, amount, late, created_at
        FROM payment_allocations WHERE payment_id = $1 ORDER BY created_at`
	var allocations []models.PaymentAllocation
	if err := tx.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("allocations by payment: %w", err)
	}
	return allocations, nil
}

// DeleteAllocations removes a payment's allocations during reversal.
func (r *PaymentRepository) DeleteAllocations(ctx context.Context, tx *sqlx.Tx, paymentID string) error {
	const query = `DELETE FROM payment_allocations WHERE payment_id = $1`
	if _, err := tx.ExecContext(ctx, query, paymentID); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	return nil
}

// SumValidByStudents sums VALID payment amounts per student within a window.
func (r *PaymentRepository) SumValidByStudents(ctx context.Context, studentIDs []string, from, to time.Time) (map[string]int64, error) {
	if len(studentIDs) == 0 {
		return map[string]int64{}, nil
	}
	const query = `SELECT student_id, COALESCE(SUM(amount), 0) AS total
        FROM payments
        WHERE status = 'VALID' AND student_id = ANY($1) AND payment_date >= $2 AND payment_date <= $3
        GROUP BY student_id`
	type sumRow struct {
		StudentID string `db:"student_id"`
		Total     int64  `db:"total"`
	}
	var rows []sumRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(studentIDs), from, to); err != nil {
		return nil, fmt.Errorf("sum valid payments: %w", err)
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.StudentID] = row.Total
	}
	return result, nil
}

// ListValidInWindow returns VALID payments of a school inside a window,
// joined with the payment type name for reclassification.
func (r *PaymentRepository) ListValidInWindow(ctx context.Context, schoolID string, from, to time.Time) ([]models.Payment, map[string]models.PaymentType, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments
        WHERE school_id = $1 AND status = 'VALID' AND payment_date >= $2 AND payment_date <= $3
        ORDER BY payment_date`, paymentColumns)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, schoolID, from, to); err != nil {
		return nil, nil, fmt.Errorf("list valid payments: %w", err)
	}

	typeIDs := make([]string, 0, len(payments))
	seen := make(map[string]bool)
	for _, p := range payments {
		if !seen[p.TypeID] {
			typeIDs = append(typeIDs, p.TypeID)
			seen[p.TypeID] = true
		}
	}
	types := make(map[string]models.PaymentType, len(typeIDs))
	if len(typeIDs) > 0 {
		const typeQuery = `SELECT id, school_id, name, tranche_targets, active, created_at, updated_at
            FROM payment_types WHERE id = ANY($1)`
		var typeRows []models.PaymentType
		if err := r.db.SelectContext(ctx, &typeRows, typeQuery, pq.Array(typeIDs)); err != nil {
			return nil, nil, fmt.Errorf("load payment types: %w", err)
		}
		for _, t := range typeRows {
			types[t.ID] = t
		}
	}
	return payments, types, nil
}

// List returns payments matching the filter, scoped to the actor's school.
func (r *PaymentRepository) List(ctx context.Context, actor models.Actor, filter models.PaymentFilter) ([]models.Payment, int, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE 1=1`, paymentColumns)
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if filter.SchoolID != "" {
		query += fmt.Sprintf(" AND school_id = $%d", len(args)+1)
		args = append(args, filter.SchoolID)
	}
	if filter.StudentID != "" {
		query += fmt.Sprintf(" AND student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND payment_date >= $%d", len(args)+1)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND payment_date <= $%d", len(args)+1)
		args = append(args, filter.To)
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") c"
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query += fmt.Sprintf(" ORDER BY payment_date DESC LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)

	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return payments, total, nil
}
