package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const discountColumns = `id, school_id, name, kind, value, reason, start_date, end_date, active, created_at, updated_at`

// DiscountRepository persists discounts and their application to payments.
type DiscountRepository struct {
	db *sqlx.DB
}

// NewDiscountRepository creates a new discount repository.
func NewDiscountRepository(db *sqlx.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// FindByID returns a discount by primary key.
func (r *DiscountRepository) FindByID(ctx context.Context, id string) (*models.Discount, error) {
	query := fmt.Sprintf(`SELECT %s FROM discounts WHERE id = $1`, discountColumns)
	var discount models.Discount
	if err := r.db.GetContext(ctx, &discount, query, id); err != nil {
		return nil, err
	}
	return &discount, nil
}

// List returns discounts, scoped to the actor's school.
func (r *DiscountRepository) List(ctx context.Context, actor models.Actor, activeOnly bool) ([]models.Discount, error) {
	query := fmt.Sprintf(`SELECT %s FROM discounts WHERE 1=1`, discountColumns)
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if activeOnly {
		query += " AND active = true"
	}
	query += " ORDER BY name"
	var discounts []models.Discount
	if err := r.db.SelectContext(ctx, &discounts, query, args...); err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	return discounts, nil
}

// Create inserts a discount.
func (r *DiscountRepository) Create(ctx context.Context, discount *models.Discount) error {
	if discount.ID == "" {
		discount.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	discount.CreatedAt = now
	discount.UpdatedAt = now
	const query = `INSERT INTO discounts (id, school_id, name, kind, value, reason, start_date, end_date, active, created_at, updated_at)
        VALUES (:id, :school_id, :name, :kind, :value, :reason, :start_date, :end_date, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, discount); err != nil {
		return fmt.Errorf("create discount: %w", err)
	}
	return nil
}

// InsertApplication records an applied discount inside tx.
func (r *DiscountRepository) InsertApplication(ctx context.Context, tx *sqlx.Tx, pd *models.PaymentDiscount) error {
	if pd.ID == "" {
		pd.ID = uuid.NewString()
	}
	pd.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO payment_discounts (id, payment_id, discount_id, amount, created_at)
        VALUES (:id, :payment_id, :discount_id, :amount, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, pd); err != nil {
		return fmt.Errorf("insert payment discount: %w", err)
	}
	return nil
}

// SumAppliedForStudentYear sums discounts already granted on a student's
// payments inside a school-year window, up to and including asOf. This is
// the base the exigible cap is checked against.
func (r *DiscountRepository) SumAppliedForStudentYear(ctx context.Context, studentID string, from, to, asOf time.Time) (int64, error) {
	const query = `SELECT COALESCE(SUM(pd.amount), 0)
        FROM payment_discounts pd
        JOIN payments p ON p.id = pd.payment_id
        WHERE p.student_id = $1 AND p.payment_date >= $2 AND p.payment_date <= $3 AND p.payment_date <= $4`
	var total int64
	if err := r.db.GetContext(ctx, &total, query, studentID, from, to, asOf); err != nil {
		return 0, fmt.Errorf("sum applied discounts: %w", err)
	}
	return total, nil
}

// SumAppliedByStudents batches the applied-discount sums for projections.
func (r *DiscountRepository) SumAppliedByStudents(ctx context.Context, studentIDs []string, from, to, asOf time.Time) (map[string]int64, error) {
	if len(studentIDs) == 0 {
		return map[string]int64{}, nil
	}
	const query = `SELECT p.student_id, COALESCE(SUM(pd.amount), 0) AS total
        FROM payment_discounts pd
        JOIN payments p ON p.id = pd.payment_id
        WHERE p.student_id = ANY($1) AND p.payment_date >= $2 AND p.payment_date <= $3 AND p.payment_date <= $4
        GROUP BY p.student_id`
	type sumRow struct {
		StudentID string `db:"student_id"`
		Total     int64  `db:"total"`
	}
	var rows []sumRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(studentIDs), from, to, asOf); err != nil {
		return nil, fmt.Errorf("sum applied discounts by students: %w", err)
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.StudentID] = row.Total
	}
	return result, nil
}

// SumAppliedByClass totals granted discounts per class for rollups.
func (r *DiscountRepository) SumAppliedByClass(ctx context.Context, schoolID, schoolYear string) (map[string]int64, error) {
	const query = `SELECT st.class_id, COALESCE(SUM(pd.amount), 0) AS total
        FROM payment_discounts pd
        JOIN payments p ON p.id = pd.payment_id
        JOIN students st ON st.id = p.student_id
        JOIN classes c ON c.id = st.class_id
        WHERE p.school_id = $1 AND c.school_year = $2
        GROUP BY st.class_id`
	type sumRow struct {
		ClassID string `db:"class_id"`
		Total   int64  `db:"total"`
	}
	var rows []sumRow
	if err := r.db.SelectContext(ctx, &rows, query, schoolID, schoolYear); err != nil {
		return nil, fmt.Errorf("sum applied discounts by class: %w", err)
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.ClassID] = row.Total
	}
	return result, nil
}

// SumAppliedForSchoolWindow totals granted discounts for periodic reports.
func (r *DiscountRepository) SumAppliedForSchoolWindow(ctx context.Context, schoolID string, from, to time.Time) (int64, error) {
	const query = `SELECT COALESCE(SUM(pd.amount), 0)
        FROM payment_discounts pd
        JOIN payments p ON p.id = pd.payment_id
        WHERE p.school_id = $1 AND p.payment_date >= $2 AND p.payment_date <= $3`
	var total int64
	if err := r.db.GetContext(ctx, &total, query, schoolID, from, to); err != nil {
		return 0, fmt.Errorf("sum discounts for school: %w", err)
	}
	return total, nil
}
