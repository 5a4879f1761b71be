package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const teacherColumns = `id, school_id, first_name, last_name, phone, base_salary,
    active, created_at, updated_at`

const salaryStateColumns = `id, period_id, teacher_id, base, bonuses, deductions,
    net, status, created_at, updated_at`

// PayrollRepository manages teachers, salary periods and per-teacher states.
type PayrollRepository struct {
	db *sqlx.DB
}

// NewPayrollRepository creates a new payroll repository.
func NewPayrollRepository(db *sqlx.DB) *PayrollRepository {
	return &PayrollRepository{db: db}
}

// FindTeacher retrieves a teacher scoped to the actor's school.
func (r *PayrollRepository) FindTeacher(ctx context.Context, actor models.Actor, id string) (*models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers WHERE id = $1`, teacherColumns)
	args := []interface{}{id}
	query, args = scopeBySchool(query, args, actor, "school_id")

	var t models.Teacher
	if err := r.db.GetContext(ctx, &t, query, args...); err != nil {
		return nil, fmt.Errorf("find teacher: %w", err)
	}
	return &t, nil
}

// ListActiveTeachers returns the school's active teachers, base payroll input.
func (r *PayrollRepository) ListActiveTeachers(ctx context.Context, schoolID string) ([]models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers
        WHERE school_id = $1 AND active = true
        ORDER BY last_name, first_name`, teacherColumns)

	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, schoolID); err != nil {
		return nil, fmt.Errorf("list active teachers: %w", err)
	}
	return teachers, nil
}

// CreateTeacher inserts a new teacher.
func (r *PayrollRepository) CreateTeacher(ctx context.Context, t *models.Teacher) error {
	query := `INSERT INTO teachers (id, school_id, first_name, last_name, phone,
        base_salary, active, created_at, updated_at)
        VALUES (:id, :school_id, :first_name, :last_name, :phone,
        :base_salary, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	return nil
}

// FindOpenPeriod returns the school's current OPEN period. At most one exists.
func (r *PayrollRepository) FindOpenPeriod(ctx context.Context, schoolID string) (*models.SalaryPeriod, error) {
	const query = `SELECT id, school_id, month, year, status, created_at, closed_at
        FROM salary_periods WHERE school_id = $1 AND status = $2`

	var period models.SalaryPeriod
	if err := r.db.GetContext(ctx, &period, query, schoolID, models.PeriodOpen); err != nil {
		return nil, fmt.Errorf("find open salary period: %w", err)
	}
	return &period, nil
}

// LockPeriod loads a period FOR UPDATE inside a transaction; the close flow
// serializes on this lock.
func (r *PayrollRepository) LockPeriod(ctx context.Context, tx *sqlx.Tx, id string) (*models.SalaryPeriod, error) {
	const query = `SELECT id, school_id, month, year, status, created_at, closed_at
        FROM salary_periods WHERE id = $1 FOR UPDATE`

	var period models.SalaryPeriod
	if err := tx.GetContext(ctx, &period, query, id); err != nil {
		return nil, fmt.Errorf("lock salary period: %w", err)
	}
	return &period, nil
}

// CreatePeriod inserts a period; used both for the first OPEN period and the
// successor created while closing.
func (r *PayrollRepository) CreatePeriod(ctx context.Context, tx *sqlx.Tx, period *models.SalaryPeriod) error {
	query := `INSERT INTO salary_periods (id, school_id, month, year, status, created_at)
        VALUES (:id, :school_id, :month, :year, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create salary period: %w", err)
	}
	return nil
}

// ClosePeriod marks a period CLOSED. Runs in the same transaction that
// creates the successor period.
func (r *PayrollRepository) ClosePeriod(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `UPDATE salary_periods SET status = $1, closed_at = NOW() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, models.PeriodClosed, id); err != nil {
		return fmt.Errorf("close salary period: %w", err)
	}
	return nil
}

// FindState retrieves one teacher's salary state within a period.
func (r *PayrollRepository) FindState(ctx context.Context, periodID, teacherID string) (*models.SalaryState, error) {
	query := fmt.Sprintf(`SELECT %s FROM salary_states
        WHERE period_id = $1 AND teacher_id = $2`, salaryStateColumns)

	var state models.SalaryState
	if err := r.db.GetContext(ctx, &state, query, periodID, teacherID); err != nil {
		return nil, fmt.Errorf("find salary state: %w", err)
	}
	return &state, nil
}

// ListStates returns all salary states of a period.
func (r *PayrollRepository) ListStates(ctx context.Context, periodID string) ([]models.SalaryState, error) {
	query := fmt.Sprintf(`SELECT %s FROM salary_states
        WHERE period_id = $1 ORDER BY created_at`, salaryStateColumns)

	var states []models.SalaryState
	if err := r.db.SelectContext(ctx, &states, query, periodID); err != nil {
		return nil, fmt.Errorf("list salary states: %w", err)
	}
	return states, nil
}

// CountUnpaidStates counts states still short of PAID; a period only closes
// once this reaches zero.
func (r *PayrollRepository) CountUnpaidStates(ctx context.Context, tx *sqlx.Tx, periodID string) (int, error) {
	const query = `SELECT COUNT(*) FROM salary_states WHERE period_id = $1 AND status <> $2`
	var count int
	if err := tx.GetContext(ctx, &count, query, periodID, models.SalaryPaid); err != nil {
		return 0, fmt.Errorf("count unpaid salary states: %w", err)
	}
	return count, nil
}

// CreateState inserts a salary state, one per (period, teacher).
func (r *PayrollRepository) CreateState(ctx context.Context, state *models.SalaryState) error {
	query := `INSERT INTO salary_states (id, period_id, teacher_id, base, bonuses,
        deductions, net, status, created_at, updated_at)
        VALUES (:id, :period_id, :teacher_id, :base, :bonuses,
        :deductions, :net, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("create salary state: %w", err)
	}
	return nil
}

// UpdateState persists recomputed amounts and the current status.
func (r *PayrollRepository) UpdateState(ctx context.Context, state *models.SalaryState) error {
	query := `UPDATE salary_states SET base = :base, bonuses = :bonuses,
        deductions = :deductions, net = :net, status = :status, updated_at = NOW()
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("update salary state: %w", err)
	}
	return nil
}

// InsertHourDetail records extra hours against a state.
func (r *PayrollRepository) InsertHourDetail(ctx context.Context, detail *models.HourDetail) error {
	query := `INSERT INTO salary_hour_details (id, state_id, date, hours, rate, created_at)
        VALUES (:id, :state_id, :date, :hours, :rate, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, detail); err != nil {
		return fmt.Errorf("insert hour detail: %w", err)
	}
	return nil
}

// ListHourDetails returns the extra hours recorded for a state.
func (r *PayrollRepository) ListHourDetails(ctx context.Context, stateID string) ([]models.HourDetail, error) {
	const query = `SELECT id, state_id, date, hours, rate, created_at
        FROM salary_hour_details WHERE state_id = $1 ORDER BY date`

	var details []models.HourDetail
	if err := r.db.SelectContext(ctx, &details, query, stateID); err != nil {
		return nil, fmt.Errorf("list hour details: %w", err)
	}
	return details, nil
}
