package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const scheduleColumns = `id, school_id, student_id, school_year,
        inscription_due, tranche_1_due, tranche_2_due, tranche_3_due,
        inscription_paid, tranche_1_paid, tranche_2_paid, tranche_3_paid,
        inscription_due_date, tranche_1_due_date, tranche_2_due_date, tranche_3_due_date,
        state, created_at, updated_at`

// ScheduleRepository persists installment schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// FindByStudentYear returns the schedule for a student and school year.
func (r *ScheduleRepository) FindByStudentYear(ctx context.Context, studentID, schoolYear string) (*models.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE student_id = $1 AND school_year = $2`, scheduleColumns)
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, studentID, schoolYear); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// LockByStudentYear loads the schedule under a row lock inside tx.
func (r *ScheduleRepository) LockByStudentYear(ctx context.Context, tx *sqlx.Tx, studentID, schoolYear string) (*models.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE student_id = $1 AND school_year = $2 FOR UPDATE`, scheduleColumns)
	var schedule models.Schedule
	if err := tx.GetContext(ctx, &schedule, query, studentID, schoolYear); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Create inserts a fresh schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	const query = `INSERT INTO schedules (id, school_id, student_id, school_year,
            inscription_due, tranche_1_due, tranche_2_due, tranche_3_due,
            inscription_paid, tranche_1_paid, tranche_2_paid, tranche_3_paid,
            inscription_due_date, tranche_1_due_date, tranche_2_due_date, tranche_3_due_date,
            state, created_at, updated_at)
        VALUES (:id, :school_id, :student_id, :school_year,
            :inscription_due, :tranche_1_due, :tranche_2_due, :tranche_3_due,
            :inscription_paid, :tranche_1_paid, :tranche_2_paid, :tranche_3_paid,
            :inscription_due_date, :tranche_1_due_date, :tranche_2_due_date, :tranche_3_due_date,
            :state, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// UpdateAmounts writes paid amounts and state inside tx, preserving the
// invariant that every financial mutation happens under the schedule lock.
func (r *ScheduleRepository) UpdateAmounts(ctx context.Context, tx *sqlx.Tx, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedules SET
            inscription_paid = :inscription_paid,
            tranche_1_paid = :tranche_1_paid,
            tranche_2_paid = :tranche_2_paid,
            tranche_3_paid = :tranche_3_paid,
            state = :state,
            updated_at = :updated_at
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("update schedule amounts: %w", err)
	}
	return nil
}

// UpdateState persists a recomputed state outside any financial mutation.
func (r *ScheduleRepository) UpdateState(ctx context.Context, scheduleID string, state models.ScheduleState) error {
	const query = `UPDATE schedules SET state = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, state, time.Now().UTC(), scheduleID); err != nil {
		return fmt.Errorf("update schedule state: %w", err)
	}
	return nil
}

// ListByFilter returns schedules joined to their students for the arrears
// projection, scoped to the actor's school.
func (r *ScheduleRepository) ListByFilter(ctx context.Context, actor models.Actor, filter models.ArrearsFilter) ([]models.Schedule, []models.Student, int, error) {
	query := `SELECT sc.id, sc.school_id, sc.student_id, sc.school_year,
            sc.inscription_due, sc.tranche_1_due, sc.tranche_2_due, sc.tranche_3_due,
            sc.inscription_paid, sc.tranche_1_paid, sc.tranche_2_paid, sc.tranche_3_paid,
            sc.inscription_due_date, sc.tranche_1_due_date, sc.tranche_2_due_date, sc.tranche_3_due_date,
            sc.state, sc.created_at, sc.updated_at
        FROM schedules sc
        JOIN students st ON st.id = sc.student_id
        WHERE sc.school_year = $1`
	args := []interface{}{filter.SchoolYear}
	query, args = scopeBySchool(query, args, actor, "sc.school_id")
	if filter.SchoolID != "" {
		query += fmt.Sprintf(" AND sc.school_id = $%d", len(args)+1)
		args = append(args, filter.SchoolID)
	}
	if filter.ClassID != "" {
		query += fmt.Sprintf(" AND st.class_id = $%d", len(args)+1)
		args = append(args, filter.ClassID)
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND (st.first_name ILIKE $%d OR st.last_name ILIKE $%d OR st.matricule ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1)
		args = append(args, "%"+filter.Search+"%")
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") c"
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query += fmt.Sprintf(" ORDER BY st.last_name, st.first_name LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)

	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	students := make([]models.Student, 0, len(schedules))
	for _, sc := range schedules {
		var student models.Student
		if err := r.db.GetContext(ctx, &student, studentByIDQuery, sc.StudentID); err != nil {
			return nil, nil, 0, fmt.Errorf("load student %s: %w", sc.StudentID, err)
		}
		students = append(students, student)
	}
	return schedules, students, total, nil
}

// ClassRollups aggregates schedules per class for one school year.
func (r *ScheduleRepository) ClassRollups(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.ClassRollup, error) {
	query := `SELECT c.id AS class_id, c.name AS class_name, sc.school_year,
            COUNT(sc.id) AS effectif,
            COALESCE(SUM(sc.inscription_due + sc.tranche_1_due + sc.tranche_2_due + sc.tranche_3_due), 0) AS total_due,
            COALESCE(SUM(sc.inscription_paid + sc.tranche_1_paid + sc.tranche_2_paid + sc.tranche_3_paid), 0) AS total_paid
        FROM schedules sc
        JOIN students st ON st.id = sc.student_id
        JOIN classes c ON c.id = st.class_id
        WHERE sc.school_year = $1 AND sc.school_id = $2`
	args := []interface{}{schoolYear, schoolID}
	query, args = scopeBySchool(query, args, actor, "sc.school_id")
	query += " GROUP BY c.id, c.name, sc.school_year ORDER BY c.name"

	type rollupRow struct {
		ClassID    string `db:"class_id"`
		ClassName  string `db:"class_name"`
		SchoolYear string `db:"school_year"`
		Effectif   int    `db:"effectif"`
		TotalDue   int64  `db:"total_due"`
		TotalPaid  int64  `db:"total_paid"`
	}
	var rows []rollupRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("class rollups: %w", err)
	}

	rollups := make([]models.ClassRollup, 0, len(rows))
	for _, row := range rows {
		remaining := row.TotalDue - row.TotalPaid
		if remaining < 0 {
			remaining = 0
		}
		rollups = append(rollups, models.ClassRollup{
			ClassID:    row.ClassID,
			ClassName:  row.ClassName,
			SchoolYear: row.SchoolYear,
			Effectif:   row.Effectif,
			TotalDue:   row.TotalDue,
			TotalPaid:  row.TotalPaid,
			Remaining:  remaining,
		})
	}
	return rollups, nil
}
