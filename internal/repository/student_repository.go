package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const studentColumns = `id, school_id, matricule, first_name, last_name, sex, birth_date,
        class_id, primary_guardian_id, secondary_guardian_id, photo_ref,
        enrollment_date, status, created_at, updated_at`

const studentByIDQuery = `SELECT id, school_id, matricule, first_name, last_name, sex, birth_date,
        class_id, primary_guardian_id, secondary_guardian_id, photo_ref,
        enrollment_date, status, created_at, updated_at
        FROM students WHERE id = $1`

// StudentRepository handles student persistence.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by primary key.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, studentByIDQuery, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByMatricule resolves a student by the globally unique matricule.
func (r *StudentRepository) FindByMatricule(ctx context.Context, matricule string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE matricule = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, matricule); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students matching the filter with pagination, scoped to the
// actor's school.
func (r *StudentRepository) List(ctx context.Context, actor models.Actor, filter models.StudentFilter) ([]models.Student, int, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE 1=1`, studentColumns)
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if filter.SchoolID != "" {
		query += fmt.Sprintf(" AND school_id = $%d", len(args)+1)
		args = append(args, filter.SchoolID)
	}
	if filter.ClassID != "" {
		query += fmt.Sprintf(" AND class_id = $%d", len(args)+1)
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND (first_name ILIKE $%d OR last_name ILIKE $%d OR matricule ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1)
		args = append(args, "%"+filter.Search+"%")
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") c"
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query += fmt.Sprintf(" ORDER BY last_name, first_name LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	return students, total, nil
}

// ListByClass returns every student of a class.
func (r *StudentRepository) ListByClass(ctx context.Context, classID string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE class_id = $1 ORDER BY last_name, first_name`, studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("list students by class: %w", err)
	}
	return students, nil
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, school_id, matricule, first_name, last_name, sex, birth_date,
            class_id, primary_guardian_id, secondary_guardian_id, photo_ref, enrollment_date, status, created_at, updated_at)
        VALUES (:id, :school_id, :matricule, :first_name, :last_name, :sex, :birth_date,
            :class_id, :primary_guardian_id, :secondary_guardian_id, :photo_ref, :enrollment_date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update rewrites mutable fields.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET first_name = :first_name, last_name = :last_name, sex = :sex,
            birth_date = :birth_date, class_id = :class_id, primary_guardian_id = :primary_guardian_id,
            secondary_guardian_id = :secondary_guardian_id, photo_ref = :photo_ref, status = :status,
            updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// NextMatriculeSeq returns the next sequence under a matricule prefix.
func (r *StudentRepository) NextMatriculeSeq(ctx context.Context, prefix string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE matricule LIKE $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, prefix+"%"); err != nil {
		return 0, fmt.Errorf("next matricule seq: %w", err)
	}
	return count + 1, nil
}

// MatriculeExists reports a collision for the retry loop.
func (r *StudentRepository) MatriculeExists(ctx context.Context, matricule string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM students WHERE matricule = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, matricule); err != nil {
		return false, fmt.Errorf("matricule exists: %w", err)
	}
	return exists, nil
}

// CountNewEnrollments counts students enrolled within a window per school.
func (r *StudentRepository) CountNewEnrollments(ctx context.Context, schoolID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE school_id = $1 AND enrollment_date >= $2 AND enrollment_date <= $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, schoolID, from, to); err != nil {
		return 0, fmt.Errorf("count new enrollments: %w", err)
	}
	return count, nil
}

// CountByClass supports the protected-delete check on classes.
func (r *StudentRepository) CountByClass(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE class_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count students by class: %w", err)
	}
	return count, nil
}

// CountByGuardian supports the protected-delete check on guardians.
func (r *StudentRepository) CountByGuardian(ctx context.Context, guardianID string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE primary_guardian_id = $1 OR secondary_guardian_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, guardianID); err != nil {
		return 0, fmt.Errorf("count students by guardian: %w", err)
	}
	return count, nil
}
