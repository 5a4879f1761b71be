package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const subjectColumns = `id, school_id, class_id, name, coefficient, active, created_at, updated_at`

// SubjectRepository persists per-class subjects and coefficient baselines.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new subject repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// FindByID returns a subject by primary key.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	query := fmt.Sprintf(`SELECT %s FROM subjects WHERE id = $1`, subjectColumns)
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListByClass returns the subjects of a class.
func (r *SubjectRepository) ListByClass(ctx context.Context, classID string, activeOnly bool) ([]models.Subject, error) {
	query := fmt.Sprintf(`SELECT %s FROM subjects WHERE class_id = $1`, subjectColumns)
	if activeOnly {
		query += " AND active = true"
	}
	query += " ORDER BY name"
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, classID); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// Upsert writes a subject keyed on (class, name).
func (r *SubjectRepository) Upsert(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	subject.UpdatedAt = now
	const query = `INSERT INTO subjects (id, school_id, class_id, name, coefficient, active, created_at, updated_at)
        VALUES (:id, :school_id, :class_id, :name, :coefficient, :active, :created_at, :updated_at)
        ON CONFLICT (class_id, name)
        DO UPDATE SET coefficient = EXCLUDED.coefficient, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

// CountEvaluations blocks subject deletion while evaluations reference it.
func (r *SubjectRepository) CountEvaluations(ctx context.Context, subjectID string) (int, error) {
	const query = `SELECT COUNT(*) FROM evaluations WHERE subject_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, subjectID); err != nil {
		return 0, fmt.Errorf("count evaluations: %w", err)
	}
	return count, nil
}

// Delete removes a subject. The service checks references first.
func (r *SubjectRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM subjects WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return nil
}

// ListBaselines returns every coefficient baseline matching a series code.
// Specificity ordering is resolved by the service.
func (r *SubjectRepository) ListBaselines(ctx context.Context, seriesCode string) ([]models.CoefficientBaseline, error) {
	const query = `SELECT id, school_id, school_year, series_code, subject_name, coefficient
        FROM coefficient_baselines WHERE series_code = $1`
	var baselines []models.CoefficientBaseline
	if err := r.db.SelectContext(ctx, &baselines, query, seriesCode); err != nil {
		return nil, fmt.Errorf("list coefficient baselines: %w", err)
	}
	return baselines, nil
}
