package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const evaluationColumns = `id, school_id, class_id, subject_id, title, date, trimester, coefficient, school_year, created_at, updated_at`

// EvaluationRepository persists evaluations.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository creates a new evaluation repository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// FindByID returns an evaluation by primary key.
func (r *EvaluationRepository) FindByID(ctx context.Context, id string) (*models.Evaluation, error) {
	query := fmt.Sprintf(`SELECT %s FROM evaluations WHERE id = $1`, evaluationColumns)
	var evaluation models.Evaluation
	if err := r.db.GetContext(ctx, &evaluation, query, id); err != nil {
		return nil, err
	}
	return &evaluation, nil
}

// ListByClass returns evaluations of a class, optionally one trimester.
func (r *EvaluationRepository) ListByClass(ctx context.Context, classID string, trimester *models.Trimester) ([]models.Evaluation, error) {
	query := fmt.Sprintf(`SELECT %s FROM evaluations WHERE class_id = $1`, evaluationColumns)
	args := []interface{}{classID}
	if trimester != nil {
		query += fmt.Sprintf(" AND trimester = $%d", len(args)+1)
		args = append(args, *trimester)
	}
	query += " ORDER BY date NULLS LAST, created_at"
	var evaluations []models.Evaluation
	if err := r.db.SelectContext(ctx, &evaluations, query, args...); err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return evaluations, nil
}

// Create inserts an evaluation.
func (r *EvaluationRepository) Create(ctx context.Context, evaluation *models.Evaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	evaluation.CreatedAt = now
	evaluation.UpdatedAt = now
	const query = `INSERT INTO evaluations (id, school_id, class_id, subject_id, title, date, trimester, coefficient, school_year, created_at, updated_at)
        VALUES (:id, :school_id, :class_id, :subject_id, :title, :date, :trimester, :coefficient, :school_year, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, evaluation); err != nil {
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

// Update rewrites mutable fields.
func (r *EvaluationRepository) Update(ctx context.Context, evaluation *models.Evaluation) error {
	evaluation.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluations SET title = :title, date = :date, trimester = :trimester,
            coefficient = :coefficient, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, evaluation); err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	return nil
}

// Delete removes an evaluation and, through the FK cascade, its marks.
func (r *EvaluationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM evaluations WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete evaluation: %w", err)
	}
	return nil
}
