package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

// MarkRepository persists marks and feeds the averages engine.
type MarkRepository struct {
	db *sqlx.DB
}

// NewMarkRepository creates a new mark repository.
func NewMarkRepository(db *sqlx.DB) *MarkRepository {
	return &MarkRepository{db: db}
}

// Upsert writes a mark keyed on (evaluation, student); re-imports are
// idempotent.
func (r *MarkRepository) Upsert(ctx context.Context, mark *models.Mark) error {
	if mark.ID == "" {
		mark.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = now
	}
	mark.UpdatedAt = now
	const query = `INSERT INTO marks (id, evaluation_id, student_id, value, observation, created_at, updated_at)
        VALUES (:id, :evaluation_id, :student_id, :value, :observation, :created_at, :updated_at)
        ON CONFLICT (evaluation_id, student_id)
        DO UPDATE SET value = EXCLUDED.value, observation = EXCLUDED.observation, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, mark); err != nil {
		return fmt.Errorf("upsert mark: %w", err)
	}
	return nil
}

// ListByEvaluation returns every mark of one evaluation.
func (r *MarkRepository) ListByEvaluation(ctx context.Context, evaluationID string) ([]models.Mark, error) {
	const query = `SELECT id, evaluation_id, student_id, value, observation, created_at, updated_at
        FROM marks WHERE evaluation_id = $1`
	var marks []models.Mark
	if err := r.db.SelectContext(ctx, &marks, query, evaluationID); err != nil {
		return nil, fmt.Errorf("list marks: %w", err)
	}
	return marks, nil
}

// ListForClass returns every mark of a class joined with its evaluation
// context, optionally limited to one trimester. This one query drives all
// average, rank and bulletin projections.
func (r *MarkRepository) ListForClass(ctx context.Context, classID string, trimester *models.Trimester) ([]models.ClassMarkRow, error) {
	query := `SELECT m.student_id, e.subject_id, e.trimester, m.value, e.coefficient AS eval_coefficient
        FROM marks m
        JOIN evaluations e ON e.id = m.evaluation_id
        WHERE e.class_id = $1`
	args := []interface{}{classID}
	if trimester != nil {
		query += fmt.Sprintf(" AND e.trimester = $%d", len(args)+1)
		args = append(args, *trimester)
	}
	var rows []models.ClassMarkRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list class marks: %w", err)
	}
	return rows, nil
}
