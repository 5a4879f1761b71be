package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const classColumns = `id, school_id, name, level, school_year, series, capacity, created_at, updated_at`

// ClassRepository handles class persistence.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository creates a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID returns a class by primary key.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE id = $1`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// List returns classes for a school year, scoped to the actor's school.
func (r *ClassRepository) List(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE 1=1`, classColumns)
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if schoolID != "" {
		query += fmt.Sprintf(" AND school_id = $%d", len(args)+1)
		args = append(args, schoolID)
	}
	if schoolYear != "" {
		query += fmt.Sprintf(" AND school_year = $%d", len(args)+1)
		args = append(args, schoolYear)
	}
	query += " ORDER BY name"
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// Create inserts a class. Unique (school, name, school_year).
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, school_id, name, level, school_year, series, capacity, created_at, updated_at)
        VALUES (:id, :school_id, :name, :level, :school_year, :series, :capacity, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update rewrites mutable fields.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET name = :name, level = :level, series = :series,
            capacity = :capacity, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Delete removes a class. The service checks references first.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM classes WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}
