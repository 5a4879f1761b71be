package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const schoolColumns = `id, name, slug, address, phone, email, due_date_rule, created_at, updated_at`

// SchoolRepository handles school persistence.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository creates a new school repository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// FindByID returns a school by primary key.
func (r *SchoolRepository) FindByID(ctx context.Context, id string) (*models.School, error) {
	query := fmt.Sprintf(`SELECT %s FROM schools WHERE id = $1`, schoolColumns)
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		return nil, err
	}
	return &school, nil
}

// FindBySlug resolves a school by its immutable slug.
func (r *SchoolRepository) FindBySlug(ctx context.Context, slug string) (*models.School, error) {
	query := fmt.Sprintf(`SELECT %s FROM schools WHERE slug = $1`, schoolColumns)
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, slug); err != nil {
		return nil, err
	}
	return &school, nil
}

// List returns the schools visible to the actor.
func (r *SchoolRepository) List(ctx context.Context, actor models.Actor) ([]models.School, error) {
	query := fmt.Sprintf(`SELECT %s FROM schools WHERE 1=1`, schoolColumns)
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "id")
	query += " ORDER BY name"
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, args...); err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	return schools, nil
}

// Create inserts a school; bootstrap only.
func (r *SchoolRepository) Create(ctx context.Context, school *models.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	school.CreatedAt = now
	school.UpdatedAt = now
	const query = `INSERT INTO schools (id, name, slug, address, phone, email, due_date_rule, created_at, updated_at)
        VALUES (:id, :name, :slug, :address, :phone, :email, :due_date_rule, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

// Update rewrites contact fields and the due-date rule; the slug is immutable.
func (r *SchoolRepository) Update(ctx context.Context, school *models.School) error {
	school.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schools SET name = :name, address = :address, phone = :phone,
            email = :email, due_date_rule = :due_date_rule, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("update school: %w", err)
	}
	return nil
}
