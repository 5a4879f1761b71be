package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const guardianColumns = `id, school_id, name, phone, secondary_phone, email, created_at, updated_at`

// GuardianRepository handles guardian persistence.
type GuardianRepository struct {
	db *sqlx.DB
}

// NewGuardianRepository creates a new guardian repository.
func NewGuardianRepository(db *sqlx.DB) *GuardianRepository {
	return &GuardianRepository{db: db}
}

// FindByID returns a guardian by primary key.
func (r *GuardianRepository) FindByID(ctx context.Context, id string) (*models.Guardian, error) {
	query := fmt.Sprintf(`SELECT %s FROM guardians WHERE id = $1`, guardianColumns)
	var guardian models.Guardian
	if err := r.db.GetContext(ctx, &guardian, query, id); err != nil {
		return nil, err
	}
	return &guardian, nil
}

// List returns guardians, scoped to the actor's school.
func (r *GuardianRepository) List(ctx context.Context, actor models.Actor, search string) ([]models.Guardian, error) {
	query := fmt.Sprintf(`SELECT %s FROM guardians WHERE 1=1`, guardianColumns)
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if search != "" {
		query += fmt.Sprintf(" AND (name ILIKE $%d OR phone ILIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, "%"+search+"%")
	}
	query += " ORDER BY name"
	var guardians []models.Guardian
	if err := r.db.SelectContext(ctx, &guardians, query, args...); err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	return guardians, nil
}

// Create inserts a guardian.
func (r *GuardianRepository) Create(ctx context.Context, guardian *models.Guardian) error {
	if guardian.ID == "" {
		guardian.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	guardian.CreatedAt = now
	guardian.UpdatedAt = now
	const query = `INSERT INTO guardians (id, school_id, name, phone, secondary_phone, email, created_at, updated_at)
        VALUES (:id, :school_id, :name, :phone, :secondary_phone, :email, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, guardian); err != nil {
		return fmt.Errorf("create guardian: %w", err)
	}
	return nil
}

// Update rewrites contact fields.
func (r *GuardianRepository) Update(ctx context.Context, guardian *models.Guardian) error {
	guardian.UpdatedAt = time.Now().UTC()
	const query = `UPDATE guardians SET name = :name, phone = :phone,
            secondary_phone = :secondary_phone, email = :email, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, guardian); err != nil {
		return fmt.Errorf("update guardian: %w", err)
	}
	return nil
}

// Delete removes a guardian. The service checks references first.
func (r *GuardianRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM guardians WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete guardian: %w", err)
	}
	return nil
}
