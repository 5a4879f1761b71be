package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

// PaymentCatalogRepository persists payment types and modes.
type PaymentCatalogRepository struct {
	db *sqlx.DB
}

// NewPaymentCatalogRepository creates a new payment catalog repository.
func NewPaymentCatalogRepository(db *sqlx.DB) *PaymentCatalogRepository {
	return &PaymentCatalogRepository{db: db}
}

// FindType returns a payment type by primary key.
func (r *PaymentCatalogRepository) FindType(ctx context.Context, id string) (*models.PaymentType, error) {
	const query = `SELECT id, school_id, name, tranche_targets, active, created_at, updated_at
        FROM payment_types WHERE id = $1`
	var t models.PaymentType
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindMode returns a payment mode by primary key.
func (r *PaymentCatalogRepository) FindMode(ctx context.Context, id string) (*models.PaymentMode, error) {
	const query = `SELECT id, school_id, name, surcharge, active, created_at, updated_at
        FROM payment_modes WHERE id = $1`
	var m models.PaymentMode
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListTypes returns payment types, scoped to the actor's school.
func (r *PaymentCatalogRepository) ListTypes(ctx context.Context, actor models.Actor, schoolID string) ([]models.PaymentType, error) {
	query := `SELECT id, school_id, name, tranche_targets, active, created_at, updated_at
        FROM payment_types WHERE 1=1`
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if schoolID != "" {
		query += fmt.Sprintf(" AND school_id = $%d", len(args)+1)
		args = append(args, schoolID)
	}
	query += " ORDER BY name"
	var types []models.PaymentType
	if err := r.db.SelectContext(ctx, &types, query, args...); err != nil {
		return nil, fmt.Errorf("list payment types: %w", err)
	}
	return types, nil
}

// ListModes returns payment modes, scoped to the actor's school.
func (r *PaymentCatalogRepository) ListModes(ctx context.Context, actor models.Actor, schoolID string) ([]models.PaymentMode, error) {
	query := `SELECT id, school_id, name, surcharge, active, created_at, updated_at
        FROM payment_modes WHERE 1=1`
	var args []interface{}
	query, args = scopeBySchool(query, args, actor, "school_id")
	if schoolID != "" {
		query += fmt.Sprintf(" AND school_id = $%d", len(args)+1)
		args = append(args, schoolID)
	}
	query += " ORDER BY name"
	var modes []models.PaymentMode
	if err := r.db.SelectContext(ctx, &modes, query, args...); err != nil {
		return nil, fmt.Errorf("list payment modes: %w", err)
	}
	return modes, nil
}

// CreateType inserts a payment type with its explicit tranche targets.
func (r *PaymentCatalogRepository) CreateType(ctx context.Context, t *models.PaymentType) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	const query = `INSERT INTO payment_types (id, school_id, name, tranche_targets, active, created_at, updated_at)
        VALUES (:id, :school_id, :name, :tranche_targets, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("create payment type: %w", err)
	}
	return nil
}

// CreateMode inserts a payment mode.
func (r *PaymentCatalogRepository) CreateMode(ctx context.Context, m *models.PaymentMode) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	const query = `INSERT INTO payment_modes (id, school_id, name, surcharge, active, created_at, updated_at)
        VALUES (:id, :school_id, :name, :surcharge, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("create payment mode: %w", err)
	}
	return nil
}
