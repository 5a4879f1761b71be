package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const tariffColumns = `id, school_id, level, school_year, inscription_fee, tranche_1, tranche_2, tranche_3, created_at, updated_at`

// TariffRepository handles tariff grid persistence.
type TariffRepository struct {
	db *sqlx.DB
}

// NewTariffRepository creates a new tariff repository.
func NewTariffRepository(db *sqlx.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// FindByID returns a tariff grid by primary key.
func (r *TariffRepository) FindByID(ctx context.Context, id string) (*models.TariffGrid, error) {
	query := fmt.Sprintf(`SELECT %s FROM tariff_grids WHERE id = $1`, tariffColumns)
	var grid models.TariffGrid
	if err := r.db.GetContext(ctx, &grid, query, id); err != nil {
		return nil, err
	}
	return &grid, nil
}

// FindByLevelYear resolves the grid a schedule is built from.
func (r *TariffRepository) FindByLevelYear(ctx context.Context, schoolID string, level models.ClassLevel, schoolYear string) (*models.TariffGrid, error) {
	query := fmt.Sprintf(`SELECT %s FROM tariff_grids WHERE school_id = $1 AND level = $2 AND school_year = $3`, tariffColumns)
	var grid models.TariffGrid
	if err := r.db.GetContext(ctx, &grid, query, schoolID, level, schoolYear); err != nil {
		return nil, err
	}
	return &grid, nil
}

// List returns tariff grids, scoped to the actor's school.
func (r *TariffRepository) List(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.TariffGrid, error) {
	query := fmt.Sprintf(`SELECT %s FROM tariff_grids WHERE 1=1`, tariffColumns)
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
	query += " ORDER BY level"
	var grids []models.TariffGrid
	if err := r.db.SelectContext(ctx, &grids, query, args...); err != nil {
		return nil, fmt.Errorf("list tariff grids: %w", err)
	}
	return grids, nil
}

// Upsert writes a grid keyed on (school, level, school_year).
func (r *TariffRepository) Upsert(ctx context.Context, grid *models.TariffGrid) error {
	if grid.ID == "" {
		grid.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grid.CreatedAt.IsZero() {
		grid.CreatedAt = now
	}
	grid.UpdatedAt = now
	const query = `INSERT INTO tariff_grids (id, school_id, level, school_year, inscription_fee, tranche_1, tranche_2, tranche_3, created_at, updated_at)
        VALUES (:id, :school_id, :level, :school_year, :inscription_fee, :tranche_1, :tranche_2, :tranche_3, :created_at, :updated_at)
        ON CONFLICT (school_id, level, school_year)
        DO UPDATE SET inscription_fee = EXCLUDED.inscription_fee, tranche_1 = EXCLUDED.tranche_1,
            tranche_2 = EXCLUDED.tranche_2, tranche_3 = EXCLUDED.tranche_3, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, grid); err != nil {
		return fmt.Errorf("upsert tariff grid: %w", err)
	}
	return nil
}

// CountSchedules reports how many schedules were built from a grid's scope,
// blocking deletes.
func (r *TariffRepository) CountSchedules(ctx context.Context, schoolID string, level models.ClassLevel, schoolYear string) (int, error) {
	const query = `SELECT COUNT(*) FROM schedules sc
        JOIN students st ON st.id = sc.student_id
        JOIN classes c ON c.id = st.class_id
        WHERE sc.school_id = $1 AND c.level = $2 AND sc.school_year = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, schoolID, level, schoolYear); err != nil {
		return 0, fmt.Errorf("count schedules for grid: %w", err)
	}
	return count, nil
}

// Delete removes a grid. The service checks references first.
func (r *TariffRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM tariff_grids WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete tariff grid: %w", err)
	}
	return nil
}
