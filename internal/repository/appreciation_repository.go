package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

// AppreciationRepository resolves mention schemes and thresholds.
type AppreciationRepository struct {
	db *sqlx.DB
}

// NewAppreciationRepository creates a new appreciation repository.
func NewAppreciationRepository(db *sqlx.DB) *AppreciationRepository {
	return &AppreciationRepository{db: db}
}

// FindActiveScheme resolves the applicable scheme: the school-specific
// active scheme wins, then the global one. sql.ErrNoRows means the caller
// falls back to the hardcoded defaults.
func (r *AppreciationRepository) FindActiveScheme(ctx context.Context, schoolID string) (*models.AppreciationScheme, error) {
	const query = `SELECT id, school_id, name, active, created_at
        FROM appreciation_schemes
        WHERE active = true AND (school_id = $1 OR school_id IS NULL)
        ORDER BY school_id NULLS LAST
        LIMIT 1`
	var scheme models.AppreciationScheme
	if err := r.db.GetContext(ctx, &scheme, query, schoolID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active scheme: %w", err)
	}
	return &scheme, nil
}

// ListThresholds returns a scheme's active thresholds sorted by min_value
// descending, ready for first-match resolution.
func (r *AppreciationRepository) ListThresholds(ctx context.Context, schemeID string) ([]models.AppreciationThreshold, error) {
	const query = `SELECT id, scheme_id, min_value, label, color, display_order, active
        FROM appreciation_thresholds
        WHERE scheme_id = $1 AND active = true
        ORDER BY min_value DESC`
	var thresholds []models.AppreciationThreshold
	if err := r.db.SelectContext(ctx, &thresholds, query, schemeID); err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	return thresholds, nil
}
