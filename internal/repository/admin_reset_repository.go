package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// resetTables lists the domain tables in deletion order: children before
// parents so foreign keys never block the purge. Accounts, schools and
// classes survive a reset.
var resetTables = []string{
	"salary_hour_details",
	"salary_states",
	"salary_periods",
	"bus_subscriptions",
	"reminders",
	"marks",
	"evaluations",
	"subjects",
	"payment_discounts",
	"payment_allocations",
	"payments",
	"discounts",
	"schedules",
	"tariff_grids",
	"students",
	"guardians",
}

// AdminResetRepository purges all domain data. Only the admin service calls
// this, after credential and confirmation-phrase checks.
type AdminResetRepository struct {
	db *sqlx.DB
}

// NewAdminResetRepository creates a new admin reset repository.
func NewAdminResetRepository(db *sqlx.DB) *AdminResetRepository {
	return &AdminResetRepository{db: db}
}

// ResetDomain deletes every domain table in one transaction and returns the
// rows deleted per table. All or nothing: any failure rolls the purge back.
func (r *AdminResetRepository) ResetDomain(ctx context.Context, tx *sqlx.Tx) (map[string]int64, error) {
	deleted := make(map[string]int64, len(resetTables))
	for _, table := range resetTables {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			return nil, fmt.Errorf("reset table %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		deleted[table] = n
	}
	return deleted, nil
}
