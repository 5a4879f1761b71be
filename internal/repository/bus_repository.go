package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const busColumns = `id, school_id, student_id, amount, periodicity, start_date,
    expiry_date, status, alert_days_before, last_reminder_at, created_at, updated_at`

// BusRepository manages transport subscriptions.
type BusRepository struct {
	db *sqlx.DB
}

// NewBusRepository creates a new bus subscription repository.
func NewBusRepository(db *sqlx.DB) *BusRepository {
	return &BusRepository{db: db}
}

// FindByID retrieves a subscription by its ID, scoped to the actor's school.
func (r *BusRepository) FindByID(ctx context.Context, actor models.Actor, id string) (*models.BusSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM bus_subscriptions WHERE id = $1`, busColumns)
	args := []interface{}{id}
	query, args = scopeBySchool(query, args, actor, "school_id")

	var sub models.BusSubscription
	if err := r.db.GetContext(ctx, &sub, query, args...); err != nil {
		return nil, fmt.Errorf("find bus subscription: %w", err)
	}
	return &sub, nil
}

// FindActiveByStudent returns the student's current active subscription, if any.
func (r *BusRepository) FindActiveByStudent(ctx context.Context, studentID string) (*models.BusSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM bus_subscriptions
        WHERE student_id = $1 AND status = $2
        ORDER BY expiry_date DESC LIMIT 1`, busColumns)

	var sub models.BusSubscription
	if err := r.db.GetContext(ctx, &sub, query, studentID, models.BusActive); err != nil {
		return nil, fmt.Errorf("find active bus subscription: %w", err)
	}
	return &sub, nil
}

// ListNearExpiry returns active subscriptions whose expiry falls inside their
// alert window and that have not been reminded since the window opened.
func (r *BusRepository) ListNearExpiry(ctx context.Context, schoolID string, today time.Time) ([]models.BusSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM bus_subscriptions
        WHERE school_id = $1
          AND status = $2
          AND expiry_date >= $3
          AND expiry_date <= $3 + (alert_days_before || ' days')::interval
          AND (last_reminder_at IS NULL OR last_reminder_at < expiry_date - (alert_days_before || ' days')::interval)
        ORDER BY expiry_date ASC`, busColumns)

	var subs []models.BusSubscription
	if err := r.db.SelectContext(ctx, &subs, query, schoolID, models.BusActive, today); err != nil {
		return nil, fmt.Errorf("list near-expiry bus subscriptions: %w", err)
	}
	return subs, nil
}

// Create inserts a new subscription.
func (r *BusRepository) Create(ctx context.Context, sub *models.BusSubscription) error {
	query := `INSERT INTO bus_subscriptions (id, school_id, student_id, amount,
        periodicity, start_date, expiry_date, status, alert_days_before, created_at, updated_at)
        VALUES (:id, :school_id, :student_id, :amount, :periodicity, :start_date,
        :expiry_date, :status, :alert_days_before, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create bus subscription: %w", err)
	}
	return nil
}

// UpdateStatus transitions a subscription to a new lifecycle status.
func (r *BusRepository) UpdateStatus(ctx context.Context, id string, status models.BusStatus) error {
	const query = `UPDATE bus_subscriptions SET status = $1, updated_at = NOW() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("update bus subscription status: %w", err)
	}
	return nil
}

// TouchReminder records that an expiry reminder went out, so the sweep does
// not queue the same subscription twice in one alert window.
func (r *BusRepository) TouchReminder(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE bus_subscriptions SET last_reminder_at = $1, updated_at = NOW() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("touch bus reminder: %w", err)
	}
	return nil
}

// ExpireOverdue flips ACTIVE subscriptions past their expiry date to EXPIRED.
func (r *BusRepository) ExpireOverdue(ctx context.Context, schoolID string, today time.Time) (int64, error) {
	const query = `UPDATE bus_subscriptions SET status = $1, updated_at = NOW()
        WHERE school_id = $2 AND status = $3 AND expiry_date < $4`
	res, err := r.db.ExecContext(ctx, query, models.BusExpired, schoolID, models.BusActive, today)
	if err != nil {
		return 0, fmt.Errorf("expire bus subscriptions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
