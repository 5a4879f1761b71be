package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkcamara/scolaris-core/internal/models"
)

const reminderColumns = `id, school_id, student_id, channel, phone, message, estimated_balance,
        status, provider_id, failure_reason, created_by, created_at, sent_at`

// ReminderRepository is the reminder outbox. Rows are created QUEUED inside
// the caller's transaction and drained by the background worker.
type ReminderRepository struct {
	db *sqlx.DB
}

// NewReminderRepository creates a new reminder repository.
func NewReminderRepository(db *sqlx.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Create inserts a QUEUED reminder outside any transaction.
func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	return r.create(ctx, r.db, reminder)
}

// CreateTx inserts a QUEUED reminder inside the caller's transaction so the
// outbox row commits atomically with the triggering mutation.
func (r *ReminderRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, reminder *models.Reminder) error {
	return r.create(ctx, tx, reminder)
}

func (r *ReminderRepository) create(ctx context.Context, ext sqlx.ExtContext, reminder *models.Reminder) error {
	if reminder.ID == "" {
		reminder.ID = uuid.NewString()
	}
	reminder.CreatedAt = time.Now().UTC()
	if reminder.Status == "" {
		reminder.Status = models.ReminderQueued
	}
	const query = `INSERT INTO reminders (id, school_id, student_id, channel, phone, message, estimated_balance,
            status, provider_id, failure_reason, created_by, created_at, sent_at)
        VALUES (:id, :school_id, :student_id, :channel, :phone, :message, :estimated_balance,
            :status, :provider_id, :failure_reason, :created_by, :created_at, :sent_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, reminder); err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// FindByID returns a reminder by primary key.
func (r *ReminderRepository) FindByID(ctx context.Context, id string) (*models.Reminder, error) {
	query := fmt.Sprintf(`SELECT %s FROM reminders WHERE id = $1`, reminderColumns)
	var reminder models.Reminder
	if err := r.db.GetContext(ctx, &reminder, query, id); err != nil {
		return nil, err
	}
	return &reminder, nil
}

// ListQueued returns the oldest queued reminders for the worker.
func (r *ReminderRepository) ListQueued(ctx context.Context, limit int) ([]models.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM reminders WHERE status = 'QUEUED' ORDER BY created_at LIMIT %d`, reminderColumns, limit)
	var reminders []models.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query); err != nil {
		return nil, fmt.Errorf("list queued reminders: %w", err)
	}
	return reminders, nil
}

// MarkSent flips a reminder to SENT with its provider message id.
func (r *ReminderRepository) MarkSent(ctx context.Context, id, providerID string) error {
	const query = `UPDATE reminders SET status = 'SENT', provider_id = $1, sent_at = $2, failure_reason = NULL
        WHERE id = $3 AND status = 'QUEUED'`
	if _, err := r.db.ExecContext(ctx, query, providerID, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// MarkFailed flips a reminder to FAILED with the reason.
func (r *ReminderRepository) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `UPDATE reminders SET status = 'FAILED', failure_reason = $1
        WHERE id = $2 AND status = 'QUEUED'`
	if _, err := r.db.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("mark reminder failed: %w", err)
	}
	return nil
}

// UpdateStatusByProvider applies a delivery callback idempotently: only a
// reminder still carrying that provider id changes, and repeating the same
// callback is a no-op.
func (r *ReminderRepository) UpdateStatusByProvider(ctx context.Context, providerID string, status models.ReminderStatus, reason string) error {
	const query = `UPDATE reminders SET status = $1,
            failure_reason = NULLIF($2, ''),
            sent_at = CASE WHEN $1 = 'SENT' AND sent_at IS NULL THEN $3 ELSE sent_at END
        WHERE provider_id = $4 AND status <> $1`
	if _, err := r.db.ExecContext(ctx, query, status, reason, time.Now().UTC(), providerID); err != nil {
		return fmt.Errorf("update reminder by provider: %w", err)
	}
	return nil
}

// ListByStudent returns a student's reminder history, scoped to the actor.
func (r *ReminderRepository) ListByStudent(ctx context.Context, actor models.Actor, studentID string) ([]models.Reminder, error) {
	query := fmt.Sprintf(`SELECT %s FROM reminders WHERE student_id = $1`, reminderColumns)
	args := []interface{}{studentID}
	query, args = scopeBySchool(query, args, actor, "school_id")
	query += " ORDER BY created_at DESC"
	var reminders []models.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query, args...); err != nil {
		return nil, fmt.Errorf("list reminders by student: %w", err)
	}
	return reminders, nil
}
