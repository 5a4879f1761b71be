package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/internal/notify"
	"github.com/mkcamara/scolaris-core/pkg/config"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
	"github.com/mkcamara/scolaris-core/pkg/jobs"

	"github.com/google/uuid"
)

// ReminderJobType tags outbox jobs on the dispatch queue.
const ReminderJobType = "reminder.dispatch"

type reminderStore interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	FindByID(ctx context.Context, id string) (*models.Reminder, error)
	ListQueued(ctx context.Context, limit int) ([]models.Reminder, error)
	MarkSent(ctx context.Context, id, providerID string) error
	MarkFailed(ctx context.Context, id, reason string) error
	UpdateStatusByProvider(ctx context.Context, providerID string, status models.ReminderStatus, reason string) error
	ListByStudent(ctx context.Context, actor models.Actor, studentID string) ([]models.Reminder, error)
}

type guardianReader interface {
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
}

type arrearsComputer interface {
	Compute(ctx context.Context, actor models.Actor, studentID string, asOf time.Time) (*models.ArrearsComputation, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ReminderService drives the outbox workflow: queue reminder rows for late
// students, dispatch them through the notification gateway off the calling
// transaction, and absorb delivery callbacks.
type ReminderService struct {
	reminders reminderStore
	students  studentReader
	guardians guardianReader
	classes   classReader
	schools   schoolReader
	arrears   arrearsComputer
	gateway   notify.Gateway
	queue     jobEnqueuer
	metrics   *MetricsService
	cfg       config.RemindersConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewReminderService constructs a ReminderService.
func NewReminderService(reminders reminderStore, students studentReader, guardians guardianReader, classes classReader, schools schoolReader, arrears arrearsComputer, gateway notify.Gateway, queue jobEnqueuer, metrics *MetricsService, cfg config.RemindersConfig, logger *zap.Logger) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &ReminderService{
		reminders: reminders,
		students:  students,
		guardians: guardians,
		classes:   classes,
		schools:   schools,
		arrears:   arrears,
		gateway:   gateway,
		queue:     queue,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SendBatch queues one reminder per guardian phone for each student and hands
// the rows to the dispatch queue. A failure for one student never aborts the
// batch; it lands in the skipped list instead.
func (s *ReminderService) SendBatch(ctx context.Context, actor models.Actor, studentIDs []string, channel models.ReminderChannel, template string) (*models.ReminderBatchResult, error) {
	if channel == "" {
		channel = models.ReminderChannel(s.cfg.DefaultChannel)
	}
	if template == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty reminder template")
	}

	result := &models.ReminderBatchResult{}
	for _, studentID := range studentIDs {
		queued, err := s.queueForStudent(ctx, actor, studentID, channel, template)
		if err != nil {
			s.logger.Warn("reminder skipped",
				zap.String("student_id", studentID),
				zap.Error(err))
			result.Skipped = append(result.Skipped, models.ReminderBatchError{
				StudentID: studentID,
				Reason:    err.Error(),
			})
			continue
		}
		result.Queued += queued
	}
	return result, nil
}

func (s *ReminderService) queueForStudent(ctx context.Context, actor models.Actor, studentID string, channel models.ReminderChannel, template string) (int, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("student not found")
		}
		return 0, err
	}
	if !actor.CanAccess(student.SchoolID) {
		return 0, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	computation, err := s.arrears.Compute(ctx, actor, studentID, s.now())
	if err != nil {
		return 0, err
	}

	phones, guardianName, err := s.guardianPhones(ctx, student)
	if err != nil {
		return 0, err
	}
	if len(phones) == 0 {
		return 0, fmt.Errorf("no guardian phone on file")
	}

	message := s.renderTemplate(ctx, template, student, guardianName, computation.Arrears)

	queued := 0
	for _, phone := range phones {
		reminder := &models.Reminder{
			ID:               uuid.NewString(),
			SchoolID:         student.SchoolID,
			StudentID:        student.ID,
			Channel:          channel,
			Phone:            phone,
			Message:          message,
			EstimatedBalance: computation.Arrears,
			Status:           models.ReminderQueued,
			CreatedBy:        actor.UserID,
			CreatedAt:        s.now(),
		}
		if err := s.reminders.Create(ctx, reminder); err != nil {
			return queued, err
		}
		s.enqueue(reminder.ID)
		queued++
	}
	return queued, nil
}

// QueueOne writes a single prepared reminder row and hands it to the dispatch
// queue. Other services (bus expiry alerts) build their own message and reuse
// the outbox through this entry point.
func (s *ReminderService) QueueOne(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == "" {
		reminder.ID = uuid.NewString()
	}
	if reminder.Status == "" {
		reminder.Status = models.ReminderQueued
	}
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = s.now()
	}
	if err := s.reminders.Create(ctx, reminder); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue reminder")
	}
	s.enqueue(reminder.ID)
	return nil
}

// guardianPhones collects the primary guardian's phones first, then the
// secondary guardian's.
func (s *ReminderService) guardianPhones(ctx context.Context, student *models.Student) ([]string, string, error) {
	primary, err := s.guardians.FindByID(ctx, student.PrimaryGuardianID)
	if err != nil {
		return nil, "", fmt.Errorf("primary guardian not found")
	}

	var phones []string
	if primary.Phone != "" {
		phones = append(phones, primary.Phone)
	}
	if primary.SecondaryPhone != "" {
		phones = append(phones, primary.SecondaryPhone)
	}

	if student.SecondaryGuardianID != nil {
		if secondary, err := s.guardians.FindByID(ctx, *student.SecondaryGuardianID); err == nil && secondary.Phone != "" {
			phones = append(phones, secondary.Phone)
		}
	}
	return phones, primary.Name, nil
}

func (s *ReminderService) renderTemplate(ctx context.Context, template string, student *models.Student, guardianName string, amountDue int64) string {
	className := ""
	if class, err := s.classes.FindByID(ctx, student.ClassID); err == nil {
		className = class.Name
	}
	schoolName := ""
	if school, err := s.schools.FindByID(ctx, student.SchoolID); err == nil {
		schoolName = school.Name
	}
	return strings.NewReplacer(
		"{guardian_name}", guardianName,
		"{first_name}", student.FirstName,
		"{last_name}", student.LastName,
		"{class}", className,
		"{amount_due}", fmt.Sprintf("%d", amountDue),
		"{school_name}", schoolName,
	).Replace(template)
}

func (s *ReminderService) enqueue(reminderID string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: reminderID, Type: ReminderJobType}); err != nil {
		// The row stays QUEUED; DrainQueued picks it up on the next sweep.
		s.logger.Warn("reminder enqueue failed", zap.String("reminder_id", reminderID), zap.Error(err))
	}
}

// Dispatch is the queue handler: it re-reads the reminder row and pushes it
// through the gateway under the per-call timeout. Rows no longer QUEUED are
// skipped, which makes redelivery after a retry idempotent.
func (s *ReminderService) Dispatch(ctx context.Context, job jobs.Job) error {
	reminder, err := s.reminders.FindByID(ctx, job.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	if reminder.Status != models.ReminderQueued {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	result, err := s.gateway.Send(sendCtx, reminder.Channel, reminder.Phone, reminder.Message)
	if err != nil {
		s.metrics.RecordReminder(string(reminder.Channel), false)
		reason := err.Error()
		if markErr := s.reminders.MarkFailed(ctx, reminder.ID, reason); markErr != nil {
			return markErr
		}
		s.logger.Warn("reminder delivery failed",
			zap.String("reminder_id", reminder.ID),
			zap.String("channel", string(reminder.Channel)),
			zap.Error(err))
		return nil
	}

	s.metrics.RecordReminder(string(reminder.Channel), true)
	return s.reminders.MarkSent(ctx, reminder.ID, result.ProviderID)
}

// DrainQueued re-enqueues QUEUED rows, recovering reminders whose first
// enqueue was lost to a restart.
func (s *ReminderService) DrainQueued(ctx context.Context, limit int) (int, error) {
	reminders, err := s.reminders.ListQueued(ctx, limit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list queued reminders")
	}
	for _, reminder := range reminders {
		s.enqueue(reminder.ID)
	}
	return len(reminders), nil
}

// HandleDeliveryCallback applies a provider delivery-status update. Keyed by
// provider message id; replays are no-ops.
func (s *ReminderService) HandleDeliveryCallback(ctx context.Context, providerID string, delivered bool, reason string) error {
	status := models.ReminderSent
	if !delivered {
		status = models.ReminderFailed
	}
	if err := s.reminders.UpdateStatusByProvider(ctx, providerID, status, reason); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply delivery callback")
	}
	return nil
}

// History lists a student's reminders, newest first.
func (s *ReminderService) History(ctx context.Context, actor models.Actor, studentID string) ([]models.Reminder, error) {
	reminders, err := s.reminders.ListByStudent(ctx, actor, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reminders")
	}
	return reminders, nil
}
