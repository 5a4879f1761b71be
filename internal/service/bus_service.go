package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type busStore interface {
	FindByID(ctx context.Context, actor models.Actor, id string) (*models.BusSubscription, error)
	FindActiveByStudent(ctx context.Context, studentID string) (*models.BusSubscription, error)
	ListNearExpiry(ctx context.Context, schoolID string, today time.Time) ([]models.BusSubscription, error)
	Create(ctx context.Context, sub *models.BusSubscription) error
	UpdateStatus(ctx context.Context, id string, status models.BusStatus) error
	TouchReminder(ctx context.Context, id string, at time.Time) error
	ExpireOverdue(ctx context.Context, schoolID string, today time.Time) (int64, error)
}

type reminderQueuer interface {
	QueueOne(ctx context.Context, reminder *models.Reminder) error
}

// SubscribeBusInput carries a new transport subscription.
type SubscribeBusInput struct {
	StudentID       string                `json:"student_id" validate:"required,uuid"`
	Amount          int64                 `json:"amount" validate:"required,gt=0"`
	Periodicity     models.BusPeriodicity `json:"periodicity" validate:"required,oneof=MONTHLY ANNUAL T1 T2 T3"`
	StartDate       time.Time             `json:"start_date" validate:"required"`
	ExpiryDate      time.Time             `json:"expiry_date" validate:"required"`
	AlertDaysBefore int                   `json:"alert_days_before" validate:"gte=0,lte=60"`
}

// BusSweepResult summarises one expiry sweep.
type BusSweepResult struct {
	Alerted int   `json:"alerted"`
	Expired int64 `json:"expired"`
}

// BusService manages transport subscriptions and the expiry sweep that warns
// guardians over WhatsApp before a subscription lapses.
type BusService struct {
	subs      busStore
	students  studentReader
	guardians guardianReader
	reminders reminderQueuer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBusService constructs a BusService.
func NewBusService(subs busStore, students studentReader, guardians guardianReader, reminders reminderQueuer, v *validator.Validate, logger *zap.Logger) *BusService {
	if v == nil {
		v = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusService{
		subs:      subs,
		students:  students,
		guardians: guardians,
		reminders: reminders,
		validator: v,
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe opens a transport subscription for a student. An existing ACTIVE
// subscription is suspended first so a student never carries two live plans.
func (s *BusService) Subscribe(ctx context.Context, actor models.Actor, input SubscribeBusInput) (*models.BusSubscription, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subscription payload")
	}
	if !input.ExpiryDate.After(input.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiry date must be after start date")
	}

	student, err := s.students.FindByID(ctx, input.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !actor.CanAccess(student.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	if current, err := s.subs.FindActiveByStudent(ctx, input.StudentID); err == nil {
		if err := s.subs.UpdateStatus(ctx, current.ID, models.BusSuspended); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to suspend previous subscription")
		}
		s.logger.Info("previous bus subscription suspended",
			zap.String("subscription_id", current.ID),
			zap.String("student_id", input.StudentID))
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active subscription")
	}

	alertDays := input.AlertDaysBefore
	if alertDays == 0 {
		alertDays = 7
	}

	now := s.now()
	sub := &models.BusSubscription{
		ID:              uuid.NewString(),
		SchoolID:        student.SchoolID,
		StudentID:       student.ID,
		Amount:          input.Amount,
		Periodicity:     input.Periodicity,
		StartDate:       input.StartDate,
		ExpiryDate:      input.ExpiryDate,
		Status:          models.BusActive,
		AlertDaysBefore: alertDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create bus subscription")
	}
	return sub, nil
}

// Get returns a subscription scoped to the actor's school.
func (s *BusService) Get(ctx context.Context, actor models.Actor, id string) (*models.BusSubscription, error) {
	sub, err := s.subs.FindByID(ctx, actor, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bus subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bus subscription")
	}
	return sub, nil
}

// Suspend pauses an ACTIVE subscription.
func (s *BusService) Suspend(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, models.BusActive, models.BusSuspended)
}

// Resume reactivates a SUSPENDED subscription that has not expired.
func (s *BusService) Resume(ctx context.Context, actor models.Actor, id string) error {
	sub, err := s.subs.FindByID(ctx, actor, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "bus subscription not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bus subscription")
	}
	if sub.Status != models.BusSuspended {
		return appErrors.Clone(appErrors.ErrState, fmt.Sprintf("cannot resume a %s subscription", sub.Status))
	}
	if !sub.ExpiryDate.After(s.now()) {
		return appErrors.Clone(appErrors.ErrState, "subscription already past expiry")
	}
	if err := s.subs.UpdateStatus(ctx, id, models.BusActive); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resume bus subscription")
	}
	return nil
}

func (s *BusService) transition(ctx context.Context, actor models.Actor, id string, from, to models.BusStatus) error {
	sub, err := s.subs.FindByID(ctx, actor, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "bus subscription not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bus subscription")
	}
	if sub.Status == to {
		return nil
	}
	if sub.Status != from {
		return appErrors.Clone(appErrors.ErrState, fmt.Sprintf("cannot move subscription from %s to %s", sub.Status, to))
	}
	if err := s.subs.UpdateStatus(ctx, id, to); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update bus subscription")
	}
	return nil
}

// Sweep runs the daily expiry pass for one school: queue a WhatsApp alert for
// every subscription entering its alert window, then flip overdue ones to
// EXPIRED. A failed alert for one subscription never stops the sweep.
func (s *BusService) Sweep(ctx context.Context, actor models.Actor, schoolID string) (*BusSweepResult, error) {
	if !actor.CanAccess(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	today := s.now()
	result := &BusSweepResult{}

	nearExpiry, err := s.subs.ListNearExpiry(ctx, schoolID, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list near-expiry subscriptions")
	}
	for _, sub := range nearExpiry {
		if err := s.alertGuardian(ctx, actor, sub, today); err != nil {
			s.logger.Warn("bus expiry alert skipped",
				zap.String("subscription_id", sub.ID),
				zap.String("student_id", sub.StudentID),
				zap.Error(err))
			continue
		}
		result.Alerted++
	}

	expired, err := s.subs.ExpireOverdue(ctx, schoolID, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire subscriptions")
	}
	result.Expired = expired

	s.logger.Info("bus sweep done",
		zap.String("school_id", schoolID),
		zap.Int("alerted", result.Alerted),
		zap.Int64("expired", result.Expired))
	return result, nil
}

func (s *BusService) alertGuardian(ctx context.Context, actor models.Actor, sub models.BusSubscription, today time.Time) error {
	student, err := s.students.FindByID(ctx, sub.StudentID)
	if err != nil {
		return fmt.Errorf("student not found")
	}
	guardian, err := s.guardians.FindByID(ctx, student.PrimaryGuardianID)
	if err != nil {
		return fmt.Errorf("primary guardian not found")
	}
	if guardian.Phone == "" {
		return fmt.Errorf("no guardian phone on file")
	}

	message := fmt.Sprintf(
		"Bonjour %s, l'abonnement bus de %s %s expire le %s. Montant du renouvellement: %d FG.",
		guardian.Name, student.FirstName, student.LastName,
		sub.ExpiryDate.Format("02/01/2006"), sub.Amount)

	reminder := &models.Reminder{
		SchoolID:         sub.SchoolID,
		StudentID:        sub.StudentID,
		Channel:          models.ChannelWhatsApp,
		Phone:            guardian.Phone,
		Message:          message,
		EstimatedBalance: sub.Amount,
		CreatedBy:        actor.UserID,
	}
	if err := s.reminders.QueueOne(ctx, reminder); err != nil {
		return err
	}
	return s.subs.TouchReminder(ctx, sub.ID, today)
}
