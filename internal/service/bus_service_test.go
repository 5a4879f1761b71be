package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

const busStudentID = "7b5a3c3e-63a1-4a9e-9f07-000000000001"

type fakeBusSubs struct {
	byID       map[string]*models.BusSubscription
	nearExpiry []models.BusSubscription
	expired    int64
	reminded   map[string]time.Time
}

func newFakeBusSubs() *fakeBusSubs {
	return &fakeBusSubs{
		byID:     map[string]*models.BusSubscription{},
		reminded: map[string]time.Time{},
	}
}

func (f *fakeBusSubs) FindByID(_ context.Context, _ models.Actor, id string) (*models.BusSubscription, error) {
	sub, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return sub, nil
}

func (f *fakeBusSubs) FindActiveByStudent(_ context.Context, studentID string) (*models.BusSubscription, error) {
	for _, sub := range f.byID {
		if sub.StudentID == studentID && sub.Status == models.BusActive {
			return sub, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeBusSubs) ListNearExpiry(context.Context, string, time.Time) ([]models.BusSubscription, error) {
	return f.nearExpiry, nil
}

func (f *fakeBusSubs) Create(_ context.Context, sub *models.BusSubscription) error {
	f.byID[sub.ID] = sub
	return nil
}

func (f *fakeBusSubs) UpdateStatus(_ context.Context, id string, status models.BusStatus) error {
	f.byID[id].Status = status
	return nil
}

func (f *fakeBusSubs) TouchReminder(_ context.Context, id string, at time.Time) error {
	f.reminded[id] = at
	return nil
}

func (f *fakeBusSubs) ExpireOverdue(context.Context, string, time.Time) (int64, error) {
	return f.expired, nil
}

type fakeReminderQueue struct {
	queued []*models.Reminder
}

func (f *fakeReminderQueue) QueueOne(_ context.Context, reminder *models.Reminder) error {
	f.queued = append(f.queued, reminder)
	return nil
}

func busFixture() (*BusService, *fakeBusSubs, *fakeReminderQueue) {
	subs := newFakeBusSubs()
	students := &fakeStudentDir{students: map[string]*models.Student{
		busStudentID: {ID: busStudentID, SchoolID: "school-1", ClassID: "class-1",
			FirstName: "Aissatou", LastName: "Diallo", PrimaryGuardianID: "guardian-1"},
	}}
	guardians := &fakeGuardians{guardians: map[string]*models.Guardian{
		"guardian-1": {ID: "guardian-1", Name: "Mariama Diallo", Phone: "+224620000001"},
	}}
	queue := &fakeReminderQueue{}
	return NewBusService(subs, students, guardians, queue, nil, nil), subs, queue
}

func subscribeInput() SubscribeBusInput {
	return SubscribeBusInput{
		StudentID:   busStudentID,
		Amount:      150000,
		Periodicity: models.BusMonthly,
		StartDate:   time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:  time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSubscribeSuspendsPreviousActivePlan(t *testing.T) {
	svc, subs, _ := busFixture()

	first, err := svc.Subscribe(context.Background(), accountant(), subscribeInput())
	require.NoError(t, err)
	assert.Equal(t, models.BusActive, first.Status)
	assert.Equal(t, 7, first.AlertDaysBefore)

	input := subscribeInput()
	input.StartDate = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	input.ExpiryDate = time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	second, err := svc.Subscribe(context.Background(), accountant(), input)
	require.NoError(t, err)

	assert.Equal(t, models.BusSuspended, subs.byID[first.ID].Status)
	assert.Equal(t, models.BusActive, subs.byID[second.ID].Status)
}

func TestSubscribeRejectsInvertedDates(t *testing.T) {
	svc, _, _ := busFixture()
	input := subscribeInput()
	input.ExpiryDate = input.StartDate

	_, err := svc.Subscribe(context.Background(), accountant(), input)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestResumeRefusesExpiredSubscription(t *testing.T) {
	svc, subs, _ := busFixture()
	sub, err := svc.Subscribe(context.Background(), accountant(), subscribeInput())
	require.NoError(t, err)

	require.NoError(t, svc.Suspend(context.Background(), accountant(), sub.ID))
	assert.Equal(t, models.BusSuspended, subs.byID[sub.ID].Status)

	// The fixture's expiry (October 2024) is already in the past.
	err = svc.Resume(context.Background(), accountant(), sub.ID)
	assert.ErrorIs(t, err, appErrors.ErrState)
}

func TestSuspendFromExpiredIsRejected(t *testing.T) {
	svc, subs, _ := busFixture()
	sub, err := svc.Subscribe(context.Background(), accountant(), subscribeInput())
	require.NoError(t, err)
	subs.byID[sub.ID].Status = models.BusExpired

	err = svc.Suspend(context.Background(), accountant(), sub.ID)
	assert.ErrorIs(t, err, appErrors.ErrState)
}

func TestSweepAlertsAndExpires(t *testing.T) {
	svc, subs, queue := busFixture()
	subs.expired = 2
	subs.nearExpiry = []models.BusSubscription{
		{ID: "bus-1", SchoolID: "school-1", StudentID: busStudentID, Amount: 150000,
			ExpiryDate: time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			Status:     models.BusActive, AlertDaysBefore: 7},
		{ID: "bus-ghost", SchoolID: "school-1", StudentID: "student-missing", Amount: 90000,
			Status: models.BusActive, AlertDaysBefore: 7},
	}

	result, err := svc.Sweep(context.Background(), accountant(), "school-1")
	require.NoError(t, err)

	// The subscription with a missing student is skipped, not fatal.
	assert.Equal(t, 1, result.Alerted)
	assert.Equal(t, int64(2), result.Expired)

	require.Len(t, queue.queued, 1)
	reminder := queue.queued[0]
	assert.Equal(t, models.ChannelWhatsApp, reminder.Channel)
	assert.Equal(t, "+224620000001", reminder.Phone)
	assert.Equal(t, int64(150000), reminder.EstimatedBalance)
	assert.Equal(t, "Bonjour Mariama Diallo, l'abonnement bus de Aissatou Diallo expire le 03/09/2026. Montant du renouvellement: 150000 FG.", reminder.Message)

	_, touched := subs.reminded["bus-1"]
	assert.True(t, touched)
}
