package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/pkg/config"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakeProjectionSchedules struct {
	schedule *models.Schedule
	rollups  []models.ClassRollup
}

func (f *fakeProjectionSchedules) FindByStudentYear(context.Context, string, string) (*models.Schedule, error) {
	if f.schedule == nil {
		return nil, sql.ErrNoRows
	}
	return f.schedule, nil
}

func (f *fakeProjectionSchedules) ClassRollups(context.Context, models.Actor, string, string) ([]models.ClassRollup, error) {
	return f.rollups, nil
}

type fakeWindowPayments struct {
	payments []models.Payment
	types    map[string]models.PaymentType
}

func (f *fakeWindowPayments) ListValidInWindow(context.Context, string, time.Time, time.Time) ([]models.Payment, map[string]models.PaymentType, error) {
	return f.payments, f.types, nil
}

type fakeEnrollmentCounter struct {
	count int
}

func (f *fakeEnrollmentCounter) CountNewEnrollments(context.Context, string, time.Time, time.Time) (int, error) {
	return f.count, nil
}

type fakeSchoolDiscounts struct {
	total   int64
	byClass map[string]int64
}

func (f *fakeSchoolDiscounts) SumAppliedForSchoolWindow(context.Context, string, time.Time, time.Time) (int64, error) {
	return f.total, nil
}

func (f *fakeSchoolDiscounts) SumAppliedByClass(context.Context, string, string) (map[string]int64, error) {
	return f.byClass, nil
}

func projectionFixture(payments []models.Payment, enrollments int) *ProjectionService {
	types := map[string]models.PaymentType{
		"type-combined": {ID: "type-combined", TrancheTargets: pq.StringArray{"INSCRIPTION", "T1"}, Active: true},
		"type-insc":     {ID: "type-insc", TrancheTargets: pq.StringArray{"INSCRIPTION"}, Active: true},
		"type-t2":       {ID: "type-t2", TrancheTargets: pq.StringArray{"T2"}, Active: true},
	}
	students := &fakeStudentDir{students: map[string]*models.Student{
		"student-1": {ID: "student-1", SchoolID: "school-1", ClassID: "class-1"},
	}}
	schools := &fakeSchools{schools: map[string]*models.School{
		"school-1": {ID: "school-1", Name: "Groupe Scolaire Kipe"},
	}}
	return NewProjectionService(
		&fakeProjectionSchedules{
			schedule: primaire1Schedule(),
			rollups: []models.ClassRollup{
				{ClassID: "class-1", ClassName: "CM2 A", Effectif: 32, TotalDue: 18560000, TotalPaid: 9000000, Remaining: 9560000},
			},
		},
		&fakeWindowPayments{payments: payments, types: types},
		students,
		&fakeEnrollmentCounter{count: enrollments},
		&fakeSchoolDiscounts{total: 50000, byClass: map[string]int64{"class-1": 120000}},
		schools,
		nil,
		config.BillingConfig{InscriptionSlice: 30000},
		nil)
}

func windowPayment(id, typeID string, amount int64) models.Payment {
	return models.Payment{ID: id, SchoolID: "school-1", StudentID: "student-1",
		TypeID: typeID, Amount: amount, Status: models.PaymentValid}
}

func TestPeriodicAggregateSplitsInscriptionAndScolarite(t *testing.T) {
	svc := projectionFixture([]models.Payment{
		windowPayment("pay-1", "type-combined", 230000), // 30000 inscription + 200000 scolarité
		windowPayment("pay-2", "type-insc", 30000),
		windowPayment("pay-3", "type-t2", 200000),
	}, 2)

	from := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	agg, err := svc.PeriodicAggregate(context.Background(), accountant(), "school-1", from, to)
	require.NoError(t, err)

	assert.Equal(t, 3, agg.PaymentCount)
	assert.Equal(t, int64(460000), agg.TotalAmount)
	assert.Equal(t, int64(60000), agg.InscriptionPart)
	assert.Equal(t, int64(400000), agg.ScolaritePart)
	assert.Equal(t, int64(50000), agg.DiscountTotal)
	assert.Equal(t, "Groupe Scolaire Kipe", agg.SchoolName)
}

func TestPeriodicAggregateReclassifiesWithoutEnrollments(t *testing.T) {
	svc := projectionFixture([]models.Payment{
		windowPayment("pay-1", "type-insc", 30000),
	}, 0)

	agg, err := svc.PeriodicAggregate(context.Background(), accountant(), "school-1",
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// No new enrollments in the window: inscription money is tuition in truth.
	assert.Equal(t, int64(0), agg.InscriptionPart)
	assert.Equal(t, int64(30000), agg.ScolaritePart)
}

func TestPeriodicAggregateCapsInscriptionByEnrollments(t *testing.T) {
	svc := projectionFixture([]models.Payment{
		windowPayment("pay-1", "type-insc", 30000),
		windowPayment("pay-2", "type-insc", 30000),
		windowPayment("pay-3", "type-insc", 30000),
	}, 1)

	agg, err := svc.PeriodicAggregate(context.Background(), accountant(), "school-1",
		time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// One enrollment explains one slice; the other two move to scolarité.
	assert.Equal(t, int64(30000), agg.InscriptionPart)
	assert.Equal(t, int64(60000), agg.ScolaritePart)
}

func TestEcheancierBuildsView(t *testing.T) {
	svc := projectionFixture(nil, 0)

	view, err := svc.Echeancier(context.Background(), accountant(), "student-1", "2024-2025")
	require.NoError(t, err)
	assert.Len(t, view.Lines, 4)
	assert.Equal(t, int64(580000), view.Remaining)
	assert.Equal(t, "student-1", view.Student.ID)
}

func TestEcheancierWithoutScheduleIsNotFound(t *testing.T) {
	svc := projectionFixture(nil, 0)
	svc.schedules.(*fakeProjectionSchedules).schedule = nil

	_, err := svc.Echeancier(context.Background(), accountant(), "student-1", "2024-2025")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestClassRollupsMergeDiscounts(t *testing.T) {
	svc := projectionFixture(nil, 0)

	rollups, err := svc.ClassRollups(context.Background(), accountant(), "school-1", "2024-2025")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(120000), rollups[0].Discounts)
	assert.Equal(t, 32, rollups[0].Effectif)
}
