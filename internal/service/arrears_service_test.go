package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
)

type fakeArrearsSchedules struct {
	schedule *models.Schedule
	students []models.Student
}

func (f *fakeArrearsSchedules) FindByStudentYear(context.Context, string, string) (*models.Schedule, error) {
	if f.schedule == nil {
		return nil, sql.ErrNoRows
	}
	return f.schedule, nil
}

func (f *fakeArrearsSchedules) ListByFilter(context.Context, models.Actor, models.ArrearsFilter) ([]models.Schedule, []models.Student, int, error) {
	if f.schedule == nil {
		return nil, nil, 0, nil
	}
	return []models.Schedule{*f.schedule}, f.students, 1, nil
}

type fakePaymentSums struct {
	byStudent map[string]int64
}

func (f *fakePaymentSums) SumValidByStudents(context.Context, []string, time.Time, time.Time) (map[string]int64, error) {
	return f.byStudent, nil
}

type fakeDiscountSums struct {
	byStudent map[string]int64
}

func (f *fakeDiscountSums) SumAppliedForStudentYear(_ context.Context, studentID string, _, _, _ time.Time) (int64, error) {
	return f.byStudent[studentID], nil
}

func (f *fakeDiscountSums) SumAppliedByStudents(context.Context, []string, time.Time, time.Time, time.Time) (map[string]int64, error) {
	return f.byStudent, nil
}

func arrearsFixture(schedule *models.Schedule, paid, discounts int64) *ArrearsService {
	students := &fakeStudentDir{students: map[string]*models.Student{
		"student-1": {ID: "student-1", SchoolID: "school-1", ClassID: "class-1",
			Matricule: "KIP-PR00001", FirstName: "Aissatou", LastName: "Diallo"},
	}}
	classes := &fakeClasses{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", Name: "CM2 A"},
	}}
	return NewArrearsService(
		&fakeArrearsSchedules{schedule: schedule, students: []models.Student{*students.students["student-1"]}},
		&fakePaymentSums{byStudent: map[string]int64{"student-1": paid}},
		&fakeDiscountSums{byStudent: map[string]int64{"student-1": discounts}},
		students, classes, nil)
}

func TestComputeArrearsFormula(t *testing.T) {
	schedule := primaire1Schedule()
	schedule.InscriptionPaid = 30000
	schedule.Tranche1Paid = 100000
	svc := arrearsFixture(schedule, 130000, 20000)

	// As of 1 May everything is exigible: 580000. Paid 130000, discounts 20000.
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	comp, err := svc.Compute(context.Background(), accountant(), "student-1", asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(580000), comp.Exigible)
	assert.Equal(t, int64(130000), comp.PaidEffective)
	assert.Equal(t, int64(20000), comp.ApplicableDiscounts)
	assert.Equal(t, int64(430000), comp.Arrears)

	// Most recent due date on or before asOf is tranche 3 on 6 April.
	assert.Equal(t, 25, comp.DaysLate)
}

func TestComputeArrearsUsesLargerOfAllocatedAndValidSum(t *testing.T) {
	schedule := primaire1Schedule()
	schedule.InscriptionPaid = 30000
	schedule.Tranche1Paid = 200000
	// VALID payments sum lower than the schedule's allocated total; the
	// allocation wins.
	svc := arrearsFixture(schedule, 100000, 0)

	asOf := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	comp, err := svc.Compute(context.Background(), accountant(), "student-1", asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(230000), comp.Exigible)
	assert.Equal(t, int64(230000), comp.PaidEffective)
	assert.Equal(t, int64(0), comp.Arrears)
}

func TestComputeArrearsNeverNegative(t *testing.T) {
	schedule := primaire1Schedule()
	schedule.InscriptionPaid = 30000
	schedule.Tranche1Paid = 200000
	svc := arrearsFixture(schedule, 230000, 230000)

	asOf := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	comp, err := svc.Compute(context.Background(), accountant(), "student-1", asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(0), comp.Arrears)
	// Discounts are capped at the exigible amount.
	assert.Equal(t, int64(230000), comp.ApplicableDiscounts)
}

func TestComputeArrearsWithoutSchedule(t *testing.T) {
	svc := arrearsFixture(nil, 0, 0)

	comp, err := svc.Compute(context.Background(), accountant(), "student-1", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(0), comp.Exigible)
	assert.Equal(t, int64(0), comp.Arrears)
}

func TestListArrearsFillsStudentColumns(t *testing.T) {
	schedule := primaire1Schedule()
	svc := arrearsFixture(schedule, 0, 0)

	rows, page, err := svc.List(context.Background(), accountant(), models.ArrearsFilter{
		AsOf:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 20,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "KIP-PR00001", rows[0].Matricule)
	assert.Equal(t, "Aissatou Diallo", rows[0].FullName)
	assert.Equal(t, "CM2 A", rows[0].ClassName)
	assert.Equal(t, int64(580000), rows[0].Exigible)
	assert.Equal(t, 1, page.TotalItems)
}
