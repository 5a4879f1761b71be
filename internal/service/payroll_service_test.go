package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakePayroll struct {
	teachers map[string]*models.Teacher
	periods  map[string]*models.SalaryPeriod
	states   map[string]*models.SalaryState // keyed period/teacher
	details  map[string][]models.HourDetail
}

func newFakePayroll() *fakePayroll {
	return &fakePayroll{
		teachers: map[string]*models.Teacher{},
		periods:  map[string]*models.SalaryPeriod{},
		states:   map[string]*models.SalaryState{},
		details:  map[string][]models.HourDetail{},
	}
}

func (f *fakePayroll) FindTeacher(_ context.Context, _ models.Actor, id string) (*models.Teacher, error) {
	t, ok := f.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakePayroll) ListActiveTeachers(_ context.Context, schoolID string) ([]models.Teacher, error) {
	var out []models.Teacher
	for _, t := range f.teachers {
		if t.SchoolID == schoolID && t.Active {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakePayroll) CreateTeacher(_ context.Context, t *models.Teacher) error {
	f.teachers[t.ID] = t
	return nil
}

func (f *fakePayroll) FindOpenPeriod(_ context.Context, schoolID string) (*models.SalaryPeriod, error) {
	for _, p := range f.periods {
		if p.SchoolID == schoolID && p.Status == models.PeriodOpen {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakePayroll) LockPeriod(_ context.Context, _ *sqlx.Tx, id string) (*models.SalaryPeriod, error) {
	p, ok := f.periods[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakePayroll) CreatePeriod(_ context.Context, _ *sqlx.Tx, period *models.SalaryPeriod) error {
	f.periods[period.ID] = period
	return nil
}

func (f *fakePayroll) ClosePeriod(_ context.Context, _ *sqlx.Tx, id string) error {
	f.periods[id].Status = models.PeriodClosed
	return nil
}

func (f *fakePayroll) FindState(_ context.Context, periodID, teacherID string) (*models.SalaryState, error) {
	s, ok := f.states[periodID+"/"+teacherID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakePayroll) ListStates(_ context.Context, periodID string) ([]models.SalaryState, error) {
	var out []models.SalaryState
	for _, s := range f.states {
		if s.PeriodID == periodID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakePayroll) CountUnpaidStates(_ context.Context, _ *sqlx.Tx, periodID string) (int, error) {
	n := 0
	for _, s := range f.states {
		if s.PeriodID == periodID && s.Status != models.SalaryPaid {
			n++
		}
	}
	return n, nil
}

func (f *fakePayroll) CreateState(_ context.Context, state *models.SalaryState) error {
	f.states[state.PeriodID+"/"+state.TeacherID] = state
	return nil
}

func (f *fakePayroll) UpdateState(_ context.Context, state *models.SalaryState) error {
	f.states[state.PeriodID+"/"+state.TeacherID] = state
	return nil
}

func (f *fakePayroll) InsertHourDetail(_ context.Context, detail *models.HourDetail) error {
	f.details[detail.StateID] = append(f.details[detail.StateID], *detail)
	return nil
}

func (f *fakePayroll) ListHourDetails(_ context.Context, stateID string) ([]models.HourDetail, error) {
	return f.details[stateID], nil
}

func payrollFixture(t *testing.T) (*PayrollService, *fakePayroll, *models.Teacher) {
	t.Helper()
	store := newFakePayroll()
	svc := NewPayrollService(fakeTx{}, store, nil, nil)

	teacher, err := svc.CreateTeacher(context.Background(), accountant(), CreateTeacherRequest{
		FirstName: "Sékou", LastName: "Touré", BaseSalary: 2500000,
	})
	require.NoError(t, err)
	_, err = svc.OpenFirstPeriod(context.Background(), accountant(), "school-1", 9, 2024)
	require.NoError(t, err)
	return svc, store, teacher
}

func TestGenerateStatesIsIdempotent(t *testing.T) {
	svc, _, teacher := payrollFixture(t)

	states, err := svc.GenerateStates(context.Background(), accountant(), "school-1")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, teacher.ID, states[0].TeacherID)
	assert.Equal(t, int64(2500000), states[0].Base)
	assert.Equal(t, int64(2500000), states[0].Net)
	assert.Equal(t, models.SalaryPending, states[0].Status)

	again, err := svc.GenerateStates(context.Background(), accountant(), "school-1")
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestAddHoursFoldsIntoBonuses(t *testing.T) {
	svc, store, teacher := payrollFixture(t)
	_, err := svc.GenerateStates(context.Background(), accountant(), "school-1")
	require.NoError(t, err)

	state, err := svc.AddHours(context.Background(), accountant(), AddHoursRequest{
		TeacherID: teacher.ID,
		Date:      time.Date(2024, 9, 12, 0, 0, 0, 0, time.UTC),
		Hours:     10,
		Rate:      15000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), state.Bonuses)
	assert.Equal(t, int64(2650000), state.Net)
	assert.Len(t, store.details[state.ID], 1)
}

func TestSetDeductionsRecomputesNet(t *testing.T) {
	svc, _, teacher := payrollFixture(t)
	_, err := svc.GenerateStates(context.Background(), accountant(), "school-1")
	require.NoError(t, err)

	state, err := svc.SetDeductions(context.Background(), accountant(), teacher.ID, 100000)
	require.NoError(t, err)
	assert.Equal(t, int64(2400000), state.Net)

	_, err = svc.SetDeductions(context.Background(), accountant(), teacher.ID, -1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTransitionStateOnlyMovesForward(t *testing.T) {
	svc, _, teacher := payrollFixture(t)
	_, err := svc.GenerateStates(context.Background(), accountant(), "school-1")
	require.NoError(t, err)

	// PENDING cannot jump straight to PAID.
	_, err = svc.TransitionState(context.Background(), accountant(), teacher.ID, models.SalaryPaid)
	assert.ErrorIs(t, err, appErrors.ErrState)

	state, err := svc.TransitionState(context.Background(), accountant(), teacher.ID, models.SalaryValidated)
	require.NoError(t, err)
	assert.Equal(t, models.SalaryValidated, state.Status)

	// VALIDATED states no longer accept hours.
	_, err = svc.AddHours(context.Background(), accountant(), AddHoursRequest{
		TeacherID: teacher.ID,
		Date:      time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC),
		Hours:     2,
		Rate:      15000,
	})
	assert.ErrorIs(t, err, appErrors.ErrState)

	state, err = svc.TransitionState(context.Background(), accountant(), teacher.ID, models.SalaryPaid)
	require.NoError(t, err)
	assert.Equal(t, models.SalaryPaid, state.Status)

	// Going back is rejected.
	_, err = svc.TransitionState(context.Background(), accountant(), teacher.ID, models.SalaryPending)
	assert.ErrorIs(t, err, appErrors.ErrState)
}

func TestClosePeriodRequiresAllPaid(t *testing.T) {
	svc, _, teacher := payrollFixture(t)
	_, err := svc.GenerateStates(context.Background(), accountant(), "school-1")
	require.NoError(t, err)

	_, err = svc.ClosePeriod(context.Background(), accountant(), "school-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrState)

	_, err = svc.TransitionState(context.Background(), accountant(), teacher.ID, models.SalaryValidated)
	require.NoError(t, err)
	_, err = svc.TransitionState(context.Background(), accountant(), teacher.ID, models.SalaryPaid)
	require.NoError(t, err)

	next, err := svc.ClosePeriod(context.Background(), accountant(), "school-1")
	require.NoError(t, err)
	assert.Equal(t, 10, next.Month)
	assert.Equal(t, 2024, next.Year)
	assert.Equal(t, models.PeriodOpen, next.Status)
}

func TestClosePeriodRollsYearOver(t *testing.T) {
	store := newFakePayroll()
	svc := NewPayrollService(fakeTx{}, store, nil, nil)
	_, err := svc.OpenFirstPeriod(context.Background(), accountant(), "school-1", 12, 2024)
	require.NoError(t, err)

	next, err := svc.ClosePeriod(context.Background(), accountant(), "school-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next.Month)
	assert.Equal(t, 2025, next.Year)
}

func TestOpenFirstPeriodRefusesSecondOpen(t *testing.T) {
	svc, _, _ := payrollFixture(t)

	_, err := svc.OpenFirstPeriod(context.Background(), accountant(), "school-1", 10, 2024)
	assert.ErrorIs(t, err, appErrors.ErrState)
}
