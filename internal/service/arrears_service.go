package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type arrearsScheduleStore interface {
	FindByStudentYear(ctx context.Context, studentID, schoolYear string) (*models.Schedule, error)
	ListByFilter(ctx context.Context, actor models.Actor, filter models.ArrearsFilter) ([]models.Schedule, []models.Student, int, error)
}

type validPaymentSummer interface {
	SumValidByStudents(ctx context.Context, studentIDs []string, from, to time.Time) (map[string]int64, error)
}

type discountSummer interface {
	SumAppliedForStudentYear(ctx context.Context, studentID string, from, to, asOf time.Time) (int64, error)
	SumAppliedByStudents(ctx context.Context, studentIDs []string, from, to, asOf time.Time) (map[string]int64, error)
}

// ArrearsService derives who owes what as of a reference date. Arrears are a
// pure projection over schedules, valid payments and applied discounts.
type ArrearsService struct {
	schedules arrearsScheduleStore
	payments  validPaymentSummer
	discounts discountSummer
	students  studentReader
	classes   classReader
	logger    *zap.Logger
}

// NewArrearsService constructs an ArrearsService.
func NewArrearsService(schedules arrearsScheduleStore, payments validPaymentSummer, discounts discountSummer, students studentReader, classes classReader, logger *zap.Logger) *ArrearsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArrearsService{
		schedules: schedules,
		payments:  payments,
		discounts: discounts,
		students:  students,
		classes:   classes,
		logger:    logger,
	}
}

// Compute returns one student's arrears position as of a date.
//
// paid_effective takes the larger of the schedule's allocated total and the
// sum of VALID payments in the year window, absorbing payments registered
// before schedules existed.
func (s *ArrearsService) Compute(ctx context.Context, actor models.Actor, studentID string, asOf time.Time) (*models.ArrearsComputation, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !actor.CanAccess(student.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	schoolYear := models.SchoolYearOf(asOf)
	schedule, err := s.schedules.FindByStudentYear(ctx, studentID, schoolYear)
	if err != nil {
		if err == sql.ErrNoRows {
			// no schedule means nothing has fallen due
			return &models.ArrearsComputation{StudentID: studentID, AsOf: asOf}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	from, to, err := models.SchoolYearWindow(schoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid school year")
	}

	paidByStudent, err := s.payments.SumValidByStudents(ctx, []string{studentID}, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum payments")
	}
	discounts, err := s.discounts.SumAppliedForStudentYear(ctx, studentID, from, to, asOf)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum discounts")
	}

	row := buildArrears(schedule, asOf, paidByStudent[studentID], discounts)
	return &models.ArrearsComputation{
		StudentID:           studentID,
		AsOf:                asOf,
		Exigible:            row.Exigible,
		PaidEffective:       row.PaidEffective,
		ApplicableDiscounts: row.ApplicableDiscounts,
		Arrears:             row.Arrears,
		DaysLate:            row.DaysLate,
	}, nil
}

// List returns the paginated arrears list for a year as of a date, filterable
// by class and free-text search.
func (s *ArrearsService) List(ctx context.Context, actor models.Actor, filter models.ArrearsFilter) ([]models.ArrearsRow, *models.Pagination, error) {
	if filter.AsOf.IsZero() {
		filter.AsOf = time.Now()
	}
	if filter.SchoolYear == "" {
		filter.SchoolYear = models.SchoolYearOf(filter.AsOf)
	}

	schedules, students, total, err := s.schedules.ListByFilter(ctx, actor, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	if len(schedules) == 0 {
		return nil, models.NewPagination(filter.Page, filter.PageSize, total), nil
	}

	from, to, err := models.SchoolYearWindow(filter.SchoolYear)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid school year")
	}

	ids := make([]string, 0, len(schedules))
	for _, sched := range schedules {
		ids = append(ids, sched.StudentID)
	}
	paidByStudent, err := s.payments.SumValidByStudents(ctx, ids, from, to)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum payments")
	}
	discountsByStudent, err := s.discounts.SumAppliedByStudents(ctx, ids, from, to, filter.AsOf)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum discounts")
	}

	studentsByID := make(map[string]models.Student, len(students))
	for _, st := range students {
		studentsByID[st.ID] = st
	}
	classNames := make(map[string]string)

	rows := make([]models.ArrearsRow, 0, len(schedules))
	for _, sched := range schedules {
		student := studentsByID[sched.StudentID]
		row := buildArrears(&sched, filter.AsOf, paidByStudent[sched.StudentID], discountsByStudent[sched.StudentID])
		row.StudentID = student.ID
		row.Matricule = student.Matricule
		row.FullName = student.FullName()

		if name, ok := classNames[student.ClassID]; ok {
			row.ClassName = name
		} else if class, err := s.classes.FindByID(ctx, student.ClassID); err == nil {
			classNames[student.ClassID] = class.Name
			row.ClassName = class.Name
		}
		rows = append(rows, row)
	}
	return rows, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// buildArrears applies the arrears formula to one schedule.
func buildArrears(schedule *models.Schedule, asOf time.Time, validPaid, discounts int64) models.ArrearsRow {
	exigible := schedule.ExigibleAt(asOf)

	paidEffective := schedule.TotalPaid()
	if validPaid > paidEffective {
		paidEffective = validPaid
	}

	applicable := discounts
	if applicable > exigible {
		applicable = exigible
	}

	arrears := exigible - paidEffective - applicable
	if arrears < 0 {
		arrears = 0
	}

	return models.ArrearsRow{
		Exigible:            exigible,
		PaidEffective:       paidEffective,
		ApplicableDiscounts: applicable,
		Arrears:             arrears,
		DaysLate:            daysLate(schedule, asOf),
	}
}

// daysLate measures the distance from the most recent due date on or before
// asOf. Zero when nothing has fallen due yet.
func daysLate(schedule *models.Schedule, asOf time.Time) int {
	var latest time.Time
	for _, line := range schedule.Tranches() {
		if !line.DueDate.After(asOf) && line.DueDate.After(latest) {
			latest = line.DueDate
		}
	}
	if latest.IsZero() {
		return 0
	}
	return int(asOf.Sub(latest).Hours() / 24)
}
