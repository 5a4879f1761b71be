package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type scheduleStore interface {
	FindByStudentYear(ctx context.Context, studentID, schoolYear string) (*models.Schedule, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	UpdateState(ctx context.Context, scheduleID string, state models.ScheduleState) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type schoolReader interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
}

type tariffReader interface {
	FindByLevelYear(ctx context.Context, schoolID string, level models.ClassLevel, schoolYear string) (*models.TariffGrid, error)
}

// ScheduleService builds and maintains per-student installment schedules.
type ScheduleService struct {
	schedules scheduleStore
	students  studentReader
	classes   classReader
	schools   schoolReader
	tariffs   tariffReader
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(schedules scheduleStore, students studentReader, classes classReader, schools schoolReader, tariffs tariffReader, logger *zap.Logger) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		schedules: schedules,
		students:  students,
		classes:   classes,
		schools:   schools,
		tariffs:   tariffs,
		logger:    logger,
		now:       time.Now,
	}
}

// EnsureSchedule returns the student's schedule for the year, creating it from
// the tariff grid on first call. Idempotent: an existing schedule is returned
// unchanged.
func (s *ScheduleService) EnsureSchedule(ctx context.Context, actor models.Actor, studentID, schoolYear string) (*models.Schedule, error) {
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

	existing, err := s.schedules.FindByStudentYear(ctx, studentID, schoolYear)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	class, err := s.classes.FindByID(ctx, student.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	school, err := s.schools.FindByID(ctx, student.SchoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}

	grid, err := s.tariffs.FindByLevelYear(ctx, student.SchoolID, class.Level, schoolYear)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrMissingTariff, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tariff grid")
	}

	dates, err := dueDates(school.DueDateRule, schoolYear, student.EnrollmentDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school year")
	}

	nowTime := s.now()
	schedule := &models.Schedule{
		ID:         uuid.NewString(),
		SchoolID:   student.SchoolID,
		StudentID:  student.ID,
		SchoolYear: schoolYear,

		InscriptionDue: grid.InscriptionFee,
		Tranche1Due:    grid.Tranche1,
		Tranche2Due:    grid.Tranche2,
		Tranche3Due:    grid.Tranche3,

		InscriptionDueDate: dates[models.TrancheInscription],
		Tranche1DueDate:    dates[models.Tranche1],
		Tranche2DueDate:    dates[models.Tranche2],
		Tranche3DueDate:    dates[models.Tranche3],

		State:     models.ScheduleToPay,
		CreatedAt: nowTime,
		UpdatedAt: nowTime,
	}
	schedule.State = schedule.ComputeState(nowTime)

	if err := s.schedules.Create(ctx, schedule); err != nil {
		// A concurrent call may have created the row between the lookup and
		// the insert; the unique (student, school_year) index wins.
		if created, findErr := s.schedules.FindByStudentYear(ctx, studentID, schoolYear); findErr == nil {
			return created, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}

	s.logger.Info("schedule created",
		zap.String("student_id", student.ID),
		zap.String("school_year", schoolYear),
		zap.Int64("total_due", schedule.TotalDue()))
	return schedule, nil
}

// RecomputeState refreshes the stored state from the schedule's lines.
func (s *ScheduleService) RecomputeState(ctx context.Context, schedule *models.Schedule) error {
	state := schedule.ComputeState(s.now())
	if state == schedule.State {
		return nil
	}
	if err := s.schedules.UpdateState(ctx, schedule.ID, state); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule state")
	}
	schedule.State = state
	return nil
}

// dueDates derives the four due dates for a school year under the school's
// convention. The inscription (and tranche 1) fall due at enrollment when the
// student joined during the year, otherwise on 30 September.
func dueDates(rule models.DueDateRule, schoolYear string, enrollment time.Time) (map[models.TrancheTag]time.Time, error) {
	start, err := models.SchoolYearStart(schoolYear)
	if err != nil {
		return nil, err
	}

	inscription := time.Date(start, time.September, 30, 0, 0, 0, 0, time.UTC)
	from, to, err := models.SchoolYearWindow(schoolYear)
	if err != nil {
		return nil, err
	}
	if !enrollment.Before(from) && !enrollment.After(to) {
		inscription = enrollment
	}

	t2 := time.Date(start+1, time.January, 10, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(start+1, time.April, 6, 0, 0, 0, 0, time.UTC)
	if rule == models.DueDateConventionB {
		t2 = time.Date(start+1, time.January, 5, 0, 0, 0, 0, time.UTC)
		t3 = time.Date(start+1, time.March, 5, 0, 0, 0, 0, time.UTC)
	}

	return map[models.TrancheTag]time.Time{
		models.TrancheInscription: inscription,
		models.Tranche1:           inscription,
		models.Tranche2:           t2,
		models.Tranche3:           t3,
	}, nil
}
