package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type payrollStore interface {
	FindTeacher(ctx context.Context, actor models.Actor, id string) (*models.Teacher, error)
	ListActiveTeachers(ctx context.Context, schoolID string) ([]models.Teacher, error)
	CreateTeacher(ctx context.Context, t *models.Teacher) error
	FindOpenPeriod(ctx context.Context, schoolID string) (*models.SalaryPeriod, error)
	LockPeriod(ctx context.Context, tx *sqlx.Tx, id string) (*models.SalaryPeriod, error)
	CreatePeriod(ctx context.Context, tx *sqlx.Tx, period *models.SalaryPeriod) error
	ClosePeriod(ctx context.Context, tx *sqlx.Tx, id string) error
	FindState(ctx context.Context, periodID, teacherID string) (*models.SalaryState, error)
	ListStates(ctx context.Context, periodID string) ([]models.SalaryState, error)
	CountUnpaidStates(ctx context.Context, tx *sqlx.Tx, periodID string) (int, error)
	CreateState(ctx context.Context, state *models.SalaryState) error
	UpdateState(ctx context.Context, state *models.SalaryState) error
	InsertHourDetail(ctx context.Context, detail *models.HourDetail) error
	ListHourDetails(ctx context.Context, stateID string) ([]models.HourDetail, error)
}

// CreateTeacherRequest carries a new payroll subject.
type CreateTeacherRequest struct {
	FirstName  string `json:"first_name" validate:"required"`
	LastName   string `json:"last_name" validate:"required"`
	Phone      string `json:"phone"`
	BaseSalary int64  `json:"base_salary" validate:"required,gt=0"`
}

// AddHoursRequest records extra hours against a teacher's state.
type AddHoursRequest struct {
	TeacherID string    `json:"teacher_id" validate:"required,uuid"`
	Date      time.Time `json:"date" validate:"required"`
	Hours     int       `json:"hours" validate:"required,gt=0,lte=200"`
	Rate      int64     `json:"rate" validate:"required,gt=0"`
}

// PayrollService runs the monthly salary cycle: one OPEN period per school,
// per-teacher states that only move forward, and an atomic close that opens
// the next month.
type PayrollService struct {
	tx        txRunner
	payroll   payrollStore
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPayrollService constructs a PayrollService.
func NewPayrollService(tx txRunner, payroll payrollStore, v *validator.Validate, logger *zap.Logger) *PayrollService {
	if v == nil {
		v = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayrollService{
		tx:        tx,
		payroll:   payroll,
		validator: v,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateTeacher registers a teacher in the actor's school.
func (s *PayrollService) CreateTeacher(ctx context.Context, actor models.Actor, req CreateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}

	nowTime := s.now()
	teacher := &models.Teacher{
		ID:         uuid.NewString(),
		SchoolID:   actor.SchoolID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		BaseSalary: req.BaseSalary,
		Active:     true,
		CreatedAt:  nowTime,
		UpdatedAt:  nowTime,
	}
	if err := s.payroll.CreateTeacher(ctx, teacher); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teacher")
	}
	return teacher, nil
}

// OpenFirstPeriod bootstraps the salary cycle for a school. Fails when an
// OPEN period already exists; afterwards closing a period opens the next one.
func (s *PayrollService) OpenFirstPeriod(ctx context.Context, actor models.Actor, schoolID string, month, year int) (*models.SalaryPeriod, error) {
	if !actor.CanAccess(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}
	if month < 1 || month > 12 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12")
	}

	if _, err := s.payroll.FindOpenPeriod(ctx, schoolID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrState, "school already has an open salary period")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open period")
	}

	period := &models.SalaryPeriod{
		ID:        uuid.NewString(),
		SchoolID:  schoolID,
		Month:     month,
		Year:      year,
		Status:    models.PeriodOpen,
		CreatedAt: s.now(),
	}
	err := s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		return s.payroll.CreatePeriod(ctx, tx, period)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open salary period")
	}
	return period, nil
}

// GenerateStates ensures every active teacher has a PENDING state in the
// school's open period. Existing states are left untouched, so the call is
// safe to repeat mid-month after hiring.
func (s *PayrollService) GenerateStates(ctx context.Context, actor models.Actor, schoolID string) ([]models.SalaryState, error) {
	if !actor.CanAccess(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	period, err := s.openPeriod(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	teachers, err := s.payroll.ListActiveTeachers(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}

	created := 0
	for _, teacher := range teachers {
		if _, err := s.payroll.FindState(ctx, period.ID, teacher.ID); err == nil {
			continue
		} else if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check salary state")
		}

		nowTime := s.now()
		state := &models.SalaryState{
			ID:        uuid.NewString(),
			PeriodID:  period.ID,
			TeacherID: teacher.ID,
			Base:      teacher.BaseSalary,
			Status:    models.SalaryPending,
			CreatedAt: nowTime,
			UpdatedAt: nowTime,
		}
		state.RecomputeNet()
		if err := s.payroll.CreateState(ctx, state); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create salary state")
		}
		created++
	}
	if created > 0 {
		s.logger.Info("salary states generated",
			zap.String("period_id", period.ID),
			zap.Int("created", created))
	}

	states, err := s.payroll.ListStates(ctx, period.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list salary states")
	}
	return states, nil
}

// AddHours records extra hours for a teacher in the open period and folds
// them into the state's bonuses. Only PENDING states accept new hours.
func (s *PayrollService) AddHours(ctx context.Context, actor models.Actor, req AddHoursRequest) (*models.SalaryState, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid hours payload")
	}

	teacher, err := s.payroll.FindTeacher(ctx, actor, req.TeacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	period, err := s.openPeriod(ctx, teacher.SchoolID)
	if err != nil {
		return nil, err
	}
	state, err := s.payroll.FindState(ctx, period.ID, teacher.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no salary state for teacher in open period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load salary state")
	}
	if state.Status != models.SalaryPending {
		return nil, appErrors.Clone(appErrors.ErrState, fmt.Sprintf("cannot add hours to a %s state", state.Status))
	}

	detail := &models.HourDetail{
		ID:        uuid.NewString(),
		StateID:   state.ID,
		Date:      req.Date,
		Hours:     req.Hours,
		Rate:      req.Rate,
		CreatedAt: s.now(),
	}
	if err := s.payroll.InsertHourDetail(ctx, detail); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record hours")
	}

	state.Bonuses += int64(req.Hours) * req.Rate
	state.RecomputeNet()
	if err := s.payroll.UpdateState(ctx, state); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update salary state")
	}
	return state, nil
}

// SetDeductions replaces a PENDING state's deductions and recomputes net.
func (s *PayrollService) SetDeductions(ctx context.Context, actor models.Actor, teacherID string, deductions int64) (*models.SalaryState, error) {
	if deductions < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "deductions cannot be negative")
	}

	teacher, err := s.payroll.FindTeacher(ctx, actor, teacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	period, err := s.openPeriod(ctx, teacher.SchoolID)
	if err != nil {
		return nil, err
	}
	state, err := s.payroll.FindState(ctx, period.ID, teacher.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no salary state for teacher in open period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load salary state")
	}
	if state.Status != models.SalaryPending {
		return nil, appErrors.Clone(appErrors.ErrState, fmt.Sprintf("cannot change deductions on a %s state", state.Status))
	}

	state.Deductions = deductions
	state.RecomputeNet()
	if err := s.payroll.UpdateState(ctx, state); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update salary state")
	}
	return state, nil
}

// TransitionState advances a salary state along PENDING → VALIDATED → PAID.
// Any other move is rejected; a repeat of the current status is a no-op.
func (s *PayrollService) TransitionState(ctx context.Context, actor models.Actor, teacherID string, next models.SalaryStateStatus) (*models.SalaryState, error) {
	if !actor.CanValidatePayments() {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "role cannot manage payroll")
	}

	teacher, err := s.payroll.FindTeacher(ctx, actor, teacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	period, err := s.openPeriod(ctx, teacher.SchoolID)
	if err != nil {
		return nil, err
	}
	state, err := s.payroll.FindState(ctx, period.ID, teacher.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no salary state for teacher in open period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load salary state")
	}

	if state.Status == next {
		return state, nil
	}
	if !state.Status.CanTransitionTo(next) {
		return nil, appErrors.Clone(appErrors.ErrState, fmt.Sprintf("cannot move salary state from %s to %s", state.Status, next))
	}

	state.Status = next
	if err := s.payroll.UpdateState(ctx, state); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update salary state")
	}
	return state, nil
}

// ClosePeriod closes the school's open period and opens the next month in the
// same transaction. The period must be fully PAID; the FOR UPDATE lock on the
// period row serializes concurrent close attempts.
func (s *PayrollService) ClosePeriod(ctx context.Context, actor models.Actor, schoolID string) (*models.SalaryPeriod, error) {
	if !actor.CanValidatePayments() {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "role cannot manage payroll")
	}
	if !actor.CanAccess(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	period, err := s.openPeriod(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	var next *models.SalaryPeriod
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.payroll.LockPeriod(ctx, tx, period.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock salary period")
		}
		if locked.Status != models.PeriodOpen {
			return appErrors.Clone(appErrors.ErrState, "salary period already closed")
		}

		unpaid, err := s.payroll.CountUnpaidStates(ctx, tx, locked.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unpaid states")
		}
		if unpaid > 0 {
			return appErrors.Clone(appErrors.ErrState, fmt.Sprintf("%d salary states not yet PAID", unpaid))
		}

		if err := s.payroll.ClosePeriod(ctx, tx, locked.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close salary period")
		}

		month, year := locked.Next()
		next = &models.SalaryPeriod{
			ID:        uuid.NewString(),
			SchoolID:  schoolID,
			Month:     month,
			Year:      year,
			Status:    models.PeriodOpen,
			CreatedAt: s.now(),
		}
		if err := s.payroll.CreatePeriod(ctx, tx, next); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open next salary period")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("salary period closed",
		zap.String("school_id", schoolID),
		zap.String("closed_period_id", period.ID),
		zap.String("next_period_id", next.ID))
	return next, nil
}

// Statement returns a period's states with each state's hour details.
func (s *PayrollService) Statement(ctx context.Context, actor models.Actor, schoolID string) ([]models.SalaryState, map[string][]models.HourDetail, error) {
	if !actor.CanAccess(schoolID) {
		return nil, nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	period, err := s.openPeriod(ctx, schoolID)
	if err != nil {
		return nil, nil, err
	}
	states, err := s.payroll.ListStates(ctx, period.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list salary states")
	}

	details := make(map[string][]models.HourDetail, len(states))
	for _, state := range states {
		rows, err := s.payroll.ListHourDetails(ctx, state.ID)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list hour details")
		}
		if len(rows) > 0 {
			details[state.ID] = rows
		}
	}
	return states, details, nil
}

func (s *PayrollService) openPeriod(ctx context.Context, schoolID string) (*models.SalaryPeriod, error) {
	period, err := s.payroll.FindOpenPeriod(ctx, schoolID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no open salary period for school")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load open period")
	}
	return period, nil
}
