package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/pkg/config"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type projectionScheduleStore interface {
	FindByStudentYear(ctx context.Context, studentID, schoolYear string) (*models.Schedule, error)
	ClassRollups(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.ClassRollup, error)
}

type windowPaymentLister interface {
	ListValidInWindow(ctx context.Context, schoolID string, from, to time.Time) ([]models.Payment, map[string]models.PaymentType, error)
}

type enrollmentCounter interface {
	CountNewEnrollments(ctx context.Context, schoolID string, from, to time.Time) (int, error)
}

type schoolDiscountSummer interface {
	SumAppliedForSchoolWindow(ctx context.Context, schoolID string, from, to time.Time) (int64, error)
	SumAppliedByClass(ctx context.Context, schoolID, schoolYear string) (map[string]int64, error)
}

// ProjectionService produces the read models behind dashboards and reports:
// per-student echeanciers, periodic finance aggregates and class rollups.
// Everything here is derivable from rows; the cache only saves recomputation.
type ProjectionService struct {
	schedules projectionScheduleStore
	payments  windowPaymentLister
	students  studentReader
	counter   enrollmentCounter
	discounts schoolDiscountSummer
	schools   schoolReader
	cache     *CacheService
	cfg       config.BillingConfig
	logger    *zap.Logger
}

// NewProjectionService constructs a ProjectionService.
func NewProjectionService(schedules projectionScheduleStore, payments windowPaymentLister, students studentReader, counter enrollmentCounter, discounts schoolDiscountSummer, schools schoolReader, cache *CacheService, cfg config.BillingConfig, logger *zap.Logger) *ProjectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InscriptionSlice <= 0 {
		cfg.InscriptionSlice = 30000
	}
	return &ProjectionService{
		schedules: schedules,
		payments:  payments,
		students:  students,
		counter:   counter,
		discounts: discounts,
		schools:   schools,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
	}
}

// Echeancier renders the per-student installment view for a year.
func (s *ProjectionService) Echeancier(ctx context.Context, actor models.Actor, studentID, schoolYear string) (*models.ScheduleView, error) {
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

	cacheKey := EcheancierKey(studentID, schoolYear)
	var cached models.ScheduleView
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	schedule, err := s.schedules.FindByStudentYear(ctx, studentID, schoolYear)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no schedule for student and year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	view := &models.ScheduleView{
		Schedule:  *schedule,
		Student:   *student,
		Lines:     schedule.Tranches(),
		Remaining: schedule.Remaining(),
	}
	_ = s.cache.Set(ctx, cacheKey, view, 0)
	return view, nil
}

// PeriodicAggregate summarises one school's finances over a window, splitting
// valid payment amounts into inscription versus scolarité.
func (s *ProjectionService) PeriodicAggregate(ctx context.Context, actor models.Actor, schoolID string, from, to time.Time) (*models.PeriodAggregate, error) {
	if !actor.CanAccess(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	cacheKey := AggregateKey(schoolID, from, to)
	var cached models.PeriodAggregate
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	school, err := s.schools.FindByID(ctx, schoolID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}

	payments, typesByID, err := s.payments.ListValidInWindow(ctx, schoolID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	newEnrollments, err := s.counter.CountNewEnrollments(ctx, schoolID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	discountTotal, err := s.discounts.SumAppliedForSchoolWindow(ctx, schoolID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum discounts")
	}

	aggregate := &models.PeriodAggregate{
		SchoolID:       schoolID,
		SchoolName:     school.Name,
		From:           from,
		To:             to,
		NewEnrollments: newEnrollments,
		PaymentCount:   len(payments),
		DiscountTotal:  discountTotal,
	}

	for _, payment := range payments {
		aggregate.TotalAmount += payment.Amount
		inscription, scolarite := s.splitPayment(payment, typesByID[payment.TypeID])
		aggregate.InscriptionPart += inscription
		aggregate.ScolaritePart += scolarite
	}

	s.reclassify(aggregate)

	_ = s.cache.Set(ctx, cacheKey, aggregate, 0)
	return aggregate, nil
}

// splitPayment attributes one payment's amount to inscription or scolarité
// from its type's tranche targets. Combined types put the configured slice on
// inscription and the remainder on tuition.
func (s *ProjectionService) splitPayment(payment models.Payment, paymentType models.PaymentType) (inscription, scolarite int64) {
	targets := paymentType.Targets()

	hasInscription := false
	hasTuition := false
	for _, tag := range targets {
		if tag == models.TrancheInscription {
			hasInscription = true
		} else {
			hasTuition = true
		}
	}

	switch {
	case hasInscription && hasTuition:
		slice := s.cfg.InscriptionSlice
		if payment.Amount <= slice {
			return payment.Amount, 0
		}
		return slice, payment.Amount - slice
	case hasInscription:
		return payment.Amount, 0
	default:
		return 0, payment.Amount
	}
}

// reclassify bounds the inscription part by what the period's new enrollments
// can explain; the excess is tuition. With no new enrollments everything is
// tuition.
func (s *ProjectionService) reclassify(aggregate *models.PeriodAggregate) {
	if aggregate.NewEnrollments == 0 {
		aggregate.ScolaritePart += aggregate.InscriptionPart
		aggregate.InscriptionPart = 0
		return
	}
	ceiling := s.cfg.InscriptionSlice * int64(aggregate.NewEnrollments)
	if aggregate.InscriptionPart > ceiling {
		aggregate.ScolaritePart += aggregate.InscriptionPart - ceiling
		aggregate.InscriptionPart = ceiling
	}
}

// ClassRollups returns the per-class billing summary of a school year.
func (s *ProjectionService) ClassRollups(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.ClassRollup, error) {
	if !actor.CanAccess(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	cacheKey := RollupKey(schoolID, schoolYear)
	var cached []models.ClassRollup
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	rollups, err := s.schedules.ClassRollups(ctx, actor, schoolID, schoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate classes")
	}

	discountsByClass, err := s.discounts.SumAppliedByClass(ctx, schoolID, schoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum class discounts")
	}
	for i := range rollups {
		rollups[i].Discounts = discountsByClass[rollups[i].ClassID]
	}

	_ = s.cache.Set(ctx, cacheKey, rollups, 0)
	return rollups, nil
}
