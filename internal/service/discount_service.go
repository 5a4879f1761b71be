package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type discountStore interface {
	FindByID(ctx context.Context, id string) (*models.Discount, error)
	List(ctx context.Context, actor models.Actor, activeOnly bool) ([]models.Discount, error)
	Create(ctx context.Context, discount *models.Discount) error
	InsertApplication(ctx context.Context, tx *sqlx.Tx, pd *models.PaymentDiscount) error
	SumAppliedForStudentYear(ctx context.Context, studentID string, from, to, asOf time.Time) (int64, error)
}

type paymentReader interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
}

// DiscountService applies discounts against payments, capped by the
// exigible-at-date amount of the student's schedule. Discounts never touch
// the paid amounts; they only weigh on arrears and reports.
type DiscountService struct {
	tx        txRunner
	discounts discountStore
	payments  paymentReader
	scheduler scheduleEnsurer
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDiscountService constructs a DiscountService.
func NewDiscountService(tx txRunner, discounts discountStore, payments paymentReader, scheduler scheduleEnsurer, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *DiscountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscountService{
		tx:        tx,
		discounts: discounts,
		payments:  payments,
		scheduler: scheduler,
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply grants a discount on a payment. The applied amount is the candidate
// clipped to the remaining headroom under the year's exigible cap; once the
// cap is reached further applications fail.
func (s *DiscountService) Apply(ctx context.Context, actor models.Actor, paymentID, discountID string) (*models.PaymentDiscount, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !actor.CanAccess(payment.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	discount, err := s.discounts.FindByID(ctx, discountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "discount not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discount")
	}
	if !discount.EligibleAt(payment.PaymentDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount not eligible at payment date")
	}

	schoolYear := models.SchoolYearOf(payment.PaymentDate)
	schedule, err := s.scheduler.EnsureSchedule(ctx, actor, payment.StudentID, schoolYear)
	if err != nil {
		return nil, err
	}

	from, to, err := models.SchoolYearWindow(schoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid school year")
	}

	exigible := schedule.ExigibleAt(payment.PaymentDate)
	already, err := s.discounts.SumAppliedForStudentYear(ctx, payment.StudentID, from, to, payment.PaymentDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum applied discounts")
	}

	headroom := exigible - already
	if headroom <= 0 {
		return nil, appErrors.Clone(appErrors.ErrDiscountCap,
			fmt.Sprintf("discounts already granted (%d) reach the exigible amount (%d)", already, exigible))
	}

	applied := discount.CandidateAmount(payment.Amount)
	if applied > headroom {
		applied = headroom
	}

	pd := &models.PaymentDiscount{
		ID:         uuid.NewString(),
		PaymentID:  payment.ID,
		DiscountID: discount.ID,
		Amount:     applied,
		CreatedAt:  s.now(),
	}
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.discounts.InsertApplication(ctx, tx, pd); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record discount")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateBilling(ctx, payment.SchoolID)
	s.cache.InvalidateStudent(ctx, payment.StudentID)
	s.logger.Info("discount applied",
		zap.String("payment_id", payment.ID),
		zap.String("discount_id", discount.ID),
		zap.Int64("amount", applied))
	return pd, nil
}

// CreateDiscountRequest describes discount creation input.
type CreateDiscountRequest struct {
	Name      string    `json:"name" validate:"required"`
	Kind      string    `json:"kind" validate:"required,oneof=PERCENT FIXED"`
	Value     string    `json:"value" validate:"required"`
	Reason    string    `json:"reason"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
}

// Create registers a new discount for the actor's school. PERCENT values are
// clamped to 0..100 at validation.
func (s *DiscountService) Create(ctx context.Context, actor models.Actor, req CreateDiscountRequest) (*models.Discount, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}

	value, err := parseDiscountValue(models.DiscountKind(req.Kind), req.Value)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount value")
	}

	nowTime := s.now()
	discount := &models.Discount{
		ID:        uuid.NewString(),
		SchoolID:  actor.SchoolID,
		Name:      req.Name,
		Kind:      models.DiscountKind(req.Kind),
		Value:     value,
		Reason:    req.Reason,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Active:    true,
		CreatedAt: nowTime,
		UpdatedAt: nowTime,
	}
	if err := s.discounts.Create(ctx, discount); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create discount")
	}
	return discount, nil
}

// parseDiscountValue parses and range-checks a discount value. PERCENT is
// 0..100 with at most two decimals, FIXED a non-negative whole amount.
func parseDiscountValue(kind models.DiscountKind, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return decimal.Zero, err
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("value %s is negative", raw)
	}
	switch kind {
	case models.DiscountPercent:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, fmt.Errorf("percentage %s exceeds 100", raw)
		}
		return value.Round(2), nil
	case models.DiscountFixed:
		if !value.Equal(value.Truncate(0)) {
			return decimal.Zero, fmt.Errorf("fixed amount %s has sub-units", raw)
		}
		return value, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown discount kind %q", kind)
	}
}

// List returns the school's discounts.
func (s *DiscountService) List(ctx context.Context, actor models.Actor, activeOnly bool) ([]models.Discount, error) {
	discounts, err := s.discounts.List(ctx, actor, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list discounts")
	}
	return discounts, nil
}
