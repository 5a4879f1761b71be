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
	"github.com/mkcamara/scolaris-core/internal/repository"
	"github.com/mkcamara/scolaris-core/pkg/config"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type txRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type paymentStore interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Payment, error)
	NextReceiptSeq(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, payment *models.Payment) error
	SetStatus(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	InsertAllocations(ctx context.Context, tx *sqlx.Tx, allocations []models.PaymentAllocation) error
	AllocationsByPayment(ctx context.Context, tx *sqlx.Tx, paymentID string) ([]models.PaymentAllocation, error)
	DeleteAllocations(ctx context.Context, tx *sqlx.Tx, paymentID string) error
	List(ctx context.Context, actor models.Actor, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type scheduleLocker interface {
	LockByStudentYear(ctx context.Context, tx *sqlx.Tx, studentID, schoolYear string) (*models.Schedule, error)
	UpdateAmounts(ctx context.Context, tx *sqlx.Tx, schedule *models.Schedule) error
}

type paymentCatalogReader interface {
	FindType(ctx context.Context, id string) (*models.PaymentType, error)
	FindMode(ctx context.Context, id string) (*models.PaymentMode, error)
}

type scheduleEnsurer interface {
	EnsureSchedule(ctx context.Context, actor models.Actor, studentID, schoolYear string) (*models.Schedule, error)
}

// RegisterPaymentRequest describes payment creation input.
type RegisterPaymentRequest struct {
	StudentID         string    `json:"student_id" validate:"required"`
	TypeID            string    `json:"type_id" validate:"required"`
	ModeID            string    `json:"mode_id" validate:"required"`
	Amount            int64     `json:"amount" validate:"required,gt=0"`
	PaymentDate       time.Time `json:"payment_date" validate:"required"`
	ExternalReference *string   `json:"external_reference,omitempty"`
	Observations      *string   `json:"observations,omitempty"`
}

// RegisterPaymentResult carries the pending payment plus non-blocking warnings.
type RegisterPaymentResult struct {
	Payment  *models.Payment `json:"payment"`
	Warnings []string        `json:"warnings,omitempty"`
}

// PaymentService registers payments and performs the only financial event of
// the system: validation, which allocates the amount across schedule tranches
// under a single transaction.
type PaymentService struct {
	tx        txRunner
	payments  paymentStore
	schedules scheduleLocker
	students  studentReader
	catalog   paymentCatalogReader
	scheduler scheduleEnsurer
	cache     *CacheService
	metrics   *MetricsService
	cfg       config.BillingConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(tx txRunner, payments paymentStore, schedules scheduleLocker, students studentReader, catalog paymentCatalogReader, scheduler scheduleEnsurer, cache *CacheService, metrics *MetricsService, cfg config.BillingConfig, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InscriptionSlice <= 0 {
		cfg.InscriptionSlice = 30000
	}
	if cfg.ReceiptRetries <= 0 {
		cfg.ReceiptRetries = 10
	}
	return &PaymentService{
		tx:        tx,
		payments:  payments,
		schedules: schedules,
		students:  students,
		catalog:   catalog,
		scheduler: scheduler,
		cache:     cache,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a PENDING payment with a fresh receipt number. The payment
// has no financial effect until validated. An amount exceeding the schedule's
// remaining balance is refused here; a fully settled schedule only yields a
// warning, validation will do the final check under lock.
func (s *PaymentService) Register(ctx context.Context, actor models.Actor, req RegisterPaymentRequest) (*RegisterPaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !actor.CanAccess(student.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	paymentType, err := s.catalog.FindType(ctx, req.TypeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment type")
	}
	if !paymentType.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment type inactive")
	}

	mode, err := s.catalog.FindMode(ctx, req.ModeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment mode not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment mode")
	}
	if !mode.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment mode inactive")
	}

	schoolYear := models.SchoolYearOf(req.PaymentDate)
	schedule, err := s.scheduler.EnsureSchedule(ctx, actor, req.StudentID, schoolYear)
	if err != nil {
		return nil, err
	}

	var warnings []string
	remaining := schedule.Remaining()
	if remaining <= 0 {
		warnings = append(warnings, "schedule already fully paid; validation will reject this payment")
	} else if req.Amount > remaining {
		return nil, appErrors.Clone(appErrors.ErrOverpayment,
			fmt.Sprintf("amount %d exceeds remaining balance %d", req.Amount, remaining))
	}

	payment := &models.Payment{
		ID:                uuid.NewString(),
		SchoolID:          student.SchoolID,
		StudentID:         student.ID,
		TypeID:            paymentType.ID,
		ModeID:            mode.ID,
		Amount:            req.Amount,
		PaymentDate:       req.PaymentDate,
		ExternalReference: req.ExternalReference,
		Status:            models.PaymentPending,
		CreatedBy:         actor.UserID,
		CreatedAt:         s.now(),
		Observations:      req.Observations,
	}

	if err := s.assignReceipt(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Info("payment registered",
		zap.String("payment_id", payment.ID),
		zap.String("receipt_no", payment.ReceiptNo),
		zap.Int64("amount", payment.Amount))
	return &RegisterPaymentResult{Payment: payment, Warnings: warnings}, nil
}

// assignReceipt claims the next REC{YYYY}{NNNN} under the year bucket. The
// unique (receipt_year, receipt_seq) index arbitrates races; conflicts retry
// with a fresh max-plus-one up to the configured bound.
func (s *PaymentService) assignReceipt(ctx context.Context, payment *models.Payment) error {
	year := payment.PaymentDate.Year()
	for attempt := 0; attempt < s.cfg.ReceiptRetries; attempt++ {
		seq, err := s.payments.NextReceiptSeq(ctx, year)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate receipt number")
		}
		payment.ReceiptYear = year
		payment.ReceiptSeq = seq
		payment.ReceiptNo = models.ReceiptNumber(year, seq)

		err = s.payments.Create(ctx, payment)
		if err == nil {
			return nil
		}
		if !repository.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
		}
		s.logger.Warn("receipt number collision, retrying",
			zap.String("receipt_no", payment.ReceiptNo),
			zap.Int("attempt", attempt+1))
	}
	return appErrors.Clone(appErrors.ErrReceiptExhausted, "")
}

// Validate allocates a PENDING payment across the schedule's tranches and
// marks it VALID, all under one transaction with row locks on both the
// payment and the schedule. A second call on an already VALID payment is an
// idempotent success.
func (s *PaymentService) Validate(ctx context.Context, actor models.Actor, paymentID string) (*models.Payment, error) {
	if !actor.CanValidatePayments() {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "role cannot validate payments")
	}

	head, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !actor.CanAccess(head.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	schoolYear := models.SchoolYearOf(head.PaymentDate)
	if _, err := s.scheduler.EnsureSchedule(ctx, actor, head.StudentID, schoolYear); err != nil {
		return nil, err
	}

	paymentType, err := s.catalog.FindType(ctx, head.TypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment type")
	}

	var validated *models.Payment
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		payment, err := s.payments.LockByID(ctx, tx, paymentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock payment")
		}
		switch payment.Status {
		case models.PaymentValid:
			validated = payment
			return nil
		case models.PaymentPending:
			// proceed
		default:
			return appErrors.Clone(appErrors.ErrState,
				fmt.Sprintf("payment is %s, only PENDING payments can be validated", payment.Status))
		}

		schedule, err := s.schedules.LockByStudentYear(ctx, tx, payment.StudentID, schoolYear)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock schedule")
		}

		allocations, leftover := s.allocate(schedule, payment, paymentType.Targets())
		if leftover > 0 {
			return appErrors.Clone(appErrors.ErrOverpayment,
				fmt.Sprintf("allocation leaves %d unabsorbed by the schedule", leftover))
		}

		if err := s.payments.InsertAllocations(ctx, tx, allocations); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record allocations")
		}

		schedule.State = schedule.ComputeState(s.now())
		if err := s.schedules.UpdateAmounts(ctx, tx, schedule); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
		}

		nowTime := s.now()
		payment.Status = models.PaymentValid
		payment.ValidatedBy = &actor.UserID
		payment.ValidatedAt = &nowTime
		if err := s.payments.SetStatus(ctx, tx, payment); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment status")
		}

		validated = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateBilling(ctx, validated.SchoolID)
	s.cache.InvalidateStudent(ctx, validated.StudentID)
	s.metrics.RecordPaymentValidated(validated.SchoolID, validated.Amount)
	s.logger.Info("payment validated",
		zap.String("payment_id", validated.ID),
		zap.String("receipt_no", validated.ReceiptNo),
		zap.Int64("amount", validated.Amount))
	return validated, nil
}

// allocate distributes the payment amount across the schedule's tranches and
// returns the allocations plus any unabsorbed leftover. The natural order is
// inscription, t1, t2, t3; an explicit target rotates first. For combined
// types the inscription line absorbs at most its grid fee (or the configured
// slice when the grid carries none) before the remainder flows to tuition.
func (s *PaymentService) allocate(schedule *models.Schedule, payment *models.Payment, targets []models.TrancheTag) ([]models.PaymentAllocation, int64) {
	order := allocationOrder(targets)
	combined := len(targets) > 1

	sliceCap := schedule.InscriptionDue
	if sliceCap <= 0 {
		sliceCap = s.cfg.InscriptionSlice
	}

	remaining := payment.Amount
	var allocations []models.PaymentAllocation
	for _, line := range orderedLines(schedule, order) {
		if remaining <= 0 {
			break
		}
		toPay := line.Due - line.Paid
		if toPay <= 0 {
			continue
		}
		payNow := remaining
		if payNow > toPay {
			payNow = toPay
		}
		if combined && line.Tag == models.TrancheInscription && payNow > sliceCap {
			payNow = sliceCap
		}
		if payNow <= 0 {
			continue
		}

		late := payment.PaymentDate.After(line.DueDate)
		if late {
			s.logger.Warn("late tranche payment",
				zap.String("payment_id", payment.ID),
				zap.String("tranche", string(line.Tag)),
				zap.Time("due_date", line.DueDate))
		}
		allocations = append(allocations, models.PaymentAllocation{
			ID:        uuid.NewString(),
			PaymentID: payment.ID,
			Tranche:   line.Tag,
			Amount:    payNow,
			Late:      late,
			CreatedAt: s.now(),
		})
		schedule.AddPaid(line.Tag, payNow)
		remaining -= payNow
	}
	return allocations, remaining
}

// allocationOrder puts explicit targets first, then the rest of the natural
// order so a surplus still lands somewhere instead of failing validation.
func allocationOrder(targets []models.TrancheTag) []models.TrancheTag {
	if len(targets) == 0 {
		return models.TrancheOrder
	}
	seen := make(map[models.TrancheTag]bool, len(targets))
	order := make([]models.TrancheTag, 0, len(models.TrancheOrder))
	for _, tag := range targets {
		if !seen[tag] {
			order = append(order, tag)
			seen[tag] = true
		}
	}
	for _, tag := range models.TrancheOrder {
		if !seen[tag] {
			order = append(order, tag)
		}
	}
	return order
}

func orderedLines(schedule *models.Schedule, order []models.TrancheTag) []models.TrancheLine {
	byTag := make(map[models.TrancheTag]models.TrancheLine, 4)
	for _, line := range schedule.Tranches() {
		byTag[line.Tag] = line
	}
	lines := make([]models.TrancheLine, 0, len(order))
	for _, tag := range order {
		if line, ok := byTag[tag]; ok {
			lines = append(lines, line)
		}
	}
	return lines
}

// Reject reverses a payment. A VALID payment has its allocations undone on
// the schedule; a PENDING one just flips. Double rejection is a no-op.
func (s *PaymentService) Reject(ctx context.Context, actor models.Actor, paymentID string, reason *string) (*models.Payment, error) {
	return s.reverse(ctx, actor, paymentID, models.PaymentRejected, reason)
}

// Refund reverses a VALID payment, marking it REFUNDED.
func (s *PaymentService) Refund(ctx context.Context, actor models.Actor, paymentID string, reason *string) (*models.Payment, error) {
	return s.reverse(ctx, actor, paymentID, models.PaymentRefunded, reason)
}

func (s *PaymentService) reverse(ctx context.Context, actor models.Actor, paymentID string, target models.PaymentStatus, reason *string) (*models.Payment, error) {
	if !actor.CanValidatePayments() {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "role cannot reverse payments")
	}

	head, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !actor.CanAccess(head.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	schoolYear := models.SchoolYearOf(head.PaymentDate)
	var reversed *models.Payment
	var hadAllocations bool
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		payment, err := s.payments.LockByID(ctx, tx, paymentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock payment")
		}
		if payment.Status == target {
			reversed = payment
			return nil
		}
		if target == models.PaymentRefunded && payment.Status != models.PaymentValid {
			return appErrors.Clone(appErrors.ErrState, "only VALID payments can be refunded")
		}

		if payment.Status == models.PaymentValid {
			allocations, err := s.payments.AllocationsByPayment(ctx, tx, payment.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
			}
			schedule, err := s.schedules.LockByStudentYear(ctx, tx, payment.StudentID, schoolYear)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock schedule")
			}
			for _, alloc := range allocations {
				schedule.AddPaid(alloc.Tranche, -alloc.Amount)
			}
			if err := s.payments.DeleteAllocations(ctx, tx, payment.ID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete allocations")
			}
			schedule.State = schedule.ComputeState(s.now())
			if err := s.schedules.UpdateAmounts(ctx, tx, schedule); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
			}
			hadAllocations = len(allocations) > 0
		}

		payment.Status = target
		if reason != nil {
			payment.Observations = reason
		}
		if err := s.payments.SetStatus(ctx, tx, payment); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment status")
		}
		reversed = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hadAllocations {
		s.cache.InvalidateBilling(ctx, reversed.SchoolID)
		s.cache.InvalidateStudent(ctx, reversed.StudentID)
		s.metrics.RecordPaymentReversed(reversed.SchoolID)
	}
	s.logger.Info("payment reversed",
		zap.String("payment_id", reversed.ID),
		zap.String("status", string(reversed.Status)))
	return reversed, nil
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, actor models.Actor, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.payments.List(ctx, actor, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, models.NewPagination(filter.Page, filter.PageSize, total), nil
}
