package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type classStore interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.Class, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

type tariffStore interface {
	FindByID(ctx context.Context, id string) (*models.TariffGrid, error)
	List(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.TariffGrid, error)
	Upsert(ctx context.Context, grid *models.TariffGrid) error
	CountSchedules(ctx context.Context, schoolID string, level models.ClassLevel, schoolYear string) (int, error)
	Delete(ctx context.Context, id string) error
}

type guardianStore interface {
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
	List(ctx context.Context, actor models.Actor, search string) ([]models.Guardian, error)
	Create(ctx context.Context, guardian *models.Guardian) error
	Update(ctx context.Context, guardian *models.Guardian) error
	Delete(ctx context.Context, id string) error
}

type paymentCatalogStore interface {
	paymentCatalogReader
	ListTypes(ctx context.Context, actor models.Actor, schoolID string) ([]models.PaymentType, error)
	ListModes(ctx context.Context, actor models.Actor, schoolID string) ([]models.PaymentMode, error)
	CreateType(ctx context.Context, t *models.PaymentType) error
	CreateMode(ctx context.Context, m *models.PaymentMode) error
}

type referenceCounter interface {
	CountByClass(ctx context.Context, classID string) (int, error)
	CountByGuardian(ctx context.Context, guardianID string) (int, error)
}

// CatalogService covers the administrative reference data: classes, tariff
// grids, guardians and the payment type/mode catalog. Deletions are guarded;
// a referenced row fails with the blocking relations listed.
type CatalogService struct {
	classes   classStore
	tariffs   tariffStore
	guardians guardianStore
	payments  paymentCatalogStore
	counters  referenceCounter
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(classes classStore, tariffs tariffStore, guardians guardianStore, payments paymentCatalogStore, counters referenceCounter, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		classes:   classes,
		tariffs:   tariffs,
		guardians: guardians,
		payments:  payments,
		counters:  counters,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateClassRequest describes class creation input.
type CreateClassRequest struct {
	Name       string `json:"name" validate:"required"`
	Level      string `json:"level" validate:"required"`
	SchoolYear string `json:"school_year" validate:"required"`
	Series     string `json:"series"`
	Capacity   int    `json:"capacity" validate:"gte=0"`
}

// CreateClass registers a class in the actor's school.
func (s *CatalogService) CreateClass(ctx context.Context, actor models.Actor, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}
	if _, err := models.SchoolYearStart(req.SchoolYear); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school year")
	}

	nowTime := s.now()
	class := &models.Class{
		ID:         uuid.NewString(),
		SchoolID:   actor.SchoolID,
		Name:       req.Name,
		Level:      models.ClassLevel(req.Level),
		SchoolYear: req.SchoolYear,
		Series:     req.Series,
		Capacity:   req.Capacity,
		CreatedAt:  nowTime,
		UpdatedAt:  nowTime,
	}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return class, nil
}

// ListClasses returns the school's classes for a year.
func (s *CatalogService) ListClasses(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.Class, error) {
	classes, err := s.classes.List(ctx, actor, schoolID, schoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, nil
}

// DeleteClass removes a class unless students still reference it.
func (s *CatalogService) DeleteClass(ctx context.Context, actor models.Actor, classID string) error {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !actor.CanAccess(class.SchoolID) {
		return appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	students, err := s.counters.CountByClass(ctx, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count class references")
	}
	if students > 0 {
		return appErrors.NewProtectedReference("class", []appErrors.BlockingRelation{
			{Kind: "students", Count: students},
		})
	}
	if err := s.classes.Delete(ctx, classID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	return nil
}

// UpsertTariffRequest describes tariff grid input.
type UpsertTariffRequest struct {
	Level          string `json:"level" validate:"required"`
	SchoolYear     string `json:"school_year" validate:"required"`
	InscriptionFee int64  `json:"inscription_fee" validate:"gte=0"`
	Tranche1       int64  `json:"tranche_1" validate:"gte=0"`
	Tranche2       int64  `json:"tranche_2" validate:"gte=0"`
	Tranche3       int64  `json:"tranche_3" validate:"gte=0"`
}

// UpsertTariff creates or replaces the grid for (school, level, year).
// Existing schedules keep the amounts they were built with.
func (s *CatalogService) UpsertTariff(ctx context.Context, actor models.Actor, req UpsertTariffRequest) (*models.TariffGrid, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid tariff payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}
	if _, err := models.SchoolYearStart(req.SchoolYear); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school year")
	}

	nowTime := s.now()
	grid := &models.TariffGrid{
		ID:             uuid.NewString(),
		SchoolID:       actor.SchoolID,
		Level:          models.ClassLevel(req.Level),
		SchoolYear:     req.SchoolYear,
		InscriptionFee: req.InscriptionFee,
		Tranche1:       req.Tranche1,
		Tranche2:       req.Tranche2,
		Tranche3:       req.Tranche3,
		CreatedAt:      nowTime,
		UpdatedAt:      nowTime,
	}
	if err := s.tariffs.Upsert(ctx, grid); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert tariff grid")
	}
	return grid, nil
}

// ListTariffs returns the school's grids for a year.
func (s *CatalogService) ListTariffs(ctx context.Context, actor models.Actor, schoolID, schoolYear string) ([]models.TariffGrid, error) {
	grids, err := s.tariffs.List(ctx, actor, schoolID, schoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tariff grids")
	}
	return grids, nil
}

// DeleteTariff removes a grid unless schedules were built from it.
func (s *CatalogService) DeleteTariff(ctx context.Context, actor models.Actor, gridID string) error {
	grid, err := s.tariffs.FindByID(ctx, gridID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "tariff grid not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tariff grid")
	}
	if !actor.CanAccess(grid.SchoolID) {
		return appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	schedules, err := s.tariffs.CountSchedules(ctx, grid.SchoolID, grid.Level, grid.SchoolYear)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count grid references")
	}
	if schedules > 0 {
		return appErrors.NewProtectedReference("tariff grid", []appErrors.BlockingRelation{
			{Kind: "schedules", Count: schedules},
		})
	}
	if err := s.tariffs.Delete(ctx, gridID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete tariff grid")
	}
	return nil
}

// CreateGuardianRequest describes guardian input.
type CreateGuardianRequest struct {
	Name           string `json:"name" validate:"required"`
	Phone          string `json:"phone" validate:"required"`
	SecondaryPhone string `json:"secondary_phone"`
	Email          string `json:"email" validate:"omitempty,email"`
}

// CreateGuardian registers a guardian in the actor's school.
func (s *CatalogService) CreateGuardian(ctx context.Context, actor models.Actor, req CreateGuardianRequest) (*models.Guardian, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid guardian payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}

	nowTime := s.now()
	guardian := &models.Guardian{
		ID:             uuid.NewString(),
		SchoolID:       actor.SchoolID,
		Name:           req.Name,
		Phone:          req.Phone,
		SecondaryPhone: req.SecondaryPhone,
		Email:          req.Email,
		CreatedAt:      nowTime,
		UpdatedAt:      nowTime,
	}
	if err := s.guardians.Create(ctx, guardian); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create guardian")
	}
	return guardian, nil
}

// ListGuardians returns guardians matching an optional search.
func (s *CatalogService) ListGuardians(ctx context.Context, actor models.Actor, search string) ([]models.Guardian, error) {
	guardians, err := s.guardians.List(ctx, actor, search)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list guardians")
	}
	return guardians, nil
}

// DeleteGuardian removes a guardian unless students still reference them.
func (s *CatalogService) DeleteGuardian(ctx context.Context, actor models.Actor, guardianID string) error {
	guardian, err := s.guardians.FindByID(ctx, guardianID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "guardian not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
	}
	if !actor.CanAccess(guardian.SchoolID) {
		return appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	students, err := s.counters.CountByGuardian(ctx, guardianID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count guardian references")
	}
	if students > 0 {
		return appErrors.NewProtectedReference("guardian", []appErrors.BlockingRelation{
			{Kind: "students", Count: students},
		})
	}
	if err := s.guardians.Delete(ctx, guardianID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete guardian")
	}
	return nil
}

// CreatePaymentTypeRequest describes payment type input. Explicit tranche
// targets replace the legacy name heuristic; when omitted the name is parsed
// once here and stored.
type CreatePaymentTypeRequest struct {
	Name           string   `json:"name" validate:"required"`
	TrancheTargets []string `json:"tranche_targets"`
}

// CreatePaymentType registers a payment type with resolved tranche targets.
func (s *CatalogService) CreatePaymentType(ctx context.Context, actor models.Actor, req CreatePaymentTypeRequest) (*models.PaymentType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment type payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}

	targets := req.TrancheTargets
	if len(targets) == 0 {
		for _, tag := range models.ParseTrancheTargets(req.Name) {
			targets = append(targets, string(tag))
		}
	}
	for _, raw := range targets {
		switch models.TrancheTag(raw) {
		case models.TrancheInscription, models.Tranche1, models.Tranche2, models.Tranche3:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown tranche target "+raw)
		}
	}

	nowTime := s.now()
	paymentType := &models.PaymentType{
		ID:             uuid.NewString(),
		SchoolID:       actor.SchoolID,
		Name:           req.Name,
		TrancheTargets: pq.StringArray(targets),
		Active:         true,
		CreatedAt:      nowTime,
		UpdatedAt:      nowTime,
	}
	if err := s.payments.CreateType(ctx, paymentType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment type")
	}
	return paymentType, nil
}

// CreatePaymentModeRequest describes payment mode input.
type CreatePaymentModeRequest struct {
	Name      string `json:"name" validate:"required"`
	Surcharge int64  `json:"surcharge" validate:"gte=0"`
}

// CreatePaymentMode registers a payment mode.
func (s *CatalogService) CreatePaymentMode(ctx context.Context, actor models.Actor, req CreatePaymentModeRequest) (*models.PaymentMode, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment mode payload")
	}
	if actor.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor has no school scope")
	}

	nowTime := s.now()
	mode := &models.PaymentMode{
		ID:        uuid.NewString(),
		SchoolID:  actor.SchoolID,
		Name:      req.Name,
		Surcharge: req.Surcharge,
		Active:    true,
		CreatedAt: nowTime,
		UpdatedAt: nowTime,
	}
	if err := s.payments.CreateMode(ctx, mode); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment mode")
	}
	return mode, nil
}

// ListPaymentTypes returns the school's payment types.
func (s *CatalogService) ListPaymentTypes(ctx context.Context, actor models.Actor, schoolID string) ([]models.PaymentType, error) {
	types, err := s.payments.ListTypes(ctx, actor, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payment types")
	}
	return types, nil
}

// ListPaymentModes returns the school's payment modes.
func (s *CatalogService) ListPaymentModes(ctx context.Context, actor models.Actor, schoolID string) ([]models.PaymentMode, error) {
	modes, err := s.payments.ListModes(ctx, actor, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payment modes")
	}
	return modes, nil
}
