package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type evaluationStore interface {
	FindByID(ctx context.Context, id string) (*models.Evaluation, error)
	ListByClass(ctx context.Context, classID string, trimester *models.Trimester) ([]models.Evaluation, error)
	Create(ctx context.Context, evaluation *models.Evaluation) error
	Delete(ctx context.Context, id string) error
}

type markStore interface {
	Upsert(ctx context.Context, mark *models.Mark) error
	ListByEvaluation(ctx context.Context, evaluationID string) ([]models.Mark, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type matriculeResolver interface {
	FindByMatricule(ctx context.Context, matricule string) (*models.Student, error)
}

// MarkLine is one row of a bulk import.
type MarkLine struct {
	Matricule   string  `json:"matricule"`
	Value       string  `json:"value"`
	Observation *string `json:"observation,omitempty"`
}

// MarkImportError reports why one line was skipped.
type MarkImportError struct {
	Line      int    `json:"line"`
	Matricule string `json:"matricule,omitempty"`
	Reason    string `json:"reason"`
}

// MarkImportResult summarises a bulk upsert. Errors never abort the batch.
type MarkImportResult struct {
	Upserted int               `json:"upserted"`
	Errors   []MarkImportError `json:"errors,omitempty"`
}

var (
	markMin = decimal.Zero
	markMax = decimal.NewFromInt(20)
)

// MarkService manages evaluations and mark entry, including the line-based
// bulk import teachers paste from spreadsheets.
type MarkService struct {
	evaluations evaluationStore
	marks       markStore
	subjects    subjectReader
	students    matriculeResolver
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewMarkService constructs a MarkService.
func NewMarkService(evaluations evaluationStore, marks markStore, subjects subjectReader, students matriculeResolver, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *MarkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkService{
		evaluations: evaluations,
		marks:       marks,
		subjects:    subjects,
		students:    students,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateEvaluationRequest describes evaluation input.
type CreateEvaluationRequest struct {
	SubjectID   string     `json:"subject_id" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Date        *time.Time `json:"date,omitempty"`
	Trimester   string     `json:"trimester" validate:"required,oneof=T1 T2 T3"`
	Coefficient int        `json:"coefficient" validate:"required,gte=1,lte=20"`
	SchoolYear  string     `json:"school_year"`
}

// CreateEvaluation registers a graded exercise under a subject.
func (s *MarkService) CreateEvaluation(ctx context.Context, actor models.Actor, req CreateEvaluationRequest) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	subject, err := s.subjects.FindByID(ctx, req.SubjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if !actor.CanAccess(subject.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	schoolYear := req.SchoolYear
	if schoolYear == "" {
		schoolYear = models.SchoolYearOf(s.now())
	}

	nowTime := s.now()
	evaluation := &models.Evaluation{
		ID:          uuid.NewString(),
		SchoolID:    subject.SchoolID,
		ClassID:     subject.ClassID,
		SubjectID:   subject.ID,
		Title:       req.Title,
		Date:        req.Date,
		Trimester:   models.Trimester(req.Trimester),
		Coefficient: req.Coefficient,
		SchoolYear:  schoolYear,
		CreatedAt:   nowTime,
		UpdatedAt:   nowTime,
	}
	if err := s.evaluations.Create(ctx, evaluation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation")
	}
	return evaluation, nil
}

// UpsertMarks applies a batch of mark lines against one evaluation. Each line
// fails or succeeds on its own; values accept '.' or ',' as the decimal
// separator and are stored with two decimals. Re-running the same batch is
// idempotent.
func (s *MarkService) UpsertMarks(ctx context.Context, actor models.Actor, evaluationID string, lines []MarkLine) (*MarkImportResult, error) {
	evaluation, err := s.evaluations.FindByID(ctx, evaluationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation")
	}
	if !actor.CanAccess(evaluation.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	result := &MarkImportResult{}
	touched := false
	for i, line := range lines {
		lineNo := i + 1
		matricule := strings.TrimSpace(line.Matricule)
		if matricule == "" {
			result.Errors = append(result.Errors, MarkImportError{Line: lineNo, Reason: "empty matricule"})
			continue
		}

		value, err := parseMarkValue(line.Value)
		if err != nil {
			result.Errors = append(result.Errors, MarkImportError{
				Line:      lineNo,
				Matricule: matricule,
				Reason:    err.Error(),
			})
			continue
		}

		student, err := s.students.FindByMatricule(ctx, matricule)
		if err != nil {
			reason := "unknown matricule"
			if err != sql.ErrNoRows {
				reason = "failed to resolve matricule"
			}
			result.Errors = append(result.Errors, MarkImportError{
				Line:      lineNo,
				Matricule: matricule,
				Reason:    reason,
			})
			continue
		}
		if student.SchoolID != evaluation.SchoolID {
			result.Errors = append(result.Errors, MarkImportError{
				Line:      lineNo,
				Matricule: matricule,
				Reason:    "student belongs to another school",
			})
			continue
		}

		nowTime := s.now()
		mark := &models.Mark{
			ID:           uuid.NewString(),
			EvaluationID: evaluation.ID,
			StudentID:    student.ID,
			Value:        value,
			Observation:  line.Observation,
			CreatedAt:    nowTime,
			UpdatedAt:    nowTime,
		}
		if err := s.marks.Upsert(ctx, mark); err != nil {
			result.Errors = append(result.Errors, MarkImportError{
				Line:      lineNo,
				Matricule: matricule,
				Reason:    "failed to store mark",
			})
			s.logger.Warn("mark upsert failed",
				zap.String("evaluation_id", evaluation.ID),
				zap.String("matricule", matricule),
				zap.Error(err))
			continue
		}
		result.Upserted++
		touched = true
		s.cache.InvalidateStudent(ctx, student.ID)
	}

	if touched {
		s.metrics.RecordMarksUpserted(result.Upserted)
	}
	s.logger.Info("marks imported",
		zap.String("evaluation_id", evaluation.ID),
		zap.Int("upserted", result.Upserted),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// ParseMarkLines splits raw "MATRICULE;VALUE" text into lines for UpsertMarks.
// Blank lines are skipped, malformed ones reported with their line number by
// the subsequent upsert.
func ParseMarkLines(raw string) []MarkLine {
	var lines []MarkLine
	for _, row := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		row = strings.TrimSpace(row)
		if row == "" {
			continue
		}
		parts := strings.SplitN(row, ";", 2)
		line := MarkLine{Matricule: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			line.Value = strings.TrimSpace(parts[1])
		}
		lines = append(lines, line)
	}
	return lines
}

// parseMarkValue parses a 0..20 mark accepting either decimal separator.
func parseMarkValue(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed value %q", raw)
	}
	if value.LessThan(markMin) || value.GreaterThan(markMax) {
		return decimal.Zero, fmt.Errorf("value %s out of range 0..20", raw)
	}
	return value.Round(2), nil
}

// ListMarks returns the marks of one evaluation.
func (s *MarkService) ListMarks(ctx context.Context, actor models.Actor, evaluationID string) ([]models.Mark, error) {
	evaluation, err := s.evaluations.FindByID(ctx, evaluationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation")
	}
	if !actor.CanAccess(evaluation.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	marks, err := s.marks.ListByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	return marks, nil
}
