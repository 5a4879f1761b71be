package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type subjectStore interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ListByClass(ctx context.Context, classID string, activeOnly bool) ([]models.Subject, error)
	Upsert(ctx context.Context, subject *models.Subject) error
	CountEvaluations(ctx context.Context, subjectID string) (int, error)
	Delete(ctx context.Context, id string) error
	ListBaselines(ctx context.Context, seriesCode string) ([]models.CoefficientBaseline, error)
}

// defaultSubjects are the hardcoded seeds per series, the last resort after
// every baseline level has been consulted.
var defaultSubjects = map[string][]struct {
	Name        string
	Coefficient int
}{
	"COLLEGE": {
		{"Mathématiques", 4}, {"Français", 4}, {"Physique-Chimie", 2},
		{"Sciences Naturelles", 2}, {"Histoire-Géographie", 2},
		{"Anglais", 2}, {"Education Civique", 1}, {"EPS", 1},
	},
	"L11SS": {
		{"Mathématiques", 2}, {"Français", 5}, {"Philosophie", 3},
		{"Histoire-Géographie", 4}, {"Anglais", 3}, {"Economie", 3}, {"EPS", 1},
	},
	"L12SM": {
		{"Mathématiques", 5}, {"Physique", 4}, {"Chimie", 3},
		{"Français", 3}, {"Biologie", 2}, {"Anglais", 2}, {"EPS", 1},
	},
	"TERMINALE": {
		{"Mathématiques", 5}, {"Physique", 4}, {"Chimie", 3},
		{"Philosophie", 2}, {"Français", 3}, {"Anglais", 2}, {"EPS", 1},
	},
}

// SubjectService manages the per-class grades catalog.
type SubjectService struct {
	subjects  subjectStore
	classes   classReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSubjectService constructs a SubjectService.
func NewSubjectService(subjects subjectStore, classes classReader, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{
		subjects:  subjects,
		classes:   classes,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateSubjectRequest describes subject input.
type CreateSubjectRequest struct {
	ClassID     string `json:"class_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Coefficient int    `json:"coefficient" validate:"required,gte=1,lte=20"`
}

// Upsert creates or updates a subject for a class.
func (s *SubjectService) Upsert(ctx context.Context, actor models.Actor, req CreateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !actor.CanAccess(class.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	nowTime := s.now()
	subject := &models.Subject{
		ID:          uuid.NewString(),
		SchoolID:    class.SchoolID,
		ClassID:     class.ID,
		Name:        req.Name,
		Coefficient: req.Coefficient,
		Active:      true,
		CreatedAt:   nowTime,
		UpdatedAt:   nowTime,
	}
	if err := s.subjects.Upsert(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert subject")
	}
	return subject, nil
}

// SeedClass bulk-creates the default subjects of a class from its series,
// consulting coefficient baselines most-specific first. Existing subjects are
// refreshed through the same upsert.
func (s *SubjectService) SeedClass(ctx context.Context, actor models.Actor, classID string) ([]models.Subject, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !actor.CanAccess(class.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	series := seriesOf(class)
	seeds := defaultSubjects[series]
	if len(seeds) == 0 {
		seeds = defaultSubjects["COLLEGE"]
	}

	baselines, err := s.subjects.ListBaselines(ctx, series)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coefficient baselines")
	}

	created := make([]models.Subject, 0, len(seeds))
	nowTime := s.now()
	for _, seed := range seeds {
		coefficient := resolveCoefficient(baselines, class, seed.Name, seed.Coefficient)
		subject := models.Subject{
			ID:          uuid.NewString(),
			SchoolID:    class.SchoolID,
			ClassID:     class.ID,
			Name:        seed.Name,
			Coefficient: coefficient,
			Active:      true,
			CreatedAt:   nowTime,
			UpdatedAt:   nowTime,
		}
		if err := s.subjects.Upsert(ctx, &subject); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed subject "+seed.Name)
		}
		created = append(created, subject)
	}

	s.logger.Info("class subjects seeded",
		zap.String("class_id", class.ID),
		zap.String("series", series),
		zap.Int("count", len(created)))
	return created, nil
}

// seriesOf derives the seeding series from the class, preferring an explicit
// series code.
func seriesOf(class *models.Class) string {
	if class.Series != "" {
		return strings.ToUpper(class.Series)
	}
	switch class.Level {
	case models.LevelTerminale:
		return "TERMINALE"
	case models.LevelLycee11:
		return "L11SS"
	case models.LevelLycee12:
		return "L12SM"
	default:
		return "COLLEGE"
	}
}

// resolveCoefficient walks the baseline specificity ladder for one subject:
// (school, year) > (school, any) > (global, year) > (global, any) > default.
func resolveCoefficient(baselines []models.CoefficientBaseline, class *models.Class, subjectName string, fallback int) int {
	best := -1
	coefficient := fallback
	for _, b := range baselines {
		if !strings.EqualFold(b.SubjectName, subjectName) {
			continue
		}
		if b.SchoolID != nil && *b.SchoolID != class.SchoolID {
			continue
		}
		if b.SchoolYear != nil && *b.SchoolYear != class.SchoolYear {
			continue
		}
		score := 0
		if b.SchoolID != nil {
			score += 2
		}
		if b.SchoolYear != nil {
			score++
		}
		if score > best {
			best = score
			coefficient = b.Coefficient
		}
	}
	return coefficient
}

// List returns the class's subjects.
func (s *SubjectService) List(ctx context.Context, actor models.Actor, classID string, activeOnly bool) ([]models.Subject, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !actor.CanAccess(class.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	subjects, err := s.subjects.ListByClass(ctx, classID, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// Delete removes a subject unless evaluations reference it.
func (s *SubjectService) Delete(ctx context.Context, actor models.Actor, subjectID string) error {
	subject, err := s.subjects.FindByID(ctx, subjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if !actor.CanAccess(subject.SchoolID) {
		return appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	evaluations, err := s.subjects.CountEvaluations(ctx, subjectID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count subject references")
	}
	if evaluations > 0 {
		return appErrors.NewProtectedReference("subject", []appErrors.BlockingRelation{
			{Kind: "evaluations", Count: evaluations},
		})
	}
	if err := s.subjects.Delete(ctx, subjectID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	return nil
}
