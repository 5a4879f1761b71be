package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/internal/repository"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

const matriculeRetries = 5

type studentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByMatricule(ctx context.Context, matricule string) (*models.Student, error)
	List(ctx context.Context, actor models.Actor, filter models.StudentFilter) ([]models.Student, int, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	NextMatriculeSeq(ctx context.Context, prefix string) (int, error)
}

// CreateStudentRequest describes student enrollment input.
type CreateStudentRequest struct {
	FirstName           string    `json:"first_name" validate:"required"`
	LastName            string    `json:"last_name" validate:"required"`
	Sex                 string    `json:"sex" validate:"required,oneof=M F"`
	BirthDate           time.Time `json:"birth_date" validate:"required"`
	ClassID             string    `json:"class_id" validate:"required"`
	PrimaryGuardianID   string    `json:"primary_guardian_id" validate:"required"`
	SecondaryGuardianID *string   `json:"secondary_guardian_id,omitempty"`
	PhotoRef            *string   `json:"photo_ref,omitempty"`
	EnrollmentDate      time.Time `json:"enrollment_date"`
}

// UpdateStudentRequest carries mutable student fields.
type UpdateStudentRequest struct {
	FirstName           *string               `json:"first_name,omitempty"`
	LastName            *string               `json:"last_name,omitempty"`
	ClassID             *string               `json:"class_id,omitempty"`
	SecondaryGuardianID *string               `json:"secondary_guardian_id,omitempty"`
	PhotoRef            *string               `json:"photo_ref,omitempty"`
	Status              *models.StudentStatus `json:"status,omitempty"`
}

// StudentService manages student records and matricule generation.
type StudentService struct {
	students  studentStore
	classes   classReader
	schools   schoolReader
	guardians guardianReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStudentService constructs a StudentService.
func NewStudentService(students studentStore, classes classReader, schools schoolReader, guardians guardianReader, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		students:  students,
		classes:   classes,
		schools:   schools,
		guardians: guardians,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Create enrolls a student into a class, generating a globally unique
// matricule. Collisions retry with the next sequence value.
func (s *StudentService) Create(ctx context.Context, actor models.Actor, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
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

	if _, err := s.guardians.FindByID(ctx, req.PrimaryGuardianID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "primary guardian not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
	}

	school, err := s.schools.FindByID(ctx, class.SchoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}

	enrollment := req.EnrollmentDate
	if enrollment.IsZero() {
		enrollment = s.now()
	}

	nowTime := s.now()
	student := &models.Student{
		ID:                  uuid.NewString(),
		SchoolID:            class.SchoolID,
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		Sex:                 req.Sex,
		BirthDate:           req.BirthDate,
		ClassID:             class.ID,
		PrimaryGuardianID:   req.PrimaryGuardianID,
		SecondaryGuardianID: req.SecondaryGuardianID,
		PhotoRef:            req.PhotoRef,
		EnrollmentDate:      enrollment,
		Status:              models.StudentActive,
		CreatedAt:           nowTime,
		UpdatedAt:           nowTime,
	}

	prefix := matriculePrefix(school, class.Level)
	seq, err := s.students.NextMatriculeSeq(ctx, prefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate matricule")
	}
	for attempt := 0; attempt < matriculeRetries; attempt++ {
		student.Matricule = fmt.Sprintf("%s%05d", prefix, seq+attempt)
		err = s.students.Create(ctx, student)
		if err == nil {
			s.logger.Info("student enrolled",
				zap.String("student_id", student.ID),
				zap.String("matricule", student.Matricule))
			return student, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "matricule generation exhausted retries")
}

// matriculePrefix is the school code plus the first two letters of the level.
func matriculePrefix(school *models.School, level models.ClassLevel) string {
	code := strings.ToUpper(school.Slug)
	if len(code) > 3 {
		code = code[:3]
	}
	lvl := string(level)
	if len(lvl) > 2 {
		lvl = lvl[:2]
	}
	return code + lvl
}

// Get retrieves a student in the actor's scope.
func (s *StudentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !actor.CanAccess(student.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}
	return student, nil
}

// GetByMatricule resolves a matricule to a student.
func (s *StudentService) GetByMatricule(ctx context.Context, actor models.Actor, matricule string) (*models.Student, error) {
	student, err := s.students.FindByMatricule(ctx, matricule)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !actor.CanAccess(student.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}
	return student, nil
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, actor models.Actor, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.students.List(ctx, actor, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Update applies mutable fields to a student record.
func (s *StudentService) Update(ctx context.Context, actor models.Actor, id string, req UpdateStudentRequest) (*models.Student, error) {
	student, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if req.FirstName != nil {
		student.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		student.LastName = *req.LastName
	}
	if req.ClassID != nil {
		class, err := s.classes.FindByID(ctx, *req.ClassID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
		if class.SchoolID != student.SchoolID {
			return nil, appErrors.Clone(appErrors.ErrAuthorization, "class belongs to another school")
		}
		student.ClassID = class.ID
	}
	if req.SecondaryGuardianID != nil {
		student.SecondaryGuardianID = req.SecondaryGuardianID
	}
	if req.PhotoRef != nil {
		student.PhotoRef = req.PhotoRef
	}
	if req.Status != nil {
		student.Status = *req.Status
	}
	student.UpdatedAt = s.now()

	if err := s.students.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}
