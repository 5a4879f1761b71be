package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakeStudentStore struct {
	byID         map[string]*models.Student
	byMatricule  map[string]*models.Student
	takenMatric  map[string]bool
	nextSeq      int
	createCalled int
}

func newFakeStudentStore() *fakeStudentStore {
	return &fakeStudentStore{
		byID:        map[string]*models.Student{},
		byMatricule: map[string]*models.Student{},
		takenMatric: map[string]bool{},
		nextSeq:     1,
	}
}

func (f *fakeStudentStore) FindByID(_ context.Context, id string) (*models.Student, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeStudentStore) FindByMatricule(_ context.Context, matricule string) (*models.Student, error) {
	s, ok := f.byMatricule[matricule]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeStudentStore) List(context.Context, models.Actor, models.StudentFilter) ([]models.Student, int, error) {
	return nil, 0, nil
}

func (f *fakeStudentStore) Create(_ context.Context, student *models.Student) error {
	f.createCalled++
	if f.takenMatric[student.Matricule] {
		return &pq.Error{Code: "23505"}
	}
	f.byID[student.ID] = student
	f.byMatricule[student.Matricule] = student
	return nil
}

func (f *fakeStudentStore) Update(_ context.Context, student *models.Student) error {
	f.byID[student.ID] = student
	return nil
}

func (f *fakeStudentStore) NextMatriculeSeq(context.Context, string) (int, error) {
	return f.nextSeq, nil
}

func studentServiceFixture() (*StudentService, *fakeStudentStore) {
	store := newFakeStudentStore()
	classes := &fakeClasses{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", SchoolID: "school-1", Name: "CM2 A", Level: models.LevelPrimaire5},
	}}
	schools := &fakeSchools{schools: map[string]*models.School{
		"school-1": {ID: "school-1", Name: "Groupe Scolaire Kipe", Slug: "kipe"},
	}}
	guardians := &fakeGuardians{guardians: map[string]*models.Guardian{
		"guardian-1": {ID: "guardian-1", Name: "Mariama Diallo", Phone: "+224620000001"},
	}}
	return NewStudentService(store, classes, schools, guardians, nil, nil), store
}

func enrollmentRequest() CreateStudentRequest {
	return CreateStudentRequest{
		FirstName:         "Aissatou",
		LastName:          "Diallo",
		Sex:               "F",
		BirthDate:         time.Date(2014, 3, 12, 0, 0, 0, 0, time.UTC),
		ClassID:           "class-1",
		PrimaryGuardianID: "guardian-1",
		EnrollmentDate:    time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateStudentGeneratesMatricule(t *testing.T) {
	svc, _ := studentServiceFixture()

	student, err := svc.Create(context.Background(), accountant(), enrollmentRequest())
	require.NoError(t, err)
	// Prefix: upper(slug) truncated to 3 + first two letters of the level.
	assert.Equal(t, "KIPPR00001", student.Matricule)
	assert.Equal(t, models.StudentActive, student.Status)
	assert.Equal(t, "school-1", student.SchoolID)
}

func TestCreateStudentRetriesMatriculeCollision(t *testing.T) {
	svc, store := studentServiceFixture()
	store.takenMatric["KIPPR00001"] = true
	store.takenMatric["KIPPR00002"] = true

	student, err := svc.Create(context.Background(), accountant(), enrollmentRequest())
	require.NoError(t, err)
	assert.Equal(t, "KIPPR00003", student.Matricule)
	assert.Equal(t, 3, store.createCalled)
}

func TestCreateStudentExhaustsMatriculeRetries(t *testing.T) {
	svc, store := studentServiceFixture()
	for _, taken := range []string{"KIPPR00001", "KIPPR00002", "KIPPR00003", "KIPPR00004", "KIPPR00005"} {
		store.takenMatric[taken] = true
	}

	_, err := svc.Create(context.Background(), accountant(), enrollmentRequest())
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestCreateStudentValidatesSex(t *testing.T) {
	svc, _ := studentServiceFixture()
	req := enrollmentRequest()
	req.Sex = "X"

	_, err := svc.Create(context.Background(), accountant(), req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUpdateStudentRejectsCrossSchoolClass(t *testing.T) {
	svc, store := studentServiceFixture()
	student, err := svc.Create(context.Background(), accountant(), enrollmentRequest())
	require.NoError(t, err)

	otherClass := "class-other"
	svcClasses := svc.classes.(*fakeClasses)
	svcClasses.classes[otherClass] = &models.Class{ID: otherClass, SchoolID: "school-2", Name: "7e"}

	_, err = svc.Update(context.Background(), accountant(), student.ID, UpdateStudentRequest{ClassID: &otherClass})
	assert.ErrorIs(t, err, appErrors.ErrAuthorization)
	assert.Equal(t, "class-1", store.byID[student.ID].ClassID)
}
