package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakeCatalogClasses struct {
	byID    map[string]*models.Class
	deleted []string
}

func (f *fakeCatalogClasses) FindByID(_ context.Context, id string) (*models.Class, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeCatalogClasses) List(_ context.Context, _ models.Actor, schoolID, schoolYear string) ([]models.Class, error) {
	var out []models.Class
	for _, c := range f.byID {
		if c.SchoolID == schoolID && c.SchoolYear == schoolYear {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCatalogClasses) Create(_ context.Context, class *models.Class) error {
	f.byID[class.ID] = class
	return nil
}

func (f *fakeCatalogClasses) Update(_ context.Context, class *models.Class) error {
	f.byID[class.ID] = class
	return nil
}

func (f *fakeCatalogClasses) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeCatalogTariffs struct {
	byID      map[string]*models.TariffGrid
	schedules int
	deleted   []string
}

func (f *fakeCatalogTariffs) FindByID(_ context.Context, id string) (*models.TariffGrid, error) {
	g, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return g, nil
}

func (f *fakeCatalogTariffs) List(_ context.Context, _ models.Actor, schoolID, schoolYear string) ([]models.TariffGrid, error) {
	var out []models.TariffGrid
	for _, g := range f.byID {
		if g.SchoolID == schoolID && g.SchoolYear == schoolYear {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeCatalogTariffs) Upsert(_ context.Context, grid *models.TariffGrid) error {
	f.byID[grid.ID] = grid
	return nil
}

func (f *fakeCatalogTariffs) CountSchedules(_ context.Context, _ string, _ models.ClassLevel, _ string) (int, error) {
	return f.schedules, nil
}

func (f *fakeCatalogTariffs) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeCatalogGuardians struct {
	byID map[string]*models.Guardian
}

func (f *fakeCatalogGuardians) FindByID(_ context.Context, id string) (*models.Guardian, error) {
	g, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return g, nil
}

func (f *fakeCatalogGuardians) List(_ context.Context, _ models.Actor, _ string) ([]models.Guardian, error) {
	var out []models.Guardian
	for _, g := range f.byID {
		out = append(out, *g)
	}
	return out, nil
}

func (f *fakeCatalogGuardians) Create(_ context.Context, guardian *models.Guardian) error {
	f.byID[guardian.ID] = guardian
	return nil
}

func (f *fakeCatalogGuardians) Update(_ context.Context, guardian *models.Guardian) error {
	f.byID[guardian.ID] = guardian
	return nil
}

func (f *fakeCatalogGuardians) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

type fakeCatalogPayments struct {
	types map[string]*models.PaymentType
	modes map[string]*models.PaymentMode
}

func (f *fakeCatalogPayments) FindType(_ context.Context, id string) (*models.PaymentType, error) {
	t, ok := f.types[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeCatalogPayments) FindMode(_ context.Context, id string) (*models.PaymentMode, error) {
	m, ok := f.modes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeCatalogPayments) ListTypes(_ context.Context, _ models.Actor, _ string) ([]models.PaymentType, error) {
	var out []models.PaymentType
	for _, t := range f.types {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeCatalogPayments) ListModes(_ context.Context, _ models.Actor, _ string) ([]models.PaymentMode, error) {
	var out []models.PaymentMode
	for _, m := range f.modes {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeCatalogPayments) CreateType(_ context.Context, t *models.PaymentType) error {
	f.types[t.ID] = t
	return nil
}

func (f *fakeCatalogPayments) CreateMode(_ context.Context, m *models.PaymentMode) error {
	f.modes[m.ID] = m
	return nil
}

type fakeRefCounter struct {
	byClass    map[string]int
	byGuardian map[string]int
}

func (f *fakeRefCounter) CountByClass(_ context.Context, classID string) (int, error) {
	return f.byClass[classID], nil
}

func (f *fakeRefCounter) CountByGuardian(_ context.Context, guardianID string) (int, error) {
	return f.byGuardian[guardianID], nil
}

func catalogFixture() (*CatalogService, *fakeCatalogClasses, *fakeCatalogTariffs, *fakeCatalogPayments, *fakeRefCounter) {
	classes := &fakeCatalogClasses{byID: map[string]*models.Class{
		"class-1": {ID: "class-1", SchoolID: "school-1", Name: "CM2 A", Level: models.LevelPrimaire5, SchoolYear: "2024-2025"},
	}}
	tariffs := &fakeCatalogTariffs{byID: map[string]*models.TariffGrid{
		"grid-1": {ID: "grid-1", SchoolID: "school-1", Level: models.LevelPrimaire5, SchoolYear: "2024-2025", InscriptionFee: 30000, Tranche1: 200000, Tranche2: 200000, Tranche3: 150000},
	}}
	guardians := &fakeCatalogGuardians{byID: map[string]*models.Guardian{
		"guardian-1": {ID: "guardian-1", SchoolID: "school-1", Name: "Mariama Diallo", Phone: "+224620000001"},
	}}
	payments := &fakeCatalogPayments{types: map[string]*models.PaymentType{}, modes: map[string]*models.PaymentMode{}}
	counters := &fakeRefCounter{byClass: map[string]int{}, byGuardian: map[string]int{}}
	svc := NewCatalogService(classes, tariffs, guardians, payments, counters, nil, nil)
	return svc, classes, tariffs, payments, counters
}

func TestDeleteClassBlockedByStudents(t *testing.T) {
	svc, classes, _, _, counters := catalogFixture()
	counters.byClass["class-1"] = 12

	err := svc.DeleteClass(context.Background(), accountant(), "class-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrProtectedRef)

	var protected *appErrors.ProtectedReferenceError
	require.ErrorAs(t, err, &protected)
	require.Len(t, protected.Blocking, 1)
	assert.Equal(t, "students", protected.Blocking[0].Kind)
	assert.Equal(t, 12, protected.Blocking[0].Count)
	assert.Empty(t, classes.deleted)
}

func TestDeleteClassWithoutReferences(t *testing.T) {
	svc, classes, _, _, _ := catalogFixture()

	err := svc.DeleteClass(context.Background(), accountant(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"class-1"}, classes.deleted)
}

func TestDeleteTariffBlockedBySchedules(t *testing.T) {
	svc, _, tariffs, _, _ := catalogFixture()
	tariffs.schedules = 4

	err := svc.DeleteTariff(context.Background(), accountant(), "grid-1")
	assert.ErrorIs(t, err, appErrors.ErrProtectedRef)
	assert.Empty(t, tariffs.deleted)

	tariffs.schedules = 0
	err = svc.DeleteTariff(context.Background(), accountant(), "grid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"grid-1"}, tariffs.deleted)
}

func TestDeleteClassDeniedOutsideSchool(t *testing.T) {
	svc, _, _, _, _ := catalogFixture()
	outsider := models.Actor{UserID: "user-9", Role: models.RoleAccountant, SchoolID: "school-2"}

	err := svc.DeleteClass(context.Background(), outsider, "class-1")
	assert.ErrorIs(t, err, appErrors.ErrAuthorization)
}

func TestCreatePaymentTypeParsesNameWhenTargetsOmitted(t *testing.T) {
	svc, _, _, payments, _ := catalogFixture()

	created, err := svc.CreatePaymentType(context.Background(), accountant(), CreatePaymentTypeRequest{
		Name: "Inscription + Tranche 1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"INSCRIPTION", "T1"}, []string(created.TrancheTargets))
	assert.True(t, created.Active)
	assert.Len(t, payments.types, 1)
}

func TestCreatePaymentTypeRejectsUnknownTarget(t *testing.T) {
	svc, _, _, _, _ := catalogFixture()

	_, err := svc.CreatePaymentType(context.Background(), accountant(), CreatePaymentTypeRequest{
		Name:           "Scolarité",
		TrancheTargets: []string{"T4"},
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCreateClassValidatesSchoolYear(t *testing.T) {
	svc, _, _, _, _ := catalogFixture()

	_, err := svc.CreateClass(context.Background(), accountant(), CreateClassRequest{
		Name:       "CM2 B",
		Level:      string(models.LevelPrimaire5),
		SchoolYear: "2024/2025",
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	class, err := svc.CreateClass(context.Background(), accountant(), CreateClassRequest{
		Name:       "CM2 B",
		Level:      string(models.LevelPrimaire5),
		SchoolYear: "2024-2025",
		Capacity:   40,
	})
	require.NoError(t, err)
	assert.Equal(t, "school-1", class.SchoolID)
	assert.False(t, class.CreatedAt.Equal(time.Time{}))
}
