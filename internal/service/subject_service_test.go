package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakeSubjectStore struct {
	byID        map[string]*models.Subject
	evaluations map[string]int
	baselines   []models.CoefficientBaseline
	upserts     []models.Subject
}

func (f *fakeSubjectStore) FindByID(_ context.Context, id string) (*models.Subject, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeSubjectStore) ListByClass(_ context.Context, classID string, activeOnly bool) ([]models.Subject, error) {
	var out []models.Subject
	for _, s := range f.byID {
		if s.ClassID != classID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSubjectStore) Upsert(_ context.Context, subject *models.Subject) error {
	f.byID[subject.ID] = subject
	f.upserts = append(f.upserts, *subject)
	return nil
}

func (f *fakeSubjectStore) CountEvaluations(_ context.Context, subjectID string) (int, error) {
	return f.evaluations[subjectID], nil
}

func (f *fakeSubjectStore) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeSubjectStore) ListBaselines(_ context.Context, seriesCode string) ([]models.CoefficientBaseline, error) {
	var out []models.CoefficientBaseline
	for _, b := range f.baselines {
		if b.SeriesCode == seriesCode {
			out = append(out, b)
		}
	}
	return out, nil
}

func subjectFixture(level models.ClassLevel, series string) (*SubjectService, *fakeSubjectStore) {
	store := &fakeSubjectStore{byID: map[string]*models.Subject{}, evaluations: map[string]int{}}
	classes := &fakeClasses{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", SchoolID: "school-1", Name: "CM2 A", Level: level, Series: series, SchoolYear: "2024-2025"},
	}}
	return NewSubjectService(store, classes, nil, nil), store
}

func TestSeedClassUsesSeriesDefaults(t *testing.T) {
	svc, store := subjectFixture(models.LevelTerminale, "")

	created, err := svc.SeedClass(context.Background(), accountant(), "class-1")
	require.NoError(t, err)
	require.Len(t, created, 7)
	assert.Len(t, store.upserts, 7)

	byName := map[string]int{}
	for _, s := range created {
		byName[s.Name] = s.Coefficient
	}
	assert.Equal(t, 5, byName["Mathématiques"])
	assert.Equal(t, 2, byName["Philosophie"])
}

func TestSeedClassFallsBackToCollege(t *testing.T) {
	svc, _ := subjectFixture(models.LevelPrimaire5, "")

	created, err := svc.SeedClass(context.Background(), accountant(), "class-1")
	require.NoError(t, err)
	require.Len(t, created, 8)
	assert.Equal(t, "Mathématiques", created[0].Name)
	assert.Equal(t, 4, created[0].Coefficient)
}

func TestSeedClassPrefersMostSpecificBaseline(t *testing.T) {
	svc, store := subjectFixture(models.LevelTerminale, "")
	school := "school-1"
	year := "2024-2025"
	otherYear := "2023-2024"
	store.baselines = []models.CoefficientBaseline{
		{ID: "b-global", SeriesCode: "TERMINALE", SubjectName: "Mathématiques", Coefficient: 6},
		{ID: "b-school-year", SchoolID: &school, SchoolYear: &year, SeriesCode: "TERMINALE", SubjectName: "Mathématiques", Coefficient: 7},
		{ID: "b-stale", SchoolID: &school, SchoolYear: &otherYear, SeriesCode: "TERMINALE", SubjectName: "Mathématiques", Coefficient: 9},
	}

	created, err := svc.SeedClass(context.Background(), accountant(), "class-1")
	require.NoError(t, err)
	for _, s := range created {
		if s.Name == "Mathématiques" {
			assert.Equal(t, 7, s.Coefficient)
			return
		}
	}
	t.Fatal("Mathématiques not seeded")
}

func TestDeleteSubjectBlockedByEvaluations(t *testing.T) {
	svc, store := subjectFixture(models.LevelTerminale, "")
	store.byID["subj-1"] = &models.Subject{ID: "subj-1", SchoolID: "school-1", ClassID: "class-1", Name: "Chimie", Coefficient: 3, Active: true}
	store.evaluations["subj-1"] = 2

	err := svc.Delete(context.Background(), accountant(), "subj-1")
	assert.ErrorIs(t, err, appErrors.ErrProtectedRef)

	store.evaluations["subj-1"] = 0
	err = svc.Delete(context.Background(), accountant(), "subj-1")
	require.NoError(t, err)
	assert.NotContains(t, store.byID, "subj-1")
}

func TestUpsertSubjectValidatesCoefficient(t *testing.T) {
	svc, _ := subjectFixture(models.LevelTerminale, "")

	_, err := svc.Upsert(context.Background(), accountant(), CreateSubjectRequest{
		ClassID:     "class-1",
		Name:        "Informatique",
		Coefficient: 21,
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	subject, err := svc.Upsert(context.Background(), accountant(), CreateSubjectRequest{
		ClassID:     "class-1",
		Name:        "Informatique",
		Coefficient: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "school-1", subject.SchoolID)
	assert.True(t, subject.Active)
}
