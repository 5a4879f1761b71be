package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
)

type fakeClassMarks struct {
	rows []models.ClassMarkRow
}

func (f *fakeClassMarks) ListForClass(_ context.Context, _ string, trimester *models.Trimester) ([]models.ClassMarkRow, error) {
	if trimester == nil {
		return f.rows, nil
	}
	var out []models.ClassMarkRow
	for _, row := range f.rows {
		if row.Trimester == *trimester {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeClassSubjects struct {
	subjects []models.Subject
}

func (f *fakeClassSubjects) ListByClass(context.Context, string, bool) ([]models.Subject, error) {
	return f.subjects, nil
}

type fakeClassStudents struct {
	students []models.Student
}

func (f *fakeClassStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	for i := range f.students {
		if f.students[i].ID == id {
			return &f.students[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeClassStudents) ListByClass(context.Context, string) ([]models.Student, error) {
	return f.students, nil
}

type fakeAppreciations struct {
	scheme     *models.AppreciationScheme
	thresholds []models.AppreciationThreshold
}

func (f *fakeAppreciations) FindActiveScheme(context.Context, string) (*models.AppreciationScheme, error) {
	if f.scheme == nil {
		return nil, sql.ErrNoRows
	}
	return f.scheme, nil
}

func (f *fakeAppreciations) ListThresholds(context.Context, string) ([]models.AppreciationThreshold, error) {
	return f.thresholds, nil
}

func mark(studentID, subjectID string, trimester models.Trimester, value string, coef int) models.ClassMarkRow {
	return models.ClassMarkRow{
		StudentID:       studentID,
		SubjectID:       subjectID,
		Trimester:       trimester,
		Value:           decimal.RequireFromString(value),
		EvalCoefficient: coef,
	}
}

func averageFixture(rows []models.ClassMarkRow) *AverageService {
	subjects := &fakeClassSubjects{subjects: []models.Subject{
		{ID: "subj-math", ClassID: "class-1", Name: "Mathématiques", Coefficient: 3, Active: true},
		{ID: "subj-fr", ClassID: "class-1", Name: "Français", Coefficient: 2, Active: true},
	}}
	students := &fakeClassStudents{students: []models.Student{
		{ID: "student-a", SchoolID: "school-1", ClassID: "class-1", Matricule: "KIP-PR00001", FirstName: "Aissatou", LastName: "Diallo"},
		{ID: "student-b", SchoolID: "school-1", ClassID: "class-1", Matricule: "KIP-PR00002", FirstName: "Mamadou", LastName: "Bah"},
		{ID: "student-c", SchoolID: "school-1", ClassID: "class-1", Matricule: "KIP-PR00003", FirstName: "Fanta", LastName: "Camara"},
	}}
	classes := &fakeClasses{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", SchoolID: "school-1", Name: "CM2 A"},
	}}
	return NewAverageService(&fakeClassMarks{rows: rows}, subjects, students, classes, &fakeAppreciations{}, nil, nil)
}

func TestBulletinWeightedAveragesAndMention(t *testing.T) {
	trimester := models.Trimester1
	svc := averageFixture([]models.ClassMarkRow{
		// student-a: math (12×1 + 16×3)/4 = 15, français 12 -> general (15×3+12×2)/5 = 13.8
		mark("student-a", "subj-math", trimester, "12", 1),
		mark("student-a", "subj-math", trimester, "16", 3),
		mark("student-a", "subj-fr", trimester, "12", 2),
		// student-b: math 13, français 13 -> general 13
		mark("student-b", "subj-math", trimester, "13", 2),
		mark("student-b", "subj-fr", trimester, "13", 1),
	})

	bulletin, err := svc.Bulletin(context.Background(), accountant(), "student-a", &trimester)
	require.NoError(t, err)
	require.NotNil(t, bulletin.GeneralAverage)
	assert.True(t, bulletin.GeneralAverage.Equal(decimal.RequireFromString("13.8")),
		"general average = %s", bulletin.GeneralAverage)
	assert.Equal(t, "Assez Bien", bulletin.Mention)
	assert.Equal(t, 1, bulletin.Rank)
	assert.Equal(t, 2, bulletin.ClassSize)

	require.Len(t, bulletin.Subjects, 2)
	assert.Equal(t, "Mathématiques", bulletin.Subjects[0].SubjectName)
	assert.True(t, bulletin.Subjects[0].Average.Equal(decimal.NewFromInt(15)))
}

func TestBulletinSkipsSubjectsWithoutMarks(t *testing.T) {
	trimester := models.Trimester1
	svc := averageFixture([]models.ClassMarkRow{
		mark("student-a", "subj-math", trimester, "14", 1),
	})

	bulletin, err := svc.Bulletin(context.Background(), accountant(), "student-a", &trimester)
	require.NoError(t, err)
	require.Len(t, bulletin.Subjects, 1)
	assert.Equal(t, "subj-math", bulletin.Subjects[0].SubjectID)
	require.NotNil(t, bulletin.GeneralAverage)
	assert.True(t, bulletin.GeneralAverage.Equal(decimal.NewFromInt(14)))
}

func TestAnnualBulletinPoolsAllTrimesters(t *testing.T) {
	svc := averageFixture([]models.ClassMarkRow{
		mark("student-a", "subj-math", models.Trimester1, "10", 1),
		mark("student-a", "subj-math", models.Trimester2, "14", 1),
		mark("student-a", "subj-math", models.Trimester3, "18", 1),
	})

	bulletin, err := svc.Bulletin(context.Background(), accountant(), "student-a", nil)
	require.NoError(t, err)
	assert.True(t, bulletin.Annual)
	require.NotNil(t, bulletin.GeneralAverage)
	assert.True(t, bulletin.GeneralAverage.Equal(decimal.NewFromInt(14)))
}

func TestClassRankingSharesTiedRanks(t *testing.T) {
	trimester := models.Trimester2
	svc := averageFixture([]models.ClassMarkRow{
		mark("student-a", "subj-math", trimester, "15", 1),
		mark("student-b", "subj-math", trimester, "15", 1),
		mark("student-c", "subj-math", trimester, "11", 1),
	})

	rows, err := svc.ClassRanking(context.Background(), accountant(), "class-1", &trimester)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Standard competition ranking: 1, 1, 3.
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, 1, rows[1].Rank)
	assert.Equal(t, 3, rows[2].Rank)
	assert.Equal(t, "student-c", rows[2].StudentID)
	assert.Equal(t, "Fanta Camara", rows[2].FullName)
	assert.Equal(t, "Bien", rows[0].Mention)
	assert.Equal(t, "Passable", rows[2].Mention)
}

func TestMentionUsesConfiguredScheme(t *testing.T) {
	svc := averageFixture(nil)
	appreciations := &fakeAppreciations{
		scheme: &models.AppreciationScheme{ID: "scheme-1", Active: true},
		thresholds: []models.AppreciationThreshold{
			{SchemeID: "scheme-1", MinValue: decimal.NewFromInt(15), Label: "Excellent"},
			{SchemeID: "scheme-1", MinValue: decimal.NewFromInt(0), Label: "À renforcer"},
		},
	}
	svc.appreciations = appreciations

	assert.Equal(t, "Excellent", svc.Mention(context.Background(), "school-1", decimal.RequireFromString("16.2")))
	assert.Equal(t, "À renforcer", svc.Mention(context.Background(), "school-1", decimal.NewFromInt(9)))
}
