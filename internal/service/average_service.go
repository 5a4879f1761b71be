package service

import (
	"context"
	"database/sql"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type classMarkSource interface {
	ListForClass(ctx context.Context, classID string, trimester *models.Trimester) ([]models.ClassMarkRow, error)
}

type classSubjectLister interface {
	ListByClass(ctx context.Context, classID string, activeOnly bool) ([]models.Subject, error)
}

type classStudentLister interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListByClass(ctx context.Context, classID string) ([]models.Student, error)
}

type appreciationStore interface {
	FindActiveScheme(ctx context.Context, schoolID string) (*models.AppreciationScheme, error)
	ListThresholds(ctx context.Context, schemeID string) ([]models.AppreciationThreshold, error)
}

// defaultMentions is the fallback scheme when no appreciation scheme is
// configured, school-specific or global.
var defaultMentions = []struct {
	Min   int64
	Label string
}{
	{16, "Très Bien"},
	{14, "Bien"},
	{12, "Assez Bien"},
	{10, "Passable"},
	{0, "Insuffisant"},
}

// AverageService derives weighted averages, class ranks and mentions from
// marks. All arithmetic stays in decimals; rounding to 0.01 happens only at
// the presentation edge.
type AverageService struct {
	marks         classMarkSource
	subjects      classSubjectLister
	students      classStudentLister
	classes       classReader
	appreciations appreciationStore
	cache         *CacheService
	logger        *zap.Logger
}

// NewAverageService constructs an AverageService.
func NewAverageService(marks classMarkSource, subjects classSubjectLister, students classStudentLister, classes classReader, appreciations appreciationStore, cache *CacheService, logger *zap.Logger) *AverageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AverageService{
		marks:         marks,
		subjects:      subjects,
		students:      students,
		classes:       classes,
		appreciations: appreciations,
		cache:         cache,
		logger:        logger,
	}
}

// classComputation holds every aggregate of one class for one period.
type classComputation struct {
	subjects     []models.Subject
	subjectAvgs  map[string]map[string]decimal.Decimal // student -> subject -> avg
	classBySubj  map[string]decimal.Decimal            // subject -> class avg
	general      map[string]decimal.Decimal            // student -> general avg, defined only
	classGeneral *decimal.Decimal
}

// compute builds the full aggregation for a class. A nil trimester means the
// annual union of T1..T3.
func (s *AverageService) compute(ctx context.Context, classID string, trimester *models.Trimester) (*classComputation, error) {
	subjects, err := s.subjects.ListByClass(ctx, classID, true)
	if err != nil {
		return nil, err
	}
	rows, err := s.marks.ListForClass(ctx, classID, trimester)
	if err != nil {
		return nil, err
	}

	type sums struct {
		num decimal.Decimal
		den int64
	}
	perStudent := make(map[string]map[string]*sums) // student -> subject -> sums
	perSubject := make(map[string]*sums)            // subject -> pooled sums
	for _, row := range rows {
		coef := decimal.NewFromInt(int64(row.EvalCoefficient))
		bySubj, ok := perStudent[row.StudentID]
		if !ok {
			bySubj = make(map[string]*sums)
			perStudent[row.StudentID] = bySubj
		}
		st, ok := bySubj[row.SubjectID]
		if !ok {
			st = &sums{}
			bySubj[row.SubjectID] = st
		}
		st.num = st.num.Add(row.Value.Mul(coef))
		st.den += int64(row.EvalCoefficient)

		pooled, ok := perSubject[row.SubjectID]
		if !ok {
			pooled = &sums{}
			perSubject[row.SubjectID] = pooled
		}
		pooled.num = pooled.num.Add(row.Value.Mul(coef))
		pooled.den += int64(row.EvalCoefficient)
	}

	comp := &classComputation{
		subjects:    subjects,
		subjectAvgs: make(map[string]map[string]decimal.Decimal, len(perStudent)),
		classBySubj: make(map[string]decimal.Decimal, len(perSubject)),
		general:     make(map[string]decimal.Decimal, len(perStudent)),
	}

	for subjectID, pooled := range perSubject {
		if pooled.den > 0 {
			comp.classBySubj[subjectID] = pooled.num.Div(decimal.NewFromInt(pooled.den))
		}
	}

	coefBySubject := make(map[string]int, len(subjects))
	for _, subj := range subjects {
		coefBySubject[subj.ID] = subj.Coefficient
	}

	for studentID, bySubj := range perStudent {
		avgs := make(map[string]decimal.Decimal, len(bySubj))
		genNum := decimal.Zero
		var genDen int64
		for subjectID, st := range bySubj {
			if st.den <= 0 {
				continue
			}
			avg := st.num.Div(decimal.NewFromInt(st.den))
			avgs[subjectID] = avg

			coef, ok := coefBySubject[subjectID]
			if !ok {
				continue
			}
			genNum = genNum.Add(avg.Mul(decimal.NewFromInt(int64(coef))))
			genDen += int64(coef)
		}
		comp.subjectAvgs[studentID] = avgs
		if genDen > 0 {
			comp.general[studentID] = genNum.Div(decimal.NewFromInt(genDen))
		}
	}

	if len(comp.general) > 0 {
		total := decimal.Zero
		for _, avg := range comp.general {
			total = total.Add(avg)
		}
		classAvg := total.Div(decimal.NewFromInt(int64(len(comp.general))))
		comp.classGeneral = &classAvg
	}
	return comp, nil
}

// rankedEntry pairs a student with their general average.
type rankedEntry struct {
	StudentID string
	Average   decimal.Decimal
	Rank      int
}

// rank sorts general averages descending and assigns standard competition
// ranks: equal averages share the better rank number and the next distinct
// average skips past them (1, 2, 2, 4).
func rank(general map[string]decimal.Decimal) []rankedEntry {
	entries := make([]rankedEntry, 0, len(general))
	for studentID, avg := range general {
		entries = append(entries, rankedEntry{StudentID: studentID, Average: avg})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Average.Equal(entries[j].Average) {
			return entries[i].Average.GreaterThan(entries[j].Average)
		}
		return entries[i].StudentID < entries[j].StudentID
	})
	for i := range entries {
		if i > 0 && entries[i].Average.Equal(entries[i-1].Average) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
	return entries
}

// Mention resolves the label for an average via the school's appreciation
// scheme, falling back to the global scheme and finally the hardcoded table.
func (s *AverageService) Mention(ctx context.Context, schoolID string, avg decimal.Decimal) string {
	scheme, err := s.appreciations.FindActiveScheme(ctx, schoolID)
	if err == nil {
		thresholds, terr := s.appreciations.ListThresholds(ctx, scheme.ID)
		if terr == nil && len(thresholds) > 0 {
			// thresholds arrive sorted by min_value descending
			for _, t := range thresholds {
				if t.MinValue.LessThanOrEqual(avg) {
					return t.Label
				}
			}
			return thresholds[len(thresholds)-1].Label
		}
	} else if err != sql.ErrNoRows {
		s.logger.Warn("appreciation scheme lookup failed", zap.String("school_id", schoolID), zap.Error(err))
	}

	for _, m := range defaultMentions {
		if avg.GreaterThanOrEqual(decimal.NewFromInt(m.Min)) {
			return m.Label
		}
	}
	return defaultMentions[len(defaultMentions)-1].Label
}

// Bulletin renders the trimestrial or annual report card of one student. A
// nil trimester yields the annual bulletin.
func (s *AverageService) Bulletin(ctx context.Context, actor models.Actor, studentID string, trimester *models.Trimester) (*models.Bulletin, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !actor.CanAccess(student.SchoolID) {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
	}

	period := "annual"
	if trimester != nil {
		period = string(*trimester)
	}
	cacheKey := BulletinKey(studentID, period)
	var cached models.Bulletin
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	comp, err := s.compute(ctx, student.ClassID, trimester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute averages")
	}

	bulletin := &models.Bulletin{
		Student:   *student,
		ClassID:   student.ClassID,
		Trimester: trimester,
		Annual:    trimester == nil,
		ClassSize: len(comp.general),
	}

	studentAvgs := comp.subjectAvgs[studentID]
	for _, subj := range comp.subjects {
		avg, ok := studentAvgs[subj.ID]
		if !ok {
			continue
		}
		entry := models.SubjectAverage{
			SubjectID:   subj.ID,
			SubjectName: subj.Name,
			Coefficient: subj.Coefficient,
			Average:     avg.Round(2),
		}
		if classAvg, ok := comp.classBySubj[subj.ID]; ok {
			entry.ClassAvg = classAvg.Round(2)
		}
		bulletin.Subjects = append(bulletin.Subjects, entry)
	}

	if general, ok := comp.general[studentID]; ok {
		rounded := general.Round(2)
		bulletin.GeneralAverage = &rounded
		bulletin.Mention = s.Mention(ctx, student.SchoolID, general)
		for _, entry := range rank(comp.general) {
			if entry.StudentID == studentID {
				bulletin.Rank = entry.Rank
				break
			}
		}
	}
	if comp.classGeneral != nil {
		rounded := comp.classGeneral.Round(2)
		bulletin.ClassAverage = &rounded
	}

	_ = s.cache.Set(ctx, cacheKey, bulletin, 0)
	return bulletin, nil
}

// ClassRanking returns the ordered ranking of a class for a trimester or the
// year. Students without a defined general average are omitted.
func (s *AverageService) ClassRanking(ctx context.Context, actor models.Actor, classID string, trimester *models.Trimester) ([]models.RankingRow, error) {
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

	comp, err := s.compute(ctx, classID, trimester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute averages")
	}

	students, err := s.students.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	byID := make(map[string]models.Student, len(students))
	for _, st := range students {
		byID[st.ID] = st
	}

	entries := rank(comp.general)
	rows := make([]models.RankingRow, 0, len(entries))
	for _, entry := range entries {
		student := byID[entry.StudentID]
		rows = append(rows, models.RankingRow{
			StudentID:      entry.StudentID,
			Matricule:      student.Matricule,
			FullName:       student.FullName(),
			GeneralAverage: entry.Average.Round(2),
			Rank:           entry.Rank,
			Mention:        s.Mention(ctx, class.SchoolID, entry.Average),
		})
	}
	return rows, nil
}

// SubjectAverages exposes the per-subject averages of one student, mainly for
// partial views outside bulletins.
func (s *AverageService) SubjectAverages(ctx context.Context, actor models.Actor, studentID string, trimester *models.Trimester) ([]models.SubjectAverage, error) {
	bulletin, err := s.Bulletin(ctx, actor, studentID, trimester)
	if err != nil {
		return nil, err
	}
	return bulletin.Subjects, nil
}

