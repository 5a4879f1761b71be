package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
)

func newScheduleMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func scheduleRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "school_id", "student_id", "school_year",
		"inscription_due", "tranche_1_due", "tranche_2_due", "tranche_3_due",
		"inscription_paid", "tranche_1_paid", "tranche_2_paid", "tranche_3_paid",
		"inscription_due_date", "tranche_1_due_date", "tranche_2_due_date", "tranche_3_due_date",
		"state", "created_at", "updated_at",
	}).AddRow("sched-1", "school-1", "student-1", "2024-2025",
		30000, 200000, 200000, 150000,
		30000, 100000, 0, 0,
		now, now, now, now,
		models.SchedulePartial, now, now)
}

func TestScheduleRepositoryFindByStudentYear(t *testing.T) {
	db, mock, cleanup := newScheduleMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, school_id, student_id, school_year,\n        inscription_due, tranche_1_due, tranche_2_due, tranche_3_due,\n        inscription_paid, tranche_1_paid, tranche_2_paid, tranche_3_paid,\n        inscription_due_date, tranche_1_due_date, tranche_2_due_date, tranche_3_due_date,\n        state, created_at, updated_at FROM schedules WHERE student_id = $1 AND school_year = $2")).
		WithArgs("student-1", "2024-2025").
		WillReturnRows(scheduleRows())

	schedule, err := repo.FindByStudentYear(context.Background(), "student-1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, "sched-1", schedule.ID)
	assert.Equal(t, int64(200000), schedule.Tranche1Due)
	assert.Equal(t, models.SchedulePartial, schedule.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newScheduleMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec("INSERT INTO schedules").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	schedule := &models.Schedule{
		SchoolID:       "school-1",
		StudentID:      "student-1",
		SchoolYear:     "2024-2025",
		InscriptionDue: 30000,
		Tranche1Due:    200000,
		Tranche2Due:    200000,
		Tranche3Due:    150000,
		State:          models.ScheduleToPay,
	}
	err := repo.Create(context.Background(), schedule)
	require.NoError(t, err)
	assert.NotEmpty(t, schedule.ID)
	assert.False(t, schedule.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryUpdateState(t *testing.T) {
	db, mock, cleanup := newScheduleMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET state = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(models.ScheduleLate, sqlmock.AnyArg(), "sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateState(context.Background(), "sched-1", models.ScheduleLate)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryClassRollups(t *testing.T) {
	db, mock, cleanup := newScheduleMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	rows := sqlmock.NewRows([]string{"class_id", "class_name", "school_year", "effectif", "total_due", "total_paid"}).
		AddRow("class-1", "CM2 A", "2024-2025", 32, 18560000, 9200000).
		AddRow("class-2", "CM2 B", "2024-2025", 28, 16240000, 17000000)
	mock.ExpectQuery("GROUP BY c.id, c.name, sc.school_year ORDER BY c.name").
		WithArgs("2024-2025", "school-1").
		WillReturnRows(rows)

	actor := models.Actor{UserID: "user-1", Role: models.RoleSuperAdmin}
	rollups, err := repo.ClassRollups(context.Background(), actor, "school-1", "2024-2025")
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, int64(9360000), rollups[0].Remaining)
	assert.Equal(t, int64(0), rollups[1].Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}
