package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
)

func newPaymentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "school_id", "student_id", "type_id", "mode_id",
		"receipt_year", "receipt_seq", "receipt_no", "amount", "payment_date", "external_reference",
		"status", "created_by", "created_at", "validated_by", "validated_at", "observations",
	}).AddRow("pay-1", "school-1", "student-1", "type-1", "mode-1",
		2024, 17, "REC20240017", 230000, now, nil,
		models.PaymentPending, "user-1", now, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, school_id, student_id, type_id, mode_id,\n        receipt_year, receipt_seq, receipt_no, amount, payment_date, external_reference,\n        status, created_by, created_at, validated_by, validated_at, observations FROM payments WHERE id = $1")).
		WithArgs("pay-1").
		WillReturnRows(rows)

	payment, err := repo.FindByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "REC20240017", payment.ReceiptNo)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Nil(t, payment.ValidatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryNextReceiptSeq(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(receipt_seq), 0) + 1 FROM payments WHERE receipt_year = $1")).
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(18))

	seq, err := repo.NextReceiptSeq(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 18, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec("INSERT INTO payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payment := &models.Payment{
		SchoolID:    "school-1",
		StudentID:   "student-1",
		TypeID:      "type-1",
		ModeID:      "mode-1",
		ReceiptYear: 2024,
		ReceiptSeq:  18,
		ReceiptNo:   "REC20240018",
		Amount:      230000,
		PaymentDate: time.Now(),
		Status:      models.PaymentPending,
		CreatedBy:   "user-1",
	}
	err := repo.Create(context.Background(), payment)
	require.NoError(t, err)
	assert.NotEmpty(t, payment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositorySumValidByStudents(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	from := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"student_id", "total"}).
		AddRow("student-1", 230000).
		AddRow("student-2", 50000)
	mock.ExpectQuery("GROUP BY student_id").
		WithArgs(sqlmock.AnyArg(), from, to).
		WillReturnRows(rows)

	sums, err := repo.SumValidByStudents(context.Background(), []string{"student-1", "student-2"}, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(230000), sums["student-1"])
	assert.Equal(t, int64(50000), sums["student-2"])
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := repo.SumValidByStudents(context.Background(), nil, from, to)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(context.Canceled))
	assert.False(t, IsUniqueViolation(nil))
}
