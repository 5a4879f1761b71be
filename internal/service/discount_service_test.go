package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkcamara/scolaris-core/internal/models"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakeDiscounts struct {
	byID    map[string]*models.Discount
	applied int64
	created []*models.Discount
}

func (f *fakeDiscounts) FindByID(_ context.Context, id string) (*models.Discount, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeDiscounts) List(context.Context, models.Actor, bool) ([]models.Discount, error) {
	return nil, nil
}

func (f *fakeDiscounts) Create(_ context.Context, discount *models.Discount) error {
	f.created = append(f.created, discount)
	return nil
}

func (f *fakeDiscounts) InsertApplication(_ context.Context, _ *sqlx.Tx, pd *models.PaymentDiscount) error {
	f.applied += pd.Amount
	return nil
}

func (f *fakeDiscounts) SumAppliedForStudentYear(context.Context, string, time.Time, time.Time, time.Time) (int64, error) {
	return f.applied, nil
}

func discountServiceFixture(exigibleSchedule *models.Schedule) (*DiscountService, *fakeDiscounts, *fakePayments) {
	payments := newFakePayments()
	discounts := &fakeDiscounts{byID: map[string]*models.Discount{
		"disc-percent": {
			ID: "disc-percent", SchoolID: "school-1", Name: "Bourse 10%",
			Kind: models.DiscountPercent, Value: decimal.NewFromInt(10),
			StartDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
			Active:    true,
		},
		"disc-fixed": {
			ID: "disc-fixed", SchoolID: "school-1", Name: "Remise fratrie",
			Kind: models.DiscountFixed, Value: decimal.NewFromInt(250000),
			StartDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
			Active:    true,
		},
	}}
	svc := NewDiscountService(fakeTx{}, discounts, payments, &fakeEnsurer{schedule: exigibleSchedule}, nil, nil, nil)
	return svc, discounts, payments
}

func TestApplyDiscountPercentOfPayment(t *testing.T) {
	svc, discounts, payments := discountServiceFixture(primaire1Schedule())
	// Exigible at mid-October: inscription 30000 + tranche 1 200000.
	paymentFixture(payments, "type-combined", 100000, time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC))

	pd, err := svc.Apply(context.Background(), accountant(), "pay-1", "disc-percent")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), pd.Amount)
	assert.Equal(t, int64(10000), discounts.applied)
}

func TestApplyDiscountClipsToHeadroom(t *testing.T) {
	svc, discounts, payments := discountServiceFixture(primaire1Schedule())
	paymentFixture(payments, "type-combined", 230000, time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC))
	discounts.applied = 200000 // previous grants; exigible cap is 230000

	pd, err := svc.Apply(context.Background(), accountant(), "pay-1", "disc-fixed")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), pd.Amount)
}

func TestApplyDiscountFailsAtCap(t *testing.T) {
	svc, discounts, payments := discountServiceFixture(primaire1Schedule())
	paymentFixture(payments, "type-combined", 100000, time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC))
	discounts.applied = 230000

	_, err := svc.Apply(context.Background(), accountant(), "pay-1", "disc-percent")
	assert.ErrorIs(t, err, appErrors.ErrDiscountCap)
}

func TestApplyDiscountOutsideValidityWindow(t *testing.T) {
	svc, _, payments := discountServiceFixture(primaire1Schedule())
	paymentFixture(payments, "type-combined", 100000, time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC))

	_, err := svc.Apply(context.Background(), accountant(), "pay-1", "disc-percent")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCreateDiscountValidatesValue(t *testing.T) {
	svc, discounts, _ := discountServiceFixture(primaire1Schedule())
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)

	_, err := svc.Create(context.Background(), accountant(), CreateDiscountRequest{
		Name: "Bourse", Kind: "PERCENT", Value: "120", StartDate: start, EndDate: end,
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(context.Background(), accountant(), CreateDiscountRequest{
		Name: "Remise", Kind: "FIXED", Value: "2500,50", StartDate: start, EndDate: end,
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	created, err := svc.Create(context.Background(), accountant(), CreateDiscountRequest{
		Name: "Bourse", Kind: "PERCENT", Value: "12,5", StartDate: start, EndDate: end,
	})
	require.NoError(t, err)
	assert.True(t, created.Value.Equal(decimal.RequireFromString("12.5")))
	assert.Len(t, discounts.created, 1)
}
