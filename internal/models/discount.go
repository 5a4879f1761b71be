package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountKind distinguishes percentage from fixed-amount discounts.
type DiscountKind string

const (
	DiscountPercent DiscountKind = "PERCENT"
	DiscountFixed   DiscountKind = "FIXED"
)

// Discount is a named reduction. PERCENT values are 0-100 with two decimals;
// FIXED values are non-negative integers in local currency units.
type Discount struct {
	ID        string          `db:"id" json:"id"`
	SchoolID  string          `db:"school_id" json:"school_id"`
	Name      string          `db:"name" json:"name"`
	Kind      DiscountKind    `db:"kind" json:"kind"`
	Value     decimal.Decimal `db:"value" json:"value"`
	Reason    string          `db:"reason" json:"reason"`
	StartDate time.Time       `db:"start_date" json:"start_date"`
	EndDate   time.Time       `db:"end_date" json:"end_date"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// EligibleAt reports whether the discount applies to a payment on that date.
func (d Discount) EligibleAt(date time.Time) bool {
	return d.Active && !date.Before(d.StartDate) && !date.After(d.EndDate)
}

// CandidateAmount computes the raw discount before the exigible cap.
// base is the payment amount in local currency units.
func (d Discount) CandidateAmount(base int64) int64 {
	switch d.Kind {
	case DiscountPercent:
		amt := decimal.NewFromInt(base).Mul(d.Value).Div(decimal.NewFromInt(100))
		return amt.Round(0).IntPart()
	case DiscountFixed:
		fixed := d.Value.IntPart()
		if fixed > base {
			return base
		}
		return fixed
	default:
		return 0
	}
}

// PaymentDiscount links an applied discount to a payment with the amount
// actually granted after capping.
type PaymentDiscount struct {
	ID         string    `db:"id" json:"id"`
	PaymentID  string    `db:"payment_id" json:"payment_id"`
	DiscountID string    `db:"discount_id" json:"discount_id"`
	Amount     int64     `db:"amount" json:"amount"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
