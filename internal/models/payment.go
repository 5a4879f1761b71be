package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PaymentStatus is the payment lifecycle. Only VALID payments have any
// financial effect on a schedule.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentValid    PaymentStatus = "VALID"
	PaymentRejected PaymentStatus = "REJECTED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// PaymentType names what a payment covers. TrancheTargets is the explicit
// targeting configuration; when empty the legacy name heuristic applies.
type PaymentType struct {
	ID             string         `db:"id" json:"id"`
	SchoolID       string         `db:"school_id" json:"school_id"`
	Name           string         `db:"name" json:"name"`
	TrancheTargets pq.StringArray `db:"tranche_targets" json:"tranche_targets"`
	Active         bool           `db:"active" json:"active"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Targets resolves the tranche targets, falling back to parsing the name.
func (t PaymentType) Targets() []TrancheTag {
	if len(t.TrancheTargets) > 0 {
		tags := make([]TrancheTag, 0, len(t.TrancheTargets))
		for _, raw := range t.TrancheTargets {
			tags = append(tags, TrancheTag(raw))
		}
		return tags
	}
	return ParseTrancheTargets(t.Name)
}

// ParseTrancheTargets maps a legacy payment type name onto tranche targets.
// Kept as an import-time fallback for types that predate explicit targets.
func ParseTrancheTargets(name string) []TrancheTag {
	n := strings.ToLower(name)
	hasInscription := strings.Contains(n, "inscription")
	annual := strings.Contains(n, "annuel") || strings.Contains(n, "annual")

	var tranches []TrancheTag
	for i, tag := range []TrancheTag{Tranche1, Tranche2, Tranche3} {
		if strings.Contains(n, fmt.Sprintf("tranche %d", i+1)) {
			tranches = append(tranches, tag)
		}
	}

	switch {
	case annual:
		return []TrancheTag{TrancheInscription, Tranche1, Tranche2, Tranche3}
	case hasInscription && len(tranches) > 0:
		return append([]TrancheTag{TrancheInscription}, tranches...)
	case hasInscription:
		return []TrancheTag{TrancheInscription}
	case len(tranches) > 0:
		return tranches
	default:
		return nil
	}
}

// PaymentMode is how money arrived (cash, mobile money, ...). Surcharge is a
// fixed non-negative fee in local currency units.
type PaymentMode struct {
	ID        string    `db:"id" json:"id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	Name      string    `db:"name" json:"name"`
	Surcharge int64     `db:"surcharge" json:"surcharge"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payment is a registered payment. Receipt numbers are REC{YYYY}{NNNN},
// unique per year.
type Payment struct {
	ID                string        `db:"id" json:"id"`
	SchoolID          string        `db:"school_id" json:"school_id"`
	StudentID         string        `db:"student_id" json:"student_id"`
	TypeID            string        `db:"type_id" json:"type_id"`
	ModeID            string        `db:"mode_id" json:"mode_id"`
	ReceiptYear       int           `db:"receipt_year" json:"-"`
	ReceiptSeq        int           `db:"receipt_seq" json:"-"`
	ReceiptNo         string        `db:"receipt_no" json:"receipt_no"`
	Amount            int64         `db:"amount" json:"amount"`
	PaymentDate       time.Time     `db:"payment_date" json:"payment_date"`
	ExternalReference *string       `db:"external_reference" json:"external_reference,omitempty"`
	Status            PaymentStatus `db:"status" json:"status"`
	CreatedBy         string        `db:"created_by" json:"created_by"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	ValidatedBy       *string       `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt       *time.Time    `db:"validated_at" json:"validated_at,omitempty"`
	Observations      *string       `db:"observations" json:"observations,omitempty"`
}

// ReceiptNumber renders the stable receipt identifier.
func ReceiptNumber(year, seq int) string {
	return fmt.Sprintf("REC%d%04d", year, seq)
}

// PaymentAllocation records how much of a payment landed on one tranche.
// The sum of allocations of a VALID payment equals its amount.
type PaymentAllocation struct {
	ID        string     `db:"id" json:"id"`
	PaymentID string     `db:"payment_id" json:"payment_id"`
	Tranche   TrancheTag `db:"tranche" json:"tranche"`
	Amount    int64      `db:"amount" json:"amount"`
	Late      bool       `db:"late" json:"late"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	SchoolID  string
	StudentID string
	Status    PaymentStatus
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}
