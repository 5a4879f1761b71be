package models

import "time"

// BusPeriodicity is the billing cycle of a bus subscription.
type BusPeriodicity string

const (
	BusMonthly BusPeriodicity = "MONTHLY"
	BusAnnual  BusPeriodicity = "ANNUAL"
	BusT1      BusPeriodicity = "T1"
	BusT2      BusPeriodicity = "T2"
	BusT3      BusPeriodicity = "T3"
)

// BusStatus is the subscription lifecycle.
type BusStatus string

const (
	BusActive    BusStatus = "ACTIVE"
	BusExpired   BusStatus = "EXPIRED"
	BusSuspended BusStatus = "SUSPENDED"
)

// BusSubscription tracks a student's transport plan and when to warn the
// guardian before expiry.
type BusSubscription struct {
	ID              string         `db:"id" json:"id"`
	SchoolID        string         `db:"school_id" json:"school_id"`
	StudentID       string         `db:"student_id" json:"student_id"`
	Amount          int64          `db:"amount" json:"amount"`
	Periodicity     BusPeriodicity `db:"periodicity" json:"periodicity"`
	StartDate       time.Time      `db:"start_date" json:"start_date"`
	ExpiryDate      time.Time      `db:"expiry_date" json:"expiry_date"`
	Status          BusStatus      `db:"status" json:"status"`
	AlertDaysBefore int            `db:"alert_days_before" json:"alert_days_before"`
	LastReminderAt  *time.Time     `db:"last_reminder_at" json:"last_reminder_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// NearExpiry reports whether the subscription is in its alert window.
func (b BusSubscription) NearExpiry(today time.Time) bool {
	if b.Status != BusActive {
		return false
	}
	days := int(b.ExpiryDate.Sub(today).Hours() / 24)
	return days >= 0 && days <= b.AlertDaysBefore
}
