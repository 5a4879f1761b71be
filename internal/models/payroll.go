package models

import "time"

// Teacher is a payroll subject; class assignments hang off it.
type Teacher struct {
	ID        string    `db:"id" json:"id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Phone     string    `db:"phone" json:"phone"`
	BaseSalary int64    `db:"base_salary" json:"base_salary"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherAssignment links a teacher to a class, optionally per subject.
type TeacherAssignment struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	SubjectID *string   `db:"subject_id" json:"subject_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SalaryPeriodStatus: a period is OPEN until it is closed; closing one
// atomically creates the next.
type SalaryPeriodStatus string

const (
	PeriodOpen   SalaryPeriodStatus = "OPEN"
	PeriodClosed SalaryPeriodStatus = "CLOSED"
)

// SalaryPeriod is one (school, month, year) payroll cycle.
type SalaryPeriod struct {
	ID        string             `db:"id" json:"id"`
	SchoolID  string             `db:"school_id" json:"school_id"`
	Month     int                `db:"month" json:"month"`
	Year      int                `db:"year" json:"year"`
	Status    SalaryPeriodStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	ClosedAt  *time.Time         `db:"closed_at" json:"closed_at,omitempty"`
}

// Next returns the following month, rolling December into January.
func (p SalaryPeriod) Next() (month, year int) {
	if p.Month == 12 {
		return 1, p.Year + 1
	}
	return p.Month + 1, p.Year
}

// SalaryStateStatus transitions are monotone: PENDING → VALIDATED → PAID.
type SalaryStateStatus string

const (
	SalaryPending   SalaryStateStatus = "PENDING"
	SalaryValidated SalaryStateStatus = "VALIDATED"
	SalaryPaid      SalaryStateStatus = "PAID"
)

// CanTransitionTo enforces monotone salary state progression.
func (s SalaryStateStatus) CanTransitionTo(next SalaryStateStatus) bool {
	switch s {
	case SalaryPending:
		return next == SalaryValidated
	case SalaryValidated:
		return next == SalaryPaid
	default:
		return false
	}
}

// SalaryState is one teacher's pay within a period. Net is always
// base + bonuses - deductions.
type SalaryState struct {
	ID         string            `db:"id" json:"id"`
	PeriodID   string            `db:"period_id" json:"period_id"`
	TeacherID  string            `db:"teacher_id" json:"teacher_id"`
	Base       int64             `db:"base" json:"base"`
	Bonuses    int64             `db:"bonuses" json:"bonuses"`
	Deductions int64             `db:"deductions" json:"deductions"`
	Net        int64             `db:"net" json:"net"`
	Status     SalaryStateStatus `db:"status" json:"status"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updated_at"`
}

// RecomputeNet restores the net invariant after any component change.
func (s *SalaryState) RecomputeNet() {
	s.Net = s.Base + s.Bonuses - s.Deductions
}

// HourDetail records extra hours feeding bonuses.
type HourDetail struct {
	ID        string    `db:"id" json:"id"`
	StateID   string    `db:"state_id" json:"state_id"`
	Date      time.Time `db:"date" json:"date"`
	Hours     int       `db:"hours" json:"hours"`
	Rate      int64     `db:"rate" json:"rate"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
