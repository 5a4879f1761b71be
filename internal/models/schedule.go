package models

import "time"

// TrancheTag identifies one line of an installment schedule.
type TrancheTag string

const (
	TrancheInscription TrancheTag = "INSCRIPTION"
	Tranche1           TrancheTag = "T1"
	Tranche2           TrancheTag = "T2"
	Tranche3           TrancheTag = "T3"
)

// TrancheOrder is the natural allocation order.
var TrancheOrder = []TrancheTag{TrancheInscription, Tranche1, Tranche2, Tranche3}

// ScheduleState summarises where a schedule stands.
type ScheduleState string

const (
	ScheduleToPay    ScheduleState = "TO_PAY"
	SchedulePartial  ScheduleState = "PARTIAL"
	SchedulePaidFull ScheduleState = "PAID_FULL"
	ScheduleLate     ScheduleState = "LATE"
)

// Schedule is the per-student, per-year installment plan: the inscription fee
// plus three tuition tranches, each with a due amount, a paid amount and a
// due date. One row per (student, school_year).
type Schedule struct {
	ID         string `db:"id" json:"id"`
	SchoolID   string `db:"school_id" json:"school_id"`
	StudentID  string `db:"student_id" json:"student_id"`
	SchoolYear string `db:"school_year" json:"school_year"`

	InscriptionDue  int64 `db:"inscription_due" json:"inscription_due"`
	Tranche1Due     int64 `db:"tranche_1_due" json:"tranche_1_due"`
	Tranche2Due     int64 `db:"tranche_2_due" json:"tranche_2_due"`
	Tranche3Due     int64 `db:"tranche_3_due" json:"tranche_3_due"`
	InscriptionPaid int64 `db:"inscription_paid" json:"inscription_paid"`
	Tranche1Paid    int64 `db:"tranche_1_paid" json:"tranche_1_paid"`
	Tranche2Paid    int64 `db:"tranche_2_paid" json:"tranche_2_paid"`
	Tranche3Paid    int64 `db:"tranche_3_paid" json:"tranche_3_paid"`

	InscriptionDueDate time.Time `db:"inscription_due_date" json:"inscription_due_date"`
	Tranche1DueDate    time.Time `db:"tranche_1_due_date" json:"tranche_1_due_date"`
	Tranche2DueDate    time.Time `db:"tranche_2_due_date" json:"tranche_2_due_date"`
	Tranche3DueDate    time.Time `db:"tranche_3_due_date" json:"tranche_3_due_date"`

	State     ScheduleState `db:"state" json:"state"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// TrancheLine is one schedule line viewed through its tag.
type TrancheLine struct {
	Tag     TrancheTag `json:"tag"`
	Due     int64      `json:"due"`
	Paid    int64      `json:"paid"`
	DueDate time.Time  `json:"due_date"`
}

// Tranches returns the four lines in natural order.
func (s *Schedule) Tranches() []TrancheLine {
	return []TrancheLine{
		{TrancheInscription, s.InscriptionDue, s.InscriptionPaid, s.InscriptionDueDate},
		{Tranche1, s.Tranche1Due, s.Tranche1Paid, s.Tranche1DueDate},
		{Tranche2, s.Tranche2Due, s.Tranche2Paid, s.Tranche2DueDate},
		{Tranche3, s.Tranche3Due, s.Tranche3Paid, s.Tranche3DueDate},
	}
}

// AddPaid moves the paid amount of one tranche by delta (negative to reverse).
func (s *Schedule) AddPaid(tag TrancheTag, delta int64) {
	switch tag {
	case TrancheInscription:
		s.InscriptionPaid += delta
	case Tranche1:
		s.Tranche1Paid += delta
	case Tranche2:
		s.Tranche2Paid += delta
	case Tranche3:
		s.Tranche3Paid += delta
	}
}

// TotalDue sums the four due amounts.
func (s *Schedule) TotalDue() int64 {
	return s.InscriptionDue + s.Tranche1Due + s.Tranche2Due + s.Tranche3Due
}

// TotalPaid sums the four paid amounts.
func (s *Schedule) TotalPaid() int64 {
	return s.InscriptionPaid + s.Tranche1Paid + s.Tranche2Paid + s.Tranche3Paid
}

// Remaining is what is still owed over the whole year.
func (s *Schedule) Remaining() int64 {
	r := s.TotalDue() - s.TotalPaid()
	if r < 0 {
		return 0
	}
	return r
}

// ExigibleAt sums the due amounts whose due date is on or before the given
// date, regardless of what has been paid.
func (s *Schedule) ExigibleAt(date time.Time) int64 {
	var total int64
	for _, line := range s.Tranches() {
		if !line.DueDate.After(date) {
			total += line.Due
		}
	}
	return total
}

// ComputeState derives the schedule state as of today.
func (s *Schedule) ComputeState(today time.Time) ScheduleState {
	if s.TotalPaid() == s.TotalDue() {
		return SchedulePaidFull
	}
	for _, line := range s.Tranches() {
		if line.Paid < line.Due && !line.DueDate.After(today) {
			return ScheduleLate
		}
	}
	if s.TotalPaid() > 0 {
		return SchedulePartial
	}
	return ScheduleToPay
}

// ScheduleView is the per-student echeancier projection.
type ScheduleView struct {
	Schedule  Schedule      `json:"schedule"`
	Student   Student       `json:"student"`
	Lines     []TrancheLine `json:"lines"`
	Remaining int64         `json:"remaining"`
}
