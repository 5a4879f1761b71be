package models

import "time"

// ArrearsRow is the per-student arrears projection as of a date.
type ArrearsRow struct {
	StudentID           string `json:"student_id"`
	Matricule           string `json:"matricule"`
	FullName            string `json:"full_name"`
	ClassName           string `json:"class_name"`
	Exigible            int64  `json:"exigible"`
	PaidEffective       int64  `json:"paid_effective"`
	ApplicableDiscounts int64  `json:"applicable_discounts"`
	Arrears             int64  `json:"arrears"`
	DaysLate            int    `json:"days_late"`
}

// ArrearsFilter narrows the arrears list.
type ArrearsFilter struct {
	SchoolID   string
	ClassID    string
	SchoolYear string
	Search     string
	AsOf       time.Time
	Page       int
	PageSize   int
}

// PeriodAggregate is the per-school finance summary over a window. Valid
// payment amounts are split into inscription versus scolarité by the
// deterministic reclassification rule.
type PeriodAggregate struct {
	SchoolID        string    `json:"school_id"`
	SchoolName      string    `json:"school_name"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	NewEnrollments  int       `json:"new_enrollments"`
	PaymentCount    int       `json:"payment_count"`
	TotalAmount     int64     `json:"total_amount"`
	InscriptionPart int64     `json:"inscription_part"`
	ScolaritePart   int64     `json:"scolarite_part"`
	DiscountTotal   int64     `json:"discount_total"`
}

// ClassRollup summarises one class's billing position.
type ClassRollup struct {
	ClassID    string `json:"class_id"`
	ClassName  string `json:"class_name"`
	SchoolYear string `json:"school_year"`
	Effectif   int    `json:"effectif"`
	TotalDue   int64  `json:"total_due"`
	TotalPaid  int64  `json:"total_paid"`
	Discounts  int64  `json:"discounts"`
	Remaining  int64  `json:"remaining"`
}

// ArrearsComputation is the compute_arrears projection for one student.
type ArrearsComputation struct {
	StudentID           string    `json:"student_id"`
	AsOf                time.Time `json:"as_of"`
	Exigible            int64     `json:"exigible"`
	PaidEffective       int64     `json:"paid_effective"`
	ApplicableDiscounts int64     `json:"applicable_discounts"`
	Arrears             int64     `json:"arrears"`
	DaysLate            int       `json:"days_late"`
}

// Late reports whether the student owes exigible money as of the reference
// date.
func (a ArrearsComputation) Late() bool {
	return a.Arrears > 0
}
