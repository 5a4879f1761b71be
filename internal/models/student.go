package models

import "time"

// StudentStatus tracks the enrollment lifecycle.
type StudentStatus string

const (
	StudentActive      StudentStatus = "ACTIVE"
	StudentTransferred StudentStatus = "TRANSFERRED"
	StudentGraduated   StudentStatus = "GRADUATED"
	StudentInactive    StudentStatus = "INACTIVE"
)

// Guardian is a parent or tutor; shared by any number of students.
type Guardian struct {
	ID             string    `db:"id" json:"id"`
	SchoolID       string    `db:"school_id" json:"school_id"`
	Name           string    `db:"name" json:"name"`
	Phone          string    `db:"phone" json:"phone"`
	SecondaryPhone string    `db:"secondary_phone" json:"secondary_phone,omitempty"`
	Email          string    `db:"email" json:"email,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Student is a learner. Matricule is unique across all schools.
type Student struct {
	ID                  string        `db:"id" json:"id"`
	SchoolID            string        `db:"school_id" json:"school_id"`
	Matricule           string        `db:"matricule" json:"matricule"`
	FirstName           string        `db:"first_name" json:"first_name"`
	LastName            string        `db:"last_name" json:"last_name"`
	Sex                 string        `db:"sex" json:"sex"`
	BirthDate           time.Time     `db:"birth_date" json:"birth_date"`
	ClassID             string        `db:"class_id" json:"class_id"`
	PrimaryGuardianID   string        `db:"primary_guardian_id" json:"primary_guardian_id"`
	SecondaryGuardianID *string       `db:"secondary_guardian_id" json:"secondary_guardian_id,omitempty"`
	PhotoRef            *string       `db:"photo_ref" json:"photo_ref,omitempty"`
	EnrollmentDate      time.Time     `db:"enrollment_date" json:"enrollment_date"`
	Status              StudentStatus `db:"status" json:"status"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// FullName renders the display name used on bulletins and reminders.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search   string
	SchoolID string
	ClassID  string
	Status   StudentStatus
	Page     int
	PageSize int
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination derives page counts from a total.
func NewPagination(page, pageSize, total int) *Pagination {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: pages}
}
