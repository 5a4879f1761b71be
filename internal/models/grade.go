package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trimester tags evaluations within the school year.
type Trimester string

const (
	Trimester1 Trimester = "T1"
	Trimester2 Trimester = "T2"
	Trimester3 Trimester = "T3"
)

// Trimesters lists the three trimesters in order.
var Trimesters = []Trimester{Trimester1, Trimester2, Trimester3}

// Subject is taught in one class with a weighting coefficient (1..20).
// Unique (class, name).
type Subject struct {
	ID          string    `db:"id" json:"id"`
	SchoolID    string    `db:"school_id" json:"school_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	Name        string    `db:"name" json:"name"`
	Coefficient int       `db:"coefficient" json:"coefficient"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CoefficientBaseline overrides default subject coefficients when seeding a
// class. Most specific row wins: (school, year, series) down to the global
// any-year default.
type CoefficientBaseline struct {
	ID          string  `db:"id" json:"id"`
	SchoolID    *string `db:"school_id" json:"school_id,omitempty"`
	SchoolYear  *string `db:"school_year" json:"school_year,omitempty"`
	SeriesCode  string  `db:"series_code" json:"series_code"`
	SubjectName string  `db:"subject_name" json:"subject_name"`
	Coefficient int     `db:"coefficient" json:"coefficient"`
}

// Evaluation is a graded exercise within a subject and trimester, with its
// own coefficient (1..20).
type Evaluation struct {
	ID          string     `db:"id" json:"id"`
	SchoolID    string     `db:"school_id" json:"school_id"`
	ClassID     string     `db:"class_id" json:"class_id"`
	SubjectID   string     `db:"subject_id" json:"subject_id"`
	Title       string     `db:"title" json:"title"`
	Date        *time.Time `db:"date" json:"date,omitempty"`
	Trimester   Trimester  `db:"trimester" json:"trimester"`
	Coefficient int        `db:"coefficient" json:"coefficient"`
	SchoolYear  string     `db:"school_year" json:"school_year,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Mark is a student's result on one evaluation, 0.00 to 20.00 with at most
// two decimals. Unique (evaluation, student).
type Mark struct {
	ID           string          `db:"id" json:"id"`
	EvaluationID string          `db:"evaluation_id" json:"evaluation_id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	Value        decimal.Decimal `db:"value" json:"value"`
	Observation  *string         `db:"observation" json:"observation,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// AppreciationScheme maps averages to mention labels. A school-specific
// active scheme wins over the global one; a hardcoded fallback closes the
// chain.
type AppreciationScheme struct {
	ID        string    `db:"id" json:"id"`
	SchoolID  *string   `db:"school_id" json:"school_id,omitempty"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AppreciationThreshold is one step of a scheme. Unique (scheme, min_value).
type AppreciationThreshold struct {
	ID       string          `db:"id" json:"id"`
	SchemeID string          `db:"scheme_id" json:"scheme_id"`
	MinValue decimal.Decimal `db:"min_value" json:"min_value"`
	Label    string          `db:"label" json:"label"`
	Color    *string         `db:"color" json:"color,omitempty"`
	Order    int             `db:"display_order" json:"order"`
	Active   bool            `db:"active" json:"active"`
}

// ClassMarkRow is a mark joined with its evaluation context, the raw input
// of the averages engine.
type ClassMarkRow struct {
	StudentID       string          `db:"student_id" json:"student_id"`
	SubjectID       string          `db:"subject_id" json:"subject_id"`
	Trimester       Trimester       `db:"trimester" json:"trimester"`
	Value           decimal.Decimal `db:"value" json:"value"`
	EvalCoefficient int             `db:"eval_coefficient" json:"eval_coefficient"`
}

// SubjectAverage is the weighted per-subject average of one student.
type SubjectAverage struct {
	SubjectID   string          `json:"subject_id"`
	SubjectName string          `json:"subject_name"`
	Coefficient int             `json:"coefficient"`
	Average     decimal.Decimal `json:"average"`
	ClassAvg    decimal.Decimal `json:"class_average"`
}

// Bulletin is the trimestrial or annual projection for one student.
type Bulletin struct {
	Student        Student          `json:"student"`
	ClassID        string           `json:"class_id"`
	Trimester      *Trimester       `json:"trimester,omitempty"`
	Annual         bool             `json:"annual"`
	Subjects       []SubjectAverage `json:"subjects"`
	GeneralAverage *decimal.Decimal `json:"general_average,omitempty"`
	ClassAverage   *decimal.Decimal `json:"class_average,omitempty"`
	Rank           int              `json:"rank"`
	ClassSize      int              `json:"class_size"`
	Mention        string           `json:"mention"`
}

// RankingRow is one line of a class ranking.
type RankingRow struct {
	StudentID      string          `json:"student_id"`
	Matricule      string          `json:"matricule"`
	FullName       string          `json:"full_name"`
	GeneralAverage decimal.Decimal `json:"general_average"`
	Rank           int             `json:"rank"`
	Mention        string          `json:"mention"`
}
