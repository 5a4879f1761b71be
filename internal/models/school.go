package models

import "time"

// DueDateRule selects the per-school installment due-date convention.
type DueDateRule string

const (
	// DueDateConventionA: inscription/t1 at enrollment (or 30 September),
	// tranche 2 on 10 January, tranche 3 on 6 April.
	DueDateConventionA DueDateRule = "CONVENTION_A"
	// DueDateConventionB: tranche 2 on 5 January, tranche 3 on 5 March.
	DueDateConventionB DueDateRule = "CONVENTION_B"
)

// School is the root of a tenant. Every other entity is reachable from
// exactly one school.
type School struct {
	ID          string      `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Slug        string      `db:"slug" json:"slug"`
	Address     string      `db:"address" json:"address"`
	Phone       string      `db:"phone" json:"phone"`
	Email       string      `db:"email" json:"email"`
	DueDateRule DueDateRule `db:"due_date_rule" json:"due_date_rule"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// ClassLevel is the academic level of a class.
type ClassLevel string

const (
	LevelGarderie   ClassLevel = "GARDERIE"
	LevelMaternelle ClassLevel = "MATERNELLE"
	LevelPrimaire1  ClassLevel = "PRIMAIRE_1"
	LevelPrimaire2  ClassLevel = "PRIMAIRE_2"
	LevelPrimaire3  ClassLevel = "PRIMAIRE_3"
	LevelPrimaire4  ClassLevel = "PRIMAIRE_4"
	LevelPrimaire5  ClassLevel = "PRIMAIRE_5"
	LevelPrimaire6  ClassLevel = "PRIMAIRE_6"
	LevelCollege7   ClassLevel = "COLLEGE_7"
	LevelCollege8   ClassLevel = "COLLEGE_8"
	LevelCollege9   ClassLevel = "COLLEGE_9"
	LevelCollege10  ClassLevel = "COLLEGE_10"
	LevelLycee11    ClassLevel = "LYCEE_11"
	LevelLycee12    ClassLevel = "LYCEE_12"
	LevelTerminale  ClassLevel = "TERMINALE"
)

// Class groups students for one school year. Unique (school, name, year).
type Class struct {
	ID         string     `db:"id" json:"id"`
	SchoolID   string     `db:"school_id" json:"school_id"`
	Name       string     `db:"name" json:"name"`
	Level      ClassLevel `db:"level" json:"level"`
	SchoolYear string     `db:"school_year" json:"school_year"`
	Series     string     `db:"series" json:"series,omitempty"`
	Capacity   int        `db:"capacity" json:"capacity"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// TariffGrid holds the yearly amounts for a level. Unique (school, level, year).
// Amounts are integers in the local currency, no sub-units.
type TariffGrid struct {
	ID             string     `db:"id" json:"id"`
	SchoolID       string     `db:"school_id" json:"school_id"`
	Level          ClassLevel `db:"level" json:"level"`
	SchoolYear     string     `db:"school_year" json:"school_year"`
	InscriptionFee int64      `db:"inscription_fee" json:"inscription_fee"`
	Tranche1       int64      `db:"tranche_1" json:"tranche_1"`
	Tranche2       int64      `db:"tranche_2" json:"tranche_2"`
	Tranche3       int64      `db:"tranche_3" json:"tranche_3"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
