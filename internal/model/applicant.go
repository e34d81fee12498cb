// Package model defines domain types for applicant records, derived scores
// and the user ledger.
package model

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// Applicant is one row of the canonical applicant table. Every field except
// ID may be absent; absence is the Valid=false form of the field's type.
type Applicant struct {
	ID int64

	Gender      sql.NullString
	OwnCar      sql.NullString
	OwnRealty   sql.NullString
	Children    sql.NullInt64
	IncomeTotal decimal.NullDecimal

	IncomeType    sql.NullString
	EducationType sql.NullString
	FamilyStatus  sql.NullString
	HousingType   sql.NullString

	// DaysBirth is negative: days before the reference date.
	DaysBirth sql.NullInt64
	// DaysEmployed is negative while employed. The source data also uses a
	// large positive sentinel for applicants without current employment.
	DaysEmployed sql.NullInt64

	FlagMobil     sql.NullInt64
	FlagWorkPhone sql.NullInt64
	FlagPhone     sql.NullInt64
	FlagEmail     sql.NullInt64

	OccupationType sql.NullString
	FamilyMembers  sql.NullFloat64
}
