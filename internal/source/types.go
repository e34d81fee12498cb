package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/credengine/internal/model"
)

// Column headers of the applicant dataset, in projection order.
const (
	ColID            = "ID"
	ColGender        = "CODE_GENDER"
	ColOwnCar        = "FLAG_OWN_CAR"
	ColOwnRealty     = "FLAG_OWN_REALTY"
	ColChildren      = "CNT_CHILDREN"
	ColIncomeTotal   = "AMT_INCOME_TOTAL"
	ColIncomeType    = "NAME_INCOME_TYPE"
	ColEducationType = "NAME_EDUCATION_TYPE"
	ColFamilyStatus  = "NAME_FAMILY_STATUS"
	ColHousingType   = "NAME_HOUSING_TYPE"
	ColDaysBirth     = "DAYS_BIRTH"
	ColDaysEmployed  = "DAYS_EMPLOYED"
	ColFlagMobil     = "FLAG_MOBIL"
	ColFlagWorkPhone = "FLAG_WORK_PHONE"
	ColFlagPhone     = "FLAG_PHONE"
	ColFlagEmail     = "FLAG_EMAIL"
	ColOccupation    = "OCCUPATION_TYPE"
	ColFamilyMembers = "CNT_FAM_MEMBERS"
)

// Columns is the fixed projection every dataset must provide.
var Columns = []string{
	ColID, ColGender, ColOwnCar, ColOwnRealty, ColChildren, ColIncomeTotal,
	ColIncomeType, ColEducationType, ColFamilyStatus, ColHousingType,
	ColDaysBirth, ColDaysEmployed, ColFlagMobil, ColFlagWorkPhone,
	ColFlagPhone, ColFlagEmail, ColOccupation, ColFamilyMembers,
}

// SchemaError reports dataset columns that are required but missing.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing columns %s", e.Path, strings.Join(e.Missing, ", "))
}

// DiscoveredFile is a dataset file found on disk.
type DiscoveredFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ParseResult holds the applicants read from one dataset file.
type ParseResult struct {
	File       DiscoveredFile
	Applicants []model.Applicant
	// TotalRows counts data rows, excluding the header.
	TotalRows int
	// SkippedRows counts rows without a usable ID.
	SkippedRows int
	// CoercedCells counts malformed values stored as absent.
	CoercedCells int
}
