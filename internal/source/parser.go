package source

import (
	"database/sql"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/credengine/internal/model"
)

// absentTokens are the cell spellings read as a missing value. The set
// follows what common dataframe tooling writes for missing cells.
var absentTokens = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

// ParseFile reads one dataset file and converts every row into an Applicant.
// A missing required column fails the whole file before any row is parsed.
func ParseFile(df DiscoveredFile) (*ParseResult, error) {
	rows, err := readRows(df.Path)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{File: df}
	if len(rows) == 0 {
		return result, nil
	}

	idx, err := projection(df.Path, rows[0])
	if err != nil {
		return nil, err
	}

	cells := make([]string, len(Columns))
	for _, raw := range rows[1:] {
		if isBlankRow(raw) {
			continue
		}
		result.TotalRows++

		for i, p := range idx {
			if p < len(raw) {
				cells[i] = raw[p]
			} else {
				cells[i] = ""
			}
		}

		a, coerced, ok := ParseRow(cells)
		result.CoercedCells += coerced
		if !ok {
			result.SkippedRows++
			continue
		}
		result.Applicants = append(result.Applicants, a)
	}

	return result, nil
}

// ParseRow converts projected cells (ordered as Columns) into an Applicant.
// It returns the number of malformed cells stored as absent, and ok=false
// when the row has no usable ID.
func ParseRow(cells []string) (model.Applicant, int, bool) {
	p := rowParser{cells: cells}

	id := p.int(0)
	if !id.Valid {
		return model.Applicant{}, p.coerced, false
	}

	a := model.Applicant{
		ID:             id.Int64,
		Gender:         p.str(1),
		OwnCar:         p.str(2),
		OwnRealty:      p.str(3),
		Children:       p.int(4),
		IncomeTotal:    p.money(5),
		IncomeType:     p.str(6),
		EducationType:  p.str(7),
		FamilyStatus:   p.str(8),
		HousingType:    p.str(9),
		DaysBirth:      p.int(10),
		DaysEmployed:   p.int(11),
		FlagMobil:      p.int(12),
		FlagWorkPhone:  p.int(13),
		FlagPhone:      p.int(14),
		FlagEmail:      p.int(15),
		OccupationType: p.str(16),
		FamilyMembers:  p.float(17),
	}
	return a, p.coerced, true
}

type rowParser struct {
	cells   []string
	coerced int
}

// cell returns the trimmed value at i and whether it is present.
func (p *rowParser) cell(i int) (string, bool) {
	v := strings.TrimSpace(p.cells[i])
	if absentTokens[v] {
		return "", false
	}
	return v, true
}

func (p *rowParser) str(i int) sql.NullString {
	v, ok := p.cell(i)
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// int accepts plain integers and integral floats such as "2.0".
func (p *rowParser) int(i int) sql.NullInt64 {
	v, ok := p.cell(i)
	if !ok {
		return sql.NullInt64{}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f >= 1<<63 || f < -(1<<63) {
		p.coerced++
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(f), Valid: true}
}

func (p *rowParser) float(i int) sql.NullFloat64 {
	v, ok := p.cell(i)
	if !ok {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.coerced++
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func (p *rowParser) money(i int) decimal.NullDecimal {
	v, ok := p.cell(i)
	if !ok {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.coerced++
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func isBlankRow(raw []string) bool {
	for _, c := range raw {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
