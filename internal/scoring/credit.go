package scoring

import (
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/credengine/internal/model"
)

const (
	MinCreditScore  = 300
	MaxCreditScore  = 850
	CreditScoreBase = 750
)

// stableEmployment is matched case-insensitively against the declared type.
var stableEmployment = map[string]struct{}{
	"working":              {},
	"commercial associate": {},
	"manager":              {},
	"office work":          {},
}

// CreditInput carries one user's aggregated monthly figures.
type CreditInput struct {
	MonthlyIncome  decimal.Decimal
	TotalExpenses  decimal.Decimal
	TotalEMI       decimal.Decimal
	Age            sql.NullInt64
	EmploymentType string
}

// CreditResult is the output of CreditScore. Ratios are unrounded.
type CreditResult struct {
	Score           int
	Band            model.Band
	DTI             float64
	EMIBurden       float64
	SavingsRate     float64
	ResidualSavings decimal.Decimal
}

// CreditScore computes the interactive credit score. A non-positive income
// short-circuits to the floor score with zero ratios.
func CreditScore(in CreditInput) CreditResult {
	if !in.MonthlyIncome.IsPositive() {
		return CreditResult{
			Score:           MinCreditScore,
			Band:            model.BandHigh,
			ResidualSavings: in.TotalExpenses.Add(in.TotalEMI).Neg(),
		}
	}

	savings := in.MonthlyIncome.Sub(in.TotalExpenses).Sub(in.TotalEMI)
	income := in.MonthlyIncome.InexactFloat64()
	dti := in.TotalEMI.InexactFloat64() / income
	savingsRate := savings.InexactFloat64() / income

	score := CreditScoreBase
	switch {
	case dti < 0.20:
		score += 50
	case dti < 0.40:
	case dti < 0.60:
		score -= 50
	default:
		score -= 100
	}

	switch {
	case savingsRate > 0.20:
		score += 25
	case savingsRate < 0.05:
		score -= 25
	}

	if age := in.Age.Int64; age >= 25 && age <= 60 {
		score += 10
	} else {
		score -= 10
	}

	if _, ok := stableEmployment[strings.ToLower(in.EmploymentType)]; ok {
		score += 10
	}

	score = max(MinCreditScore, min(MaxCreditScore, score))

	return CreditResult{
		Score:           score,
		Band:            CreditBand(score),
		DTI:             dti,
		EMIBurden:       dti,
		SavingsRate:     savingsRate,
		ResidualSavings: savings,
	}
}

// CreditBand maps a credit score to its band. Higher scores are safer.
func CreditBand(score int) model.Band {
	switch {
	case score >= 750:
		return model.BandLow
	case score >= 650:
		return model.BandMedium
	default:
		return model.BandHigh
	}
}
