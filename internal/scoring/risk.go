package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/credengine/internal/model"
)

// RiskBase is the starting point of the additive risk score.
const RiskBase = 40

var (
	lowIncomeCeiling = decimal.NewFromInt(120_000)
	midIncomeCeiling = decimal.NewFromInt(240_000)
)

// ScoreRisk computes the additive default-risk score for one applicant.
// Absent numeric fields read as zero.
func ScoreRisk(a model.Applicant) (int, model.Band) {
	income := decimal.Zero
	if a.IncomeTotal.Valid {
		income = a.IncomeTotal.Decimal
	}

	score := RiskBase
	switch {
	case income.LessThan(lowIncomeCeiling):
		score += 20
	case income.LessThan(midIncomeCeiling):
		score += 10
	}

	switch children := a.Children.Int64; {
	case children >= 2:
		score += 10
	case children == 1:
		score += 5
	}

	if age := ageYears(a.DaysBirth.Int64); age < 25 || age > 60 {
		score += 10
	}

	// The not-employed sentinel has a large magnitude and so never trips this.
	employed := a.DaysEmployed.Int64
	if employed < 0 {
		employed = -employed
	}
	if employed < daysPerYear {
		score += 10
	}

	return score, RiskBand(score)
}

// RiskBand maps a risk score to its band. Higher scores are riskier.
func RiskBand(score int) model.Band {
	switch {
	case score > 60:
		return model.BandHigh
	case score > 45:
		return model.BandMedium
	default:
		return model.BandLow
	}
}
