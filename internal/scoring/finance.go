package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/credengine/internal/model"
)

// Fixed 50/30/20 allocation.
var (
	essentialsShare = decimal.RequireFromString("0.50")
	wantsShare      = decimal.RequireFromString("0.30")
	savingsShare    = decimal.RequireFromString("0.20")
)

const moneyPlaces = 2

// FinanceProfile derives the budget split, age and dependents of an applicant.
func FinanceProfile(a model.Applicant) model.FinanceMetrics {
	income := decimal.Zero
	if a.IncomeTotal.Valid {
		income = a.IncomeTotal.Decimal
	}

	return model.FinanceMetrics{
		ID:            a.ID,
		MonthlyIncome: income,
		Essentials:    income.Mul(essentialsShare).Round(moneyPlaces),
		Wants:         income.Mul(wantsShare).Round(moneyPlaces),
		Savings:       income.Mul(savingsShare).Round(moneyPlaces),
		Age:           ageYears(a.DaysBirth.Int64),
		Dependents:    int(a.Children.Int64),
	}
}
