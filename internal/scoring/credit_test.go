package scoring

import (
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/theirongolddev/credengine/internal/model"
)

func creditInput(income, expenses, emi int64, age int64, emp string) CreditInput {
	return CreditInput{
		MonthlyIncome:  decimal.NewFromInt(income),
		TotalExpenses:  decimal.NewFromInt(expenses),
		TotalEMI:       decimal.NewFromInt(emi),
		Age:            sql.NullInt64{Int64: age, Valid: true},
		EmploymentType: emp,
	}
}

func TestCreditScore_WorkedExample(t *testing.T) {
	r := CreditScore(creditInput(50000, 20000, 5000, 35, "Working"))

	assert.Equal(t, 845, r.Score)
	assert.Equal(t, model.BandLow, r.Band)
	assert.Equal(t, 0.1, r.DTI)
	assert.Equal(t, r.DTI, r.EMIBurden)
	assert.Equal(t, 0.5, r.SavingsRate)
	assert.Equal(t, "25000", r.ResidualSavings.String())
}

func TestCreditScore_ZeroIncome(t *testing.T) {
	for _, in := range []CreditInput{
		creditInput(0, 0, 0, 35, "Working"),
		creditInput(0, 1200, 300, 70, ""),
		creditInput(-500, 10, 20, 40, "manager"),
	} {
		r := CreditScore(in)
		assert.Equal(t, MinCreditScore, r.Score)
		assert.Equal(t, model.BandHigh, r.Band)
		assert.Zero(t, r.DTI)
		assert.Zero(t, r.EMIBurden)
		assert.Zero(t, r.SavingsRate)
		assert.True(t, r.ResidualSavings.Equal(in.TotalExpenses.Add(in.TotalEMI).Neg()))
	}
}

func TestCreditScore_Clamped(t *testing.T) {
	incomes := []int64{1, 100, 10_000, 1_000_000}
	for _, income := range incomes {
		for _, expenses := range []int64{0, income / 2, income * 3} {
			for _, emi := range []int64{0, income / 10, income, income * 5} {
				for _, age := range []int64{0, 18, 30, 80} {
					r := CreditScore(creditInput(income, expenses, emi, age, "office work"))
					assert.GreaterOrEqual(t, r.Score, MinCreditScore)
					assert.LessOrEqual(t, r.Score, MaxCreditScore)
				}
			}
		}
	}
}

func TestCreditScore_MonotonicInEMI(t *testing.T) {
	prev := MaxCreditScore + 1
	// dti from 0.00 to 0.80 in 0.05 steps crosses 0.20, 0.40 and 0.60.
	for emi := int64(0); emi <= 8000; emi += 500 {
		r := CreditScore(creditInput(10000, 0, emi, 30, "working"))
		assert.LessOrEqual(t, r.Score, prev, "emi %d", emi)
		prev = r.Score
	}
}

func TestCreditScore_DTIBrackets(t *testing.T) {
	// Expenses keep savings_rate neutral; age 61 (-10) and Manager (+10) cancel.
	tests := []struct {
		emi  int64
		want int
	}{
		{1999, 750 + 50},
		{2000, 750},
		{3999, 750},
		{4000, 750 - 50},
		{5999, 750 - 50},
		{6000, 750 - 100},
	}
	for _, tt := range tests {
		expenses := 10000 - tt.emi - 1000 // savings_rate = 0.10
		r := CreditScore(creditInput(10000, expenses, tt.emi, 61, "Manager"))
		assert.Equal(t, tt.want, r.Score, "emi %d", tt.emi)
	}
}

func TestCreditScore_SavingsAndAge(t *testing.T) {
	// savings_rate 0.04 -> -25, age absent -> -10, unknown employment -> 0
	in := CreditInput{
		MonthlyIncome: decimal.NewFromInt(10000),
		TotalExpenses: decimal.NewFromInt(9600),
	}
	r := CreditScore(in)
	assert.Equal(t, 750+50-25-10, r.Score)
	assert.Equal(t, model.BandLow, r.Band)
	assert.InDelta(t, 0.04, r.SavingsRate, 1e-12)
}

func TestCreditScore_EmploymentCaseInsensitive(t *testing.T) {
	base := CreditScore(creditInput(10000, 7000, 0, 30, "Pensioner")).Score
	for _, emp := range []string{"WORKING", "Commercial associate", "manager", "Office Work"} {
		assert.Equal(t, base+10, CreditScore(creditInput(10000, 7000, 0, 30, emp)).Score, emp)
	}
}

func TestCreditBand(t *testing.T) {
	assert.Equal(t, model.BandLow, CreditBand(850))
	assert.Equal(t, model.BandLow, CreditBand(750))
	assert.Equal(t, model.BandMedium, CreditBand(749))
	assert.Equal(t, model.BandMedium, CreditBand(650))
	assert.Equal(t, model.BandHigh, CreditBand(649))
	assert.Equal(t, model.BandHigh, CreditBand(300))
}
