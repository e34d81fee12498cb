package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Band is a categorical label derived from a numeric score.
//
// The two engines read bands in opposite directions. For RiskScore a higher
// score means more risk and lands in BandHigh. For CreditScoreRecord a
// higher score means a healthier profile and lands in BandLow. Both
// conventions are part of the stored contract.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Bands lists every band in ascending order.
var Bands = []Band{BandLow, BandMedium, BandHigh}

// RiskScore is the derived risk row for one applicant.
type RiskScore struct {
	ID    int64
	Score int
	Band  Band
}

// FinanceMetrics is the derived 50/30/20 budget profile for one applicant.
type FinanceMetrics struct {
	ID            int64
	MonthlyIncome decimal.Decimal
	Essentials    decimal.Decimal
	Wants         decimal.Decimal
	Savings       decimal.Decimal
	Age           int
	Dependents    int
}

// CreditScoreRecord is the single interactive credit score row kept per user.
type CreditScoreRecord struct {
	UserID          int64           `json:"user_id"`
	Score           int             `json:"score"`
	Band            Band            `json:"band"`
	DTI             float64         `json:"dti"`
	EMIBurden       float64         `json:"emi_burden"`
	SavingsRate     float64         `json:"savings_rate"`
	ResidualSavings decimal.Decimal `json:"residual_savings"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SummaryStats holds the read-back aggregate over the derived tables.
type SummaryStats struct {
	Applicants    int
	RiskScores    int
	FinanceRows   int
	BandCounts    map[Band]int
	AvgRiskScore  float64
	AvgIncome     decimal.Decimal
	AvgEssentials decimal.Decimal
	AvgWants      decimal.Decimal
	AvgSavings    decimal.Decimal
	AvgAge        float64
	AvgDependents float64
}

// BandShare returns the fraction of scored applicants in band b.
func (s SummaryStats) BandShare(b Band) float64 {
	if s.RiskScores == 0 {
		return 0
	}
	return float64(s.BandCounts[b]) / float64(s.RiskScores)
}
