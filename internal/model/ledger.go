package model

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// UserProfile is the declared profile of a registered user.
type UserProfile struct {
	ID             int64
	Email          string
	Age            sql.NullInt64
	MonthlyIncome  decimal.NullDecimal
	EmploymentType sql.NullString
}

// LedgerEntry is one dated income or expense entry.
type LedgerEntry struct {
	ID       int64
	UserID   int64
	Amount   decimal.Decimal
	Category string
	TxDate   time.Time
}

// Loan is an outstanding loan; only MonthlyEMI feeds the credit score.
type Loan struct {
	ID            int64
	UserID        int64
	Principal     decimal.NullDecimal
	MonthlyEMI    decimal.Decimal
	InterestRate  decimal.NullDecimal
	StartDate     time.Time
	BankName      string
	DueDay        sql.NullInt64
	PenaltyAmount decimal.Decimal
	OverdueDays   int
}

// LedgerTotals is the pre-aggregated input to the interactive credit score.
type LedgerTotals struct {
	UserID int64
	// MonthlyIncome is the declared income from the user profile.
	MonthlyIncome decimal.Decimal
	// MonthIncome sums income entries dated in the current calendar month.
	MonthIncome decimal.Decimal
	// MonthExpenses sums expense entries dated in the current calendar month.
	MonthExpenses decimal.Decimal
	// TotalEMI sums the monthly installment of every loan.
	TotalEMI       decimal.Decimal
	Age            sql.NullInt64
	EmploymentType string
}
