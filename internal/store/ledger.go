package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/credengine/internal/model"
)

const defaultCategory = "Other"

// CreateUser inserts a user profile and returns its id.
func (s *Store) CreateUser(ctx context.Context, u model.UserProfile) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO users (email, age, monthly_income, employment_type)
		VALUES (?, ?, ?, ?) RETURNING id`),
		u.Email, u.Age, u.MonthlyIncome, u.EmploymentType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating user %q: %w", u.Email, err)
	}
	return id, nil
}

// UpdateUserProfile overwrites the declared profile fields of a user.
func (s *Store) UpdateUserProfile(ctx context.Context, u model.UserProfile) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET age = ?, monthly_income = ?, employment_type = ?
		WHERE id = ?`), u.Age, u.MonthlyIncome, u.EmploymentType, u.ID)
	if err != nil {
		return fmt.Errorf("updating user %d: %w", u.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating user %d: %w", u.ID, ErrUserNotFound)
	}
	return nil
}

// GetUser returns a user profile by id.
func (s *Store) GetUser(ctx context.Context, id int64) (model.UserProfile, error) {
	u, err := getUser(ctx, s.db, s.q(selectUserSQL), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserProfile{}, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	return u, err
}

const selectUserSQL = `SELECT id, email, age, monthly_income, employment_type FROM users WHERE id = ?`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, db queryRower, query string, id int64) (model.UserProfile, error) {
	var u model.UserProfile
	err := db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Email, &u.Age, &u.MonthlyIncome, &u.EmploymentType)
	return u, err
}

// AddIncome records an income entry.
func (s *Store) AddIncome(ctx context.Context, e model.LedgerEntry) (int64, error) {
	return s.addEntry(ctx, "income", e)
}

// AddExpense records an expense entry.
func (s *Store) AddExpense(ctx context.Context, e model.LedgerEntry) (int64, error) {
	return s.addEntry(ctx, "expenses", e)
}

func (s *Store) addEntry(ctx context.Context, table string, e model.LedgerEntry) (int64, error) {
	category := e.Category
	if category == "" {
		category = defaultCategory
	}
	txDate := e.TxDate
	if txDate.IsZero() {
		txDate = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO `+table+` (user_id, amount, category, tx_date)
		VALUES (?, ?, ?, ?) RETURNING id`),
		e.UserID, e.Amount, category, s.dateArg(txDate),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding %s entry for user %d: %w", table, e.UserID, err)
	}
	return id, nil
}

// AddLoan records a loan.
func (s *Store) AddLoan(ctx context.Context, l model.Loan) (int64, error) {
	var start any
	if !l.StartDate.IsZero() {
		start = s.dateArg(l.StartDate)
	}
	var bank sql.NullString
	if l.BankName != "" {
		bank = sql.NullString{String: l.BankName, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO loans
		(user_id, principal, monthly_emi, interest_rate, start_date, bank_name, due_day, penalty_amount, overdue_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		l.UserID, l.Principal, l.MonthlyEMI, l.InterestRate, start, bank, l.DueDay, l.PenaltyAmount, l.OverdueDays,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding loan for user %d: %w", l.UserID, err)
	}
	return id, nil
}

// MonthBounds returns the first day of the calendar month containing t and
// the first day of the following month, both in UTC.
func MonthBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// LedgerTotals aggregates a user's ledger for the calendar month containing
// month: income and expenses dated in that month, and the installment of
// every loan. All reads happen in one transaction.
func (s *Store) LedgerTotals(ctx context.Context, userID int64, month time.Time) (model.LedgerTotals, error) {
	start, end := MonthBounds(month)
	totals := model.LedgerTotals{UserID: userID}

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, s.q(selectUserSQL), userID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading user %d: %w", userID, err)
		}
		totals.Age = u.Age
		totals.EmploymentType = u.EmploymentType.String
		if u.MonthlyIncome.Valid {
			totals.MonthlyIncome = u.MonthlyIncome.Decimal
		}

		sums := []struct {
			dst   *decimal.Decimal
			query string
			args  []any
		}{
			{&totals.MonthIncome,
				`SELECT amount FROM income WHERE user_id = ? AND tx_date >= ? AND tx_date < ?`,
				[]any{userID, s.dateArg(start), s.dateArg(end)}},
			{&totals.MonthExpenses,
				`SELECT amount FROM expenses WHERE user_id = ? AND tx_date >= ? AND tx_date < ?`,
				[]any{userID, s.dateArg(start), s.dateArg(end)}},
			{&totals.TotalEMI,
				`SELECT monthly_emi FROM loans WHERE user_id = ?`,
				[]any{userID}},
		}
		for _, sum := range sums {
			total, err := sumDecimals(ctx, tx, s.q(sum.query), sum.args...)
			if err != nil {
				return fmt.Errorf("aggregating ledger for user %d: %w", userID, err)
			}
			*sum.dst = total
		}
		return nil
	})
	if err != nil {
		return model.LedgerTotals{}, err
	}
	return totals, nil
}

// sumDecimals adds up the single decimal column returned by query. The sum
// is taken in Go because SQL SUM over SQLite text or real values yields a
// float.
func sumDecimals(ctx context.Context, tx *sql.Tx, query string, args ...any) (decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = rows.Close() }()

	var vals []decimal.Decimal
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return decimal.Zero, err
		}
		vals = append(vals, d)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, vals...), nil
}
