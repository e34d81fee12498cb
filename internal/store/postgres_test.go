package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/theirongolddev/credengine/internal/model"
)

// setupPostgres starts a throwaway PostgreSQL container. Docker is needed,
// so these tests only run with CREDENGINE_PG_TESTS=1.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("CREDENGINE_PG_TESTS") != "1" {
		t.Skip("set CREDENGINE_PG_TESTS=1 to run PostgreSQL tests")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("credengine_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{
			"test":      "credengine-store",
			"test-name": t.Name(),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.Equal(t, Postgres, s.Dialect())
	return s
}

func TestPostgres_ApplicantsAndScores(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	upsert(t, s, applicant(1, "150000.50"), applicant(2, "90000"), applicant(1, "160000"))

	a, err := s.GetApplicant(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.IncomeTotal.Decimal.Equal(decimal.NewFromInt(160000)))

	require.NoError(t, s.WithTransaction(ctx, func(tx *sql.Tx) error {
		return s.UpsertRiskScores(ctx, tx, []model.RiskScore{
			{ID: 1, Score: 60, Band: model.BandMedium},
			{ID: 2, Score: 70, Band: model.BandHigh},
		})
	}))

	stats, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Applicants)
	assert.Equal(t, 1, stats.BandCounts[model.BandHigh])
	assert.InDelta(t, 65.0, stats.AvgRiskScore, 1e-9)

	st, err := s.MigrateStatus()
	require.NoError(t, err)
	assert.Equal(t, st.Latest, st.Version)
}

func TestPostgres_LedgerAndCreditScore(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	uid, err := s.CreateUser(ctx, model.UserProfile{
		Email:         "pg@example.com",
		MonthlyIncome: decimal.NewNullDecimal(decimal.NewFromInt(50000)),
	})
	require.NoError(t, err)

	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	_, err = s.AddIncome(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(1200), TxDate: now})
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.RequireFromString("20000.75"), TxDate: now})
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(5), TxDate: now.AddDate(0, -1, 0)})
	require.NoError(t, err)
	_, err = s.AddLoan(ctx, model.Loan{UserID: uid, MonthlyEMI: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	totals, err := s.LedgerTotals(ctx, uid, now)
	require.NoError(t, err)
	assert.True(t, totals.MonthIncome.Equal(decimal.NewFromInt(1200)))
	assert.True(t, totals.MonthExpenses.Equal(decimal.RequireFromString("20000.75")))
	assert.True(t, totals.TotalEMI.Equal(decimal.NewFromInt(5000)))

	rec := model.CreditScoreRecord{UserID: uid, Score: 845, Band: model.BandLow, DTI: 0.1, EMIBurden: 0.1,
		SavingsRate: 0.5, ResidualSavings: decimal.NewFromInt(25000)}
	require.NoError(t, s.UpsertCreditScore(ctx, rec))
	require.NoError(t, s.UpsertCreditScore(ctx, rec))

	n, err := s.CountCreditScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
