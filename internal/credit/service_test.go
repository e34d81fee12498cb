package credit

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/store"
)

var march15 = time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)

func setup(t *testing.T) (*store.Store, *Service) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "credengine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, NewService(st, WithClock(func() time.Time { return march15 }))
}

func seedUser(t *testing.T, st *store.Store, income int64, age int64, employment string) int64 {
	t.Helper()
	u := model.UserProfile{
		Email:          employment + "@example.com",
		MonthlyIncome:  decimal.NewNullDecimal(decimal.NewFromInt(income)),
		EmploymentType: sql.NullString{String: employment, Valid: employment != ""},
	}
	if age > 0 {
		u.Age = sql.NullInt64{Int64: age, Valid: true}
	}
	id, err := st.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return id
}

func TestRefresh_WorkedExample(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 50000, 35, "Working")

	_, err := st.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(12000), TxDate: march15})
	require.NoError(t, err)
	_, err = st.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(8000), TxDate: march15.AddDate(0, 0, -10)})
	require.NoError(t, err)
	_, err = st.AddLoan(ctx, model.Loan{UserID: uid, MonthlyEMI: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	// Outside the current month: ignored.
	_, err = st.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(40000), TxDate: march15.AddDate(0, -1, 0)})
	require.NoError(t, err)

	res, err := svc.Refresh(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 845, res.Record.Score)
	assert.Equal(t, model.BandLow, res.Record.Band)
	assert.InDelta(t, 0.1, res.Record.DTI, 1e-12)
	assert.InDelta(t, 0.1, res.Record.EMIBurden, 1e-12)
	assert.InDelta(t, 0.5, res.Record.SavingsRate, 1e-12)
	assert.True(t, res.Record.ResidualSavings.Equal(decimal.NewFromInt(25000)))
	assert.True(t, res.DisplayIncome.Equal(decimal.NewFromInt(50000)))

	stored, err := st.GetCreditScore(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 845, stored.Score)
	assert.Equal(t, march15.Unix(), stored.UpdatedAt.Unix())
}

func TestRefresh_DisplayIncomeUsesLargerFigure(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 30000, 30, "Student")

	_, err := st.AddIncome(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(45000), TxDate: march15})
	require.NoError(t, err)

	res, err := svc.Refresh(ctx, uid)
	require.NoError(t, err)
	assert.True(t, res.DisplayIncome.Equal(decimal.NewFromInt(45000)))
	// The score still uses the declared income.
	assert.True(t, res.Totals.MonthlyIncome.Equal(decimal.NewFromInt(30000)))
	assert.InDelta(t, 1.0, res.Record.SavingsRate, 1e-12)
}

func TestRefresh_NoIncomeFloor(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 0, 0, "")

	_, err := st.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(100), TxDate: march15})
	require.NoError(t, err)

	res, err := svc.Refresh(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 300, res.Record.Score)
	assert.Equal(t, model.BandHigh, res.Record.Band)
	assert.Zero(t, res.Record.DTI)
	assert.True(t, res.Record.ResidualSavings.Equal(decimal.NewFromInt(-100)))
}

func TestRefresh_OverwritesSingleRow(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 50000, 35, "Working")

	first, err := svc.Refresh(ctx, uid)
	require.NoError(t, err)

	_, err = st.AddLoan(ctx, model.Loan{UserID: uid, MonthlyEMI: decimal.NewFromInt(35000)})
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, uid)
	require.NoError(t, err)
	assert.Less(t, second.Record.Score, first.Record.Score)

	n, err := st.CountCreditScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := st.GetCreditScore(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, second.Record.Score, stored.Score)
}

func TestRefresh_ConcurrentCallsLeaveOneRow(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 50000, 35, "Working")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, uid)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := st.CountCreditScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefresh_UnknownUser(t *testing.T) {
	_, svc := setup(t)

	_, err := svc.Refresh(context.Background(), 4242)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.NotErrorIs(t, err, ErrNotPersisted)
}

func TestRefresh_UpsertFailureStillReturnsScore(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 50000, 35, "Working")

	_, err := st.DB().Exec(`CREATE TRIGGER reject_scores BEFORE INSERT ON interactive_credit_scores
		BEGIN SELECT RAISE(ABORT, 'read only'); END`)
	require.NoError(t, err)

	res, err := svc.Refresh(ctx, uid)
	require.ErrorIs(t, err, ErrNotPersisted)
	assert.Equal(t, uid, res.Record.UserID)
	assert.Equal(t, 845, res.Record.Score)

	_, err = st.GetCreditScore(ctx, uid)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefresh_FractionalAmountsAreExact(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 1000, 35, "Working")

	for _, amt := range []string{"0.10", "0.20"} {
		_, err := st.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.RequireFromString(amt), TxDate: march15})
		require.NoError(t, err)
	}

	res, err := svc.Refresh(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "0.3", res.Totals.MonthExpenses.String())
	assert.Equal(t, "999.7", res.Record.ResidualSavings.String())

	stored, err := st.GetCreditScore(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "999.7", stored.ResidualSavings.String())
}

func TestRefresh_SharedCallSurvivesFirstCallerCancel(t *testing.T) {
	st, svc := setup(t)
	ctx := context.Background()
	uid := seedUser(t, st, 50000, 35, "Working")

	// Hold the write lock so the first refresh parks in its upsert.
	lock, err := st.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = lock.Exec(`INSERT INTO users (email) VALUES ('lock@example.com')`)
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(firstCtx, uid)
		firstErr <- err
	}()
	time.Sleep(100 * time.Millisecond)

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := svc.Refresh(ctx, uid)
		second <- outcome{res, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	require.NoError(t, lock.Rollback())

	select {
	case out := <-second:
		require.NoError(t, out.err)
		assert.Equal(t, 845, out.res.Record.Score)
	case <-time.After(15 * time.Second):
		t.Fatal("second caller did not finish")
	}

	stored, err := st.GetCreditScore(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 845, stored.Score)
}
