package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/credengine/internal/credit"
	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/source"
	"github.com/theirongolddev/credengine/internal/store"
)

func newTestService(t *testing.T, cfg Config) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "credengine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(cfg, st, credit.NewService(st), nil), st
}

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application_record.csv")
	lines := []string{
		strings.Join(source.Columns, ","),
		"5008804,M,Y,Y,2,150000,Working,Higher education,Married,House / apartment,-10950,-200,1,0,0,0,,2.0",
		"5008805,F,N,Y,0,300000,Pensioner,Secondary,Widow,House / apartment,-22000,365243,1,0,0,0,,1.0",
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{EventsBuffer: 2}, nil, nil, nil)

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	require.Len(t, s.events, 2)
	assert.Equal(t, int64(2), s.events[0].ID)
	assert.Equal(t, int64(3), s.events[1].ID)
}

func TestHealthAndMethods(t *testing.T) {
	s, _ := newTestService(t, Config{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/runs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/users/abc/credit-score")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreditScoreEndpoint(t *testing.T) {
	s, st := newTestService(t, Config{})
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, model.UserProfile{
		Email:          "dash@example.com",
		Age:            sql.NullInt64{Int64: 35, Valid: true},
		MonthlyIncome:  decimal.NewNullDecimal(decimal.NewFromInt(50000)),
		EmploymentType: sql.NullString{String: "Working", Valid: true},
	})
	require.NoError(t, err)
	_, err = st.AddExpense(ctx, model.LedgerEntry{UserID: uid, Amount: decimal.NewFromInt(20000), TxDate: time.Now()})
	require.NoError(t, err)
	_, err = st.AddLoan(ctx, model.Loan{UserID: uid, MonthlyEMI: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodGet, "/v1/users/"+itoa(uid)+"/credit-score")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CreditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uid, resp.UserID)
	assert.Equal(t, 845, resp.Score)
	assert.Equal(t, model.BandLow, resp.Band)
	assert.True(t, resp.TotalEMI.Equal(decimal.NewFromInt(5000)))
	assert.Empty(t, resp.PersistError)

	s.mu.RLock()
	require.Len(t, s.events, 1)
	ev := s.events[0]
	s.mu.RUnlock()
	assert.Equal(t, EventCreditScore, ev.Type)
	require.NotNil(t, ev.Credit)
	assert.True(t, ev.Credit.Persisted)

	rec = do(t, s.Handler(), http.MethodGet, "/v1/users/99999/credit-score")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreditScoreEndpoint_PersistFailure(t *testing.T) {
	s, st := newTestService(t, Config{})
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, model.UserProfile{
		Email:         "ro@example.com",
		MonthlyIncome: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
	})
	require.NoError(t, err)
	_, err = st.DB().Exec(`CREATE TRIGGER reject_scores BEFORE INSERT ON interactive_credit_scores
		BEGIN SELECT RAISE(ABORT, 'read only'); END`)
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodGet, "/v1/users/"+itoa(uid)+"/credit-score")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CreditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.PersistError)
	assert.Equal(t, uid, resp.UserID)
}

func TestTriggerRun(t *testing.T) {
	s, _ := newTestService(t, Config{Dataset: writeDataset(t)})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/runs")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["run_id"])

	require.Eventually(t, func() bool {
		return s.snapshotStatus().RunCount == 1
	}, 10*time.Second, 20*time.Millisecond)
	s.runs.Wait()

	st := s.snapshotStatus()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, body["run_id"], st.LastRun.RunID)
	assert.Equal(t, TriggerAPI, st.LastRun.Trigger)
	assert.Equal(t, 2, st.LastRun.Loaded)
	assert.Equal(t, 2, st.LastRun.Risk)
	assert.Equal(t, 2, st.LastRun.Finance)
	assert.Empty(t, st.LastError)
	assert.Equal(t, 2, st.Summary.RiskScores)
	assert.Equal(t, 1, st.Summary.BandCounts[model.BandHigh])

	rec = do(t, h, http.MethodGet, "/v1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, EventPipelineRun, events[0].Type)
}

func TestTriggerRun_ConflictWhileRunning(t *testing.T) {
	s, _ := newTestService(t, Config{})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	rec := do(t, s.Handler(), http.MethodPost, "/v1/runs")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A scheduled tick is skipped rather than queued.
	s.RunBulk(context.Background(), TriggerSchedule)
	assert.Zero(t, s.snapshotStatus().RunCount)
}

func TestRunBulk_RecordsFailure(t *testing.T) {
	s, _ := newTestService(t, Config{Dataset: filepath.Join(t.TempDir(), "missing.csv")})

	s.RunBulk(context.Background(), TriggerSchedule)

	st := s.snapshotStatus()
	assert.Equal(t, int64(1), st.RunCount)
	assert.NotEmpty(t, st.LastError)
	assert.False(t, st.Running)
}

func TestRun_InvalidSchedule(t *testing.T) {
	s, _ := newTestService(t, Config{Schedule: "every now and then", Addr: "127.0.0.1:0"})

	err := s.Run(context.Background())
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	s, _ := newTestService(t, Config{Schedule: "@daily", Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.snapshotStatus().NextRunAt != nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestRiskScoresPagingAndApplicantScores(t *testing.T) {
	s, _ := newTestService(t, Config{Dataset: writeDataset(t)})
	s.RunBulk(context.Background(), TriggerAPI)
	require.Empty(t, s.snapshotStatus().LastError)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/risk-scores?limit=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page RiskScorePage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(5008804), page.Items[0].ID)
	require.NotNil(t, page.NextAfter)

	rec = do(t, h, http.MethodGet, "/v1/risk-scores?limit=1&after="+itoa(*page.NextAfter))
	require.Equal(t, http.StatusOK, rec.Code)
	page = RiskScorePage{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(5008805), page.Items[0].ID)
	assert.Equal(t, model.BandHigh, page.Items[0].Band)

	rec = do(t, h, http.MethodGet, "/v1/risk-scores?after=5008805")
	require.Equal(t, http.StatusOK, rec.Code)
	page = RiskScorePage{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextAfter)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/risk-scores?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/risk-scores?after=x").Code)

	rec = do(t, h, http.MethodGet, "/v1/applicants/5008805/scores")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var scores ApplicantScores
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scores))
	require.NotNil(t, scores.Risk)
	require.NotNil(t, scores.Finance)
	assert.Equal(t, model.BandHigh, scores.Risk.Band)
	assert.True(t, scores.Finance.MonthlyIncome.Equal(decimal.NewFromInt(300000)), scores.Finance.MonthlyIncome.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/applicants/1/scores").Code)
}
