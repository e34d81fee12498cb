// Package daemon provides the long-running scoring service: the HTTP API
// for per-user credit scores, scheduled bulk runs and an event stream.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/theirongolddev/credengine/internal/credit"
	"github.com/theirongolddev/credengine/internal/logging"
	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/pipeline"
	"github.com/theirongolddev/credengine/internal/store"
)

// Event types.
const (
	EventPipelineRun = "pipeline_run"
	EventCreditScore = "credit_score"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// Config controls the daemon runtime behavior.
type Config struct {
	Addr string
	// Schedule is a cron spec for bulk runs; empty disables scheduling.
	Schedule string
	Location *time.Location
	// Dataset is loaded at the start of every bulk run when set.
	Dataset      string
	BatchSize    int
	EventsBuffer int
}

// RunSummary describes one bulk run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Loaded     int       `json:"loaded"`
	Risk       int       `json:"risk"`
	Finance    int       `json:"finance"`
	Error      string    `json:"error,omitempty"`
}

// CreditSummary describes one credit score refresh.
type CreditSummary struct {
	UserID    int64      `json:"user_id"`
	Score     int        `json:"score"`
	Band      model.Band `json:"band"`
	Persisted bool       `json:"persisted"`
}

// Event is emitted after every bulk run and credit refresh.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Run       *RunSummary    `json:"run,omitempty"`
	Credit    *CreditSummary `json:"credit,omitempty"`
}

// Snapshot is the derived-table state after the last successful run.
type Snapshot struct {
	At           time.Time          `json:"at"`
	Applicants   int                `json:"applicants"`
	RiskScores   int                `json:"risk_scores"`
	FinanceRows  int                `json:"finance_rows"`
	BandCounts   map[model.Band]int `json:"band_counts"`
	AvgRiskScore float64            `json:"avg_risk_score"`
	AvgIncome    decimal.Decimal    `json:"avg_income"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time   `json:"started_at"`
	Schedule        string      `json:"schedule,omitempty"`
	NextRunAt       *time.Time  `json:"next_run_at,omitempty"`
	Running         bool        `json:"running"`
	RunCount        int64       `json:"run_count"`
	LastRun         *RunSummary `json:"last_run,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
	Summary         Snapshot    `json:"summary"`
	EventCount      int         `json:"event_count"`
	SubscriberCount int         `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg    Config
	store  *store.Store
	credit *credit.Service
	log    logrus.FieldLogger

	// runCtx bounds bulk runs started from HTTP; replaced by Run.
	runCtx context.Context
	runs   sync.WaitGroup

	mu          sync.RWMutex
	startedAt   time.Time
	running     bool
	runCount    int64
	lastRun     *RunSummary
	lastError   string
	snapshot    Snapshot
	nextRunAt   time.Time
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service with the provided config.
func New(cfg Config, st *store.Store, cs *credit.Service, log logrus.FieldLogger) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = logging.Discard()
	}

	return &Service{
		cfg:       cfg,
		store:     st,
		credit:    cs,
		log:       log,
		runCtx:    context.Background(),
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{id:[0-9]+}/credit-score", s.handleCreditScore).Methods(http.MethodGet)
	r.HandleFunc("/v1/risk-scores", s.handleRiskScores).Methods(http.MethodGet)
	r.HandleFunc("/v1/applicants/{id:[0-9]+}/scores", s.handleApplicantScores).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs", s.handleTriggerRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

// Run serves the HTTP API and runs scheduled bulk runs until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.runCtx = ctx

	var sched *cron.Cron
	if s.cfg.Schedule != "" {
		sched = cron.New(cron.WithLocation(s.cfg.Location))
		id, err := sched.AddFunc(s.cfg.Schedule, func() {
			s.updateNextRun(sched)
			s.RunBulk(ctx, TriggerSchedule)
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", s.cfg.Schedule, err)
		}
		sched.Start()
		s.mu.Lock()
		s.nextRunAt = sched.Entry(id).Next
		s.mu.Unlock()
	}

	s.refreshSnapshot(ctx)

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("daemon http server: %w", err)
	}

	if sched != nil {
		<-sched.Stop().Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	s.runs.Wait()
	return runErr
}

func (s *Service) updateNextRun(sched *cron.Cron) {
	entries := sched.Entries()
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	s.nextRunAt = entries[0].Next
	s.mu.Unlock()
}

// StartBulk launches a bulk run in the background. It returns false when a
// run is already in progress.
func (s *Service) StartBulk(trigger string) (string, bool) {
	runID, ok := s.claimRun()
	if !ok {
		return "", false
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.execute(s.runCtx, runID, trigger)
	}()
	return runID, true
}

// RunBulk runs a bulk run synchronously, skipping it when another run is
// in progress.
func (s *Service) RunBulk(ctx context.Context, trigger string) {
	runID, ok := s.claimRun()
	if !ok {
		s.log.WithField("trigger", trigger).Warn("bulk run already in progress, skipping")
		return
	}
	s.runs.Add(1)
	defer s.runs.Done()
	s.execute(ctx, runID, trigger)
}

func (s *Service) claimRun() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", false
	}
	s.running = true
	return uuid.NewString(), true
}

func (s *Service) execute(ctx context.Context, runID, trigger string) {
	log := s.log.WithFields(logrus.Fields{"run_id": runID, "trigger": trigger})
	log.Info("bulk run started")

	summary := RunSummary{RunID: runID, Trigger: trigger, StartedAt: time.Now()}
	report, err := pipeline.Run(ctx, s.store, pipeline.RunConfig{
		Dataset:   s.cfg.Dataset,
		BatchSize: s.cfg.BatchSize,
		Log:       log,
	})
	summary.DurationMs = time.Since(summary.StartedAt).Milliseconds()
	if report != nil {
		if report.Load != nil {
			summary.Loaded = report.Load.Rows
		}
		if report.Risk != nil {
			summary.Risk = report.Risk.Rows
		}
		if report.Finance != nil {
			summary.Finance = report.Finance.Rows
		}
	}
	if err != nil {
		summary.Error = err.Error()
		log.WithError(err).Error("bulk run failed")
	} else {
		log.WithField("duration_ms", summary.DurationMs).Info("bulk run finished")
		s.refreshSnapshot(ctx)
	}

	s.mu.Lock()
	s.running = false
	s.runCount++
	s.lastRun = &summary
	s.lastError = summary.Error
	s.mu.Unlock()

	s.publish(Event{Type: EventPipelineRun, Timestamp: time.Now(), Run: &summary})
}

func (s *Service) refreshSnapshot(ctx context.Context) {
	stats, err := pipeline.Summarize(ctx, s.store)
	if err != nil {
		s.log.WithError(err).Warn("reading summary")
		return
	}
	snap := Snapshot{
		At:           time.Now(),
		Applicants:   stats.Applicants,
		RiskScores:   stats.RiskScores,
		FinanceRows:  stats.FinanceRows,
		BandCounts:   stats.BandCounts,
		AvgRiskScore: stats.AvgRiskScore,
		AvgIncome:    stats.AvgIncome,
	}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// publish assigns the next event id and appends ev to the ring buffer.
func (s *Service) publish(ev Event) {
	s.mu.Lock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.mu.Unlock()
	s.publishEvent(ev)
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		StartedAt:       s.startedAt,
		Schedule:        s.cfg.Schedule,
		Running:         s.running,
		RunCount:        s.runCount,
		LastRun:         s.lastRun,
		LastError:       s.lastError,
		Summary:         s.snapshot,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
	if !s.nextRunAt.IsZero() {
		next := s.nextRunAt
		st.NextRunAt = &next
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus())
}

// CreditResponse is served at /v1/users/{id}/credit-score.
type CreditResponse struct {
	model.CreditScoreRecord
	DisplayIncome decimal.Decimal `json:"display_income"`
	MonthIncome   decimal.Decimal `json:"month_income"`
	MonthExpenses decimal.Decimal `json:"month_expenses"`
	TotalEMI      decimal.Decimal `json:"total_emi"`
	PersistError  string          `json:"persist_error,omitempty"`
}

func (s *Service) handleCreditScore(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	res, err := s.credit.Refresh(r.Context(), userID)
	persisted := err == nil
	switch {
	case err == nil:
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, credit.ErrNotPersisted):
		s.log.WithError(err).WithField("user_id", userID).Warn("serving unpersisted credit score")
	default:
		s.log.WithError(err).WithField("user_id", userID).Error("credit refresh failed")
		writeError(w, http.StatusInternalServerError, "credit refresh failed")
		return
	}

	resp := CreditResponse{
		CreditScoreRecord: res.Record,
		DisplayIncome:     res.DisplayIncome,
		MonthIncome:       res.Totals.MonthIncome,
		MonthExpenses:     res.Totals.MonthExpenses,
		TotalEMI:          res.Totals.TotalEMI,
	}
	if !persisted {
		resp.PersistError = err.Error()
	}

	s.publish(Event{
		Type:      EventCreditScore,
		Timestamp: time.Now(),
		Credit: &CreditSummary{
			UserID:    userID,
			Score:     res.Record.Score,
			Band:      res.Record.Band,
			Persisted: persisted,
		},
	})
	writeJSON(w, http.StatusOK, resp)
}

// Risk score paging limits.
const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// RiskScoreItem is one row of the risk score listing.
type RiskScoreItem struct {
	ID    int64      `json:"id"`
	Score int        `json:"risk_score"`
	Band  model.Band `json:"risk_band"`
}

// RiskScorePage is served at /v1/risk-scores. Pass NextAfter as ?after= to
// fetch the following page; it is omitted on the last page.
type RiskScorePage struct {
	Items     []RiskScoreItem `json:"items"`
	NextAfter *int64          `json:"next_after,omitempty"`
}

func (s *Service) handleRiskScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := queryInt(q.Get("after"), 0)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, "invalid after")
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
		return
	}

	rows, err := s.store.RiskScoresAfter(r.Context(), after, int(limit))
	if err != nil {
		s.log.WithError(err).Error("listing risk scores failed")
		writeError(w, http.StatusInternalServerError, "listing risk scores failed")
		return
	}

	page := RiskScorePage{Items: make([]RiskScoreItem, 0, len(rows))}
	for _, rs := range rows {
		page.Items = append(page.Items, RiskScoreItem{ID: rs.ID, Score: rs.Score, Band: rs.Band})
	}
	if len(rows) == int(limit) {
		last := rows[len(rows)-1].ID
		page.NextAfter = &last
	}
	writeJSON(w, http.StatusOK, page)
}

func queryInt(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// ApplicantScores holds the derived rows of one applicant. A side that has
// not been derived yet is omitted.
type ApplicantScores struct {
	ID      int64          `json:"id"`
	Risk    *RiskScoreItem `json:"risk,omitempty"`
	Finance *FinanceItem   `json:"finance,omitempty"`
}

// FinanceItem is the 50/30/20 budget profile of one applicant.
type FinanceItem struct {
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	Essentials    decimal.Decimal `json:"essentials"`
	Wants         decimal.Decimal `json:"wants"`
	Savings       decimal.Decimal `json:"savings"`
	Age           int             `json:"age"`
	Dependents    int             `json:"dependents"`
}

func (s *Service) handleApplicantScores(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid applicant id")
		return
	}
	ctx := r.Context()
	out := ApplicantScores{ID: id}

	rs, err := s.store.GetRiskScore(ctx, id)
	switch {
	case err == nil:
		out.Risk = &RiskScoreItem{ID: rs.ID, Score: rs.Score, Band: rs.Band}
	case !errors.Is(err, store.ErrNotFound):
		s.log.WithError(err).WithField("applicant_id", id).Error("reading risk score failed")
		writeError(w, http.StatusInternalServerError, "reading risk score failed")
		return
	}

	fm, err := s.store.GetFinanceMetrics(ctx, id)
	switch {
	case err == nil:
		out.Finance = &FinanceItem{
			MonthlyIncome: fm.MonthlyIncome,
			Essentials:    fm.Essentials,
			Wants:         fm.Wants,
			Savings:       fm.Savings,
			Age:           fm.Age,
			Dependents:    fm.Dependents,
		}
	case !errors.Is(err, store.ErrNotFound):
		s.log.WithError(err).WithField("applicant_id", id).Error("reading finance metrics failed")
		writeError(w, http.StatusInternalServerError, "reading finance metrics failed")
		return
	}

	if out.Risk == nil && out.Finance == nil {
		writeError(w, http.StatusNotFound, "no scores for applicant")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleTriggerRun(w http.ResponseWriter, _ *http.Request) {
	runID, ok := s.StartBulk(TriggerAPI)
	if !ok {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	_, _ = fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
