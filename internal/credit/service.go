// Package credit recomputes the interactive credit score of a single user
// from their ledger and keeps the one stored row per user current.
package credit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/theirongolddev/credengine/internal/logging"
	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/scoring"
	"github.com/theirongolddev/credengine/internal/store"
)

// ErrNotPersisted marks a Refresh whose score was computed but could not
// be written. The returned Result is still valid.
var ErrNotPersisted = errors.New("credit score not persisted")

// Result is one freshly computed credit score plus the ledger it came from.
type Result struct {
	Record model.CreditScoreRecord
	Totals model.LedgerTotals
	// DisplayIncome is the larger of the declared income and this month's
	// income entries.
	DisplayIncome decimal.Decimal
}

// Service computes and stores credit scores.
type Service struct {
	store *store.Store
	log   logrus.FieldLogger
	now   func() time.Time
	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used to pick the current month.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// NewService returns a Service backed by st.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, log: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// refreshTimeout bounds a shared refresh once it no longer follows the
// context of the caller that started it.
const refreshTimeout = 30 * time.Second

// Refresh aggregates the user's ledger for the current calendar month,
// computes the score and upserts the user's single credit row. Concurrent
// calls for the same user share one computation. The shared work does not
// stop when the caller that started it goes away; each caller only stops
// waiting when its own ctx is done.
func (s *Service) Refresh(ctx context.Context, userID int64) (Result, error) {
	ch := s.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(workCtx, userID)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			s.log.WithField("user_id", userID).Debug("credit refresh shared with in-flight call")
		}
		if r.Val == nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), r.Err
	}
}

func (s *Service) refresh(ctx context.Context, userID int64) (any, error) {
	now := s.now().UTC()

	totals, err := s.store.LedgerTotals(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	cr := scoring.CreditScore(scoring.CreditInput{
		MonthlyIncome:  totals.MonthlyIncome,
		TotalExpenses:  totals.MonthExpenses,
		TotalEMI:       totals.TotalEMI,
		Age:            totals.Age,
		EmploymentType: totals.EmploymentType,
	})

	res := Result{
		Record: model.CreditScoreRecord{
			UserID:          userID,
			Score:           cr.Score,
			Band:            cr.Band,
			DTI:             cr.DTI,
			EMIBurden:       cr.EMIBurden,
			SavingsRate:     cr.SavingsRate,
			ResidualSavings: cr.ResidualSavings,
			UpdatedAt:       now,
		},
		Totals:        totals,
		DisplayIncome: decimal.Max(totals.MonthlyIncome, totals.MonthIncome),
	}

	if err := s.store.UpsertCreditScore(ctx, res.Record); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("credit score computed but not stored")
		return res, fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"score":   cr.Score,
		"band":    cr.Band,
	}).Debug("credit score refreshed")
	return res, nil
}
