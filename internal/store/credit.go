package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/credengine/internal/model"
)

// UpsertCreditScore writes the single credit score row for a user,
// overwriting any previous one.
func (s *Store) UpsertCreditScore(ctx context.Context, r model.CreditScoreRecord) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO interactive_credit_scores
		(user_id, score, risk_band, dti, emi_burden, savings_rate, residual_savings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		score = excluded.score,
		risk_band = excluded.risk_band,
		dti = excluded.dti,
		emi_burden = excluded.emi_burden,
		savings_rate = excluded.savings_rate,
		residual_savings = excluded.residual_savings,
		updated_at = excluded.updated_at`),
		r.UserID, r.Score, string(r.Band), r.DTI, r.EMIBurden, r.SavingsRate,
		r.ResidualSavings, updated.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upserting credit score for user %d: %w", r.UserID, err)
	}
	return nil
}

// GetCreditScore returns the stored credit score row for a user.
func (s *Store) GetCreditScore(ctx context.Context, userID int64) (model.CreditScoreRecord, error) {
	var r model.CreditScoreRecord
	var band string
	var updated int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT user_id, score, risk_band, dti, emi_burden, savings_rate,
		residual_savings, updated_at FROM interactive_credit_scores WHERE user_id = ?`), userID).
		Scan(&r.UserID, &r.Score, &band, &r.DTI, &r.EMIBurden, &r.SavingsRate, &r.ResidualSavings, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CreditScoreRecord{}, fmt.Errorf("credit score for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.CreditScoreRecord{}, fmt.Errorf("reading credit score for user %d: %w", userID, err)
	}
	r.Band = model.Band(band)
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	return r, nil
}

// CountCreditScores returns the number of stored credit score rows.
func (s *Store) CountCreditScores(ctx context.Context) (int, error) {
	return s.count(ctx, "interactive_credit_scores")
}
