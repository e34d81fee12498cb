package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/credengine/internal/model"
)

// UpsertRiskScores writes a batch of risk rows keyed by applicant id.
func (s *Store) UpsertRiskScores(ctx context.Context, tx *sql.Tx, batch []model.RiskScore) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO risk_scores (id, risk_score, risk_band)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		risk_score = excluded.risk_score,
		risk_band = excluded.risk_band`))
	if err != nil {
		return fmt.Errorf("preparing risk upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Score, string(r.Band)); err != nil {
			return fmt.Errorf("upserting risk score %d: %w", r.ID, err)
		}
	}
	return nil
}

// UpsertFinanceMetrics writes a batch of finance rows keyed by applicant id.
func (s *Store) UpsertFinanceMetrics(ctx context.Context, tx *sql.Tx, batch []model.FinanceMetrics) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO finance_metrics
		(id, monthly_income, essentials, wants, savings, age, dependents)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		monthly_income = excluded.monthly_income,
		essentials = excluded.essentials,
		wants = excluded.wants,
		savings = excluded.savings,
		age = excluded.age,
		dependents = excluded.dependents`))
	if err != nil {
		return fmt.Errorf("preparing finance upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range batch {
		_, err := stmt.ExecContext(ctx, f.ID, f.MonthlyIncome, f.Essentials, f.Wants, f.Savings, f.Age, f.Dependents)
		if err != nil {
			return fmt.Errorf("upserting finance metrics %d: %w", f.ID, err)
		}
	}
	return nil
}

// GetRiskScore returns the risk row for one applicant.
func (s *Store) GetRiskScore(ctx context.Context, id int64) (model.RiskScore, error) {
	var r model.RiskScore
	var band string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, risk_score, risk_band FROM risk_scores WHERE id = ?`), id).
		Scan(&r.ID, &r.Score, &band)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RiskScore{}, fmt.Errorf("risk score %d: %w", id, ErrNotFound)
	}
	r.Band = model.Band(band)
	return r, err
}

// GetFinanceMetrics returns the finance row for one applicant.
func (s *Store) GetFinanceMetrics(ctx context.Context, id int64) (model.FinanceMetrics, error) {
	var f model.FinanceMetrics
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, monthly_income, essentials, wants, savings, age, dependents
		FROM finance_metrics WHERE id = ?`), id).
		Scan(&f.ID, &f.MonthlyIncome, &f.Essentials, &f.Wants, &f.Savings, &f.Age, &f.Dependents)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FinanceMetrics{}, fmt.Errorf("finance metrics %d: %w", id, ErrNotFound)
	}
	return f, err
}

// RiskScoresAfter returns up to limit risk rows with id greater than
// afterID, ordered by id.
func (s *Store) RiskScoresAfter(ctx context.Context, afterID int64, limit int) ([]model.RiskScore, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, risk_score, risk_band FROM risk_scores WHERE id > ? ORDER BY id LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying risk scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RiskScore
	for rows.Next() {
		var r model.RiskScore
		var band string
		if err := rows.Scan(&r.ID, &r.Score, &band); err != nil {
			return nil, err
		}
		r.Band = model.Band(band)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates counts, the band distribution and averages over the
// derived tables.
func (s *Store) Summary(ctx context.Context) (model.SummaryStats, error) {
	stats := model.SummaryStats{BandCounts: make(map[model.Band]int, len(model.Bands))}

	var err error
	if stats.Applicants, err = s.CountApplicants(ctx); err != nil {
		return stats, err
	}
	if stats.RiskScores, err = s.count(ctx, "risk_scores"); err != nil {
		return stats, err
	}
	if stats.FinanceRows, err = s.count(ctx, "finance_metrics"); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT risk_band, COUNT(*) FROM risk_scores GROUP BY risk_band`)
	if err != nil {
		return stats, fmt.Errorf("querying band distribution: %w", err)
	}
	for rows.Next() {
		var band string
		var n int
		if err := rows.Scan(&band, &n); err != nil {
			_ = rows.Close()
			return stats, err
		}
		stats.BandCounts[model.Band(band)] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var avgRisk sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(risk_score) FROM risk_scores`).Scan(&avgRisk); err != nil {
		return stats, fmt.Errorf("averaging risk scores: %w", err)
	}
	stats.AvgRiskScore = avgRisk.Float64

	avg, err := s.financeAverages(ctx)
	if err != nil {
		return stats, err
	}
	stats.AvgIncome = avg.income
	stats.AvgEssentials = avg.essentials
	stats.AvgWants = avg.wants
	stats.AvgSavings = avg.savings
	stats.AvgAge = avg.age
	stats.AvgDependents = avg.dependents

	return stats, nil
}

type financeAvg struct {
	income, essentials, wants, savings decimal.Decimal
	age, dependents                    float64
}

// financeAverages streams the finance rows and averages them with exact
// decimal sums; SQL AVG over the text money columns would go through float.
func (s *Store) financeAverages(ctx context.Context) (financeAvg, error) {
	var avg financeAvg
	rows, err := s.db.QueryContext(ctx,
		`SELECT monthly_income, essentials, wants, savings, age, dependents FROM finance_metrics`)
	if err != nil {
		return avg, fmt.Errorf("averaging finance metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		n                                  int64
		income, essentials, wants, savings decimal.Decimal
		age, dependents                    int64
	)
	for rows.Next() {
		var f model.FinanceMetrics
		if err := rows.Scan(&f.MonthlyIncome, &f.Essentials, &f.Wants, &f.Savings, &f.Age, &f.Dependents); err != nil {
			return avg, fmt.Errorf("averaging finance metrics: %w", err)
		}
		n++
		income = income.Add(f.MonthlyIncome)
		essentials = essentials.Add(f.Essentials)
		wants = wants.Add(f.Wants)
		savings = savings.Add(f.Savings)
		age += int64(f.Age)
		dependents += int64(f.Dependents)
	}
	if err := rows.Err(); err != nil {
		return avg, fmt.Errorf("averaging finance metrics: %w", err)
	}
	if n == 0 {
		return avg, nil
	}

	count := decimal.NewFromInt(n)
	avg.income = income.Div(count)
	avg.essentials = essentials.Div(count)
	avg.wants = wants.Div(count)
	avg.savings = savings.Div(count)
	avg.age = float64(age) / float64(n)
	avg.dependents = float64(dependents) / float64(n)
	return avg, nil
}
