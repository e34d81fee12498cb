package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/theirongolddev/credengine/internal/model"
)

const applicantColumns = `id, code_gender, flag_own_car, flag_own_realty, cnt_children,
		amt_income_total, name_income_type, name_education_type, name_family_status,
		name_housing_type, days_birth, days_employed, flag_mobil, flag_work_phone,
		flag_phone, flag_email, occupation_type, cnt_fam_members`

const upsertApplicantSQL = `INSERT INTO applicants (` + applicantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		code_gender = excluded.code_gender,
		flag_own_car = excluded.flag_own_car,
		flag_own_realty = excluded.flag_own_realty,
		cnt_children = excluded.cnt_children,
		amt_income_total = excluded.amt_income_total,
		name_income_type = excluded.name_income_type,
		name_education_type = excluded.name_education_type,
		name_family_status = excluded.name_family_status,
		name_housing_type = excluded.name_housing_type,
		days_birth = excluded.days_birth,
		days_employed = excluded.days_employed,
		flag_mobil = excluded.flag_mobil,
		flag_work_phone = excluded.flag_work_phone,
		flag_phone = excluded.flag_phone,
		flag_email = excluded.flag_email,
		occupation_type = excluded.occupation_type,
		cnt_fam_members = excluded.cnt_fam_members`

// UpsertApplicants writes a batch of applicants keyed by id inside tx.
// Rows are applied in order, so a later duplicate id overwrites an earlier one.
func (s *Store) UpsertApplicants(ctx context.Context, tx *sql.Tx, batch []model.Applicant) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q(upsertApplicantSQL))
	if err != nil {
		return fmt.Errorf("preparing applicant upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range batch {
		_, err := stmt.ExecContext(ctx,
			a.ID, a.Gender, a.OwnCar, a.OwnRealty, a.Children,
			a.IncomeTotal, a.IncomeType, a.EducationType, a.FamilyStatus,
			a.HousingType, a.DaysBirth, a.DaysEmployed, a.FlagMobil, a.FlagWorkPhone,
			a.FlagPhone, a.FlagEmail, a.OccupationType, a.FamilyMembers,
		)
		if err != nil {
			return fmt.Errorf("upserting applicant %d: %w", a.ID, err)
		}
	}
	return nil
}

// CountApplicants returns the number of stored applicants.
func (s *Store) CountApplicants(ctx context.Context) (int, error) {
	return s.count(ctx, "applicants")
}

// ApplicantsAfter returns up to limit applicants with id greater than
// afterID, ordered by id.
func (s *Store) ApplicantsAfter(ctx context.Context, afterID int64, limit int) ([]model.Applicant, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+applicantColumns+` FROM applicants WHERE id > ? ORDER BY id LIMIT ?`),
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying applicants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Applicant, 0, limit)
	for rows.Next() {
		a, err := scanApplicant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetApplicant returns one applicant by id.
func (s *Store) GetApplicant(ctx context.Context, id int64) (model.Applicant, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+applicantColumns+` FROM applicants WHERE id = ?`), id)
	a, err := scanApplicant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Applicant{}, fmt.Errorf("applicant %d: %w", id, ErrNotFound)
	}
	return a, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplicant(sc scanner) (model.Applicant, error) {
	var a model.Applicant
	err := sc.Scan(
		&a.ID, &a.Gender, &a.OwnCar, &a.OwnRealty, &a.Children,
		&a.IncomeTotal, &a.IncomeType, &a.EducationType, &a.FamilyStatus,
		&a.HousingType, &a.DaysBirth, &a.DaysEmployed, &a.FlagMobil, &a.FlagWorkPhone,
		&a.FlagPhone, &a.FlagEmail, &a.OccupationType, &a.FamilyMembers,
	)
	return a, err
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}
