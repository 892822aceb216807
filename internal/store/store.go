// Package store reads the CRM's Postgres tables: users, credit_reports and
// lead_sync_log.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fintech-crm/lead-engine/internal/db"
	"github.com/fintech-crm/lead-engine/internal/filter"
	"github.com/fintech-crm/lead-engine/internal/model"
)

// Store wraps a connection pool with typed queries.
type Store struct {
	pool db.Pool
}

// New creates a Store on pool.
func New(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// userColumns is the SELECT list scanned by scanUser.
const userColumns = `id, full_name, phone_number, country_code, email, pan_number,
	tax_payer_type, tax_slab, category, is_active, last_communicated, source,
	loan_amount, employment_type, company_name, monthly_income, loan_purpose,
	loan_tenure, raw_data, cibil_score, subscription_status, created_on, updated_on`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (model.UserRecord, error) {
	var (
		u   model.UserRecord
		raw []byte
	)
	err := row.Scan(
		&u.ID, &u.FullName, &u.PhoneNumber, &u.CountryCode, &u.Email, &u.PANNumber,
		&u.TaxPayerType, &u.TaxSlab, &u.Category, &u.IsActive, &u.LastCommunicated, &u.Source,
		&u.LoanAmount, &u.EmploymentType, &u.CompanyName, &u.MonthlyIncome, &u.LoanPurpose,
		&u.LoanTenure, &raw, &u.CIBILScore, &u.SubscriptionStatus, &u.CreatedOn, &u.UpdatedOn,
	)
	if len(raw) > 0 {
		u.RawData = raw
	}
	return u, err
}

// ListUsers returns active users matching c, most recently updated first.
func (s *Store) ListUsers(ctx context.Context, c filter.Criteria) ([]model.UserRecord, error) {
	query := "SELECT " + userColumns + " FROM users WHERE is_active = TRUE"
	where, args := c.SQL(1)
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY updated_on DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list users")
	}
	defer rows.Close()

	var out []model.UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan user")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate users")
	}
	return out, nil
}

// GetUserByPhone returns the user with phone, or nil when none exists.
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*model.UserRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+userColumns+" FROM users WHERE phone_number = $1", phone)
	if err != nil {
		return nil, eris.Wrap(err, "store: get user by phone")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "store: get user by phone")
		}
		return nil, nil
	}
	u, err := scanUser(rows)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan user")
	}
	return &u, nil
}

const creditReportColumns = `id, user_id, first_name, last_name, phone_number, pan_number,
	credit_score, created_at, updated_at`

// ListCreditReports returns up to limit credit reports, newest first.
// A non-positive limit returns every report.
func (s *Store) ListCreditReports(ctx context.Context, limit int) ([]model.CreditReport, error) {
	query := "SELECT " + creditReportColumns + " FROM credit_reports ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryCreditReports(ctx, query, args...)
}

// ListCreditReportsAfter returns up to limit credit reports ordered by
// (created_at, id) strictly after the given cursor. Callers page forward by
// passing the last row's created_at and id.
func (s *Store) ListCreditReportsAfter(ctx context.Context, createdAt time.Time, id string, limit int) ([]model.CreditReport, error) {
	query := "SELECT " + creditReportColumns + ` FROM credit_reports
		WHERE (created_at, id) > ($1, $2)
		ORDER BY created_at, id`
	args := []any{createdAt, id}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return s.queryCreditReports(ctx, query, args...)
}

func (s *Store) queryCreditReports(ctx context.Context, query string, args ...any) ([]model.CreditReport, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list credit reports")
	}
	defer rows.Close()

	var out []model.CreditReport
	for rows.Next() {
		var r model.CreditReport
		if err := rows.Scan(&r.ID, &r.UserID, &r.FirstName, &r.LastName, &r.PhoneNumber,
			&r.PANNumber, &r.CreditScore, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan credit report")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate credit reports")
	}
	return out, nil
}
