package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintech-crm/lead-engine/internal/filter"
	"github.com/fintech-crm/lead-engine/internal/model"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return New(mock), mock
}

var userCols = []string{
	"id", "full_name", "phone_number", "country_code", "email", "pan_number",
	"tax_payer_type", "tax_slab", "category", "is_active", "last_communicated", "source",
	"loan_amount", "employment_type", "company_name", "monthly_income", "loan_purpose",
	"loan_tenure", "raw_data", "cibil_score", "subscription_status", "created_on", "updated_on",
}

var (
	nilStr   *string
	nilTime  *time.Time
	nilFloat *float64
	nilInt   *int
)

func userRow(rows *pgxmock.Rows, id, name, phone string, amount *float64, score *int, updated time.Time) *pgxmock.Rows {
	return rows.AddRow(
		id, model.Str(name), model.Str(phone), nilStr, nilStr, nilStr,
		nilStr, nilStr, nilStr, true, nilTime, model.Str("strapi_loan"),
		amount, nilStr, nilStr, nilFloat, nilStr,
		nilInt, []byte(`{"loan_type":"home"}`), score, nilStr, updated.Add(-time.Hour), updated,
	)
}

func TestListUsers_NoCriteria(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	amt := 300000.0
	score := 720

	rows := pgxmock.NewRows(userCols)
	userRow(rows, "u1", "Jane", "9000000001", &amt, &score, now)
	userRow(rows, "u2", "Raj", "9000000002", nil, nil, now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE is_active = TRUE ORDER BY updated_on DESC")).
		WillReturnRows(rows)

	got, err := s.ListUsers(context.Background(), filter.Criteria{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].ID)
	assert.Equal(t, "Jane", *got[0].FullName)
	assert.InDelta(t, 300000.0, *got[0].LoanAmount, 0.001)
	assert.Equal(t, 720, *got[0].CIBILScore)
	assert.JSONEq(t, `{"loan_type":"home"}`, string(got[0].RawData))
	assert.Nil(t, got[1].LoanAmount)
	assert.True(t, got[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers_PushesCriteriaDown(t *testing.T) {
	s, mock := newMockStore(t)
	c := filter.NewCriteria(filter.Params{Sources: []string{"beehiiv"}, EmploymentType: "salaried"}, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_active = TRUE AND LOWER(employment_type) = ANY($1) AND LOWER(source) = ANY($2) ORDER BY updated_on DESC")).
		WithArgs([]string{"salaried"}, []string{"beehiiv"}).
		WillReturnRows(pgxmock.NewRows(userCols))

	got, err := s.ListUsers(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM users").WillReturnError(errors.New("conn reset"))

	_, err := s.ListUsers(context.Background(), filter.Criteria{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: list users")
}

func TestGetUserByPhone(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE phone_number = $1")).
		WithArgs("9000000001").
		WillReturnRows(userRow(pgxmock.NewRows(userCols), "u1", "Jane", "9000000001", nil, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE phone_number = $1")).
		WithArgs("0000").
		WillReturnRows(pgxmock.NewRows(userCols))

	u, err := s.GetUserByPhone(context.Background(), "9000000001")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	u, err = s.GetUserByPhone(context.Background(), "0000")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCreditReportsAfter(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	created := since.Add(time.Hour)
	score := 700

	mock.ExpectQuery(`FROM credit_reports\s+WHERE \(created_at, id\) > \(\$1, \$2\)\s+ORDER BY created_at, id LIMIT \$3`).
		WithArgs(since, "", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "first_name", "last_name", "phone_number", "pan_number", "credit_score", "created_at", "updated_at"}).
			AddRow("cr1", nilStr, model.Str("Jane"), model.Str("Doe"), model.Str("9000000001"), nilStr, &score, created, nilTime))

	got, err := s.ListCreditReportsAfter(context.Background(), since, "", 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cr1", got[0].ID)
	assert.Equal(t, 700, *got[0].CreditScore)
	assert.Nil(t, got[0].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCreditReports_Newest(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_reports ORDER BY created_at DESC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	got, err := s.ListCreditReports(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_Lifecycle(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO lead_sync_log").
		WithArgs("strapi_loan").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("UPDATE lead_sync_log").
		WithArgs(int64(12), []byte(`{"skipped":1}`), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE lead_sync_log").
		WithArgs("boom", int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := s.StartSync(ctx, "strapi_loan")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, s.CompleteSync(ctx, id, SyncResult{Records: 12, Metadata: map[string]any{"skipped": 1}}))
	require.NoError(t, s.FailSync(ctx, 8, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT started_at FROM lead_sync_log").
		WithArgs("beehiiv").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(started))
	mock.ExpectQuery("SELECT started_at FROM lead_sync_log").
		WithArgs("strapi_cibil").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT started_at FROM lead_sync_log").
		WithArgs("credit_reports").
		WillReturnError(errors.New("timeout"))

	got, err := s.LastSuccess(context.Background(), "beehiiv")
	require.NoError(t, err)
	assert.Equal(t, started, *got)

	got, err = s.LastSuccess(context.Background(), "strapi_cibil")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.LastSuccess(context.Background(), "credit_reports")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSyncs(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	done := started.Add(time.Minute)
	msg := "upstream down"

	mock.ExpectQuery("FROM lead_sync_log ORDER BY started_at DESC").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "status", "started_at", "completed_at", "records", "error", "metadata"}).
			AddRow(int64(2), "beehiiv", SyncFailed, started, &done, int64(0), &msg, []byte(nil)).
			AddRow(int64(1), "beehiiv", SyncComplete, started, &done, int64(40), nilStr, []byte(`{"kept":40}`)))

	got, err := s.ListSyncs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "upstream down", got[0].Error)
	assert.Equal(t, float64(40), got[1].Metadata["kept"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
