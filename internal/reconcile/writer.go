// Package reconcile persists unified leads into the users table, keyed by
// phone number and, for leads without one, by email.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/db"
	"github.com/fintech-crm/lead-engine/internal/metrics"
	"github.com/fintech-crm/lead-engine/internal/model"
)

// DefaultBatchSize is the number of leads written per transaction.
const DefaultBatchSize = 1000

// userColumns are the users columns written for every lead.
var userColumns = []string{
	"id", "full_name", "phone_number", "country_code", "email", "pan_number",
	"tax_payer_type", "tax_slab", "category", "is_active", "last_communicated", "source",
	"loan_amount", "employment_type", "company_name", "monthly_income", "loan_purpose",
	"loan_tenure", "raw_data", "cibil_score", "subscription_status", "created_on", "updated_on",
}

// phoneUpsert fills only NULL columns of an existing row; updated_on always advances.
var phoneUpsert = db.UpsertConfig{
	Table:        "users",
	Columns:      userColumns,
	ConflictKeys: []string{"phone_number"},
	UpdateCols:   mergeColumns(),
	Mode:         db.MergeCoalesce,
	AlwaysUpdate: []string{"updated_on"},
}

// mergeColumns is every user column except the row id and the conflict key.
func mergeColumns() []string {
	var cols []string
	for _, c := range userColumns {
		if c != "id" && c != "phone_number" {
			cols = append(cols, c)
		}
	}
	return cols
}

// Result counts what a Reconcile call did.
type Result struct {
	Dropped        int   `json:"dropped"`
	PhoneLeads     int   `json:"phone_leads"`
	EmailLeads     int   `json:"email_leads"`
	Upserted       int64 `json:"upserted"`
	Inserted       int64 `json:"inserted"`
	ExistingEmails int   `json:"existing_emails"`
	FailedBatches  int   `json:"failed_batches"`
}

// Writer reconciles leads into users.
type Writer struct {
	pool      db.Pool
	batchSize int
	now       func() time.Time
}

// NewWriter creates a Writer. batchSize <= 0 selects DefaultBatchSize.
func NewWriter(pool db.Pool, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{pool: pool, batchSize: batchSize, now: time.Now}
}

// Reconcile merges leads into users. Phone leads are upserted so that the
// first non-null value per column wins; email-only leads are inserted when
// no user has that email yet. Batch failures are logged, counted and
// skipped; the returned error is reserved for an unusable Writer.
func (w *Writer) Reconcile(ctx context.Context, leads []model.Lead) (Result, error) {
	if w.pool == nil {
		return Result{}, eris.New("reconcile: writer has no pool")
	}

	g := Consolidate(leads)
	res := Result{Dropped: g.Dropped, PhoneLeads: len(g.Phone), EmailLeads: len(g.EmailOnly)}
	log := zap.L().With(zap.String("component", "reconcile"))
	now := w.now().UTC()

	for i, batch := range chunk(g.Phone, w.batchSize) {
		rows := make([][]any, len(batch))
		for j := range batch {
			rows[j] = userRow(&batch[j], now)
		}
		n, err := db.BulkUpsert(ctx, w.pool, phoneUpsert, rows)
		if err != nil {
			w.batchFailed(log, "phone", i, batch, err)
			res.FailedBatches++
			continue
		}
		res.Upserted += n
		metrics.ReconciledRows.WithLabelValues("phone").Add(float64(n))
	}

	for i, batch := range chunk(g.EmailOnly, w.batchSize) {
		n, existing, err := w.insertNewEmails(ctx, batch, now)
		if err != nil {
			w.batchFailed(log, "email", i, batch, err)
			res.FailedBatches++
			continue
		}
		res.Inserted += n
		res.ExistingEmails += existing
		metrics.ReconciledRows.WithLabelValues("email").Add(float64(n))
	}

	log.Info("reconciled leads",
		zap.Int("phone_leads", res.PhoneLeads),
		zap.Int("email_leads", res.EmailLeads),
		zap.Int64("upserted", res.Upserted),
		zap.Int64("inserted", res.Inserted),
		zap.Int("dropped", res.Dropped),
		zap.Int("failed_batches", res.FailedBatches),
	)
	return res, nil
}

func (w *Writer) insertNewEmails(ctx context.Context, batch []model.Lead, now time.Time) (int64, int, error) {
	emails := make([]string, len(batch))
	for i := range batch {
		emails[i] = strings.ToLower(*batch[i].Email)
	}

	rows, err := w.pool.Query(ctx, "SELECT LOWER(email) FROM users WHERE LOWER(email) = ANY($1)", emails)
	if err != nil {
		return 0, 0, eris.Wrap(err, "reconcile: lookup existing emails")
	}
	existing := map[string]bool{}
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			rows.Close()
			return 0, 0, eris.Wrap(err, "reconcile: scan email")
		}
		existing[e] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, eris.Wrap(err, "reconcile: lookup existing emails")
	}

	var fresh [][]any
	for i := range batch {
		if !existing[emails[i]] {
			fresh = append(fresh, userRow(&batch[i], now))
		}
	}
	n, err := db.CopyInsert(ctx, w.pool, "users", userColumns, fresh)
	if err != nil {
		return 0, 0, err
	}
	return n, len(batch) - len(fresh), nil
}

func (w *Writer) batchFailed(log *zap.Logger, group string, idx int, batch []model.Lead, err error) {
	metrics.ReconcileBatchFailures.WithLabelValues(group).Inc()
	log.Error("reconcile batch failed",
		zap.String("group", group),
		zap.Int("batch", idx),
		zap.Int("size", len(batch)),
		zap.String("first", batch[0].IdentityKey()),
		zap.String("last", batch[len(batch)-1].IdentityKey()),
		zap.Error(err),
	)
}

// userRow lays a lead out in userColumns order.
func userRow(l *model.Lead, now time.Time) []any {
	created := now
	if l.CreatedAt != nil {
		created = l.CreatedAt.UTC()
	}
	var raw any
	if len(l.RawData) > 0 {
		raw = string(l.RawData)
	}
	var amount, income any
	if l.LoanAmount != nil {
		amount = l.LoanAmount.InexactFloat64()
	}
	if l.MonthlyIncome != nil {
		income = l.MonthlyIncome.InexactFloat64()
	}
	return []any{
		uuid.NewString(), l.FullName, l.PhoneNumber, l.CountryCode, l.Email, l.PANNumber,
		l.TaxPayerType, l.TaxSlab, l.Category, true, l.LastCommunicated, string(l.LeadSource),
		amount, l.EmploymentType, l.CompanyName, income, l.LoanPurpose,
		l.LoanTenure, raw, l.CIBILScore, l.SubscriptionStatus, created, now,
	}
}

func chunk(leads []model.Lead, size int) [][]model.Lead {
	var out [][]model.Lead
	for start := 0; start < len(leads); start += size {
		out = append(out, leads[start:min(start+size, len(leads))])
	}
	return out
}
