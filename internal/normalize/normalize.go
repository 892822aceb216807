// Package normalize converts raw source records and stored users into the
// unified lead shape.
package normalize

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/metrics"
	"github.com/fintech-crm/lead-engine/internal/model"
	"github.com/fintech-crm/lead-engine/internal/source"
)

// ErrNoIdentity is returned for records with neither phone nor email.
var ErrNoIdentity = eris.New("normalize: record has no phone or email")

// strapiLoan is a Strapi loan-apply entry.
type strapiLoan struct {
	ID          FlexString `json:"id"`
	DocumentID  string     `json:"documentId"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	PhoneNumber FlexString `json:"phone_number"`
	Amount      FlexNumber `json:"amount"`
	LoanType    string     `json:"loan_type"`
	CreatedAt   string     `json:"createdAt"`
}

// strapiCIBIL is a Strapi cibil-check-user entry.
type strapiCIBIL struct {
	ID           FlexString `json:"id"`
	DocumentID   string     `json:"documentId"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	MobileNumber FlexString `json:"mobile_number"`
	PANNumber    string     `json:"pan_number"`
	CIBILScore   FlexNumber `json:"CIBIL_score"`
	CreatedAt    string     `json:"createdAt"`
}

// beehiivSubscription is a Beehiiv subscription object.
type beehiivSubscription struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Status  string `json:"status"`
	Created int64  `json:"created"`
}

// Normalize converts one raw record into a lead. It fails on undecodable
// payloads and on records without an identity anchor.
func Normalize(rec source.Record) (model.Lead, error) {
	var (
		lead model.Lead
		err  error
	)
	switch rec.Kind {
	case source.KindStrapiLoan:
		lead, err = fromStrapiLoan(rec.Payload)
	case source.KindStrapiCIBIL:
		lead, err = fromStrapiCIBIL(rec.Payload)
	case source.KindBeehiiv:
		lead, err = fromBeehiiv(rec.Payload)
	case source.KindCreditReport:
		lead, err = fromCreditReport(rec.Payload)
	default:
		return model.Lead{}, eris.Errorf("normalize: unknown record kind %q", rec.Kind)
	}
	if err != nil {
		return model.Lead{}, err
	}
	if rec.Source != "" {
		lead.LeadSource = rec.Source
	}
	lead.RawData = rec.Payload
	if !lead.HasIdentity() {
		return model.Lead{}, ErrNoIdentity
	}
	return lead, nil
}

func fromStrapiLoan(payload json.RawMessage) (model.Lead, error) {
	var dto strapiLoan
	if err := json.Unmarshal(payload, &dto); err != nil {
		return model.Lead{}, eris.Wrap(err, "normalize: decode strapi loan")
	}
	created := ParseTime(dto.CreatedAt)
	return model.Lead{
		ID:               uuid.NewString(),
		UserID:           cleanString(string(dto.ID)),
		DocumentName:     cleanString(dto.DocumentID),
		FullName:         cleanString(dto.Name),
		Email:            cleanEmail(dto.Email),
		PhoneNumber:      cleanString(string(dto.PhoneNumber)),
		LoanAmount:       dto.Amount.Value,
		LoanType:         cleanString(dto.LoanType),
		LeadSource:       model.SourceStrapiLoan,
		CreatedAt:        created,
		LastCommunicated: created,
	}, nil
}

func fromStrapiCIBIL(payload json.RawMessage) (model.Lead, error) {
	var dto strapiCIBIL
	if err := json.Unmarshal(payload, &dto); err != nil {
		return model.Lead{}, eris.Wrap(err, "normalize: decode strapi cibil")
	}
	created := ParseTime(dto.CreatedAt)
	return model.Lead{
		ID:               uuid.NewString(),
		UserID:           cleanString(string(dto.ID)),
		DocumentName:     cleanString(dto.DocumentID),
		FullName:         joinName(dto.FirstName, dto.LastName),
		PhoneNumber:      cleanString(string(dto.MobileNumber)),
		PANNumber:        cleanString(dto.PANNumber),
		CIBILScore:       dto.CIBILScore.Int(),
		LeadSource:       model.SourceStrapiCIBIL,
		CreatedAt:        created,
		LastCommunicated: created,
	}, nil
}

func fromBeehiiv(payload json.RawMessage) (model.Lead, error) {
	var dto beehiivSubscription
	if err := json.Unmarshal(payload, &dto); err != nil {
		return model.Lead{}, eris.Wrap(err, "normalize: decode beehiiv subscription")
	}
	created := FromUnix(dto.Created)
	return model.Lead{
		ID:                 uuid.NewString(),
		Email:              cleanEmail(dto.Email),
		SubscriptionStatus: cleanString(dto.Status),
		LeadSource:         model.SourceBeehiiv,
		CreatedAt:          created,
		LastCommunicated:   created,
	}, nil
}

func fromCreditReport(payload json.RawMessage) (model.Lead, error) {
	var r model.CreditReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return model.Lead{}, eris.Wrap(err, "normalize: decode credit report")
	}
	created := r.CreatedAt
	last := &created
	if r.UpdatedAt != nil {
		last = r.UpdatedAt
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return model.Lead{
		ID:               id,
		UserID:           r.UserID,
		FullName:         joinName(model.Deref(r.FirstName), model.Deref(r.LastName)),
		PhoneNumber:      cleanString(model.Deref(r.PhoneNumber)),
		PANNumber:        cleanString(model.Deref(r.PANNumber)),
		CIBILScore:       r.CreditScore,
		LeadSource:       model.SourceStrapiCIBIL,
		CreatedAt:        &created,
		LastCommunicated: last,
		DocumentsCount:   1,
	}, nil
}

// FromUser converts a stored users row. Rows are trusted: no identity check.
func FromUser(u model.UserRecord) model.Lead {
	created, updated := u.CreatedOn, u.UpdatedOn
	src := model.SourceInternalCRM
	if u.Source != nil && *u.Source != "" {
		src = model.Source(*u.Source)
	}
	id := u.ID
	l := model.Lead{
		ID:                 u.ID,
		UserID:             &id,
		FullName:           u.FullName,
		Email:              u.Email,
		PhoneNumber:        u.PhoneNumber,
		CountryCode:        u.CountryCode,
		PANNumber:          u.PANNumber,
		LoanAmount:         decimalFromFloat(u.LoanAmount),
		EmploymentType:     u.EmploymentType,
		LoanPurpose:        u.LoanPurpose,
		LoanTenure:         u.LoanTenure,
		CompanyName:        u.CompanyName,
		MonthlyIncome:      decimalFromFloat(u.MonthlyIncome),
		CIBILScore:         u.CIBILScore,
		LeadSource:         src,
		LastCommunicated:   u.LastCommunicated,
		TaxPayerType:       u.TaxPayerType,
		TaxSlab:            u.TaxSlab,
		Category:           u.Category,
		SubscriptionStatus: u.SubscriptionStatus,
		RawData:            u.RawData,
	}
	if !created.IsZero() {
		l.CreatedAt = &created
	}
	if !updated.IsZero() {
		l.UpdatedOn = &updated
	}
	l.LoanType = cleanString(l.RawString("loan_type"))
	return l
}

// Stats summarises a NormalizeAll pass.
type Stats struct {
	Total   int
	Kept    int
	Skipped map[model.Source]int
}

// SkippedTotal sums skipped records across sources.
func (s Stats) SkippedTotal() int {
	n := 0
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// NormalizeAll converts records in order, dropping and counting the ones
// that fail to decode or have no identity.
func NormalizeAll(records []source.Record) ([]model.Lead, Stats) {
	stats := Stats{Total: len(records), Skipped: map[model.Source]int{}}
	log := zap.L().With(zap.String("component", "normalize"))

	out := make([]model.Lead, 0, len(records))
	for _, rec := range records {
		lead, err := Normalize(rec)
		if err != nil {
			stats.Skipped[rec.Source]++
			metrics.NormalizationSkipped.WithLabelValues(string(rec.Source)).Inc()
			if !eris.Is(err, ErrNoIdentity) {
				log.Debug("skipping record", zap.String("kind", string(rec.Kind)), zap.Error(err))
			}
			continue
		}
		out = append(out, lead)
	}
	stats.Kept = len(out)
	return out, stats
}

// FromUsers converts stored rows in order.
func FromUsers(rows []model.UserRecord) []model.Lead {
	out := make([]model.Lead, len(rows))
	for i, u := range rows {
		out[i] = FromUser(u)
	}
	return out
}
