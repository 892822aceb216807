// Package model defines the unified lead representation, the durable user
// record it is reconciled into, and the paged response envelope.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts are emitted as JSON numbers, as the CRM frontend expects.
	decimal.MarshalJSONWithoutQuotes = true
}

// Lead is the canonical shape every source is normalized into.
type Lead struct {
	ID             string           `json:"id"`
	UserID         *string          `json:"user_id,omitempty"`
	FullName       *string          `json:"full_name"`
	Email          *string          `json:"email"`
	PhoneNumber    *string          `json:"phone_number"`
	CountryCode    *string          `json:"country_code,omitempty"`
	PANNumber      *string          `json:"pan_number,omitempty"`
	LoanAmount     *decimal.Decimal `json:"loan_amount"`
	EmploymentType *string          `json:"employment_type"`
	LoanType       *string          `json:"loan_type,omitempty"`
	LoanPurpose    *string          `json:"loan_purpose,omitempty"`
	LoanTenure     *int             `json:"loan_tenure,omitempty"`
	CompanyName    *string          `json:"company_name,omitempty"`
	MonthlyIncome  *decimal.Decimal `json:"monthly_income,omitempty"`
	CIBILScore     *int             `json:"cibil_score"`
	LeadSource     Source           `json:"lead_source"`

	CreatedAt        *time.Time `json:"created_at"`
	LastCommunicated *time.Time `json:"last_communicated"`
	UpdatedOn        *time.Time `json:"updated_on,omitempty"`

	DocumentsCount int     `json:"documents_count"`
	DocumentName   *string `json:"document_name,omitempty"`

	TaxPayerType       *string `json:"tax_payer_type,omitempty"`
	TaxSlab            *string `json:"tax_slab,omitempty"`
	Category           *string `json:"category,omitempty"`
	SubscriptionStatus *string `json:"subscription_status,omitempty"`

	// RawData is the verbatim originating record.
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// HasIdentity reports whether the lead carries an identity anchor.
func (l *Lead) HasIdentity() bool {
	return nonEmpty(l.PhoneNumber) || nonEmpty(l.Email)
}

// HasPhone reports whether the lead has a usable phone number.
func (l *Lead) HasPhone() bool {
	return nonEmpty(l.PhoneNumber)
}

// ActivityTime is the most-recent-activity timestamp used for sorting:
// the store's updated_on, else last_communicated, else created_at.
func (l *Lead) ActivityTime() *time.Time {
	switch {
	case l.UpdatedOn != nil:
		return l.UpdatedOn
	case l.LastCommunicated != nil:
		return l.LastCommunicated
	default:
		return l.CreatedAt
	}
}

// ContactTime is the timestamp date-range filters apply to. It matches the
// SQL expression COALESCE(last_communicated, created_on).
func (l *Lead) ContactTime() *time.Time {
	if l.LastCommunicated != nil {
		return l.LastCommunicated
	}
	return l.CreatedAt
}

// RawString returns a string field from RawData, or "" when absent or not a string.
func (l *Lead) RawString(key string) string {
	if len(l.RawData) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(l.RawData, &fields); err != nil {
		return ""
	}
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// IdentityKey returns the reconciliation key: phone number when present,
// otherwise email. Empty when the lead has no identity.
func (l *Lead) IdentityKey() string {
	if nonEmpty(l.PhoneNumber) {
		return "phone:" + *l.PhoneNumber
	}
	if nonEmpty(l.Email) {
		return "email:" + *l.Email
	}
	return ""
}

// FillFrom copies every field of other into l where l's field is unset.
// Populated fields of l are never overwritten.
func (l *Lead) FillFrom(other Lead) {
	fillStr(&l.UserID, other.UserID)
	fillStr(&l.FullName, other.FullName)
	fillStr(&l.Email, other.Email)
	fillStr(&l.PhoneNumber, other.PhoneNumber)
	fillStr(&l.CountryCode, other.CountryCode)
	fillStr(&l.PANNumber, other.PANNumber)
	if l.LoanAmount == nil {
		l.LoanAmount = other.LoanAmount
	}
	fillStr(&l.EmploymentType, other.EmploymentType)
	fillStr(&l.LoanType, other.LoanType)
	fillStr(&l.LoanPurpose, other.LoanPurpose)
	if l.LoanTenure == nil {
		l.LoanTenure = other.LoanTenure
	}
	fillStr(&l.CompanyName, other.CompanyName)
	if l.MonthlyIncome == nil {
		l.MonthlyIncome = other.MonthlyIncome
	}
	if l.CIBILScore == nil {
		l.CIBILScore = other.CIBILScore
	}
	if l.CreatedAt == nil {
		l.CreatedAt = other.CreatedAt
	}
	if l.LastCommunicated == nil {
		l.LastCommunicated = other.LastCommunicated
	}
	fillStr(&l.DocumentName, other.DocumentName)
	fillStr(&l.TaxPayerType, other.TaxPayerType)
	fillStr(&l.TaxSlab, other.TaxSlab)
	fillStr(&l.Category, other.Category)
	fillStr(&l.SubscriptionStatus, other.SubscriptionStatus)
	if len(l.RawData) == 0 {
		l.RawData = other.RawData
	}
	if l.DocumentsCount == 0 {
		l.DocumentsCount = other.DocumentsCount
	}
}

func fillStr(dst **string, src *string) {
	if !nonEmpty(*dst) && nonEmpty(src) {
		*dst = src
	}
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
