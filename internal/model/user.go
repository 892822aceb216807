package model

import (
	"encoding/json"
	"time"
)

// UserRecord is one row of the durable users table: one per resolved identity.
type UserRecord struct {
	ID                 string          `json:"id"`
	FullName           *string         `json:"full_name"`
	PhoneNumber        *string         `json:"phone_number"`
	CountryCode        *string         `json:"country_code"`
	Email              *string         `json:"email"`
	PANNumber          *string         `json:"pan_number"`
	TaxPayerType       *string         `json:"tax_payer_type"`
	TaxSlab            *string         `json:"tax_slab"`
	Category           *string         `json:"category"`
	IsActive           bool            `json:"is_active"`
	LastCommunicated   *time.Time      `json:"last_communicated"`
	Source             *string         `json:"source"`
	LoanAmount         *float64        `json:"loan_amount"`
	EmploymentType     *string         `json:"employment_type"`
	CompanyName        *string         `json:"company_name"`
	MonthlyIncome      *float64        `json:"monthly_income"`
	LoanPurpose        *string         `json:"loan_purpose"`
	LoanTenure         *int            `json:"loan_tenure"`
	RawData            json.RawMessage `json:"raw_data"`
	CIBILScore         *int            `json:"cibil_score"`
	SubscriptionStatus *string         `json:"subscription_status"`
	CreatedOn          time.Time       `json:"created_on"`
	UpdatedOn          time.Time       `json:"updated_on"`
}

// CreditReport is a stored CIBIL credit-check row.
type CreditReport struct {
	ID          string     `json:"id"`
	UserID      *string    `json:"user_id"`
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	PhoneNumber *string    `json:"phone_number"`
	PANNumber   *string    `json:"pan_number"`
	CreditScore *int       `json:"credit_score"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}
