package model

import "strings"

// Source identifies the system a lead originated from.
type Source string

// Canonical lead sources.
const (
	SourceInternalCRM Source = "internal_crm"
	SourceStrapiLoan  Source = "strapi_loan"
	SourceStrapiCIBIL Source = "strapi_cibil"
	SourceBeehiiv     Source = "beehiiv"
)

// SourceWebsite is the user-facing alias for every website-originated source.
const SourceWebsite Source = "website"

// WebsiteSources are the sources branded "Website" to end users.
var WebsiteSources = []Source{SourceBeehiiv, SourceStrapiLoan, SourceStrapiCIBIL}

// IsWebsite reports whether s is one of the website-originated sources.
func (s Source) IsWebsite() bool {
	for _, w := range WebsiteSources {
		if s == w {
			return true
		}
	}
	return false
}

// Lower returns the case-folded source name used in comparisons.
func (s Source) Lower() string {
	return strings.ToLower(string(s))
}

// Employment types accepted by the CRM. Free text from forms is kept as-is.
const (
	EmploymentSalaried     = "salaried"
	EmploymentSelfEmployed = "self_employed"
	EmploymentBusiness     = "business"
	EmploymentOther        = "other"
)
