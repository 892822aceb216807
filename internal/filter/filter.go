package filter

import (
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// Apply returns the leads matching every active criterion, most recently
// active first. Leads without an activity time sort last; ties keep input order.
func Apply(leads []model.Lead, c Criteria) []model.Lead {
	out := Match(leads, c)
	SortByActivity(out)
	return out
}

// Match returns the leads matching every active criterion in input order.
func Match(leads []model.Lead, c Criteria) []model.Lead {
	m := matcher{c: c, fold: cases.Fold()}

	out := make([]model.Lead, 0, len(leads))
	for i := range leads {
		if m.match(&leads[i]) {
			out = append(out, leads[i])
		}
	}
	return out
}

// SortByActivity stable-sorts leads by ActivityTime, newest first, nil last.
func SortByActivity(leads []model.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		a, b := leads[i].ActivityTime(), leads[j].ActivityTime()
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

type matcher struct {
	c    Criteria
	fold cases.Caser
}

func (m *matcher) match(l *model.Lead) bool {
	return m.matchSearch(l) &&
		m.matchDates(l) &&
		matchRanges(m.c.LoanRanges, l.LoanAmount) &&
		m.matchEmployment(l) &&
		matchRanges(m.c.CIBILRanges, cibilDecimal(l.CIBILScore)) &&
		m.c.AllowsSource(l.LeadSource)
}

func (m *matcher) contains(field string) bool {
	return field != "" && strings.Contains(m.fold.String(field), m.c.Search)
}

func (m *matcher) matchSearch(l *model.Lead) bool {
	if m.c.Search == "" {
		return true
	}
	fields := []string{
		model.Deref(l.FullName),
		model.Deref(l.Email),
		model.Deref(l.PhoneNumber),
		model.Deref(l.LoanType),
		model.Deref(l.LoanPurpose),
		string(l.LeadSource),
		l.RawString("loan_type"),
		l.RawString("email"),
		l.RawString("phone_number"),
	}
	if slices.ContainsFunc(fields, m.contains) {
		return true
	}
	if m.c.searchesWebsite() && l.LeadSource.IsWebsite() {
		return true
	}
	if m.c.searchesEmployment() && l.EmploymentType != nil {
		emp := strings.ToLower(*l.EmploymentType)
		for _, k := range employmentKeywords {
			if strings.Contains(emp, k) {
				return true
			}
		}
	}
	return false
}

func (m *matcher) matchDates(l *model.Lead) bool {
	if m.c.Start == nil && m.c.End == nil {
		return true
	}
	t := l.ContactTime()
	if t == nil {
		return false
	}
	if m.c.Start != nil && t.Before(*m.c.Start) {
		return false
	}
	if m.c.End != nil && t.After(*m.c.End) {
		return false
	}
	return true
}

func (m *matcher) matchEmployment(l *model.Lead) bool {
	if len(m.c.Employment) == 0 {
		return true
	}
	if l.EmploymentType == nil {
		return false
	}
	return slices.Contains(m.c.Employment, strings.ToLower(*l.EmploymentType))
}

// matchRanges is true when no ranges are set, or v is non-nil and inside any of them.
func matchRanges(ranges []Range, v *decimal.Decimal) bool {
	if len(ranges) == 0 {
		return true
	}
	if v == nil {
		return false
	}
	for _, r := range ranges {
		if r.Contains(*v) {
			return true
		}
	}
	return false
}

func cibilDecimal(score *int) *decimal.Decimal {
	if score == nil {
		return nil
	}
	d := decimal.NewFromInt(int64(*score))
	return &d
}
