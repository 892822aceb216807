// Package filter implements the combined-leads filter engine: criteria
// parsing, in-memory filtering and sorting of unified leads, and the
// equivalent SQL predicate for the users table.
package filter

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// Params are the raw filter inputs of a combined-leads request.
type Params struct {
	Search         string
	DateRange      string
	DateFrom       string
	DateTo         string
	LoanAmount     string
	EmploymentType string
	CIBILScore     string
	// Sources may hold individual names or comma-separated lists.
	Sources []string
}

// Criteria is the resolved form of Params. The zero value matches everything.
type Criteria struct {
	Search      string
	Start       *time.Time
	End         *time.Time
	LoanRanges  []Range
	Employment  []string
	CIBILRanges []Range
	Sources     []string
}

// Option customises NewCriteria.
type Option func(*options)

type options struct {
	buckets *Buckets
}

// WithBuckets resolves bucket names against b instead of the built-in table.
func WithBuckets(b *Buckets) Option {
	return func(o *options) { o.buckets = b }
}

// employmentKeywords trigger the employment-type search rule.
var employmentKeywords = []string{"salaried", "business"}

// NewCriteria resolves p once per request. Unknown bucket names and
// unparsable dates are ignored.
func NewCriteria(p Params, now time.Time, opts ...Option) Criteria {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buckets == nil {
		o.buckets = DefaultBuckets()
	}

	c := Criteria{
		Search:      cases.Fold().String(strings.TrimSpace(p.Search)),
		LoanRanges:  o.buckets.LoanAmount(p.LoanAmount),
		CIBILRanges: o.buckets.CIBIL(p.CIBILScore),
	}
	c.Start, c.End = ResolveDateRange(p.DateRange, ParseDate(p.DateFrom), ParseDate(p.DateTo), now)

	for _, e := range splitList(p.EmploymentType) {
		c.Employment = append(c.Employment, strings.ToLower(e))
	}

	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			c.Sources = append(c.Sources, s)
		}
	}
	for _, raw := range p.Sources {
		for _, s := range splitList(raw) {
			s = strings.ToLower(s)
			add(s)
			if s == string(model.SourceWebsite) {
				for _, w := range model.WebsiteSources {
					add(string(w))
				}
			}
		}
	}
	slices.Sort(c.Sources)

	return c
}

// AllowsSource reports whether leads tagged src can pass the source criterion.
func (c Criteria) AllowsSource(src model.Source) bool {
	if len(c.Sources) == 0 {
		return true
	}
	_, ok := slices.BinarySearch(c.Sources, src.Lower())
	return ok
}

// IsEmpty reports whether no criterion is active.
func (c Criteria) IsEmpty() bool {
	return c.Search == "" && c.Start == nil && c.End == nil &&
		len(c.LoanRanges) == 0 && len(c.Employment) == 0 &&
		len(c.CIBILRanges) == 0 && len(c.Sources) == 0
}

func (c Criteria) searchesWebsite() bool {
	return strings.Contains(c.Search, string(model.SourceWebsite))
}

func (c Criteria) searchesEmployment() bool {
	for _, k := range employmentKeywords {
		if strings.Contains(c.Search, k) {
			return true
		}
	}
	return false
}
