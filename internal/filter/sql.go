package filter

import (
	"fmt"
	"strings"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// searchColumns are the users-table expressions a search term is matched against.
var searchColumns = []string{
	"full_name",
	"email",
	"phone_number",
	"raw_data->>'loan_type'",
	"loan_purpose",
	"source",
	"raw_data->>'email'",
	"raw_data->>'phone_number'",
}

// SQL renders c as a parameterized WHERE fragment over the users table.
// Placeholders are numbered from startArg. An empty fragment means no
// criterion is active.
func (c Criteria) SQL(startArg int) (string, []any) {
	b := sqlBuilder{next: startArg}

	if c.Search != "" {
		p := b.arg("%" + escapeLike(c.Search) + "%")
		var ors []string
		for _, col := range searchColumns {
			ors = append(ors, fmt.Sprintf("%s ILIKE %s", col, p))
		}
		if c.searchesWebsite() {
			ors = append(ors, fmt.Sprintf("LOWER(source) = ANY(%s)", b.arg(websiteNames())))
		}
		if c.searchesEmployment() {
			for _, k := range employmentKeywords {
				ors = append(ors, fmt.Sprintf("employment_type ILIKE %s", b.arg("%"+k+"%")))
			}
		}
		b.where("(" + strings.Join(ors, " OR ") + ")")
	}

	const activity = "COALESCE(last_communicated, created_on)"
	if c.Start != nil {
		b.where(fmt.Sprintf("%s >= %s", activity, b.arg(*c.Start)))
	}
	if c.End != nil {
		b.where(fmt.Sprintf("%s <= %s", activity, b.arg(*c.End)))
	}

	if len(c.LoanRanges) > 0 {
		b.where(b.ranges("loan_amount", c.LoanRanges, func(r Range, min bool) any {
			if min {
				return r.Min.InexactFloat64()
			}
			return r.Max.InexactFloat64()
		}))
	}
	if len(c.Employment) > 0 {
		b.where(fmt.Sprintf("LOWER(employment_type) = ANY(%s)", b.arg(c.Employment)))
	}
	if len(c.CIBILRanges) > 0 {
		b.where(b.ranges("cibil_score", c.CIBILRanges, func(r Range, min bool) any {
			if min {
				return r.Min.IntPart()
			}
			return r.Max.IntPart()
		}))
	}
	if len(c.Sources) > 0 {
		b.where(fmt.Sprintf("LOWER(source) = ANY(%s)", b.arg(c.Sources)))
	}

	return strings.Join(b.conds, " AND "), b.args
}

type sqlBuilder struct {
	next  int
	conds []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	p := fmt.Sprintf("$%d", b.next)
	b.next++
	return p
}

func (b *sqlBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

// ranges renders an OR of inclusive bounds; NULL column values never match.
func (b *sqlBuilder) ranges(col string, rs []Range, bound func(Range, bool) any) string {
	var ors []string
	for _, r := range rs {
		var parts []string
		if r.Min != nil {
			parts = append(parts, fmt.Sprintf("%s >= %s", col, b.arg(bound(r, true))))
		}
		if r.Max != nil {
			parts = append(parts, fmt.Sprintf("%s <= %s", col, b.arg(bound(r, false))))
		}
		if len(parts) == 0 {
			parts = append(parts, col+" IS NOT NULL")
		}
		ors = append(ors, "("+strings.Join(parts, " AND ")+")")
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}

func websiteNames() []string {
	out := make([]string, len(model.WebsiteSources))
	for i, s := range model.WebsiteSources {
		out[i] = string(s)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
