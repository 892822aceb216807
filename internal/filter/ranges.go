package filter

import (
	_ "embed"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed buckets.yaml
var defaultBucketsYAML []byte

// Range is an inclusive numeric interval. A nil bound is open.
type Range struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

// Contains reports whether v lies within r, bounds included.
func (r Range) Contains(v decimal.Decimal) bool {
	if r.Min != nil && v.LessThan(*r.Min) {
		return false
	}
	if r.Max != nil && v.GreaterThan(*r.Max) {
		return false
	}
	return true
}

type bound struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

func (b bound) toRange() Range {
	var r Range
	if b.Min != nil {
		d := decimal.NewFromFloat(*b.Min)
		r.Min = &d
	}
	if b.Max != nil {
		d := decimal.NewFromFloat(*b.Max)
		r.Max = &d
	}
	return r
}

// Buckets maps bucket names to ranges for the loan-amount and CIBIL filters.
type Buckets struct {
	LoanAmountTable map[string]Range
	CIBILTable      map[string]Range
}

// ParseBuckets decodes a bucket table in the buckets.yaml layout.
func ParseBuckets(data []byte) (*Buckets, error) {
	var raw struct {
		LoanAmount map[string]bound `yaml:"loan_amount"`
		CIBILScore map[string]bound `yaml:"cibil_score"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "filter: parse buckets")
	}
	b := &Buckets{
		LoanAmountTable: make(map[string]Range, len(raw.LoanAmount)),
		CIBILTable:      make(map[string]Range, len(raw.CIBILScore)),
	}
	for name, v := range raw.LoanAmount {
		b.LoanAmountTable[name] = v.toRange()
	}
	for name, v := range raw.CIBILScore {
		b.CIBILTable[name] = v.toRange()
	}
	return b, nil
}

// LoadBuckets reads a bucket table from path, or returns the built-in
// table when path is empty.
func LoadBuckets(path string) (*Buckets, error) {
	if path == "" {
		return DefaultBuckets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "filter: read buckets file %s", path)
	}
	return ParseBuckets(data)
}

// DefaultBuckets returns the built-in bucket table.
func DefaultBuckets() *Buckets {
	b, err := ParseBuckets(defaultBucketsYAML)
	if err != nil {
		panic(err)
	}
	return b
}

// LoanAmount resolves a comma-separated list of loan-amount bucket names.
func (b *Buckets) LoanAmount(spec string) []Range {
	return lookup(b.LoanAmountTable, spec, "loan_amount")
}

// CIBIL resolves a comma-separated list of CIBIL bucket names.
func (b *Buckets) CIBIL(spec string) []Range {
	return lookup(b.CIBILTable, spec, "cibil_score")
}

func lookup(table map[string]Range, spec, kind string) []Range {
	var out []Range
	for _, name := range splitList(spec) {
		r, ok := table[name]
		if !ok {
			zap.L().Debug("ignoring unknown filter bucket",
				zap.String("component", "filter"),
				zap.String("kind", kind),
				zap.String("bucket", name),
			)
			continue
		}
		out = append(out, r)
	}
	return out
}

// ParseLoanAmountRanges resolves loan-amount bucket names against the
// built-in table. Unknown names are dropped.
func ParseLoanAmountRanges(spec string) []Range {
	return DefaultBuckets().LoanAmount(spec)
}

// ParseCIBILRanges resolves CIBIL bucket names against the built-in table.
func ParseCIBILRanges(spec string) []Range {
	return DefaultBuckets().CIBIL(spec)
}

var namedRanges = map[string]int{
	"last_7_days":   7,
	"last_30_days":  30,
	"last_90_days":  90,
	"last_180_days": 180,
	"last_365_days": 365,
}

// ResolveDateRange turns a named range or a custom from/to pair into
// absolute bounds. A named range wins over from/to; "all_time", an unknown
// name with no custom pair, or a half-open custom pair yield no bounds.
// Zone-less custom bounds are taken as UTC.
func ResolveDateRange(named string, from, to *time.Time, now time.Time) (start, end *time.Time) {
	named = strings.TrimSpace(strings.ToLower(named))
	if named == "all_time" {
		return nil, nil
	}
	if days, ok := namedRanges[named]; ok {
		s := now.AddDate(0, 0, -days)
		e := now
		return &s, &e
	}
	if from != nil && to != nil {
		return from, to
	}
	return nil, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a date_from/date_to query value. Values without a zone
// are UTC. It returns nil for blank or unparsable input.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	zap.L().Debug("ignoring unparsable date", zap.String("component", "filter"), zap.String("value", s))
	return nil
}

func splitList(spec string) []string {
	var out []string
	for _, part := range strings.Split(spec, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
