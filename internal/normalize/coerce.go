package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FlexNumber decodes a JSON number or numeric string. Blank, null or
// unparsable input leaves Value nil rather than failing the record.
type FlexNumber struct {
	Value *decimal.Decimal
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexNumber) UnmarshalJSON(b []byte) error {
	f.Value = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	}
	if s == "" {
		return nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		f.Value = &d
	}
	return nil
}

// Int returns the integer part, or nil.
func (f FlexNumber) Int() *int {
	if f.Value == nil {
		return nil
	}
	v := int(f.Value.IntPart())
	return &v
}

// String returns the canonical decimal text, or "" when unset.
func (f FlexNumber) String() string {
	if f.Value == nil {
		return ""
	}
	return f.Value.String()
}

// FlexString decodes a JSON string or number as text.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		*f = FlexString(b)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02",
}

// ParseTime parses the timestamp formats lead sources emit: RFC 3339 /
// ISO 8601 with or without a zone, and "YYYY-MM-DD HH:MM:SS.sss ±HHMM".
// Zone-less values are UTC. Blank or unparsable input yields nil.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// istZone is the +05:30 offset Beehiiv timestamps are reported in.
var istZone = time.FixedZone("IST", 5*3600+30*60)

// FromUnix converts Unix seconds to +05:30 with millisecond precision.
func FromUnix(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).In(istZone).Truncate(time.Millisecond)
	return &t
}

func cleanString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cleanEmail(s string) *string {
	return cleanString(strings.ToLower(s))
}

func joinName(parts ...string) *string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return cleanString(strings.Join(nonEmpty, " "))
}

func decimalFromFloat(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
