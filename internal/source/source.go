// Package source fetches raw lead records from the systems that feed the
// CRM: Strapi loan and CIBIL forms, Beehiiv subscribers, and the local
// credit_reports table.
package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// ErrSourceUnavailable marks a source that could not be read after retries.
var ErrSourceUnavailable = eris.New("source: unavailable")

// Kind identifies the record layout a Payload follows. Two kinds may share
// a lead Source (credit reports are branded strapi_cibil).
type Kind string

// Record kinds.
const (
	KindStrapiLoan   Kind = "strapi_loan"
	KindStrapiCIBIL  Kind = "strapi_cibil"
	KindBeehiiv      Kind = "beehiiv"
	KindCreditReport Kind = "credit_report"
)

// Record is one raw object from a source, kept verbatim.
type Record struct {
	Kind    Kind            `json:"kind"`
	Source  model.Source    `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// FetchOptions narrows a fetch.
type FetchOptions struct {
	// Since, when non-zero, limits results to records created after it.
	Since time.Time
}

// Adapter reads every record a source holds.
type Adapter interface {
	// Name is the key used for logging, metrics, breakers and caching.
	Name() string
	// Source is the lead source the adapter's records are tagged with.
	Source() model.Source
	FetchAll(ctx context.Context, opts FetchOptions) ([]Record, error)
}

func unavailable(err error, name string) error {
	return eris.Wrapf(ErrSourceUnavailable, "source: %s: %v", name, err)
}
