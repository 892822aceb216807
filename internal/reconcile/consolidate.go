package reconcile

import (
	"strings"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// Groups is the outcome of Consolidate.
type Groups struct {
	// Phone holds one merged lead per distinct phone number.
	Phone []model.Lead
	// EmailOnly holds one merged lead per distinct email among leads without a phone.
	EmailOnly []model.Lead
	// Dropped counts leads with neither phone nor email.
	Dropped int
}

// Consolidate partitions leads by identity anchor and merges duplicates in
// input order: the first lead seen for an identity keeps its populated
// fields, later ones only fill gaps.
func Consolidate(leads []model.Lead) Groups {
	var g Groups
	phoneIdx := map[string]int{}
	emailIdx := map[string]int{}

	for _, l := range leads {
		switch {
		case l.HasPhone():
			key := strings.TrimSpace(*l.PhoneNumber)
			if i, ok := phoneIdx[key]; ok {
				g.Phone[i].FillFrom(l)
				continue
			}
			phoneIdx[key] = len(g.Phone)
			g.Phone = append(g.Phone, l)
		case l.HasIdentity():
			key := strings.ToLower(strings.TrimSpace(*l.Email))
			if i, ok := emailIdx[key]; ok {
				g.EmailOnly[i].FillFrom(l)
				continue
			}
			emailIdx[key] = len(g.EmailOnly)
			g.EmailOnly = append(g.EmailOnly, l)
		default:
			g.Dropped++
		}
	}
	return g
}
