package leads

import "github.com/fintech-crm/lead-engine/internal/model"

// Paginate slices leads into the requested page. page and pageSize below 1
// are clamped to 1; a page past the end yields an empty, non-nil slice.
func Paginate(leads []model.Lead, page, pageSize int) model.CombinedLeads {
	page = max(page, 1)
	pageSize = max(pageSize, 1)

	total := len(leads)
	out := model.CombinedLeads{
		TotalRecords: total,
		Leads:        []model.Lead{},
		Page:         page,
		PageSize:     pageSize,
		TotalPages:   total / pageSize,
	}
	if total%pageSize != 0 {
		out.TotalPages++
	}

	// Compare page counts before multiplying so huge pages cannot overflow.
	if page-1 >= out.TotalPages {
		return out
	}
	start := (page - 1) * pageSize
	out.Leads = leads[start : start+min(pageSize, total-start)]
	return out
}
