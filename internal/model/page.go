package model

// CombinedLeads is the response envelope for the combined-leads query.
type CombinedLeads struct {
	TotalRecords int    `json:"total_records"`
	Leads        []Lead `json:"leads"`
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
	TotalPages   int    `json:"total_pages"`
}
