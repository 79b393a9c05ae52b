package dto

// TeamReportResponse wraps the per-team KPI figures returned by the analytics
// endpoint.
type TeamReportResponse struct {
	Team            string  `json:"team"`
	Total           int     `json:"total"`
	Open            int     `json:"open"`
	PendingApproval int     `json:"pending_approval"`
	Resolved        int     `json:"resolved"`
	Rejected        int     `json:"rejected"`
	Closed          int     `json:"closed"`
	AutoSolved      int     `json:"auto_solved"`
	AutoSolvedRate  float64 `json:"auto_solved_rate"`
}
