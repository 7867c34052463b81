package domain

// TrailerRef is a job-site membership entry. Either field may be empty.
type TrailerRef struct {
	SiteID string `json:"site_id"`
	Name   string `json:"name"`
}

// JobSite is a physical location grouping trailers.
type JobSite struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   string       `json:"status"`
	Trailers []TrailerRef `json:"trailers"`
}
