package model

// IndexJob asks the indexing worker to embed one stored document into a
// vector-store location.
type IndexJob struct {
	JobID      string `json:"job_id"`
	DocumentID uint   `json:"document_id"`
	StoreLoc   string `json:"store_loc"`
}
