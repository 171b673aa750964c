package domain

// IngestionReport summarises one ingestion run.
type IngestionReport struct {
	InsertedCount  int `json:"insertedCount"`
	UpdatedCount   int `json:"updatedCount"`
	SkippedCount   int `json:"skippedCount"`
	Total          int `json:"total"`
	FailedCount    int `json:"failedCount,omitempty"`
	MalformedCount int `json:"malformedCount,omitempty"`

	// Artifacts names the staged artifacts an API refresh produced.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Add folds another report's counters into r.
func (r *IngestionReport) Add(o IngestionReport) {
	r.InsertedCount += o.InsertedCount
	r.UpdatedCount += o.UpdatedCount
	r.SkippedCount += o.SkippedCount
	r.Total += o.Total
	r.FailedCount += o.FailedCount
	r.MalformedCount += o.MalformedCount
}
