package indexer

import (
	"time"
)

// SkippedDocument names a document left out of a rebuild and why.
type SkippedDocument struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RebuildReport summarises one committed rebuild.
type RebuildReport struct {
	IndexDir   string            `json:"index_dir"`
	Generation int64             `json:"generation"`
	Indexed    int               `json:"indexed"`
	Skipped    []SkippedDocument `json:"skipped"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
}

// SkippedCount returns the number of documents that could not be read.
func (r *RebuildReport) SkippedCount() int {
	return len(r.Skipped)
}
