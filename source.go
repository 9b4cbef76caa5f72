package salesetl

import (
	"fmt"
	"path/filepath"
)

// DefaultInputPath is the export read when no input is configured.
var DefaultInputPath = filepath.Join("data", "raw", "sales_data.csv")

// Source identifies the sales export a run reads.
// It is a Cloud Storage object when Bucket is set, otherwise a local file.
type Source struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// FullPath returns gs://bucket/name for storage objects and the plain path for local files.
func (s Source) FullPath() string {
	if s.Bucket == "" {
		return s.Name
	}
	return fmt.Sprintf("gs://%s/%s", s.Bucket, s.Name)
}

// IsStorage reports whether s points to Cloud Storage.
func (s Source) IsStorage() bool {
	return s.Bucket != ""
}
