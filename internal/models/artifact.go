package models

import "time"

// ArtifactKind classifies why a diagnostic capture was taken
type ArtifactKind string

const (
	ArtifactKindBlocked   ArtifactKind = "blocked"
	ArtifactKindError     ArtifactKind = "error"
	ArtifactKindNoResults ArtifactKind = "no_results"
)

// IsValid checks if the ArtifactKind is a known, valid kind
func (k ArtifactKind) IsValid() bool {
	switch k {
	case ArtifactKindBlocked, ArtifactKindError, ArtifactKindNoResults:
		return true
	}
	return false
}

// String returns the string representation of the ArtifactKind
func (k ArtifactKind) String() string {
	return string(k)
}

// Artifact records one diagnostic capture set for a job: screenshot, page
// markup and a network summary, written once and never rewritten. Paths
// are empty for pieces that could not be captured; a partial capture is
// still a valid artifact.
type Artifact struct {
	ID             string       `json:"id" badgerhold:"key"`
	JobID          string       `json:"job_id" badgerhold:"index"`
	Kind           ArtifactKind `json:"kind"`
	ScreenshotPath string       `json:"screenshot_path,omitempty"`
	HTMLPath       string       `json:"html_path,omitempty"`
	NetworkPath    string       `json:"network_path,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
