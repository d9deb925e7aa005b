package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a search job.
// Transitions are enforced by the job storage compare-and-swap; no caller
// writes Status directly.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusBlocked   JobStatus = "BLOCKED"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsValid checks if the JobStatus is a known, valid status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusBlocked, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is an end state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// IsActive reports whether a job in this status still owns work in
// progress (counts toward lock liveness for staleness checks).
func (s JobStatus) IsActive() bool {
	return s == JobStatusRunning || s == JobStatusBlocked
}

// String returns the string representation of the JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// JobKind represents the type of work a job carries
type JobKind string

const (
	// JobKindSearch is a retailer storefront product search
	JobKindSearch JobKind = "SEARCH"
)

// IsValid checks if the JobKind is a known, valid kind
func (k JobKind) IsValid() bool {
	return k == JobKindSearch
}

// String returns the string representation of the JobKind
func (k JobKind) String() string {
	return string(k)
}

// Job is the durable record of one unit of search work against the shared
// browser session. Query and Limit are immutable after creation; Status
// moves only through JobStorage.Transition. Jobs are never deleted - a
// retry creates a new job referencing this one via RetryOf.
type Job struct {
	ID    string  `json:"id" badgerhold:"key"`
	Kind  JobKind `json:"kind"`
	Query string  `json:"query"`
	Limit int     `json:"limit"`

	Status JobStatus `json:"status" badgerhold:"index"`

	// Result is populated only when Status is SUCCEEDED. An empty product
	// list is a valid successful result (NO_RESULTS outcome).
	Result *SearchResult `json:"result,omitempty"`

	// ErrorCode and ErrorMessage are populated only when Status is FAILED.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// BlockedURL is the URL that triggered a challenge. Non-empty exactly
	// while Status is BLOCKED.
	BlockedURL string `json:"blocked_url,omitempty"`

	// BlockEpisodes counts BLOCKED episodes within this attempt. The worker
	// allows at most one; a second challenge fails the job.
	BlockEpisodes int `json:"block_episodes"`

	// RetryOf is the id of the job this one was cloned from, if any.
	RetryOf string `json:"retry_of,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Product is one extracted storefront product card
type Product struct {
	Name             string `json:"name"`
	Brand            string `json:"brand,omitempty"`
	PriceText        string `json:"price_text,omitempty"`
	PricePerUnitText string `json:"price_per_unit_text,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`
	URL              string `json:"url,omitempty"`
}

// SearchResult is the output of a completed search job
type SearchResult struct {
	Query      string    `json:"query"`
	SearchURL  string    `json:"search_url"`
	Products   []Product `json:"products"`
	Count      int       `json:"count"`
	DurationMs int64     `json:"duration_ms"`
}

// ToJSON serializes the job for logging and API payloads
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
