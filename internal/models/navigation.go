package models

// NavigationOutcome is what one navigation attempt against the storefront
// actually produced, as observed through the remote session. Input to the
// challenge classifier.
type NavigationOutcome struct {
	RequestedURL string `json:"requested_url"`
	FinalURL     string `json:"final_url"`
	Status       int    `json:"status"`
	Title        string `json:"title"`
	HTML         string `json:"html"`

	// Network counters collected over the navigation, for the artifact
	// network summary.
	RequestCount  int   `json:"request_count"`
	ResponseCount int   `json:"response_count"`
	FailedCount   int   `json:"failed_count"`
	DurationMs    int64 `json:"duration_ms"`
}

// Verdict is the classifier's judgement of a navigation outcome
type Verdict string

const (
	// VerdictNormal - proceed to extraction
	VerdictNormal Verdict = "NORMAL"

	// VerdictNoResults - zero items, a successful empty outcome
	VerdictNoResults Verdict = "NO_RESULTS"

	// VerdictChallenge - anti-bot challenge page detected
	VerdictChallenge Verdict = "CHALLENGE"
)

// String returns the string representation of the Verdict
func (v Verdict) String() string {
	return string(v)
}

// Classification is the Block Detector's output for one outcome. Reason is
// populated only for VerdictChallenge and names the matched signature.
type Classification struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}
