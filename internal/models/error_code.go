package models

// Job error codes. Recorded on the job when it fails; machine-readable so
// callers can distinguish root causes without reading artifacts.
const (
	// ErrCodeLockDenied - session held by the other controller at claim time
	ErrCodeLockDenied = "LOCK_DENIED"

	// ErrCodeCDPUnreachable - remote browser session unreachable or down
	ErrCodeCDPUnreachable = "CDP_UNREACHABLE"

	// ErrCodeChallengeDetected - anti-bot challenge encountered. Normally
	// drives BLOCKED; recorded as terminal only when suspension itself
	// cannot complete
	ErrCodeChallengeDetected = "CHALLENGE_DETECTED"

	// ErrCodeUnblockTimeout - human did not resolve the challenge in time
	ErrCodeUnblockTimeout = "UNBLOCK_TIMEOUT"

	// ErrCodeDataDomeBlocked - challenge reappeared after the one allowed
	// resume attempt
	ErrCodeDataDomeBlocked = "DATADOME_BLOCKED"

	// ErrCodeExtractionError - page reached but content unparseable
	ErrCodeExtractionError = "EXTRACTION_ERROR"
)

// NoResultsReason labels a successful empty outcome; it is not an error
// code and never appears in Job.ErrorCode.
const NoResultsReason = "NO_RESULTS"
