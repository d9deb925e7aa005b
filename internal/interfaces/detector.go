package interfaces

import "github.com/ternarybob/mercor/internal/models"

// Classifier inspects a navigation outcome and decides whether the
// storefront answered normally, returned an empty result set, or
// substituted an anti-bot challenge. Detection is an allow-list of known
// negative signals; an unrecognized page is never classified NO_RESULTS,
// so a new challenge type degrades to an extraction failure with
// artifacts rather than a silent empty success.
type Classifier interface {
	Classify(outcome *models.NavigationOutcome) models.Classification
}
