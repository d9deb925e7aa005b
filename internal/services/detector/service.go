package detector

import (
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

// Service classifies navigation outcomes against the signature set.
// Stateless after construction; safe for concurrent use.
type Service struct {
	sigs   Signatures
	logger arbor.ILogger
}

// NewService builds a classifier from the built-in signatures plus any
// additional file configured under [detector].
func NewService(config *common.Config, logger arbor.ILogger) (interfaces.Classifier, error) {
	sigs := DefaultSignatures()

	if path := config.Detector.SignaturesFile; path != "" {
		extra, err := LoadSignaturesFile(path)
		if err != nil {
			return nil, err
		}
		sigs = sigs.Merge(extra)
		logger.Info().Str("file", path).Msg("Loaded additional challenge signatures")
	}

	return &Service{sigs: sigs, logger: logger}, nil
}

// Classify matches the outcome against challenge signals first, then
// no-results signals. Anything unmatched is NORMAL; the caller decides
// what a NORMAL page with nothing extractable means.
func (s *Service) Classify(outcome *models.NavigationOutcome) models.Classification {
	if outcome == nil {
		return models.Classification{Verdict: models.VerdictNormal}
	}

	if reason, ok := s.matchChallenge(outcome); ok {
		s.logger.Warn().
			Str("url", outcome.FinalURL).
			Str("reason", reason).
			Msg("Challenge detected")
		return models.Classification{Verdict: models.VerdictChallenge, Reason: reason}
	}

	html := strings.ToLower(outcome.HTML)
	for _, fragment := range s.sigs.NoResults.HTMLFragments {
		if strings.Contains(html, strings.ToLower(fragment)) {
			return models.Classification{Verdict: models.VerdictNoResults}
		}
	}

	return models.Classification{Verdict: models.VerdictNormal}
}

// matchChallenge checks URL, document status, title and markup in that
// order and reports the first matched signal.
func (s *Service) matchChallenge(outcome *models.NavigationOutcome) (string, bool) {
	finalURL := strings.ToLower(outcome.FinalURL)
	for _, fragment := range s.sigs.Challenge.URLFragments {
		if strings.Contains(finalURL, strings.ToLower(fragment)) {
			return "url:" + fragment, true
		}
	}

	for _, code := range s.sigs.Challenge.StatusCodes {
		if outcome.Status == code {
			return "status:" + strconv.Itoa(code), true
		}
	}

	title := strings.ToLower(outcome.Title)
	for _, fragment := range s.sigs.Challenge.TitleFragments {
		if strings.Contains(title, strings.ToLower(fragment)) {
			return "title:" + fragment, true
		}
	}

	html := strings.ToLower(outcome.HTML)
	for _, fragment := range s.sigs.Challenge.HTMLFragments {
		if strings.Contains(html, strings.ToLower(fragment)) {
			return "html:" + fragment, true
		}
	}

	return "", false
}
