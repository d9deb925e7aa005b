package detector

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Signatures is the allow-list of negative signals the classifier matches
// against a navigation outcome. Challenge and no-results signals are kept
// strictly separate so the two verdicts can never come from the same
// match. New signatures are additive: a file loaded at startup appends to
// the built-in set, it does not replace it.
type Signatures struct {
	Challenge ChallengeSignatures `yaml:"challenge"`
	NoResults NoResultsSignatures `yaml:"no_results"`
}

// ChallengeSignatures identify an anti-bot interstitial. Fragment matches
// are case-insensitive substring tests.
type ChallengeSignatures struct {
	URLFragments   []string `yaml:"url_fragments"`
	HTMLFragments  []string `yaml:"html_fragments"`
	TitleFragments []string `yaml:"title_fragments"`
	StatusCodes    []int    `yaml:"status_codes"`
}

// NoResultsSignatures identify the storefront's own empty-results page
type NoResultsSignatures struct {
	HTMLFragments []string `yaml:"html_fragments"`
}

// DefaultSignatures returns the built-in signal set. The challenge side
// covers the DataDome delivery domains and interstitial markup observed
// on the drive storefront; the no-results side covers the storefront's
// empty-search phrasing.
func DefaultSignatures() Signatures {
	return Signatures{
		Challenge: ChallengeSignatures{
			URLFragments: []string{
				"captcha-delivery.com",
				"datadome.co",
			},
			HTMLFragments: []string{
				"captcha-delivery.com",
				"datadome",
				"window.dd=",
			},
			TitleFragments: []string{
				"you have been blocked",
				"access denied",
			},
			StatusCodes: []int{403, 429},
		},
		NoResults: NoResultsSignatures{
			HTMLFragments: []string{
				"aucun produit ne correspond",
				"aucun résultat",
				"aucun resultat",
			},
		},
	}
}

// LoadSignaturesFile reads additional signatures from a YAML file
func LoadSignaturesFile(path string) (Signatures, error) {
	var sigs Signatures

	data, err := os.ReadFile(path)
	if err != nil {
		return sigs, fmt.Errorf("failed to read signatures file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return sigs, fmt.Errorf("failed to parse signatures file: %w", err)
	}

	return sigs, nil
}

// Merge appends the other set's signals onto this one
func (s Signatures) Merge(other Signatures) Signatures {
	s.Challenge.URLFragments = append(s.Challenge.URLFragments, other.Challenge.URLFragments...)
	s.Challenge.HTMLFragments = append(s.Challenge.HTMLFragments, other.Challenge.HTMLFragments...)
	s.Challenge.TitleFragments = append(s.Challenge.TitleFragments, other.Challenge.TitleFragments...)
	s.Challenge.StatusCodes = append(s.Challenge.StatusCodes, other.Challenge.StatusCodes...)
	s.NoResults.HTMLFragments = append(s.NoResults.HTMLFragments, other.NoResults.HTMLFragments...)
	return s
}
