package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/models"
)

func newTestClassifier(t *testing.T) *Service {
	t.Helper()
	config := common.NewDefaultConfig()
	svc, err := NewService(config, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc.(*Service)
}

func TestClassify(t *testing.T) {
	classifier := newTestClassifier(t)

	tests := []struct {
		name    string
		outcome models.NavigationOutcome
		verdict models.Verdict
	}{
		{
			name: "normal results page",
			outcome: models.NavigationOutcome{
				FinalURL: "https://fd6-courses.leclercdrive.fr/magasin/recherche.aspx?TexteRecherche=coca",
				Status:   200,
				Title:    "Recherche coca",
				HTML:     `<div class="liste-produits"><div class="produit">Coca-Cola</div></div>`,
			},
			verdict: models.VerdictNormal,
		},
		{
			name: "datadome redirect url",
			outcome: models.NavigationOutcome{
				FinalURL: "https://geo.captcha-delivery.com/captcha/?initialCid=abc",
				Status:   200,
				HTML:     "<html></html>",
			},
			verdict: models.VerdictChallenge,
		},
		{
			name: "datadome interstitial markup",
			outcome: models.NavigationOutcome{
				FinalURL: "https://fd6-courses.leclercdrive.fr/magasin/recherche.aspx",
				Status:   200,
				HTML:     `<html><head><script>window.dd={'rt':'c','cid':'x'}</script></head></html>`,
			},
			verdict: models.VerdictChallenge,
		},
		{
			name: "blocked title",
			outcome: models.NavigationOutcome{
				FinalURL: "https://fd6-courses.leclercdrive.fr/magasin/recherche.aspx",
				Status:   200,
				Title:    "You have been blocked",
			},
			verdict: models.VerdictChallenge,
		},
		{
			name: "document 403",
			outcome: models.NavigationOutcome{
				FinalURL: "https://fd6-courses.leclercdrive.fr/magasin/recherche.aspx",
				Status:   403,
				HTML:     "<html><body>Forbidden</body></html>",
			},
			verdict: models.VerdictChallenge,
		},
		{
			name: "storefront empty results",
			outcome: models.NavigationOutcome{
				FinalURL: "https://fd6-courses.leclercdrive.fr/magasin/recherche.aspx?TexteRecherche=zzz",
				Status:   200,
				HTML:     `<div class="message">Aucun produit ne correspond à votre recherche.</div>`,
			},
			verdict: models.VerdictNoResults,
		},
		{
			name: "unknown page stays normal",
			outcome: models.NavigationOutcome{
				FinalURL: "https://fd6-courses.leclercdrive.fr/maintenance",
				Status:   200,
				HTML:     "<html><body>Maintenance en cours</body></html>",
			},
			verdict: models.VerdictNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifier.Classify(&tt.outcome)
			if got.Verdict != tt.verdict {
				t.Errorf("verdict = %q, want %q", got.Verdict, tt.verdict)
			}
			if got.Verdict == models.VerdictChallenge && got.Reason == "" {
				t.Error("challenge verdict must carry a reason")
			}
			if got.Verdict != models.VerdictChallenge && got.Reason != "" {
				t.Errorf("unexpected reason %q for verdict %q", got.Reason, got.Verdict)
			}
		})
	}
}

func TestClassifyChallengeWinsOverNoResults(t *testing.T) {
	classifier := newTestClassifier(t)

	// A challenge page that happens to mention the empty-results phrase
	// must still classify as a challenge, never as a clean empty search.
	outcome := models.NavigationOutcome{
		FinalURL: "https://fd6-courses.leclercdrive.fr/magasin/recherche.aspx",
		Status:   200,
		HTML:     `<html><script src="https://ct.captcha-delivery.com/c.js"></script>Aucun produit ne correspond</html>`,
	}

	got := classifier.Classify(&outcome)
	if got.Verdict != models.VerdictChallenge {
		t.Errorf("verdict = %q, want %q", got.Verdict, models.VerdictChallenge)
	}
}

func TestSignaturesFileIsAdditive(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "signatures.yaml")
	content := []byte("challenge:\n  html_fragments:\n    - \"cf-challenge\"\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write signatures file: %v", err)
	}

	config := common.NewDefaultConfig()
	config.Detector.SignaturesFile = path
	svc, err := NewService(config, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	// New signature matches
	got := svc.Classify(&models.NavigationOutcome{
		Status: 200,
		HTML:   `<div id="cf-challenge"></div>`,
	})
	if got.Verdict != models.VerdictChallenge {
		t.Errorf("verdict = %q, want %q", got.Verdict, models.VerdictChallenge)
	}

	// Built-in signatures survive the merge
	got = svc.Classify(&models.NavigationOutcome{
		Status: 200,
		HTML:   `<script src="https://ct.captcha-delivery.com/c.js"></script>`,
	})
	if got.Verdict != models.VerdictChallenge {
		t.Errorf("verdict = %q, want %q", got.Verdict, models.VerdictChallenge)
	}
}

func TestLoadSignaturesFileMissing(t *testing.T) {
	if _, err := LoadSignaturesFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing signatures file")
	}
}
