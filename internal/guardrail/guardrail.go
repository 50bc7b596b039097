// Package guardrail vets proposed actions against a configurable sensitive
// keyword list, a hard-deny secret-marker check, and a domain allowlist.
package guardrail

import (
	"net/url"
	"strings"

	"github.com/arcway-labs/pilot/internal/action"
	"github.com/arcway-labs/pilot/internal/region"
)

// DefaultKeywords mirrors the spec's stated default sensitive-action
// keyword list.
var DefaultKeywords = []string{"submit", "enroll", "pay", "send", "delete", "remove"}

// DefaultSecretMarkers are literal substrings that, if found in a fill
// value, deny the action outright — it is never sent to the LLM.
var DefaultSecretMarkers = []string{"SECRET.", "PASSWORD", "API_KEY"}

// Verdict is the outcome of a guardrail check.
type Verdict struct {
	Allowed              bool
	Reason               string
	RequiresConfirmation bool
}

// Gate holds the configured keyword/marker/domain lists.
type Gate struct {
	keywords      []string
	secretMarkers []string
	allowedHosts  []string
}

// New builds a Gate. Empty slices fall back to the documented defaults.
func New(keywords, secretMarkers, allowedHosts []string) *Gate {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if len(secretMarkers) == 0 {
		secretMarkers = DefaultSecretMarkers
	}
	return &Gate{keywords: keywords, secretMarkers: secretMarkers, allowedHosts: allowedHosts}
}

// Check vets a to-be-executed action against the target region (if the
// action addresses one by id) and against the secret-marker hard-deny.
func (g *Gate) Check(a action.Action, regions []region.Region) Verdict {
	if fillValue := fillValueOf(a); fillValue != "" {
		for _, marker := range g.secretMarkers {
			if strings.Contains(fillValue, marker) {
				return Verdict{Allowed: false, Reason: "fill value contains a secret marker", RequiresConfirmation: false}
			}
		}
	}

	if a.RegionID != "" {
		for _, r := range regions {
			if r.ID != a.RegionID {
				continue
			}
			label := strings.ToLower(r.Label)
			for _, kw := range g.keywords {
				if strings.Contains(label, strings.ToLower(kw)) {
					return Verdict{Allowed: false, Reason: "target label matches sensitive keyword " + kw, RequiresConfirmation: true}
				}
			}
		}
	}

	return Verdict{Allowed: true}
}

// AllowedURL reports whether host matches an allowed domain — exact match
// or a "."-suffix match (e.g. "example.com" matches "shop.example.com").
func (g *Gate) AllowedURL(rawURL string) bool {
	if len(g.allowedHosts) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range g.allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func fillValueOf(a action.Action) string {
	switch a.Tag {
	case action.VisionFill, action.DOMFill:
		return a.Value
	default:
		return ""
	}
}
