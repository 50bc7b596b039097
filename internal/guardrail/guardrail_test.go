package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcway-labs/pilot/internal/action"
	"github.com/arcway-labs/pilot/internal/region"
)

func TestCheckDeniesSecretMarkerRegardlessOfTarget(t *testing.T) {
	g := New(nil, nil, nil)
	a := action.Action{Tag: action.DOMFill, RegionID: "r1", Value: "token=API_KEY-xyz"}
	v := g.Check(a, nil)
	assert.False(t, v.Allowed, "fill value containing a secret marker must be denied")
	assert.False(t, v.RequiresConfirmation, "a secret-marker denial is a hard deny, not a confirmation prompt")
}

func TestCheckRequiresConfirmationForSensitiveKeyword(t *testing.T) {
	g := New(nil, nil, nil)
	regions := []region.Region{{ID: "r1", Label: "Submit payment", Role: region.RoleButton}}
	a := action.Action{Tag: action.DOMClick, RegionID: "r1"}
	v := g.Check(a, regions)
	assert.False(t, v.Allowed)
	assert.True(t, v.RequiresConfirmation, "sensitive keyword match should request confirmation")
}

func TestCheckAllowsOrdinaryAction(t *testing.T) {
	g := New(nil, nil, nil)
	regions := []region.Region{{ID: "r1", Label: "Next page", Role: region.RoleButton}}
	a := action.Action{Tag: action.DOMClick, RegionID: "r1"}
	v := g.Check(a, regions)
	assert.True(t, v.Allowed, "reason: %q", v.Reason)
}

func TestCheckUsesCustomKeywords(t *testing.T) {
	g := New([]string{"archive"}, nil, nil)
	regions := []region.Region{{ID: "r1", Label: "Archive conversation", Role: region.RoleButton}}
	v := g.Check(action.Action{Tag: action.DOMClick, RegionID: "r1"}, regions)
	assert.False(t, v.Allowed, "custom keyword should still require confirmation")
}

func TestAllowedURLEmptyListAllowsEverything(t *testing.T) {
	g := New(nil, nil, nil)
	assert.True(t, g.AllowedURL("https://anything.example/path"))
}

func TestAllowedURLExactAndSuffixMatch(t *testing.T) {
	g := New(nil, nil, []string{"example.com"})
	cases := map[string]bool{
		"https://example.com/":      true,
		"https://shop.example.com/": true,
		"https://notexample.com/":   false,
		"https://example.com.evil/": false,
	}
	for rawURL, want := range cases {
		assert.Equal(t, want, g.AllowedURL(rawURL), "AllowedURL(%q)", rawURL)
	}
}

func TestAllowedURLInvalidURL(t *testing.T) {
	g := New(nil, nil, []string{"example.com"})
	assert.False(t, g.AllowedURL("://not a url"))
}
