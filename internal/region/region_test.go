package region

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForPromptTruncatesAtMax(t *testing.T) {
	regions := []Region{
		{ID: "element-1", Role: RoleLink, Label: "Home", Href: "/"},
		{ID: "element-2", Role: RoleButton, Label: "Submit"},
		{ID: "element-3", Role: RoleInput, Label: "Search box"},
	}
	out := FormatForPrompt(regions, 2)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "element-1")
	assert.Contains(t, lines[0], `href="/"`)
	assert.NotContains(t, out, "element-3", "region beyond max should not appear")
}

func TestFormatForPromptEmpty(t *testing.T) {
	assert.Empty(t, FormatForPrompt(nil, 10))
}
