package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCollapsesAndTruncates(t *testing.T) {
	in := "  Hello   World\n\tFoo  "
	assert.Equal(t, "hello world foo", Normalize(in))

	long := strings.Repeat("a", 500)
	assert.Len(t, Normalize(long), 400)
}

func TestCompareDetectsEachChangeKind(t *testing.T) {
	base := Snapshot{URL: "https://a.test/", Title: "A", Text: "hello"}

	same := Compare(base, base)
	assert.False(t, same.StateChanged, "identical snapshots should not report a state change")

	urlChanged := Compare(base, Snapshot{URL: "https://b.test/", Title: "A", Text: "hello"})
	assert.True(t, urlChanged.StateChanged)
	assert.Contains(t, Message(urlChanged), "navigated")

	titleChanged := Compare(base, Snapshot{URL: base.URL, Title: "B", Text: "hello"})
	assert.True(t, titleChanged.StateChanged)
	assert.Contains(t, Message(titleChanged), "title changed")

	textChanged := Compare(base, Snapshot{URL: base.URL, Title: base.Title, Text: "goodbye"})
	assert.True(t, textChanged.StateChanged)
}

func TestMessageNoChange(t *testing.T) {
	o := Compare(Snapshot{URL: "x", Title: "y", Text: "z"}, Snapshot{URL: "x", Title: "y", Text: "z"})
	assert.Equal(t, "no observable change after action", Message(o))
}
