// Package verify implements the post-action sanity check: it compares
// page state before and after an action and reports whether anything
// observable changed. It never gates continuation — the agent loop's
// Outcome is the true signal for that.
package verify

import (
	"context"
	"regexp"
	"strings"

	"github.com/arcway-labs/pilot/internal/browser"
)

// Snapshot is the pre/post state captured around an action.
type Snapshot struct {
	URL   string
	Title string
	Text  string
}

// Outcome is the result of comparing two Snapshots.
type Outcome struct {
	URLBefore, URLAfter     string
	TitleBefore, TitleAfter string
	TextBefore, TextAfter   string
	StateChanged            bool
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize lowercases, collapses whitespace, and truncates to 400 chars —
// the form Outcome.Text{Before,After} are compared in.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		s = s[:400]
	}
	return s
}

// Capture reads the current url/title/text from ctrl. It is wrapped in a
// try/catch by the caller's convention: the execution context can be
// destroyed mid-read by a navigation the just-executed action triggered,
// and that must be treated as "proceed, next OBSERVE will re-read state"
// rather than a hard failure.
func Capture(ctx context.Context, ctrl browser.Controller) Snapshot {
	url := ctrl.CurrentURL()
	title, err := ctrl.Title()
	if err != nil {
		title = ""
	}
	text, err := ctrl.Read(ctx, "")
	if err != nil {
		text = ""
	}
	return Snapshot{URL: url, Title: title, Text: Normalize(text)}
}

// Compare derives an Outcome from a before/after pair.
func Compare(before, after Snapshot) Outcome {
	o := Outcome{
		URLBefore: before.URL, URLAfter: after.URL,
		TitleBefore: before.Title, TitleAfter: after.Title,
		TextBefore: before.Text, TextAfter: after.Text,
	}
	o.StateChanged = o.URLBefore != o.URLAfter || o.TitleBefore != o.TitleAfter || o.TextBefore != o.TextAfter
	return o
}

// Message renders a human-readable description of what was observed,
// independent of whether state changed — used in logs and history.
func Message(o Outcome) string {
	if !o.StateChanged {
		return "no observable change after action"
	}
	if o.URLBefore != o.URLAfter {
		return "navigated from " + o.URLBefore + " to " + o.URLAfter
	}
	if o.TitleBefore != o.TitleAfter {
		return "title changed to " + o.TitleAfter
	}
	return "page text changed"
}
