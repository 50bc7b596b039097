// Package region implements the interactive-element scanner: it turns the
// live DOM into a list of Regions addressed by a fresh-per-scan identity
// attribute, never by position. This is the fix for the phantom-click bug
// inherited from positional (nth(i)) element addressing.
package region

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/browser"
)

// IdentityAttr is the custom DOM attribute every addressed region carries.
// It is written fresh on every scan and is the only way to re-find the
// element later — never a selector that could match a sibling, never an
// index into a list.
const IdentityAttr = "data-pilot-region"

// Role is the closed set of semantic roles a Region can carry.
type Role string

const (
	RoleLink     Role = "link"
	RoleButton   Role = "button"
	RoleInput    Role = "input"
	RoleTextarea Role = "textarea"
	RoleSelect   Role = "select"
	RoleCheckbox Role = "checkbox"
	RoleRadio    Role = "radio"
	RoleOther    Role = "other"
)

// BBox is a bounding box in page coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Region is an addressable interactive element found on the page. Regions
// live for at most one scan cycle (invariant I1): the identity attribute is
// the only handle that survives to the next ACT.
type Region struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Role       Role    `json:"role"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Href       string  `json:"href,omitempty"`
}

// Scanner discovers Regions on the current page. The identity-keyed
// operations on those Regions (click, fill, key press by IdentityAttr) live
// on browser.Controller, not here.
type Scanner interface {
	Scan(ctx context.Context, quick bool) ([]Region, error)
}

type scanner struct {
	ctrl browser.Controller
	log  zerolog.Logger
}

// New builds a Scanner bound to ctrl. Rebinding to a new Controller (the
// zombie-tab fix) means constructing a new Scanner around it — a Scanner
// holds no state across scans per invariant I1.
func New(ctrl browser.Controller, log zerolog.Logger) Scanner {
	return &scanner{ctrl: ctrl, log: log.With().Str("comp", "scanner").Logger()}
}

func (s *scanner) Scan(ctx context.Context, quick bool) ([]Region, error) {
	regions, err := s.scanOnce(ctx)
	if err != nil {
		return nil, err
	}

	if len(regions) == 0 && !quick {
		url := s.ctrl.CurrentURL()
		if url != "" && url != "about:blank" {
			_ = s.ctrl.WaitFor(ctx, "networkidle", 5*time.Second)
			time.Sleep(3 * time.Second)
			regions, err = s.scanOnce(ctx)
			if err != nil {
				return nil, err
			}
			s.log.Debug().Int("regions", len(regions)).Msg("spa retry rescan")
		}
	}

	return regions, nil
}

// scanOnce runs the in-page collection script exactly once. It clears any
// residual identity attributes, walks the live document, writes fresh
// attributes on the chosen targets, and returns Regions in document order.
func (s *scanner) scanOnce(ctx context.Context) ([]Region, error) {
	page := s.ctrl.Page()
	raw, err := page.Evaluate(collectScript, IdentityAttr)
	if err != nil {
		return nil, fmt.Errorf("region: scan: %w", err)
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("region: scan: unexpected result shape")
	}

	regions := make([]Region, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		r := Region{
			ID:         str(m["id"]),
			Label:      str(m["label"]),
			Role:       Role(str(m["role"])),
			Confidence: num(m["confidence"]),
			Href:       str(m["href"]),
		}
		if bb, ok := m["bbox"].(map[string]interface{}); ok {
			r.BBox = BBox{X: num(bb["x"]), Y: num(bb["y"]), Width: num(bb["width"]), Height: num(bb["height"])}
		}
		if r.Label == "" || r.ID == "" {
			continue
		}
		switch r.Role {
		case RoleLink, RoleButton, RoleInput, RoleTextarea, RoleSelect, RoleCheckbox, RoleRadio:
		default:
			r.Role = RoleOther
		}
		regions = append(regions, r)
	}

	s.log.Debug().Int("regions", len(regions)).Str("url", s.ctrl.CurrentURL()).Msg("scan complete")
	return regions, nil
}

// collectScript implements the scanner algorithm from inside the page:
// clear stale identity attributes, query a union selector of interactive
// candidates in document order, skip non-rendered elements, bubble up to
// an anchor/button ancestor for icon-wrapping elements, derive a label,
// dedupe by href, assign a fresh identity attribute, then fall back to a
// cursor:pointer sweep if fewer than 5 regions were produced.
const collectScript = `(attr) => {
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));

	function genId() {
		const bytes = new Uint8Array(4);
		crypto.getRandomValues(bytes);
		return 'element-' + Array.from(bytes).map(b => b.toString(16).padStart(2, '0')).join('');
	}

	function isRendered(el) {
		const cs = getComputedStyle(el);
		if (cs.display === 'none' || cs.visibility === 'hidden' || parseFloat(cs.opacity) === 0) return false;
		const r = el.getBoundingClientRect();
		return r.width >= 5 && r.height >= 5;
	}

	function bubbleUp(el) {
		let cur = el;
		const bubbleTags = new Set(['IMG', 'DIV', 'SPAN', 'SVG']);
		for (let i = 0; i < 3 && cur && bubbleTags.has(cur.tagName.toUpperCase()); i++) {
			const parent = cur.parentElement;
			if (!parent) break;
			if (parent.tagName === 'A' || parent.tagName === 'BUTTON') return parent;
			cur = parent;
		}
		return el;
	}

	function roleOf(el) {
		const ariaRole = el.getAttribute('role');
		if (ariaRole) {
			const r = ariaRole.toLowerCase();
			if (['link','button','checkbox','radio'].includes(r)) return r;
		}
		switch (el.tagName) {
			case 'A': return 'link';
			case 'BUTTON': return 'button';
			case 'TEXTAREA': return 'textarea';
			case 'SELECT': return 'select';
			case 'INPUT': {
				const t = (el.getAttribute('type') || 'text').toLowerCase();
				if (t === 'checkbox') return 'checkbox';
				if (t === 'radio') return 'radio';
				return 'input';
			}
			default: return 'other';
		}
	}

	function labelOf(el) {
		const direct = el.getAttribute('aria-label') || el.getAttribute('name') ||
			el.getAttribute('placeholder') || (el.innerText || el.textContent || '').trim();
		let label = direct;
		if (!label) {
			const img = el.querySelector('img');
			if (img) label = 'Image: ' + (img.getAttribute('alt') || 'Unlabeled Image');
		}
		label = (label || '').replace(/\s+/g, ' ').trim();
		if (label.length > 100) label = label.slice(0, 100);
		return label;
	}

	const selector = 'button, [role="button"], a[href], input:not([type="hidden"]), textarea, select, [role="link"], [role="checkbox"], [role="radio"]';
	const seenHref = new Set();
	const out = [];

	function collect(el) {
		if (!isRendered(el)) return;
		const target = bubbleUp(el);
		if (!isRendered(target)) return;

		const role = roleOf(target);
		const label = labelOf(target);
		if (!label) return;

		let href = '';
		if (role === 'link') {
			href = target.getAttribute('href') || '';
			if (href) {
				if (seenHref.has(href)) return;
				seenHref.add(href);
			}
		}

		const id = genId();
		target.setAttribute(attr, id);
		const r = target.getBoundingClientRect();
		out.push({
			id, label, role, href,
			confidence: 1.0,
			bbox: { x: r.x, y: r.y, width: r.width, height: r.height },
		});
	}

	document.querySelectorAll(selector).forEach(collect);

	if (out.length < 5) {
		document.querySelectorAll('*').forEach(el => {
			if (el.hasAttribute(attr)) return;
			const cs = getComputedStyle(el);
			if (cs.cursor !== 'pointer') return;
			if (!isRendered(el)) return;
			const label = labelOf(el);
			if (!label) return;
			const id = genId();
			el.setAttribute(attr, id);
			const r = el.getBoundingClientRect();
			out.push({
				id, label, role: roleOf(el), href: '',
				confidence: 0.7,
				bbox: { x: r.x, y: r.y, width: r.width, height: r.height },
			});
		});
	}

	return out;
}`

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// FormatForPrompt renders up to max regions as the compact id/role/label/
// href lines the decider's prompt embeds.
func FormatForPrompt(regions []Region, max int) string {
	var b strings.Builder
	for i, r := range regions {
		if i >= max {
			break
		}
		fmt.Fprintf(&b, "- [%s] role=%s label=%q", r.ID, r.Role, r.Label)
		if r.Href != "" {
			fmt.Fprintf(&b, " href=%q", r.Href)
		}
		b.WriteString("\n")
	}
	return b.String()
}
