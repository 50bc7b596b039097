// Package browser wraps playwright-go behind a narrow Controller interface.
// The browser-automation toolkit itself is an external collaborator per the
// specification; this package is the thin, testable seam around it.
package browser

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Controller is everything the region scanner, toolkit and agent loop need
// from a live browser tab. Implementations must be safe to rebind to a new
// underlying Page (the "zombie tab" fix re-targets Controller to whichever
// tab is newest before each objective iteration).
type Controller interface {
	Close() error

	Navigate(ctx context.Context, url string) error
	CurrentURL() string
	Title() (string, error)

	// ClickByAttribute clicks the single element carrying attr=value — the
	// identity-attribute addressing scheme regions are built on.
	ClickByAttribute(ctx context.Context, attr, value string) error
	ClickRole(ctx context.Context, role, name string) error
	ClickSelector(ctx context.Context, selector string) error
	ClickByCoordinates(ctx context.Context, x, y float64) error
	ClickByTextFuzzy(ctx context.Context, text string) error
	Hover(ctx context.Context, selector string) error

	FillByAttribute(ctx context.Context, attr, value, text string) error
	FillSelector(ctx context.Context, selector, text string) error

	PressKey(ctx context.Context, key string) error
	PressKeyOnAttribute(ctx context.Context, attr, value, key string) error

	// Scroll returns the distance actually scrolled (px), which may be less
	// than requested near the bottom of the page.
	Scroll(ctx context.Context, direction string, amountPx int) (int, error)
	ScrollToAttribute(ctx context.Context, attr, value string) error
	ScrollGeometry(ctx context.Context) (ScrollGeometry, error)

	WaitFor(ctx context.Context, until string, timeout time.Duration) error
	WaitForStability(ctx context.Context) error

	// Read returns innerText of the document body, or of selector if given.
	Read(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	SaveState(path string) error

	// Page exposes the underlying playwright page for components (the
	// scanner) that need direct DOM/CDP access beyond this interface.
	Page() playwright.Page
}

// ScrollGeometry is a snapshot of the current scroll position, used by the
// agent loop's auto-scroll gate to detect bottom-reached.
type ScrollGeometry struct {
	ScrollY        int
	ScrollHeight   int
	ViewportHeight int
}

// Launcher owns the playwright process and the shared browser instance.
// A session's main Controller and a Scout's auxiliary Controller are both
// produced from (possibly different) Launchers.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

// NewLauncher starts playwright and launches Chromium. headless overrides
// the AGENT_HEADLESS env var when non-nil.
func NewLauncher(ctx context.Context, headless *bool) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright: launch driver: %w", err)
	}

	effectiveHeadless := parseBoolEnv("AGENT_HEADLESS", true)
	if headless != nil {
		effectiveHeadless = *headless
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(effectiveHeadless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("playwright: launch chromium: %w", err)
	}

	return &Launcher{pw: pw, browser: b, headless: effectiveHeadless}, nil
}

// Close tears down the browser and the playwright driver.
func (l *Launcher) Close() error {
	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("playwright: close browser: %w", err)
		}
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("playwright: stop driver: %w", err)
		}
	}
	return firstErr
}

// NewController opens a fresh context+page and returns a Controller bound
// to it. storagePath, if non-empty and present on disk, seeds cookies/
// localStorage from a prior SaveState call for the same session. width/
// height set the context's viewport; either being <= 0 leaves playwright's
// own default in effect.
func (l *Launcher) NewController(ctx context.Context, storagePath string, width, height int) (Controller, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if width > 0 && height > 0 {
		opts.Viewport = &playwright.Size{Width: width, Height: height}
	}
	if storagePath != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
		}
	}

	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("playwright: new context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("playwright: new page: %w", err)
	}
	page.SetDefaultTimeout(30000)

	return &controller{ctx: bctx, page: page}, nil
}

// Rebind swaps the Controller to whichever page in its context is newest,
// used for the zombie-tab fix when a click opens target=_blank.
func Rebind(c Controller) (Controller, bool, error) {
	ctl, ok := c.(*controller)
	if !ok {
		return c, false, nil
	}
	pages := ctl.ctx.Pages()
	if len(pages) == 0 {
		return c, false, nil
	}
	newest := pages[len(pages)-1]
	if newest == ctl.page {
		return c, false, nil
	}
	newest.SetDefaultTimeout(30000)
	return &controller{ctx: ctl.ctx, page: newest}, true, nil
}

type controller struct {
	ctx  playwright.BrowserContext
	page playwright.Page
}

func (c *controller) Page() playwright.Page { return c.page }

func (c *controller) Close() error {
	return wrap(c.ctx.Close())
}

func (c *controller) Navigate(ctx context.Context, url string) error {
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(15000),
	})
	return wrap(err)
}

func (c *controller) CurrentURL() string {
	return c.page.URL()
}

func (c *controller) Title() (string, error) {
	t, err := c.page.Title()
	return t, wrap(err)
}

func (c *controller) ClickByAttribute(ctx context.Context, attr, value string) error {
	loc := c.page.Locator(fmt.Sprintf("[%s=%q]", attr, value))
	if err := loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return wrap(err)
	}
	return wrap(loc.First().Click())
}

func (c *controller) ClickRole(ctx context.Context, role, name string) error {
	loc := c.page.GetByRole(*playwright.AriaRole(role), playwright.PageGetByRoleOptions{Name: name})
	return wrap(loc.First().Click())
}

func (c *controller) ClickSelector(ctx context.Context, selector string) error {
	loc := c.page.Locator(selector)
	if err := loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return wrap(err)
	}
	return wrap(loc.First().Click())
}

func (c *controller) ClickByCoordinates(ctx context.Context, x, y float64) error {
	return wrap(c.page.Mouse().Click(x, y))
}

func (c *controller) ClickByTextFuzzy(ctx context.Context, text string) error {
	loc := c.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(false)})
	if err := loc.First().ScrollIntoViewIfNeeded(); err != nil {
		return wrap(err)
	}
	if err := loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return wrap(err)
	}
	return wrap(loc.First().Click())
}

func (c *controller) Hover(ctx context.Context, selector string) error {
	return wrap(c.page.Locator(selector).First().Hover())
}

func (c *controller) FillByAttribute(ctx context.Context, attr, value, text string) error {
	loc := c.page.Locator(fmt.Sprintf("[%s=%q]", attr, value))
	return wrap(loc.First().Fill(text))
}

func (c *controller) FillSelector(ctx context.Context, selector, text string) error {
	return wrap(c.page.Locator(selector).First().Fill(text))
}

func (c *controller) PressKey(ctx context.Context, key string) error {
	return wrap(c.page.Keyboard().Press(key))
}

func (c *controller) PressKeyOnAttribute(ctx context.Context, attr, value, key string) error {
	loc := c.page.Locator(fmt.Sprintf("[%s=%q]", attr, value))
	return wrap(loc.First().Press(key))
}

func (c *controller) Scroll(ctx context.Context, direction string, amountPx int) (int, error) {
	var script string
	switch direction {
	case "up":
		script = fmt.Sprintf("() => { const before = window.scrollY; window.scrollBy(0, -%d); return before - window.scrollY; }", amountPx)
	default:
		script = fmt.Sprintf("() => { const before = window.scrollY; window.scrollBy(0, %d); return window.scrollY - before; }", amountPx)
	}
	result, err := c.page.Evaluate(script)
	if err != nil {
		return 0, wrap(err)
	}
	dist, _ := toInt(result)
	return dist, nil
}

func (c *controller) ScrollToAttribute(ctx context.Context, attr, value string) error {
	loc := c.page.Locator(fmt.Sprintf("[%s=%q]", attr, value))
	return wrap(loc.First().ScrollIntoViewIfNeeded())
}

func (c *controller) ScrollGeometry(ctx context.Context) (ScrollGeometry, error) {
	result, err := c.page.Evaluate(`() => ({
		scrollY: window.scrollY,
		scrollHeight: document.documentElement.scrollHeight,
		viewportHeight: window.innerHeight,
	})`)
	if err != nil {
		return ScrollGeometry{}, wrap(err)
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return ScrollGeometry{}, fmt.Errorf("scroll geometry: unexpected result type")
	}
	y, _ := toInt(m["scrollY"])
	sh, _ := toInt(m["scrollHeight"])
	vh, _ := toInt(m["viewportHeight"])
	return ScrollGeometry{ScrollY: y, ScrollHeight: sh, ViewportHeight: vh}, nil
}

func (c *controller) WaitFor(ctx context.Context, until string, timeout time.Duration) error {
	var state playwright.WaitForLoadStateState
	switch until {
	case "load":
		state = playwright.WaitForLoadStateLoad
	case "networkidle":
		state = playwright.WaitForLoadStateNetworkidle
	default:
		state = playwright.WaitForLoadStateDomcontentloaded
	}
	return wrap(c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

// WaitForStability races domcontentloaded against a 3s cap, then allows at
// most 1.5s of networkidle — noisy sites never truly idle, so this is a
// strict upper bound, not a real wait-for-idle.
func (c *controller) WaitForStability(ctx context.Context) error {
	_ = c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.WaitForLoadStateDomcontentloaded,
		Timeout: playwright.Float(3000),
	})
	_ = c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.WaitForLoadStateNetworkidle,
		Timeout: playwright.Float(1500),
	})
	return nil
}

func (c *controller) Read(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		text, err := c.page.InnerText("body")
		return text, wrap(err)
	}
	text, err := c.page.InnerText(selector)
	return text, wrap(err)
}

func (c *controller) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := c.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	return data, wrap(err)
}

func (c *controller) SaveState(path string) error {
	_, err := c.ctx.StorageState(path)
	return wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
