package browser

import (
	"time"

	"snapengine/internal/domain"
)

// Engine is a running renderer instance. It owns every browsing context
// created through it; closing the engine releases all of them.
type Engine interface {
	// NewContext creates an isolated browsing session (cookies, storage,
	// viewport scoped) under this engine.
	NewContext(opts ContextOptions) (Context, error)

	// Close tears down the engine and all its contexts.
	Close() error
}

// ContextOptions configure a new browsing context.
type ContextOptions struct {
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string

	// GrantGeolocation pre-authorizes the geolocation permission so pages
	// never block on a prompt.
	GrantGeolocation bool
}

// Context is an isolated browsing session lent to one request at a time.
type Context interface {
	// OpenPage opens a fresh page. A non-nil device switches the page to
	// mobile emulation with that profile's viewport, scale and touch input.
	OpenPage(device *domain.DeviceProfile) (Page, error)

	// PageCount reports the number of currently open pages. Zero means the
	// context is idle and safe to reuse.
	PageCount() (int, error)

	// Close destroys the context.
	Close() error
}

// Page is one open page within a context.
type Page interface {
	// Navigate loads the URL and blocks until the wait condition is
	// reached or the timeout expires. Failures are domain.ErrNavigation.
	Navigate(url string, waitUntil domain.WaitUntil, timeout time.Duration) error

	// WaitForSelector blocks until the selector matches an element.
	// Expiry is domain.ErrTimeout.
	WaitForSelector(selector string, timeout time.Duration) error

	// Screenshot writes a PNG of the full page or the viewport to path.
	Screenshot(path string, fullPage bool) error

	// ScreenshotElement writes a PNG of the first element matching
	// selector. A selector matching nothing is domain.ErrElementNotFound.
	ScreenshotElement(selector, path string) error

	// Elements returns all current matches for selector without waiting.
	Elements(selector string) ([]Element, error)

	// Close releases the page.
	Close() error
}

// Element is a matched page element.
type Element interface {
	Text() (string, error)
}
