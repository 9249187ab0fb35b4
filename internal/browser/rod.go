package browser

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"
	"github.com/sirupsen/logrus"

	"snapengine/internal/domain"
)

// EngineOptions configure the rod engine launch.
type EngineOptions struct {
	Headless         bool
	Args             []string
	IgnoreCertErrors bool
}

// rodEngine implements Engine on top of a launched Chromium instance driven
// by rod.
type rodEngine struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	log      logrus.FieldLogger
}

// StartEngine launches Chromium and connects to it. Any startup failure is
// reported as domain.ErrBrowser; a half-initialized engine is never returned.
func StartEngine(opts EngineOptions, logger logrus.FieldLogger) (Engine, error) {
	log := logger.WithField("component", "renderer")

	l := launcher.New().Headless(opts.Headless)
	if path, exists := launcher.LookPath(); exists {
		l = l.Bin(path)
	}
	for _, arg := range opts.Args {
		name, value, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launching chromium: %v", domain.ErrBrowser, err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("%w: connecting to browser: %v", domain.ErrBrowser, err)
	}

	if opts.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.WithError(err).Warn("Failed to ignore certificate errors")
		}
	}

	log.Info("Renderer engine started")
	return &rodEngine{launcher: l, browser: b, log: log}, nil
}

func (e *rodEngine) NewContext(opts ContextOptions) (Context, error) {
	incognito, err := e.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("%w: creating browsing context: %v", domain.ErrBrowser, err)
	}

	if opts.GrantGeolocation {
		err := proto.BrowserGrantPermissions{
			Permissions:      []proto.BrowserPermissionType{proto.BrowserPermissionTypeGeolocation},
			BrowserContextID: incognito.BrowserContextID,
		}.Call(incognito)
		if err != nil {
			e.log.WithError(err).Warn("Failed to grant geolocation permission")
		}
	}

	return &rodContext{browser: incognito, opts: opts, log: e.log}, nil
}

func (e *rodEngine) Close() error {
	err := e.browser.Close()
	e.launcher.Kill()
	e.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

// rodContext tracks its open pages itself: the engine-wide target list does
// not distinguish browsing contexts, so counting targets would include the
// default context's initial tab and pages belonging to sibling contexts.
type rodContext struct {
	browser *rod.Browser
	opts    ContextOptions
	log     logrus.FieldLogger

	mu    sync.Mutex
	pages int
}

func (c *rodContext) OpenPage(device *domain.DeviceProfile) (Page, error) {
	page, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("%w: opening page: %v", domain.ErrBrowser, err)
	}

	metrics := &proto.EmulationSetDeviceMetricsOverride{
		Width:             c.opts.ViewportWidth,
		Height:            c.opts.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}
	if device != nil {
		metrics = &proto.EmulationSetDeviceMetricsOverride{
			Width:             device.Width,
			Height:            device.Height,
			DeviceScaleFactor: device.Scale,
			Mobile:            true,
		}
	}
	if err := page.SetViewport(metrics); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("%w: setting viewport: %v", domain.ErrBrowser, err)
	}

	if device != nil {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(page); err != nil {
			c.log.WithError(err).Warn("Failed to enable touch emulation")
		}
	}
	if c.opts.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: c.opts.Locale}).Call(page); err != nil {
			c.log.WithError(err).Warn("Failed to set locale override")
		}
	}
	if c.opts.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: c.opts.TimezoneID}).Call(page); err != nil {
			c.log.WithError(err).Warn("Failed to set timezone override")
		}
	}

	c.addPage()
	return &rodPage{page: page, release: c.releasePage}, nil
}

func (c *rodContext) addPage() {
	c.mu.Lock()
	c.pages++
	c.mu.Unlock()
}

func (c *rodContext) releasePage() {
	c.mu.Lock()
	if c.pages > 0 {
		c.pages--
	}
	c.mu.Unlock()
}

func (c *rodContext) PageCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages, nil
}

func (c *rodContext) Close() error {
	return proto.TargetDisposeBrowserContext{
		BrowserContextID: c.browser.BrowserContextID,
	}.Call(c.browser)
}

type rodPage struct {
	page    *rod.Page
	release func()
	once    sync.Once
}

// releaseOnce returns the page slot to its context exactly once, however many
// times Close is called.
func (p *rodPage) releaseOnce() {
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

func (p *rodPage) Navigate(url string, waitUntil domain.WaitUntil, timeout time.Duration) error {
	pg := p.page.Timeout(timeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}

	var err error
	switch waitUntil {
	case domain.WaitUntilDOMContentLoaded:
		err = pg.WaitDOMStable(300*time.Millisecond, 0)
	case domain.WaitUntilNetworkIdle:
		if err = pg.WaitLoad(); err == nil {
			wait := pg.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
			wait()
		}
	default:
		err = pg.WaitLoad()
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}
	return nil
}

func (p *rodPage) WaitForSelector(selector string, timeout time.Duration) error {
	if _, err := p.page.Timeout(timeout).Element(selector); err != nil {
		return fmt.Errorf("%w: waiting for %q: %v", domain.ErrTimeout, selector, err)
	}
	return nil
}

func (p *rodPage) Screenshot(path string, fullPage bool) error {
	bin, err := p.page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrScreenshot, err)
	}
	if err := utils.OutputFile(path, bin); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrScreenshot, path, err)
	}
	return nil
}

func (p *rodPage) ScreenshotElement(selector, path string) error {
	has, el, err := p.page.Has(selector)
	if err != nil {
		return fmt.Errorf("%w: querying %q: %v", domain.ErrScreenshot, selector, err)
	}
	if !has {
		return fmt.Errorf("%w: %q", domain.ErrElementNotFound, selector)
	}

	bin, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrScreenshot, err)
	}
	if err := utils.OutputFile(path, bin); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrScreenshot, path, err)
	}
	return nil
}

func (p *rodPage) Elements(selector string) ([]Element, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) Close() error {
	err := p.page.Close()
	p.releaseOnce()
	return err
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Text() (string, error) {
	text, err := e.el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
